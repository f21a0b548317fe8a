package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string
	GRPCPort string

	PsqlURL       string
	MongoURL      string
	MongoDB       string
	RedisURL      string
	RedisPassword string
	RedisDB       int

	SessionCookieName string
	AllowedOrigins    []string
	SendBuffer        int

	EventLogBackend         string
	EventLogRetention       time.Duration
	EventLogCompactInterval time.Duration

	JoinRateLimit float64
	JoinBurst     int
	SyncRateLimit float64
	SyncBurst     int

	RelayEnabled bool

	JWTSecret string

	LogLevel       string
	LogDevelopment bool
}

// LoadConfig reads .env when present and then the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading .env file: %w", err)
	}

	config := Config{
		HTTPPort:                getEnv("HTTPPORT", "8080"),
		GRPCPort:                getEnv("GRPCPORT", "50058"),
		PsqlURL:                 getEnv("PSQLURL", "host=localhost port=5432 user=admin password=password dbname=judge sslmode=disable"),
		MongoURL:                getEnv("MONGOURL", "mongodb://localhost:27017"),
		MongoDB:                 getEnv("MONGODB", "broadcast"),
		RedisURL:                getEnv("REDISURL", "localhost:6379"),
		RedisPassword:           getEnv("REDISPASSWORD", ""),
		RedisDB:                 getEnvInt("REDISDB", 0),
		SessionCookieName:       getEnv("SESSIONCOOKIENAME", "session_id"),
		AllowedOrigins:          getEnvList("ALLOWEDORIGINS"),
		SendBuffer:              getEnvInt("SENDBUFFER", 256),
		EventLogBackend:         getEnv("EVENTLOGBACKEND", "redis"),
		EventLogRetention:       getEnvDuration("EVENTLOGRETENTION", 6*time.Hour),
		EventLogCompactInterval: getEnvDuration("EVENTLOGCOMPACTINTERVAL", 5*time.Minute),
		JoinRateLimit:           getEnvFloat("JOINRATELIMIT", 5),
		JoinBurst:               getEnvInt("JOINBURST", 10),
		SyncRateLimit:           getEnvFloat("SYNCRATELIMIT", 2),
		SyncBurst:               getEnvInt("SYNCBURST", 5),
		RelayEnabled:            getEnvBool("RELAYENABLED", false),
		JWTSecret:               getEnv("JWTSECRET", ""),
		LogLevel:                getEnv("LOGLEVEL", "info"),
		LogDevelopment:          getEnvBool("LOGDEVELOPMENT", false),
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	switch c.EventLogBackend {
	case "redis", "mongo", "memory":
	default:
		return fmt.Errorf("unsupported EVENTLOGBACKEND %q", c.EventLogBackend)
	}
	if c.SessionCookieName == "" {
		return errors.New("SESSIONCOOKIENAME must not be empty")
	}
	if c.EventLogRetention <= 0 {
		return errors.New("EVENTLOGRETENTION must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("SENDBUFFER must be positive")
	}
	if c.RelayEnabled && c.EventLogBackend != "redis" {
		return errors.New("RELAYENABLED requires EVENTLOGBACKEND=redis")
	}
	if c.JWTSecret == "" {
		return errors.New("JWTSECRET must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
