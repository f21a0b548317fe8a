package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lijuuu/ContestBroadcastService/internal/config"
	"github.com/lijuuu/ContestBroadcastService/internal/db"
	"github.com/lijuuu/ContestBroadcastService/internal/global"
	"github.com/lijuuu/ContestBroadcastService/internal/handlers"
	"github.com/lijuuu/ContestBroadcastService/internal/leaderboard"
	"github.com/lijuuu/ContestBroadcastService/internal/logger"
	"github.com/lijuuu/ContestBroadcastService/internal/relay"
	"github.com/lijuuu/ContestBroadcastService/internal/repo"
	"github.com/lijuuu/ContestBroadcastService/internal/service"
	"github.com/lijuuu/ContestBroadcastService/internal/wss"
	"github.com/lijuuu/ContestBroadcastService/internal/wss/middleware"
	wsstypes "github.com/lijuuu/ContestBroadcastService/internal/wss/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	gormDB, err := db.InitPostgres(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	defer sqlDB.Close()

	directory := repo.NewPSQLRepository(gormDB)
	checks := map[string]handlers.HealthCheck{
		"postgres": sqlDB.PingContext,
	}

	var rdb *redis.Client
	if cfg.EventLogBackend == "redis" || cfg.RelayEnabled {
		rdb, err = db.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var events repo.EventLog
	switch cfg.EventLogBackend {
	case "redis":
		redisLog := repo.NewRedisEventLog(rdb)
		if cfg.RelayEnabled {
			redisLog.WithPublish(relay.ChannelPrefix)
		}
		events = redisLog
	case "mongo":
		client, err := db.InitMongo(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())

		mongoLog := repo.NewMongoEventLog(client, cfg.MongoDB)
		if err := mongoLog.EnsureIndexes(ctx); err != nil {
			return err
		}
		events = mongoLog
		checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	default:
		log.Warn("using the in-memory event log, history is lost on restart")
		events = repo.NewMemoryEventLog()
	}
	log.Info("event log ready", zap.String("backend", cfg.EventLogBackend))

	var freeze leaderboard.FreezeStore = leaderboard.NewFreezeOverlay()
	if rdb != nil {
		freeze = repo.NewRedisFreezeStore(rdb)
	}

	st := global.NewState(directory, events, freeze, cfg.JWTSecret, log)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RelayEnabled {
		r := relay.NewRedisRelay(rdb, log)
		st.Broadcaster.WithRelayDelivery()
		g.Go(func() error { return r.Run(gctx, st.Broadcaster.Deliver) })

		select {
		case <-r.Ready():
		case <-gctx.Done():
			return g.Wait()
		}
	}

	g.Go(func() error {
		st.Broadcaster.RunCompactor(gctx, cfg.EventLogCompactInterval, cfg.EventLogRetention)
		return nil
	})

	dispatcher := wss.NewDispatcher(log)
	wss.RegisterHandlers(dispatcher, wss.HandlerDeps{
		Rooms:       st.JoinRooms,
		Topics:      st.SubscribeTopics,
		State:       st.LocalState,
		Broadcaster: st.Broadcaster,
	})
	auth := middleware.NewSessionAuthenticator(directory, cfg.SessionCookieName, log)
	wsServer := wss.NewServer(dispatcher, auth, st.LocalState, wsstypes.ConnOptions{
		SendBuffer: cfg.SendBuffer,
		JoinLimit:  rate.Limit(cfg.JoinRateLimit),
		JoinBurst:  cfg.JoinBurst,
		SyncLimit:  rate.Limit(cfg.SyncRateLimit),
		SyncBurst:  cfg.SyncBurst,
	}, cfg.AllowedOrigins, log)

	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: handlers.NewRouter(handlers.RouterDeps{
			WebSocket: wsServer,
			Ingest:    st.Ingest,
			JWT:       st.JwtManager,
			Checks:    checks,
			Log:       log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(service.AuthInterceptor(st.JwtManager, log)))
	service.RegisterIngestServer(grpcServer, service.NewIngestGRPC(st.Ingest))

	g.Go(func() error {
		log.Info("starting http server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port: %w", err)
		}
		log.Info("starting grpc server", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}
