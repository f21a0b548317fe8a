package global

import (
	"github.com/lijuuu/ContestBroadcastService/internal/jwt"
	"github.com/lijuuu/ContestBroadcastService/internal/leaderboard"
	"github.com/lijuuu/ContestBroadcastService/internal/repo"
	"github.com/lijuuu/ContestBroadcastService/internal/rooms"
	"github.com/lijuuu/ContestBroadcastService/internal/service"
	"github.com/lijuuu/ContestBroadcastService/internal/state"
	"github.com/lijuuu/ContestBroadcastService/internal/wss/broadcasts"
	"go.uber.org/zap"
)

// State holds the application state shared across WebSocket and service layers
type State struct {
	Directory          repo.Directory
	EventLog           repo.EventLog
	LocalState         *state.LocalStateManager
	Broadcaster        *broadcasts.Broadcaster
	JoinRooms          *rooms.Evaluator
	SubscribeTopics    *rooms.Evaluator
	LeaderboardManager *leaderboard.LeaderboardManager
	FreezeStore        leaderboard.FreezeStore
	Ingest             *service.Ingest
	JwtManager         *jwt.JWTManager
}

// NewState wires the in-process components on top of the given directory,
// event log and freeze store. Relay delivery, when used, is switched on by
// the caller.
func NewState(directory repo.Directory, events repo.EventLog, freeze leaderboard.FreezeStore, jwtSecret string, log *zap.Logger) *State {
	local := state.NewLocalStateManager()
	broadcaster := broadcasts.NewBroadcaster(local, events, log)
	boards := leaderboard.NewLeaderboardManager(log)

	return &State{
		Directory:          directory,
		EventLog:           events,
		LocalState:         local,
		Broadcaster:        broadcaster,
		JoinRooms:          rooms.NewEvaluator(rooms.NewJoinRegistry(), directory, log),
		SubscribeTopics:    rooms.NewEvaluator(rooms.NewSubscribeRegistry(), directory, log),
		LeaderboardManager: boards,
		FreezeStore:        freeze,
		Ingest:             service.NewIngest(broadcaster, boards, freeze, directory, log),
		JwtManager:         jwt.NewJWTManager(jwtSecret),
	}
}
