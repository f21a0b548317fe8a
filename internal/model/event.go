package model

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	EventSubmissionUpdated    = "submission-updated"
	EventAnnouncementCreated  = "announcement-created"
	EventClarificationCreated = "clarification-created"
	EventClarificationDeleted = "clarification-deleted"
	EventLeaderboard          = "leaderboard"
	EventLeaderboardCell      = "leaderboard-cell"
	EventLeaderboardFrozen    = "leaderboard-frozen"
	EventLeaderboardUnfrozen  = "leaderboard-unfrozen"
)

// BroadcastEvent is an immutable entry of a room's ordered log.
type BroadcastEvent struct {
	Room      string          `json:"room"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventKey identifies a delivered event for client-side dedupe.
type EventKey struct {
	Room      string
	Timestamp int64
	Name      string
}

func (e BroadcastEvent) Key() EventKey {
	return EventKey{Room: e.Room, Timestamp: e.Timestamp.UnixMicro(), Name: e.Name}
}

// Outbound message types that are not domain events.
const (
	TypeError        = "error"
	TypePong         = "pong"
	TypeSyncComplete = "sync_complete"
)

// Outbound is the server to client envelope. Domain events carry their
// name in Type.
type Outbound struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func OutboundEvent(e BroadcastEvent) Outbound {
	ts := e.Timestamp
	return Outbound{Type: e.Name, Room: e.Room, Data: e.Data, Timestamp: &ts}
}

func OutboundError(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}

// IsDomainEvent reports whether the message carries a logged room event.
func (o Outbound) IsDomainEvent() bool {
	return o.Timestamp != nil && o.Room != ""
}

func (o Outbound) Event() BroadcastEvent {
	e := BroadcastEvent{Room: o.Room, Name: o.Type, Data: o.Data}
	if o.Timestamp != nil {
		e.Timestamp = *o.Timestamp
	}
	return e
}

// Inbound message types.
const (
	TypeJoin      = "join"
	TypeSubscribe = "subscribe"
	TypeSync      = "sync"
	TypePing      = "ping"
)

type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type SyncPayload struct {
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}
