package model

import (
	"time"

	"github.com/google/uuid"
)

type MemberType string

const (
	MemberRoot                 MemberType = "ROOT"
	MemberAdmin                MemberType = "ADMIN"
	MemberStaff                MemberType = "STAFF"
	MemberJudge                MemberType = "JUDGE"
	MemberContestant           MemberType = "CONTESTANT"
	MemberUnofficialContestant MemberType = "UNOFFICIAL_CONTESTANT"
	MemberAutoJudge            MemberType = "AUTOJUDGE"
	MemberAPI                  MemberType = "API"
)

// Member is a read-only view of a contest member. A nil ContestID marks a
// root-scope member that is not bound to any contest.
type Member struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ContestID *uuid.UUID `gorm:"column:contest_id;type:uuid" json:"contestId,omitempty"`
	Name      string     `gorm:"column:name" json:"name"`
	Login     string     `gorm:"column:login" json:"login"`
	Type      MemberType `gorm:"column:type" json:"type"`
}

func (Member) TableName() string { return "member" }

type ContestSettings struct {
	IsGuestEnabled     bool `gorm:"column:is_guest_enabled" json:"isGuestEnabled"`
	IsAutoJudgeEnabled bool `gorm:"column:is_auto_judge_enabled" json:"isAutoJudgeEnabled"`
}

type Contest struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Slug         string          `gorm:"column:slug" json:"slug"`
	Title        string          `gorm:"column:title" json:"title"`
	StartAt      time.Time       `gorm:"column:start_at" json:"startAt"`
	EndAt        *time.Time      `gorm:"column:end_at" json:"endAt,omitempty"`
	AutoFreezeAt *time.Time      `gorm:"column:auto_freeze_at" json:"autoFreezeAt,omitempty"`
	FrozenAt     *time.Time      `gorm:"column:frozen_at" json:"frozenAt,omitempty"`
	Settings     ContestSettings `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
}

func (Contest) TableName() string { return "contest" }

func (c *Contest) HasStarted(now time.Time) bool {
	return !now.Before(c.StartAt)
}

func (c *Contest) HasEnded(now time.Time) bool {
	return c.EndAt != nil && !now.Before(*c.EndAt)
}

func (c *Contest) IsFrozen() bool {
	return c.FrozenAt != nil
}

type Session struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	MemberID  uuid.UUID  `gorm:"column:member_id;type:uuid" json:"memberId"`
	ExpiresAt time.Time  `gorm:"column:expires_at" json:"expiresAt"`
	RevokedAt *time.Time `gorm:"column:revoked_at" json:"revokedAt,omitempty"`
}

func (Session) TableName() string { return "session" }

func (s *Session) IsValid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// AuthContext is the per-connection identity bound at handshake time. It is
// never mutated; re-authentication replaces the whole value.
type AuthContext struct {
	SessionID *uuid.UUID
	MemberID  *uuid.UUID
	SourceIP  string
}

func (a AuthContext) IsGuest() bool {
	return a.MemberID == nil
}
