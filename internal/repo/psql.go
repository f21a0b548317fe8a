package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"gorm.io/gorm"
)

// PSQLRepository reads the contest directory straight from the CRUD
// layer's postgres schema. It never writes.
type PSQLRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPSQLRepository(db *gorm.DB) *PSQLRepository {
	return &PSQLRepository{db: db, now: time.Now}
}

// FindContest loads a contest by id
func (r *PSQLRepository) FindContest(ctx context.Context, id uuid.UUID) (*model.Contest, error) {
	var contest model.Contest
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&contest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Contest not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contest: %w", err)
	}
	return &contest, nil
}

// FindMember loads a member by id
func (r *PSQLRepository) FindMember(ctx context.Context, id uuid.UUID) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	return &member, nil
}

// FindSession loads a session and rejects expired or revoked ones
func (r *PSQLRepository) FindSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("Session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.IsValid(r.now()) {
		return nil, apperr.Unauthorized("Session expired")
	}
	return &session, nil
}
