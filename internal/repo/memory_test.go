package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

func TestMemoryDirectorySessions(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	valid := model.Session{ID: uuid.New(), MemberID: uuid.New(), ExpiresAt: time.Now().Add(time.Hour)}
	expired := model.Session{ID: uuid.New(), MemberID: uuid.New(), ExpiresAt: time.Now().Add(-time.Hour)}
	dir.PutSession(valid)
	dir.PutSession(expired)

	if s, err := dir.FindSession(ctx, valid.ID); err != nil || s.MemberID != valid.MemberID {
		t.Fatalf("expected valid session, got %+v %v", s, err)
	}

	_, err := dir.FindSession(ctx, expired.ID)
	if apperr.KindOf(err) != apperr.KindUnauthorized || apperr.Message(err) != "Session expired" {
		t.Fatalf("expected expired session to be unauthorized, got %v", err)
	}

	_, err = dir.FindSession(ctx, uuid.New())
	if apperr.Message(err) != "Session not found" {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestMemoryDirectoryReturnsCopies(t *testing.T) {
	dir := NewMemoryDirectory()
	contest := model.Contest{ID: uuid.New(), Title: "Finals"}
	dir.PutContest(contest)

	got, _ := dir.FindContest(context.Background(), contest.ID)
	got.Title = "changed"

	again, _ := dir.FindContest(context.Background(), contest.ID)
	if again.Title != "Finals" {
		t.Fatal("callers must not be able to mutate the directory")
	}

	if _, err := dir.FindMember(context.Background(), uuid.New()); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected member not found, got %v", err)
	}
}
