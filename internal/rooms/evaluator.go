package rooms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap"
)

// Directory is the read-only lookup the evaluator needs.
type Directory interface {
	FindContest(ctx context.Context, id uuid.UUID) (*model.Contest, error)
	FindMember(ctx context.Context, id uuid.UUID) (*model.Member, error)
}

type Evaluator struct {
	registry  *Registry
	directory Directory
	now       func() time.Time
	log       *zap.Logger
}

func NewEvaluator(registry *Registry, directory Directory, log *zap.Logger) *Evaluator {
	return &Evaluator{
		registry:  registry,
		directory: directory,
		now:       time.Now,
		log:       log.Named("rooms"),
	}
}

// WithClock overrides the evaluator's time source.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate resolves room and runs its rule against a fresh read of the
// directory. The returned error is only set for lookup failures.
func (e *Evaluator) Evaluate(ctx context.Context, room string, auth model.AuthContext) (Decision, error) {
	match, ok := e.registry.Resolve(room)
	if !ok {
		e.log.Info("room not found", zap.String("room", room))
		return NotFoundReason(e.registry.NotFoundReason()), nil
	}

	req := Request{Room: room, Params: match.Params, Now: e.now()}

	if raw, ok := match.Params["contestId"]; ok {
		contestID, err := uuid.Parse(raw)
		if err != nil {
			return NotFoundReason(e.registry.NotFoundReason()), nil
		}
		contest, err := e.directory.FindContest(ctx, contestID)
		switch {
		case apperr.KindOf(err) == apperr.KindNotFound:
			return NotFoundReason(ReasonContestNotFound), nil
		case err != nil:
			return Decision{}, fmt.Errorf("find contest %s: %w", contestID, err)
		}
		req.Contest = contest
	}

	if auth.MemberID != nil {
		member, err := e.directory.FindMember(ctx, *auth.MemberID)
		switch {
		case apperr.KindOf(err) == apperr.KindNotFound:
			// the member was removed after the session was bound
			member = nil
		case err != nil:
			return Decision{}, fmt.Errorf("find member %s: %w", *auth.MemberID, err)
		}
		req.Member = member
	}

	decision := match.Pattern.Rule(req)
	e.log.Debug("room authorization evaluated",
		zap.String("room", room),
		zap.String("pattern", match.Pattern.Name),
		zap.Stringer("outcome", decision.Outcome),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}
