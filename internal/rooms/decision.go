package rooms

import "github.com/lijuuu/ContestBroadcastService/internal/apperr"

type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomeForbidden
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeForbidden:
		return "forbidden"
	default:
		return "not_found"
	}
}

// Decision is the result of evaluating a room's authorization chain.
type Decision struct {
	Outcome Outcome
	Reason  string
}

func Allow() Decision                  { return Decision{Outcome: OutcomeAllowed} }
func Deny(reason string) Decision      { return Decision{Outcome: OutcomeForbidden, Reason: reason} }
func NotFoundReason(r string) Decision { return Decision{Outcome: OutcomeNotFound, Reason: r} }

func (d Decision) IsAllowed() bool { return d.Outcome == OutcomeAllowed }

// Err maps a denial onto the error taxonomy. It returns nil when allowed.
func (d Decision) Err() error {
	switch d.Outcome {
	case OutcomeForbidden:
		return apperr.Forbidden(d.Reason)
	case OutcomeNotFound:
		return apperr.NotFound(d.Reason)
	}
	return nil
}
