package rooms

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func contestStarting(offset time.Duration) *model.Contest {
	return &model.Contest{ID: uuid.New(), StartAt: now.Add(offset)}
}

func memberOf(t model.MemberType) *model.Member {
	return &model.Member{ID: uuid.New(), Type: t}
}

func TestOrPassesWhenAnyBranchPasses(t *testing.T) {
	a := NewContestAuthorizer(contestStarting(time.Hour), memberOf(model.MemberAdmin), now).
		Or(
			(*ContestAuthorizer).RequireMemberCanAccessNotStartedContest,
			(*ContestAuthorizer).RequireContestStarted,
		)
	if d := a.Decision(); !d.IsAllowed() {
		t.Fatalf("expected allowed, got %+v", d)
	}
}

func TestOrFailsWhenAllBranchesFail(t *testing.T) {
	a := NewContestAuthorizer(contestStarting(time.Hour), memberOf(model.MemberContestant), now).
		Or(
			(*ContestAuthorizer).RequireContestStarted,
			func(a *ContestAuthorizer) *ContestAuthorizer { return a.RequireMemberType(model.MemberAdmin) },
		)
	d := a.Decision()
	if d.Outcome != OutcomeForbidden || d.Reason != ReasonNotStarted {
		t.Fatalf("expected first branch denial, got %+v", d)
	}
}

func TestContestTimeRequirements(t *testing.T) {
	end := now.Add(-time.Minute)
	ended := &model.Contest{ID: uuid.New(), StartAt: now.Add(-2 * time.Hour), EndAt: &end}

	cases := []struct {
		name    string
		contest *model.Contest
		apply   func(*ContestAuthorizer) *ContestAuthorizer
		want    Outcome
		reason  string
	}{
		{"started passes", contestStarting(-time.Hour), (*ContestAuthorizer).RequireContestStarted, OutcomeAllowed, ""},
		{"not started fails", contestStarting(time.Hour), (*ContestAuthorizer).RequireContestStarted, OutcomeForbidden, ReasonNotStarted},
		{"start instant counts as started", contestStarting(0), (*ContestAuthorizer).RequireContestStarted, OutcomeAllowed, ""},
		{"not started requirement", contestStarting(-time.Hour), (*ContestAuthorizer).RequireContestNotStarted, OutcomeForbidden, ReasonAlreadyStarted},
		{"ended fails", ended, (*ContestAuthorizer).RequireContestNotEnded, OutcomeForbidden, ReasonEnded},
		{"open ended passes", contestStarting(-time.Hour), (*ContestAuthorizer).RequireContestNotEnded, OutcomeAllowed, ""},
		{"active rejects ended", ended, (*ContestAuthorizer).RequireContestActive, OutcomeForbidden, ReasonEnded},
		{"missing contest", nil, (*ContestAuthorizer).RequireContestStarted, OutcomeNotFound, ReasonContestNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := tc.apply(NewContestAuthorizer(tc.contest, memberOf(model.MemberContestant), now)).Decision()
			if d.Outcome != tc.want || d.Reason != tc.reason {
				t.Fatalf("got %+v, want %s %q", d, tc.want, tc.reason)
			}
		})
	}
}

func TestRequireMemberType(t *testing.T) {
	contest := contestStarting(-time.Hour)

	if d := NewContestAuthorizer(contest, memberOf(model.MemberContestant), now).
		RequireMemberType(model.MemberContestant, model.MemberUnofficialContestant).Decision(); !d.IsAllowed() {
		t.Fatalf("contestant should pass: %+v", d)
	}
	if d := NewContestAuthorizer(contest, memberOf(model.MemberContestant), now).
		RequireMemberType(model.MemberAdmin).Decision(); d.Outcome != OutcomeForbidden {
		t.Fatalf("contestant should not pass admin check: %+v", d)
	}
	if d := NewContestAuthorizer(contest, nil, now).
		RequireMemberType(model.MemberAdmin).Decision(); d.Reason != ReasonUnauthenticated {
		t.Fatalf("guest should be unauthenticated: %+v", d)
	}
}

func TestFirstFailureShortCircuits(t *testing.T) {
	d := NewContestAuthorizer(contestStarting(time.Hour), nil, now).
		RequireSettingGuestEnabled().
		RequireContestStarted().
		Decision()
	if d.Reason != ReasonGuestDisabled {
		t.Fatalf("expected the first failure to win, got %+v", d)
	}
}

func TestRequireMemberBelongsToContest(t *testing.T) {
	contest := contestStarting(-time.Hour)
	other := uuid.New()

	foreign := memberOf(model.MemberContestant)
	foreign.ContestID = &other
	if d := NewContestAuthorizer(contest, foreign, now).RequireMemberBelongsToContest().Decision(); d.Reason != ReasonOtherContest {
		t.Fatalf("expected foreign member denial, got %+v", d)
	}

	root := memberOf(model.MemberRoot)
	if d := NewContestAuthorizer(contest, root, now).RequireMemberBelongsToContest().Decision(); !d.IsAllowed() {
		t.Fatalf("root-scope member should pass, got %+v", d)
	}
}

func TestDecisionErr(t *testing.T) {
	if Allow().Err() != nil {
		t.Fatal("allowed decision must not produce an error")
	}
	if Deny("no").Err() == nil || NotFoundReason("gone").Err() == nil {
		t.Fatal("denials must produce errors")
	}
}
