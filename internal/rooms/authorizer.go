package rooms

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

const (
	ReasonNotStarted      = "Contest has not started yet"
	ReasonAlreadyStarted  = "Contest has already started"
	ReasonEnded           = "Contest has already ended"
	ReasonGuestDisabled   = "Guest access is disabled for this contest"
	ReasonUnauthenticated = "User is not authenticated"
	ReasonOtherContest    = "User does not belong to the contest"
	ReasonOtherMember     = "Cannot subscribe to another member's private topic"
	ReasonContestNotFound = "Contest not found"
)

// NotStartedAccess lists the member types allowed into a contest before it
// starts.
var NotStartedAccess = []model.MemberType{
	model.MemberRoot,
	model.MemberAdmin,
	model.MemberJudge,
	model.MemberStaff,
}

// ContestAuthorizer evaluates a chain of requirements against one contest
// and an optional member. The first failing requirement wins and later ones
// are skipped.
type ContestAuthorizer struct {
	contest *model.Contest
	member  *model.Member
	now     time.Time
	failure *Decision
}

func NewContestAuthorizer(contest *model.Contest, member *model.Member, now time.Time) *ContestAuthorizer {
	return &ContestAuthorizer{contest: contest, member: member, now: now}
}

func (a *ContestAuthorizer) fail(d Decision) *ContestAuthorizer {
	if a.failure == nil {
		a.failure = &d
	}
	return a
}

func (a *ContestAuthorizer) done() bool {
	return a.failure != nil
}

func (a *ContestAuthorizer) requireContest() bool {
	if a.done() {
		return false
	}
	if a.contest == nil {
		a.fail(NotFoundReason(ReasonContestNotFound))
		return false
	}
	return true
}

// Require records reason as the denial when cond is false.
func (a *ContestAuthorizer) Require(cond bool, reason string) *ContestAuthorizer {
	if !a.done() && !cond {
		a.fail(Deny(reason))
	}
	return a
}

func (a *ContestAuthorizer) RequireMemberType(types ...model.MemberType) *ContestAuthorizer {
	if a.done() {
		return a
	}
	if a.member == nil {
		return a.fail(Deny(ReasonUnauthenticated))
	}
	if !slices.Contains(types, a.member.Type) {
		return a.fail(Deny(fmt.Sprintf("Member type %s cannot access this room", a.member.Type)))
	}
	return a
}

func (a *ContestAuthorizer) RequireContestStarted() *ContestAuthorizer {
	if a.requireContest() && !a.contest.HasStarted(a.now) {
		a.fail(Deny(ReasonNotStarted))
	}
	return a
}

func (a *ContestAuthorizer) RequireContestNotStarted() *ContestAuthorizer {
	if a.requireContest() && a.contest.HasStarted(a.now) {
		a.fail(Deny(ReasonAlreadyStarted))
	}
	return a
}

func (a *ContestAuthorizer) RequireContestNotEnded() *ContestAuthorizer {
	if a.requireContest() && a.contest.HasEnded(a.now) {
		a.fail(Deny(ReasonEnded))
	}
	return a
}

func (a *ContestAuthorizer) RequireContestActive() *ContestAuthorizer {
	return a.RequireContestStarted().RequireContestNotEnded()
}

func (a *ContestAuthorizer) RequireMemberCanAccessNotStartedContest() *ContestAuthorizer {
	if a.done() {
		return a
	}
	if a.member == nil || !slices.Contains(NotStartedAccess, a.member.Type) {
		return a.fail(Deny(ReasonNotStarted))
	}
	return a
}

// RequireStartedOrPrivileged passes once the contest has started, or at any
// time for members in NotStartedAccess.
func (a *ContestAuthorizer) RequireStartedOrPrivileged() *ContestAuthorizer {
	return a.Or(
		(*ContestAuthorizer).RequireContestStarted,
		(*ContestAuthorizer).RequireMemberCanAccessNotStartedContest,
	)
}

func (a *ContestAuthorizer) RequireSettingGuestEnabled() *ContestAuthorizer {
	if a.requireContest() && !a.contest.Settings.IsGuestEnabled {
		a.fail(Deny(ReasonGuestDisabled))
	}
	return a
}

// RequireMemberBelongsToContest rejects anonymous callers and members of a
// different contest. Root-scope members pass.
func (a *ContestAuthorizer) RequireMemberBelongsToContest() *ContestAuthorizer {
	if !a.requireContest() {
		return a
	}
	if a.member == nil {
		return a.fail(Deny(ReasonUnauthenticated))
	}
	if a.member.ContestID != nil && *a.member.ContestID != a.contest.ID {
		return a.fail(Deny(ReasonOtherContest))
	}
	return a
}

// RequireSelf compares against the resolved member, never a client value.
func (a *ContestAuthorizer) RequireSelf(memberID uuid.UUID) *ContestAuthorizer {
	if a.done() {
		return a
	}
	if a.member == nil || a.member.ID != memberID {
		return a.fail(Deny(ReasonOtherMember))
	}
	return a
}

// Or passes when any branch passes. When every branch fails, the first
// branch's denial is kept.
func (a *ContestAuthorizer) Or(branches ...func(*ContestAuthorizer) *ContestAuthorizer) *ContestAuthorizer {
	if a.done() || len(branches) == 0 {
		return a
	}
	var first *Decision
	for _, branch := range branches {
		child := branch(NewContestAuthorizer(a.contest, a.member, a.now))
		if child.failure == nil {
			return a
		}
		if first == nil {
			first = child.failure
		}
	}
	return a.fail(*first)
}

func (a *ContestAuthorizer) Decision() Decision {
	if a.failure != nil {
		return *a.failure
	}
	if a.contest == nil {
		return NotFoundReason(ReasonContestNotFound)
	}
	return Allow()
}
