package rooms

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

const uuidExpr = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

const (
	contestPrefix = `/contests/(?P<contestId>` + uuidExpr + `)`
	topicPrefix   = `/topic/contests/(?P<contestId>` + uuidExpr + `)`
)

func AdminDashboard(contestID uuid.UUID) string {
	return fmt.Sprintf("/contests/%s/dashboard/admin", contestID)
}

func StaffDashboard(contestID uuid.UUID) string {
	return fmt.Sprintf("/contests/%s/dashboard/staff", contestID)
}

func JudgeDashboard(contestID uuid.UUID) string {
	return fmt.Sprintf("/contests/%s/dashboard/judge", contestID)
}

func ContestantDashboard(contestID uuid.UUID) string {
	return fmt.Sprintf("/contests/%s/dashboard/contestant", contestID)
}

func GuestDashboard(contestID uuid.UUID) string {
	return fmt.Sprintf("/contests/%s/dashboard/guest", contestID)
}

func MemberPrivate(contestID, memberID uuid.UUID) string {
	return fmt.Sprintf("/contests/%s/members/%s", contestID, memberID)
}

// PrivilegedDashboards receive leaderboard deltas while the contest is
// frozen.
func PrivilegedDashboards(contestID uuid.UUID) []string {
	return []string{AdminDashboard(contestID), StaffDashboard(contestID), JudgeDashboard(contestID)}
}

func PublicDashboards(contestID uuid.UUID) []string {
	return []string{ContestantDashboard(contestID), GuestDashboard(contestID)}
}

func Dashboards(contestID uuid.UUID) []string {
	return append(PrivilegedDashboards(contestID), PublicDashboards(contestID)...)
}

func memberParam(req Request) (uuid.UUID, *Decision) {
	id, err := uuid.Parse(req.Params["memberId"])
	if err != nil {
		d := Deny("Invalid member ID in room name: " + req.Room)
		return uuid.Nil, &d
	}
	return id, nil
}

// NewJoinRegistry builds the room table used by join.
func NewJoinRegistry() *Registry {
	return NewRegistry("Room not found",
		MustPattern("dashboard.admin", contestPrefix+`/dashboard/admin`, func(req Request) Decision {
			return req.Authorizer().
				RequireMemberType(model.MemberRoot, model.MemberAdmin).
				Decision()
		}),
		MustPattern("dashboard.staff", contestPrefix+`/dashboard/staff`, func(req Request) Decision {
			return req.Authorizer().
				RequireMemberType(model.MemberStaff).
				Decision()
		}),
		MustPattern("dashboard.judge", contestPrefix+`/dashboard/judge`, func(req Request) Decision {
			return req.Authorizer().
				RequireMemberType(model.MemberJudge).
				Decision()
		}),
		MustPattern("dashboard.contestant", contestPrefix+`/dashboard/contestant`, func(req Request) Decision {
			return req.Authorizer().
				RequireMemberType(model.MemberContestant, model.MemberUnofficialContestant).
				RequireContestStarted().
				Decision()
		}),
		MustPattern("dashboard.guest", contestPrefix+`/dashboard/guest`, func(req Request) Decision {
			return req.Authorizer().
				RequireSettingGuestEnabled().
				RequireContestStarted().
				Decision()
		}),
		MustPattern("member.private", contestPrefix+`/members/(?P<memberId>[^/]+)`, func(req Request) Decision {
			memberID, denied := memberParam(req)
			if denied != nil {
				return *denied
			}
			return req.Authorizer().
				RequireMemberBelongsToContest().
				RequireSelf(memberID).
				RequireStartedOrPrivileged().
				Decision()
		}),
	)
}

// NewSubscribeRegistry builds the legacy topic table used by subscribe.
func NewSubscribeRegistry() *Registry {
	started := func(req Request) Decision {
		return req.Authorizer().RequireStartedOrPrivileged().Decision()
	}
	ownTopic := func(reason string) Rule {
		return func(req Request) Decision {
			memberID, denied := memberParam(req)
			if denied != nil {
				return *denied
			}
			a := req.Authorizer().
				RequireMemberBelongsToContest().
				RequireStartedOrPrivileged()
			return a.Require(req.Member != nil && req.Member.ID == memberID, reason).Decision()
		}
	}

	return NewRegistry("Topic not found",
		MustPattern("topic.announcements", topicPrefix+`/announcements`, started),
		MustPattern("topic.clarifications", topicPrefix+`/clarifications`, started),
		MustPattern("topic.clarifications.member", topicPrefix+`/clarifications/children/members/(?P<memberId>[^/]+)`,
			ownTopic("User does not have access to this clarification")),
		MustPattern("topic.clarifications.deleted", topicPrefix+`/clarifications/deleted`, started),
		MustPattern("topic.leaderboard", topicPrefix+`/leaderboard`, started),
		MustPattern("topic.leaderboard.partial", topicPrefix+`/leaderboard/partial`, started),
		MustPattern("topic.submissions", topicPrefix+`/submissions`, started),
		MustPattern("topic.submissions.full", topicPrefix+`/submissions/full`, func(req Request) Decision {
			a := req.Authorizer().RequireStartedOrPrivileged()
			allowed := req.Member != nil && slices.Contains(
				[]model.MemberType{model.MemberRoot, model.MemberAdmin, model.MemberJudge}, req.Member.Type)
			return a.Require(allowed, "User does not have access to full submissions").Decision()
		}),
		MustPattern("topic.submissions.member", topicPrefix+`/submissions/full/members/(?P<memberId>[^/]+)`,
			ownTopic("User does not have access to this submission")),
	)
}
