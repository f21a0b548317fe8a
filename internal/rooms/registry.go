package rooms

import (
	"regexp"
	"time"

	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

// Request is what a Rule sees: the matched room, its named captures and a
// fresh read of the contest and calling member.
type Request struct {
	Room    string
	Params  map[string]string
	Contest *model.Contest
	Member  *model.Member
	Now     time.Time
}

func (r Request) Authorizer() *ContestAuthorizer {
	return NewContestAuthorizer(r.Contest, r.Member, r.Now)
}

type Rule func(Request) Decision

type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
	Rule   Rule
}

// MustPattern compiles expr anchored at both ends.
func MustPattern(name, expr string, rule Rule) Pattern {
	return Pattern{
		Name:   name,
		Regexp: regexp.MustCompile("^" + expr + "$"),
		Rule:   rule,
	}
}

type Match struct {
	Pattern Pattern
	Params  map[string]string
}

// Registry is an ordered, closed list of room patterns. Lookup is first
// match; patterns are expected to be mutually exclusive.
type Registry struct {
	patterns []Pattern
	notFound string
}

func NewRegistry(notFound string, patterns ...Pattern) *Registry {
	return &Registry{
		patterns: append([]Pattern(nil), patterns...),
		notFound: notFound,
	}
}

func (r *Registry) Resolve(room string) (Match, bool) {
	for _, p := range r.patterns {
		sub := p.Regexp.FindStringSubmatch(room)
		if sub == nil {
			continue
		}
		params := make(map[string]string)
		for i, name := range p.Regexp.SubexpNames() {
			if i > 0 && name != "" {
				params[name] = sub[i]
			}
		}
		return Match{Pattern: p, Params: params}, true
	}
	return Match{}, false
}

func (r *Registry) Patterns() []Pattern {
	return append([]Pattern(nil), r.patterns...)
}

// NotFoundReason is the message surfaced when no pattern matches.
func (r *Registry) NotFoundReason() string {
	return r.notFound
}
