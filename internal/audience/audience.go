// Package audience decides which users a notification's audience rules admit.
//
// Each audience type has a single predicate entry holding both its in-process
// form and its SQL rendering, so bulk queries and single checks share one table.
// Only INCLUDE rules take part in matching; a notification is visible when every
// INCLUDE rule matches, which makes an empty INCLUDE set visible to everyone.
package audience

import (
	"sort"
	"strconv"
	"strings"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
)

// Subject is a user reduced to the tokens rules are compared against.
// An empty token never matches.
type Subject struct {
	Role       string
	Major      string
	Department string
	UserID     string
}

func SubjectOf(u user.CurrentUser) Subject {
	s := Subject{
		Role:   string(u.Role),
		UserID: u.IDString(),
	}
	if u.IsStudent() && u.MajorID != nil {
		s.Major = strconv.FormatInt(*u.MajorID, 10)
	}
	if u.IsLecturer() && u.DepartmentID != nil {
		s.Department = strconv.FormatInt(*u.DepartmentID, 10)
	}
	return s
}

// Matches reports whether a single rule admits u, regardless of its condition logic.
func Matches(u user.CurrentUser, r notification.Rule) bool {
	return SubjectOf(u).Matches(r)
}

// IsVisible reports whether every INCLUDE rule of n admits u.
func IsVisible(u user.CurrentUser, n *notification.Notification) bool {
	return SubjectOf(u).Admits(n.Rules)
}

// VisibleSet returns, in ascending order, the ids whose INCLUDE rules all match u.
// It counts matched rules against total rules per notification, the same shape
// the SQL aggregate uses.
func VisibleSet(u user.CurrentUser, rulesByNotification map[int64][]notification.Rule) []int64 {
	s := SubjectOf(u)
	out := make([]int64, 0, len(rulesByNotification))
	for id, rules := range rulesByNotification {
		total, matched := 0, 0
		for _, r := range rules {
			if r.ConditionLogic != notification.LogicInclude {
				continue
			}
			total++
			if s.Matches(r) {
				matched++
			}
		}
		if total == matched {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Subject) Matches(r notification.Rule) bool {
	p, ok := predicates[r.AudienceType]
	if !ok {
		return false
	}
	return p.match(s, r.Value())
}

func (s Subject) Admits(rules []notification.Rule) bool {
	for _, r := range rules {
		if r.ConditionLogic != notification.LogicInclude {
			continue
		}
		if !s.Matches(r) {
			return false
		}
	}
	return true
}

func hasToken(list, token string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.TrimSpace(t) == token {
			return true
		}
	}
	return false
}
