package audience

import (
	"fmt"
	"strings"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
)

type predicate struct {
	match func(s Subject, value string) bool
	// sql renders the same condition over a nullable text column.
	sql func(col string, b *binder) string
}

var order = []notification.AudienceType{
	notification.AudienceAllUsers,
	notification.AudienceRole,
	notification.AudienceMajor,
	notification.AudienceDepartment,
	notification.AudienceUserList,
}

var predicates = map[notification.AudienceType]predicate{
	notification.AudienceAllUsers: {
		match: func(Subject, string) bool { return true },
		sql:   func(string, *binder) string { return "TRUE" },
	},
	notification.AudienceRole: {
		match: func(s Subject, v string) bool { return v != "" && v == s.Role },
		sql: func(col string, b *binder) string {
			return fmt.Sprintf("(COALESCE(%s, '') <> '' AND %s = %s)", col, col, b.bind("role"))
		},
	},
	notification.AudienceMajor: {
		match: func(s Subject, v string) bool { return s.Major != "" && v == s.Major },
		sql: func(col string, b *binder) string {
			p := b.bind("major")
			return fmt.Sprintf("(%s <> '' AND %s = %s)", p, col, p)
		},
	},
	notification.AudienceDepartment: {
		match: func(s Subject, v string) bool { return s.Department != "" && v == s.Department },
		sql: func(col string, b *binder) string {
			p := b.bind("department")
			return fmt.Sprintf("(%s <> '' AND %s = %s)", p, col, p)
		},
	},
	notification.AudienceUserList: {
		match: func(s Subject, v string) bool { return s.UserID != "" && hasToken(v, s.UserID) },
		sql: func(col string, b *binder) string {
			p := b.bind("user_id")
			return fmt.Sprintf(
				"(%s <> '' AND %s = ANY (SELECT btrim(tok) FROM unnest(string_to_array(%s, ',')) AS tok))",
				p, p, col)
		},
	},
}

type binder struct {
	s     Subject
	args  []any
	slots map[string]string
}

func (b *binder) bind(field string) string {
	if ph, ok := b.slots[field]; ok {
		return ph
	}
	var v string
	switch field {
	case "role":
		v = b.s.Role
	case "major":
		v = b.s.Major
	case "department":
		v = b.s.Department
	case "user_id":
		v = b.s.UserID
	}
	b.args = append(b.args, v)
	ph := fmt.Sprintf("$%d::text", len(b.args))
	b.slots[field] = ph
	return ph
}

// MatchSQL renders the predicate table as a boolean expression over the rule
// table aliased as alias. Subject tokens are appended to args as positional
// parameters; the extended argument list is returned.
func MatchSQL(alias string, s Subject, args []any) (string, []any) {
	b := &binder{s: s, args: args, slots: map[string]string{}}
	col := alias + ".audience_value"

	var sb strings.Builder
	sb.WriteString("COALESCE(CASE ")
	sb.WriteString(alias)
	sb.WriteString(".audience_type")
	for _, t := range order {
		fmt.Fprintf(&sb, " WHEN '%s' THEN %s", t, predicates[t].sql(col, b))
	}
	sb.WriteString(" ELSE FALSE END, FALSE)")
	return sb.String(), b.args
}

// IncludeSQL restricts the rule alias to rules that take part in matching.
func IncludeSQL(alias string) string {
	return fmt.Sprintf("%s.condition_logic = '%s'", alias, notification.LogicInclude)
}
