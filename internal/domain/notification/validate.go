package notification

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize fills defaults: GENERAL type, MEDIUM priority, INCLUDE logic.
func (in *CreateInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if in.Type == "" {
		in.Type = TypeGeneral
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if in.Attachments == nil {
		in.Attachments = []string{}
	}
	normalizeRules(in.Rules)
}

func (in *CreateInput) Validate() error {
	ve := &ValidationError{}
	if in.Title == "" {
		ve.add("title", "must not be empty")
	}
	if in.Content == "" {
		ve.add("content", "must not be empty")
	}
	if !in.Type.Valid() {
		ve.add("type", fmt.Sprintf("unknown type %q", in.Type))
	}
	if !in.Priority.Valid() {
		ve.add("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if len(in.Rules) == 0 {
		ve.add("audienceRules", "at least one audience rule is required")
	}
	validateRules(ve, in.Rules)
	return ve.orNil()
}

func (in *UpdateInput) Normalize() {
	p := &in.Patch
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		p.Title = &t
	}
	if p.Content != nil {
		c := strings.TrimSpace(*p.Content)
		p.Content = &c
	}
	if in.Rules != nil {
		normalizeRules(*in.Rules)
	}
}

func (in *UpdateInput) Validate() error {
	ve := &ValidationError{}
	p := in.Patch
	if p.Title != nil && *p.Title == "" {
		ve.add("title", "must not be empty")
	}
	if p.Content != nil && *p.Content == "" {
		ve.add("content", "must not be empty")
	}
	if p.Type != nil && !p.Type.Valid() {
		ve.add("type", fmt.Sprintf("unknown type %q", *p.Type))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		ve.add("priority", fmt.Sprintf("unknown priority %q", *p.Priority))
	}
	if p.Status != nil && !p.Status.Valid() {
		ve.add("status", fmt.Sprintf("unknown status %q", *p.Status))
	}
	if p.SemesterID != nil && !p.ClearSemester && *p.SemesterID <= 0 {
		ve.add("semesterId", "must be a positive id")
	}
	if in.Rules != nil {
		validateRules(ve, *in.Rules)
	}
	return ve.orNil()
}

func normalizeRules(rules []Rule) {
	for i := range rules {
		if rules[i].ConditionLogic == "" {
			rules[i].ConditionLogic = LogicInclude
		}
		if rules[i].AudienceValue != nil {
			v := canonicalIDs(rules[i].AudienceType, strings.TrimSpace(*rules[i].AudienceValue))
			rules[i].AudienceValue = &v
		}
		if rules[i].AudienceType == AudienceAllUsers {
			rules[i].AudienceValue = nil
		}
	}
}

func validateRules(ve *ValidationError, rules []Rule) {
	if len(rules) > MaxRules {
		ve.add("audienceRules", fmt.Sprintf("at most %d audience rules are allowed", MaxRules))
	}
	for i, r := range rules {
		field := fmt.Sprintf("audienceRules[%d]", i)
		if !r.AudienceType.Valid() {
			ve.add(field+".audienceType", fmt.Sprintf("unknown audience type %q", r.AudienceType))
			continue
		}
		if !r.ConditionLogic.Valid() {
			ve.add(field+".conditionLogic", fmt.Sprintf("unknown condition logic %q", r.ConditionLogic))
		}
		v := r.Value()
		if len(v) > MaxAudienceValueLen {
			ve.add(field+".audienceValue", fmt.Sprintf("must be at most %d characters", MaxAudienceValueLen))
			continue
		}
		switch r.AudienceType {
		case AudienceAllUsers:
		case AudienceRole:
			if v == "" {
				ve.add(field+".audienceValue", "role name is required")
			}
		case AudienceMajor, AudienceDepartment:
			if _, ok := parseID(v); !ok {
				ve.add(field+".audienceValue", "must be a positive numeric id")
			}
		case AudienceUserList:
			if !wellFormedUserList(v) {
				ve.add(field+".audienceValue", "must be a comma-separated list of user ids")
			}
		}
	}
}

func wellFormedUserList(v string) bool {
	if v == "" {
		return false
	}
	for _, tok := range strings.Split(v, ",") {
		if _, ok := parseID(strings.TrimSpace(tok)); !ok {
			return false
		}
	}
	return true
}

func parseID(v string) (int64, bool) {
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil && id > 0
}

// canonicalIDs rewrites numeric audience values as plain base-10 ids ("+07" ->
// "7", "12, 5" -> "12,5") so they compare equal to the ids the matcher renders.
// Values that do not parse are left for Validate to reject.
func canonicalIDs(t AudienceType, v string) string {
	switch t {
	case AudienceMajor, AudienceDepartment:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return strconv.FormatInt(id, 10)
		}
	case AudienceUserList:
		toks := strings.Split(v, ",")
		for i, tok := range toks {
			id, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
			if err != nil {
				return v
			}
			toks[i] = strconv.FormatInt(id, 10)
		}
		return strings.Join(toks, ",")
	}
	return v
}
