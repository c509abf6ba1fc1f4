package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
)

var _ notification.RuleStore = (*RuleRepoImpl)(nil)

type RuleRepoImpl struct{ db *DB }

func NewRuleRepo(db *DB) *RuleRepoImpl { return &RuleRepoImpl{db: db} }

const (
	qRulesDelete = `DELETE FROM notification_audience_rules WHERE notification_id = $1;`

	qRulesInsert = `
INSERT INTO notification_audience_rules (notification_id, audience_type, audience_value, condition_logic)
SELECT $1, x.audience_type, x.audience_value, x.condition_logic
FROM unnest($2::text[], $3::text[], $4::text[]) WITH ORDINALITY
     AS x(audience_type, audience_value, condition_logic, ord)
ORDER BY x.ord
RETURNING id, notification_id, audience_type, audience_value, condition_logic, created_at;
`
	qRulesList = `
SELECT id, notification_id, audience_type, audience_value, condition_logic, created_at
FROM notification_audience_rules
WHERE notification_id = $1
ORDER BY id;
`
)

func scanRule(row rowScanner, r *notification.Rule) error {
	var typ, logic string
	if err := row.Scan(&r.ID, &r.NotificationID, &typ, &r.AudienceValue, &logic, &r.CreatedAt); err != nil {
		return fmt.Errorf("scan rule: %w", err)
	}
	r.AudienceType = notification.AudienceType(typ)
	r.ConditionLogic = notification.ConditionLogic(logic)
	return nil
}

// Save deletes the current rule set and inserts rules in order. Callers run it
// inside a transaction so the replacement is atomic.
func (r *RuleRepoImpl) Save(ctx context.Context, notificationID int64, rules []notification.Rule) ([]notification.Rule, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if _, err := eq.Exec(ctx, qRulesDelete, notificationID); err != nil {
		return nil, fmt.Errorf("delete rules: %w", err)
	}
	if len(rules) == 0 {
		return []notification.Rule{}, nil
	}

	types := make([]string, len(rules))
	values := make([]*string, len(rules))
	logics := make([]string, len(rules))
	for i, rule := range rules {
		types[i] = string(rule.AudienceType)
		values[i] = rule.AudienceValue
		logics[i] = string(rule.ConditionLogic)
	}

	rows, err := eq.Query(ctx, qRulesInsert, notificationID, types, values, logics)
	if err != nil {
		return nil, fmt.Errorf("insert rules: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Rule, 0, len(rules))
	for rows.Next() {
		var rule notification.Rule
		if err := scanRule(rows, &rule); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert rules: %w", err)
	}
	return out, nil
}

func (r *RuleRepoImpl) ListFor(ctx context.Context, notificationID int64) ([]notification.Rule, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qRulesList, notificationID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Rule, 0, notification.MaxRules)
	for rows.Next() {
		var rule notification.Rule
		if err := scanRule(rows, &rule); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
