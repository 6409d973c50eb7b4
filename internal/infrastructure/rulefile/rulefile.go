// Package rulefile reads YAML seed files describing an organization's
// directory, approval rules and delegations.
package rulefile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/expense-approval/internal/domain/delegation"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/rules"
)

// File is a decoded seed file. Every entry belongs to OrgID.
type File struct {
	OrgID     string
	Users     []*entity.OrgUser
	Rules     []*entity.ApprovalRule
	Delegates []*entity.ApprovalDelegate
}

type fileYAML struct {
	OrgID     string         `yaml:"org_id"`
	Users     []userYAML     `yaml:"users"`
	Rules     []ruleYAML     `yaml:"rules"`
	Delegates []delegateYAML `yaml:"delegates"`
}

type userYAML struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Role       string `yaml:"role"`
	ManagerID  string `yaml:"manager_id"`
	LarkOpenID string `yaml:"lark_open_id"`
}

type ruleYAML struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Priority    int             `yaml:"priority"`
	Active      *bool           `yaml:"active"`
	Conditions  []conditionYAML `yaml:"conditions"`
	Actions     []actionYAML    `yaml:"actions"`
}

type conditionYAML struct {
	Field    string    `yaml:"field"`
	Operator string    `yaml:"operator"`
	Value    yaml.Node `yaml:"value"`
}

type actionYAML struct {
	Type                string   `yaml:"type"`
	ApproverRoles       []string `yaml:"approver_roles"`
	ApproverUsers       []string `yaml:"approver_users"`
	Sequence            int      `yaml:"sequence"`
	EscalationTimeHours int      `yaml:"escalation_time_hours"`
	Priority            string   `yaml:"priority"`
	Optional            bool     `yaml:"optional"`
}

type delegateYAML struct {
	DelegatorID string   `yaml:"delegator_id"`
	DelegateID  string   `yaml:"delegate_id"`
	StartDate   string   `yaml:"start_date"`
	EndDate     string   `yaml:"end_date"`
	AmountLimit string   `yaml:"amount_limit"`
	CategoryIDs []string `yaml:"category_ids"`
}

// Load reads and decodes the file at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return f, nil
}

// Decode parses YAML seed data. Structural errors such as an operand that
// does not fit its field are reported here; policy checks live in Validate.
func Decode(data []byte) (*File, error) {
	var raw fileYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.OrgID) == "" {
		return nil, fmt.Errorf("org_id is required")
	}

	f := &File{OrgID: raw.OrgID}
	for _, u := range raw.Users {
		f.Users = append(f.Users, &entity.OrgUser{
			ID:         u.ID,
			OrgID:      raw.OrgID,
			Name:       u.Name,
			Role:       u.Role,
			ManagerID:  u.ManagerID,
			LarkOpenID: u.LarkOpenID,
		})
	}

	for i, r := range raw.Rules {
		rule, err := r.toEntity(raw.OrgID)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		f.Rules = append(f.Rules, rule)
	}

	for i, d := range raw.Delegates {
		del, err := d.toEntity(raw.OrgID)
		if err != nil {
			return nil, fmt.Errorf("delegate %d: %w", i, err)
		}
		f.Delegates = append(f.Delegates, del)
	}
	return f, nil
}

func (r ruleYAML) toEntity(orgID string) (*entity.ApprovalRule, error) {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	rule := &entity.ApprovalRule{
		OrgID:       orgID,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		IsActive:    active,
		Conditions:  []entity.Condition{},
	}

	for i, c := range r.Conditions {
		field := entity.ConditionField(c.Field)
		op := entity.ConditionOperator(c.Operator)
		raw, err := nodeJSON(&c.Value)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		value, err := entity.ParseConditionValue(field, op, raw)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		rule.Conditions = append(rule.Conditions, entity.Condition{Field: field, Operator: op, Value: value})
	}

	for _, a := range r.Actions {
		rule.Actions = append(rule.Actions, entity.Action{
			Type:                entity.ActionType(a.Type),
			ApproverRoles:       a.ApproverRoles,
			ApproverUsers:       a.ApproverUsers,
			Sequence:            a.Sequence,
			EscalationTimeHours: a.EscalationTimeHours,
			Priority:            entity.Priority(strings.ToUpper(a.Priority)),
			Optional:            a.Optional,
		})
	}
	return rule, nil
}

// nodeJSON re-encodes a YAML operand as JSON so it goes through the same
// parser as operands stored in the database
func nodeJSON(node *yaml.Node) (json.RawMessage, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	if t, ok := v.(time.Time); ok {
		v = t.UTC().Format(time.RFC3339)
	}
	return json.Marshal(v)
}

func (d delegateYAML) toEntity(orgID string) (*entity.ApprovalDelegate, error) {
	del := &entity.ApprovalDelegate{
		OrgID:       orgID,
		DelegatorID: d.DelegatorID,
		DelegateID:  d.DelegateID,
		IsActive:    true,
		CategoryIDs: d.CategoryIDs,
	}
	if d.StartDate != "" {
		start, err := parseInstant(d.StartDate)
		if err != nil {
			return nil, fmt.Errorf("start_date: %w", err)
		}
		del.StartDate = &start
	}
	if d.EndDate != "" {
		end, err := parseInstant(d.EndDate)
		if err != nil {
			return nil, fmt.Errorf("end_date: %w", err)
		}
		del.EndDate = &end
	}
	if d.AmountLimit != "" {
		limit, err := decimal.NewFromString(d.AmountLimit)
		if err != nil {
			return nil, fmt.Errorf("amount_limit: %w", err)
		}
		del.AmountLimit = &limit
	}
	return del, nil
}

func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return entity.ParseDate(s)
}

// Validate runs the same checks the services apply on creation and returns
// every problem found, prefixed with its location in the file
func Validate(f *File) []string {
	var problems []string

	users := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		switch {
		case strings.TrimSpace(u.ID) == "":
			problems = append(problems, fmt.Sprintf("user %d: id is required", i))
		case users[u.ID]:
			problems = append(problems, fmt.Sprintf("user %s: duplicate id", u.ID))
		}
		users[u.ID] = true
		if strings.TrimSpace(u.Role) == "" {
			problems = append(problems, fmt.Sprintf("user %s: role is required", u.ID))
		}
	}
	for _, u := range f.Users {
		if u.ManagerID != "" && !users[u.ManagerID] {
			problems = append(problems, fmt.Sprintf("user %s: manager %s is not in the file", u.ID, u.ManagerID))
		}
		if u.ManagerID == u.ID && u.ID != "" {
			problems = append(problems, fmt.Sprintf("user %s: cannot manage themselves", u.ID))
		}
	}

	for i, r := range f.Rules {
		if err := rules.Validate(r); err != nil {
			problems = append(problems, fmt.Sprintf("rule %d (%s): %v", i, r.Name, err))
		}
	}

	for i, d := range f.Delegates {
		for _, p := range delegation.Validate(d) {
			problems = append(problems, fmt.Sprintf("delegate %d: %s", i, p))
		}
	}
	return problems
}
