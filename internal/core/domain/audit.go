package domain

import (
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
	ActionView   Action = "VIEW"
	ActionOther  Action = "OTHER"
)

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout, ActionView, ActionOther:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// AuditSet selects which entity actions produce change records.
type AuditSet map[Action]bool

func DefaultAuditSet() AuditSet {
	return AuditSet{ActionCreate: true, ActionUpdate: true, ActionDelete: true}
}

// ParseAuditSet reads the configuration form: create, update, delete, view or none.
func ParseAuditSet(values []string) (AuditSet, error) {
	set := AuditSet{}
	for _, v := range values {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "create":
			set[ActionCreate] = true
		case "update":
			set[ActionUpdate] = true
		case "delete":
			set[ActionDelete] = true
		case "view":
			set[ActionView] = true
		case "none":
			if len(values) > 1 {
				return nil, fmt.Errorf("audit_on: none cannot be combined with other actions")
			}
			return AuditSet{}, nil
		default:
			return nil, fmt.Errorf("audit_on: unknown action %q", v)
		}
	}
	return set, nil
}

func (s AuditSet) Has(a Action) bool {
	return s[a]
}

func (s AuditSet) clone() AuditSet {
	if s == nil {
		return nil
	}
	out := make(AuditSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Snapshot maps field names to JSON scalars.
type Snapshot map[string]any

type ChangeRecord struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ActorID     *int64    `json:"actor_id"`
	ActorName   string    `json:"actor_name,omitempty"`
	Action      Action    `json:"action"`
	EntityID    string    `json:"entity_id,omitempty"`
	ObjectID    string    `json:"object_id,omitempty"`
	TableName   string    `json:"table_name,omitempty"`
	Before      Snapshot  `json:"before"`
	After       Snapshot  `json:"after"`
	Description string    `json:"description,omitempty"`
	ClientIP    string    `json:"client_ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Actor returns the display name of whoever caused the change.
func (c ChangeRecord) Actor() string {
	if c.ActorID == nil {
		return "system"
	}
	if c.ActorName != "" {
		return c.ActorName
	}
	return fmt.Sprintf("user#%d", *c.ActorID)
}

type Period string

const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodThisWeek  Period = "this_week"
	PeriodThisMonth Period = "this_month"
)

// Range resolves a named period to [start, end) in now's location.
func (p Period) Range(now time.Time) (time.Time, time.Time, bool) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch p {
	case PeriodToday:
		return today, today.AddDate(0, 0, 1), true
	case PeriodYesterday:
		return today.AddDate(0, 0, -1), today, true
	case PeriodThisWeek:
		offset := (int(today.Weekday()) + 6) % 7
		start := today.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), true
	case PeriodThisMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0), true
	}
	return time.Time{}, time.Time{}, false
}

type AuditFilter struct {
	EntityID string
	ObjectID string
	ActorID  *int64
	Action   Action
	IP       string
	Search   string
	Period   Period
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

type AuditPage struct {
	Records  []ChangeRecord
	Total    int64
	Page     int
	PageSize int
}

type PurgePredicate struct {
	Before   time.Time
	Action   Action
	EntityID string
}

// PurgeCapability is proof that the holder may purge change records. The zero
// value grants nothing.
type PurgeCapability struct {
	grantedTo int64
	valid     bool
}

func (c PurgeCapability) Valid() bool {
	return c.valid
}

func (c PurgeCapability) GrantedTo() int64 {
	return c.grantedTo
}
