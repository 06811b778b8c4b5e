package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every persisted timestamp
// that is compared or sorted as text.
const (
	TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	DateLayout = "2006-01-02"
)

type FieldKind string

const (
	KindText     FieldKind = "text"
	KindNumber   FieldKind = "number"
	KindBoolean  FieldKind = "boolean"
	KindDate     FieldKind = "date"
	KindDateTime FieldKind = "datetime"
	KindRelation FieldKind = "relation"
	KindFile     FieldKind = "file"
	KindImage    FieldKind = "image"
	KindEnum     FieldKind = "enum"
	KindComputed FieldKind = "computed"
)

type Verb string

const (
	VerbView   Verb = "view"
	VerbAdd    Verb = "add"
	VerbChange Verb = "change"
	VerbDelete Verb = "delete"
)

var entityIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

func ValidateEntityID(id string) error {
	if !entityIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrUnknownEntity, id)
	}
	return nil
}

// Row is one persisted entity instance keyed by column name.
type Row map[string]any

func (r Row) ID() int64 {
	id, _ := AsInt64(r["id"])
	return id
}

func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type Relation struct {
	Table   string
	Display []string
}

type Field struct {
	Name      string
	Label     string
	Kind      FieldKind
	Required  bool
	MaxLength int
	Pattern   string
	Choices   []string
	Unique    bool
	Default   any
	Relation  *Relation
	Compute   func(Row) (any, error)
}

// Stored reports whether the field maps to a table column.
func (f Field) Stored() bool {
	return f.Kind != KindComputed
}

// Cleaner normalizes one raw import cell before validation.
type Cleaner func(string) string

type CondOp string

const (
	OpEq       CondOp = "eq"
	OpContains CondOp = "contains"
	OpEmpty    CondOp = "empty"
	OpBefore   CondOp = "before"
	OpIsTrue   CondOp = "is_true"
)

type Condition struct {
	Field string
	Op    CondOp
	Value any
}

// Predicate is a disjunction of conditions. A query holds a conjunction of predicates.
type Predicate []Condition

// NamedFilter turns a filter value into predicates. ok=false means the value is
// not recognized and the filter is skipped.
type NamedFilter func(value string, now time.Time) (preds []Predicate, ok bool)

type EntityDescriptor struct {
	App              string
	Name             string
	Table            string
	DisplaySingular  string
	DisplayPlural    string
	PermissionPrefix string
	Fields           []Field
	DisplayFields    []string
	SearchFields     []string
	OrderBy          []string
	ListFields       []string
	ImportFields     []string
	ExportFields     []string
	UniqueKey        string
	StatusField      string
	Cleaners         map[string]Cleaner
	Filters          map[string]NamedFilter
	Validate         func(Row) *ValidationError
	SoftDelete       bool
	TracksAuthors    bool
	Timestamps       bool
	AuditOn          AuditSet
	AuditExclude     []string
}

func (d *EntityDescriptor) ID() string {
	return d.App + "." + d.Name
}

// Permission builds the codename guarding verb on this entity.
func (d *EntityDescriptor) Permission(v Verb) string {
	prefix := d.PermissionPrefix
	if prefix == "" {
		prefix = d.App
	}
	return prefix + "." + string(v) + "_" + d.Name
}

func (d *EntityDescriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (d *EntityDescriptor) StoredFields() []Field {
	out := make([]Field, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Stored() {
			out = append(out, f)
		}
	}
	return out
}

// Title renders the display string of one instance.
func (d *EntityDescriptor) Title(row Row) string {
	parts := make([]string, 0, len(d.DisplayFields))
	for _, name := range d.DisplayFields {
		if s := strings.TrimSpace(Stringify(row[name])); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "#" + strconv.FormatInt(row.ID(), 10)
	}
	return strings.Join(parts, " ")
}

func (d *EntityDescriptor) Audits(a Action) bool {
	return d.AuditOn.Has(a)
}

func (d *EntityDescriptor) Columns(names []string) []ColumnHint {
	out := make([]ColumnHint, 0, len(names))
	for _, name := range names {
		f, ok := d.Field(name)
		if !ok {
			continue
		}
		label := f.Label
		if label == "" {
			label = name
		}
		out = append(out, ColumnHint{Name: name, Label: label, Kind: f.Kind, Choices: f.Choices})
	}
	return out
}

// Clone returns a copy whose slices and maps can be modified independently.
func (d *EntityDescriptor) Clone() *EntityDescriptor {
	c := *d
	c.Fields = append([]Field(nil), d.Fields...)
	c.DisplayFields = append([]string(nil), d.DisplayFields...)
	c.SearchFields = append([]string(nil), d.SearchFields...)
	c.OrderBy = append([]string(nil), d.OrderBy...)
	c.ListFields = append([]string(nil), d.ListFields...)
	c.ImportFields = append([]string(nil), d.ImportFields...)
	c.ExportFields = append([]string(nil), d.ExportFields...)
	c.AuditExclude = append([]string(nil), d.AuditExclude...)
	c.AuditOn = d.AuditOn.clone()
	if d.Cleaners != nil {
		c.Cleaners = make(map[string]Cleaner, len(d.Cleaners))
		for k, v := range d.Cleaners {
			c.Cleaners[k] = v
		}
	}
	if d.Filters != nil {
		c.Filters = make(map[string]NamedFilter, len(d.Filters))
		for k, v := range d.Filters {
			c.Filters[k] = v
		}
	}
	return &c
}

var sensitiveNames = []string{"password", "token", "secret", "key"}

// IsSensitive reports whether a field name must never appear in a snapshot.
func IsSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, s := range sensitiveNames {
		if name == s || strings.HasPrefix(name, s+"_") || strings.HasSuffix(name, "_"+s) {
			return true
		}
	}
	return false
}

// Normalize maps a stored or coerced value to a JSON scalar for the field kind.
func (f Field) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch f.Kind {
	case KindBoolean:
		return AsBool(v), nil
	case KindNumber, KindRelation:
		switch n := v.(type) {
		case int64:
			return json.Number(strconv.FormatInt(n, 10)), nil
		case int:
			return json.Number(strconv.Itoa(n)), nil
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("%w: %s is not a finite number", ErrSerialization, f.Name)
			}
			return json.Number(strconv.FormatFloat(n, 'f', -1, 64)), nil
		case json.Number:
			return n, nil
		case string:
			if n == "" {
				return nil, nil
			}
			if _, err := strconv.ParseFloat(n, 64); err != nil {
				return n, nil
			}
			return json.Number(n), nil
		}
	case KindDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(DateLayout), nil
		}
	case KindDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(TimeLayout), nil
		}
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case bool:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return fmt.Sprint(v), nil
}

func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func AsBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case float64:
		return b != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "on", "yes", "si", "sí", "t":
			return true
		}
	case []byte:
		return AsBool(string(b))
	}
	return false
}

// Stringify renders any scalar for display and text exports.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case bool:
		if s {
			return "Sí"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.UTC().Format(TimeLayout)
	}
	return fmt.Sprint(v)
}
