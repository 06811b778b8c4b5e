package hooks

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

// DisplayFunc resolves the display string of a related row.
type DisplayFunc func(rel domain.Relation, id int64) (string, error)

// BuildSnapshot reduces row to JSON scalars following desc. Relations keep
// their id under the field name and their display string under
// "<field>_display"; sensitive and excluded fields are dropped.
func BuildSnapshot(desc *domain.EntityDescriptor, row domain.Row, display DisplayFunc) (domain.Snapshot, error) {
	if row == nil {
		return nil, nil
	}
	excluded := make(map[string]bool, len(desc.AuditExclude))
	for _, name := range desc.AuditExclude {
		excluded[name] = true
	}

	snap := make(domain.Snapshot, len(desc.Fields))
	for _, f := range desc.Fields {
		if excluded[f.Name] || domain.IsSensitive(f.Name) {
			continue
		}
		switch f.Kind {
		case domain.KindComputed:
			if f.Compute == nil {
				continue
			}
			v, err := f.Compute(row)
			if err != nil {
				return nil, fmt.Errorf("%w: computed field %s: %v", domain.ErrSerialization, f.Name, err)
			}
			nv, err := normalizeAny(f.Name, v)
			if err != nil {
				return nil, err
			}
			snap[f.Name] = nv
		case domain.KindRelation:
			id, ok := domain.AsInt64(row[f.Name])
			if !ok || row[f.Name] == nil {
				snap[f.Name] = nil
				snap[f.Name+"_display"] = nil
				continue
			}
			snap[f.Name] = json.Number(strconv.FormatInt(id, 10))
			label := ""
			if display != nil && f.Relation != nil {
				s, err := display(*f.Relation, id)
				if err != nil {
					return nil, fmt.Errorf("%w: resolve %s: %v", domain.ErrSerialization, f.Name, err)
				}
				label = s
			}
			snap[f.Name+"_display"] = label
		default:
			nv, err := f.Normalize(row[f.Name])
			if err != nil {
				return nil, err
			}
			snap[f.Name] = nv
		}
	}

	if _, err := json.Marshal(snap); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	return snap, nil
}

// ChangedFields lists declared fields whose values differ. Relations compare
// by referenced id only.
func ChangedFields(desc *domain.EntityDescriptor, before, after domain.Snapshot) []string {
	var changed []string
	for _, f := range desc.Fields {
		bv, bok := before[f.Name]
		av, aok := after[f.Name]
		if !bok && !aok {
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			changed = append(changed, f.Name)
		}
	}
	return changed
}

func normalizeAny(name string, v any) (any, error) {
	switch n := v.(type) {
	case nil, string, bool, json.Number:
		return n, nil
	case int:
		return json.Number(strconv.Itoa(n)), nil
	case int64:
		return json.Number(strconv.FormatInt(n, 10)), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("%w: %s is not a finite number", domain.ErrSerialization, name)
		}
		return json.Number(strconv.FormatFloat(n, 'f', -1, 64)), nil
	case fmt.Stringer:
		return n.String(), nil
	}
	return fmt.Sprint(v), nil
}
