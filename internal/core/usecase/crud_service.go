package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/hooks"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/registry"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
)

// SessionRecorder appends records that are not tied to an entity write.
type SessionRecorder interface {
	OnSessionEvent(ctx context.Context, ev hooks.SessionEvent) int64
}

// CrudService exposes the generic list and write operations for every
// registered entity. Permissions are checked before any I/O.
type CrudService struct {
	registry  *registry.Registry
	store     ports.EntityStore
	validator *Validator
	recorder  SessionRecorder
	log       *logrus.Logger
}

func NewCrudService(reg *registry.Registry, store ports.EntityStore, validator *Validator, recorder SessionRecorder, log *logrus.Logger) *CrudService {
	if validator == nil {
		validator = NewValidator()
	}
	return &CrudService{registry: reg, store: store, validator: validator, recorder: recorder, log: log}
}

// Descriptor resolves an entity and checks that the caller may perform verb on it.
func (s *CrudService) Descriptor(ctx context.Context, entityID string, verb domain.Verb) (*domain.EntityDescriptor, error) {
	desc, err := s.registry.Lookup(entityID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, desc.Permission(verb)); err != nil {
		return nil, err
	}
	return desc, nil
}

func authorize(ctx context.Context, codename string) error {
	scope := uow.From(ctx)
	if scope == nil || scope.User == nil {
		return domain.ErrUnauthenticated
	}
	if !scope.Can(codename) {
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, codename)
	}
	return nil
}

func (s *CrudService) List(ctx context.Context, entityID string, q domain.ListQuery) (domain.Page, error) {
	desc, err := s.Descriptor(ctx, entityID, domain.VerbView)
	if err != nil {
		return domain.Page{}, err
	}
	q = q.Normalize()
	rows, total, err := s.store.List(ctx, desc, q)
	if err != nil {
		return domain.Page{}, err
	}
	for i := range rows {
		rows[i] = present(desc, rows[i])
	}

	if desc.Audits(domain.ActionView) && s.recorder != nil {
		s.recorder.OnSessionEvent(ctx, hooks.SessionEvent{
			Action:      domain.ActionView,
			Entity:      desc,
			Description: fmt.Sprintf("VIEW en %s: página %d", plural(desc), q.Page),
		})
	}

	return domain.Page{
		Rows:     rows,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
		Columns:  desc.Columns(listFields(desc)),
	}, nil
}

func (s *CrudService) Get(ctx context.Context, entityID string, id int64) (domain.Row, error) {
	desc, err := s.Descriptor(ctx, entityID, domain.VerbView)
	if err != nil {
		return nil, err
	}
	row, err := s.store.Get(ctx, desc, id)
	if err != nil {
		return nil, err
	}
	return present(desc, row), nil
}

// Create validates raw and inserts it. The change record is attached by the
// store's write hook.
func (s *CrudService) Create(ctx context.Context, entityID string, raw map[string]any) (int64, error) {
	desc, err := s.Descriptor(ctx, entityID, domain.VerbAdd)
	if err != nil {
		return 0, err
	}
	values, ve := s.validator.Clean(desc, raw, false)
	if ve != nil {
		return 0, ve
	}
	if ve := s.validator.Check(desc, values); ve != nil {
		return 0, ve
	}

	var id int64
	err = s.store.Write(ctx, func(tx ports.EntityTx) error {
		if err := checkRelations(tx, desc, values); err != nil {
			return err
		}
		id, err = tx.Insert(desc, values)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update applies the fields present in raw on top of the stored row.
func (s *CrudService) Update(ctx context.Context, entityID string, id int64, raw map[string]any) error {
	desc, err := s.Descriptor(ctx, entityID, domain.VerbChange)
	if err != nil {
		return err
	}
	values, ve := s.validator.Clean(desc, raw, true)
	if ve != nil {
		return ve
	}
	return s.store.Write(ctx, func(tx ports.EntityTx) error {
		current, err := tx.Get(desc, id)
		if err != nil {
			return err
		}
		if ve := s.validator.Check(desc, merge(current, values)); ve != nil {
			return ve
		}
		if err := checkRelations(tx, desc, values); err != nil {
			return err
		}
		return tx.Update(desc, id, values, domain.WriteOptions{})
	})
}

func (s *CrudService) Delete(ctx context.Context, entityID string, id int64) error {
	desc, err := s.Descriptor(ctx, entityID, domain.VerbDelete)
	if err != nil {
		return err
	}
	return s.store.Write(ctx, func(tx ports.EntityTx) error {
		return tx.Delete(desc, id)
	})
}

// ToggleStatus flips the descriptor's status field and returns the new value.
func (s *CrudService) ToggleStatus(ctx context.Context, entityID string, id int64) (bool, error) {
	desc, err := s.Descriptor(ctx, entityID, domain.VerbChange)
	if err != nil {
		return false, err
	}
	if desc.StatusField == "" {
		return false, fmt.Errorf("%s: %w", desc.ID(), domain.ErrNotToggleable)
	}
	var next bool
	err = s.store.Write(ctx, func(tx ports.EntityTx) error {
		current, err := tx.Get(desc, id)
		if err != nil {
			return err
		}
		next = !domain.AsBool(current[desc.StatusField])
		return tx.Update(desc, id, domain.Row{desc.StatusField: next}, domain.WriteOptions{})
	})
	if err != nil {
		return false, err
	}
	return next, nil
}

// upsertRow is one cleaned row for upsert. Defaults holds the values filled
// in for columns the source did not carry; they only apply to inserts.
type upsertRow struct {
	Values      domain.Row
	Defaults    domain.Row
	AllowUpdate bool
}

// newUpsertRow splits cleaned values into the ones present in raw and the
// defaults the validator added.
func newUpsertRow(values domain.Row, raw map[string]any, allowUpdate bool) upsertRow {
	row := upsertRow{Values: domain.Row{}, Defaults: domain.Row{}, AllowUpdate: allowUpdate}
	for k, v := range values {
		if _, ok := raw[k]; ok {
			row.Values[k] = v
		} else {
			row.Defaults[k] = v
		}
	}
	return row
}

// upsert applies one cleaned row inside tx. Rows matching an existing unique
// key update it, or are skipped when nothing differs.
func (s *CrudService) upsert(tx ports.EntityTx, desc *domain.EntityDescriptor, row upsertRow) (domain.RowOutcomeKind, int64, error) {
	values := row.Values
	full := merge(row.Defaults, values)
	if err := checkRelations(tx, desc, full); err != nil {
		return domain.OutcomeError, 0, err
	}

	if desc.UniqueKey != "" && values[desc.UniqueKey] != nil {
		existing, err := tx.FindBy(desc, desc.UniqueKey, values[desc.UniqueKey])
		switch {
		case err == nil:
			id := existing.ID()
			if sameValues(desc, existing, values) {
				return domain.OutcomeSkipped, id, nil
			}
			if !row.AllowUpdate {
				return domain.OutcomeError, 0, fmt.Errorf("%w: %s", domain.ErrUnauthorized, desc.Permission(domain.VerbChange))
			}
			if ve := s.validator.Check(desc, merge(existing, values)); ve != nil {
				return domain.OutcomeError, 0, ve
			}
			if err := tx.Update(desc, id, values, domain.WriteOptions{}); err != nil {
				return domain.OutcomeError, 0, err
			}
			return domain.OutcomeUpdated, id, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.OutcomeError, 0, err
		}
	}

	if ve := s.validator.Check(desc, full); ve != nil {
		return domain.OutcomeError, 0, ve
	}
	id, err := tx.Insert(desc, full)
	if err != nil {
		return domain.OutcomeError, 0, err
	}
	return domain.OutcomeCreated, id, nil
}

func checkRelations(tx ports.EntityTx, desc *domain.EntityDescriptor, values domain.Row) error {
	ve := domain.NewValidationError()
	for _, f := range desc.Fields {
		if f.Kind != domain.KindRelation || f.Relation == nil {
			continue
		}
		id, ok := domain.AsInt64(values[f.Name])
		if !ok || values[f.Name] == nil {
			continue
		}
		exists, err := tx.Exists(f.Relation.Table, id)
		if err != nil {
			return err
		}
		if !exists {
			ve.Add(f.Name, "Seleccione una opción válida. Esa opción no existe.")
		}
	}
	if !ve.Empty() {
		return ve
	}
	return nil
}

func sameValues(desc *domain.EntityDescriptor, stored, values domain.Row) bool {
	for name, v := range values {
		f, ok := desc.Field(name)
		if !ok {
			continue
		}
		a, errA := f.Normalize(stored[name])
		b, errB := f.Normalize(v)
		if errA != nil || errB != nil {
			return false
		}
		if f.Kind == domain.KindNumber {
			fa, okA := asFloat(a)
			fb, okB := asFloat(b)
			if okA && okB {
				if fa != fb {
					return false
				}
				continue
			}
		}
		if fmt.Sprint(a) != fmt.Sprint(b) {
			return false
		}
	}
	return true
}

func asFloat(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

func merge(current, values domain.Row) domain.Row {
	out := current.Clone()
	for k, v := range values {
		out[k] = v
	}
	return out
}

// present drops sensitive columns and fills computed fields.
func present(desc *domain.EntityDescriptor, row domain.Row) domain.Row {
	for k := range row {
		if domain.IsSensitive(k) {
			delete(row, k)
		}
	}
	for _, f := range desc.Fields {
		if f.Kind == domain.KindComputed && f.Compute != nil {
			if v, err := f.Compute(row); err == nil {
				row[f.Name] = v
			}
		}
	}
	return row
}

func listFields(desc *domain.EntityDescriptor) []string {
	if len(desc.ListFields) > 0 {
		return desc.ListFields
	}
	names := make([]string, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		names = append(names, f.Name)
	}
	return names
}

func plural(desc *domain.EntityDescriptor) string {
	if desc.DisplayPlural != "" {
		return desc.DisplayPlural
	}
	return desc.Name
}
