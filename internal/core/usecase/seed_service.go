package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/registry"
)

const DefaultSeedBatch = 200

// Ref points a relation value at the row of Entity whose Field equals Value.
// Seeds use it instead of database ids.
type Ref struct {
	Entity string
	Field  string
	Value  any
}

// SeedSet is the canonical data of one entity.
type SeedSet struct {
	Entity string
	Rows   []map[string]any
}

type SeedModuleReport struct {
	Module  string
	Created int
	Updated int
	Skipped int
	Failed  []string
}

type SeedReport struct {
	Modules []SeedModuleReport
}

// Failures counts failed rows across every module.
func (r SeedReport) Failures() int {
	n := 0
	for _, m := range r.Modules {
		n += len(m.Failed)
	}
	return n
}

// SeedService loads canonical catalog data. It runs as the system actor and
// skips permission checks; writes are still audited.
type SeedService struct {
	crud     *CrudService
	registry *registry.Registry
	store    ports.EntityStore
	modules  map[string][]SeedSet
	order    []string
	log      *logrus.Logger
}

// NewSeedService takes the seed sets per module; order fixes the sequence used
// for "all".
func NewSeedService(crud *CrudService, reg *registry.Registry, store ports.EntityStore, modules map[string][]SeedSet, order []string, log *logrus.Logger) *SeedService {
	return &SeedService{crud: crud, registry: reg, store: store, modules: modules, order: order, log: log}
}

func (s *SeedService) Modules() []string {
	if len(s.order) > 0 {
		return append([]string(nil), s.order...)
	}
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load applies module ("all" for every module) in transactions of batch rows.
// Without force the first failing module stops the run.
func (s *SeedService) Load(ctx context.Context, module string, batch int, force bool) (SeedReport, error) {
	if batch <= 0 {
		batch = DefaultSeedBatch
	}
	names := []string{module}
	if module == "all" {
		names = s.Modules()
	}

	var report SeedReport
	for _, name := range names {
		sets, ok := s.modules[name]
		if !ok {
			return report, fmt.Errorf("unknown seed module %q", name)
		}
		mr := SeedModuleReport{Module: name}
		for _, set := range sets {
			if err := s.loadSet(ctx, set, batch, &mr); err != nil {
				return report, err
			}
		}
		report.Modules = append(report.Modules, mr)
		s.log.WithFields(logrus.Fields{
			"module":  name,
			"created": mr.Created,
			"updated": mr.Updated,
			"skipped": mr.Skipped,
			"failed":  len(mr.Failed),
		}).Info("seed module loaded")
		if len(mr.Failed) > 0 && !force {
			break
		}
	}
	if n := report.Failures(); n > 0 {
		return report, fmt.Errorf("%d seed rows failed", n)
	}
	return report, nil
}

func (s *SeedService) loadSet(ctx context.Context, set SeedSet, batch int, mr *SeedModuleReport) error {
	desc, err := s.registry.Lookup(set.Entity)
	if err != nil {
		return err
	}
	for start := 0; start < len(set.Rows); start += batch {
		end := min(start+batch, len(set.Rows))
		chunk := set.Rows[start:end]
		var outcomes []domain.RowOutcomeKind
		var failures []string
		err := s.store.Write(ctx, func(tx ports.EntityTx) error {
			outcomes, failures = outcomes[:0], failures[:0]
			for i, raw := range chunk {
				kind, err := s.apply(tx, desc, raw)
				if err != nil {
					failures = append(failures, fmt.Sprintf("%s fila %d: %v", desc.ID(), start+i+1, err))
					continue
				}
				outcomes = append(outcomes, kind)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range outcomes {
			switch k {
			case domain.OutcomeCreated:
				mr.Created++
			case domain.OutcomeUpdated:
				mr.Updated++
			case domain.OutcomeSkipped:
				mr.Skipped++
			}
		}
		mr.Failed = append(mr.Failed, failures...)
	}
	return nil
}

func (s *SeedService) apply(tx ports.EntityTx, desc *domain.EntityDescriptor, raw map[string]any) (domain.RowOutcomeKind, error) {
	resolved := make(map[string]any, len(raw))
	for k, v := range raw {
		ref, ok := v.(Ref)
		if !ok {
			resolved[k] = v
			continue
		}
		target, err := s.registry.Lookup(ref.Entity)
		if err != nil {
			return domain.OutcomeError, err
		}
		row, err := tx.FindBy(target, ref.Field, ref.Value)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OutcomeError, fmt.Errorf("%s: no %s with %s=%v", k, ref.Entity, ref.Field, ref.Value)
		}
		if err != nil {
			return domain.OutcomeError, err
		}
		resolved[k] = row.ID()
	}

	values, ve := s.crud.validator.Clean(desc, resolved, false)
	if ve != nil {
		return domain.OutcomeError, ve
	}
	kind, _, err := s.crud.upsert(tx, desc, newUpsertRow(values, resolved, true))
	return kind, err
}
