package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/registry"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
)

// MenuService keeps the navigation menu in step with the registered entities.
type MenuService struct {
	registry  *registry.Registry
	repo      ports.MenuRepository
	appLabels map[string]string
	log       *logrus.Logger
}

func NewMenuService(reg *registry.Registry, repo ports.MenuRepository, appLabels map[string]string, log *logrus.Logger) *MenuService {
	return &MenuService{registry: reg, repo: repo, appLabels: appLabels, log: log}
}

// Items derives the menu from the route table: one group per app and one list
// entry per entity, plus the audit log.
func (s *MenuService) Items() []domain.MenuItem {
	var items []domain.MenuItem
	groups := map[string]bool{}
	position := 0
	for _, desc := range s.registry.All() {
		if !groups[desc.App] {
			groups[desc.App] = true
			label := s.appLabels[desc.App]
			if label == "" {
				label = desc.App
			}
			items = append(items, domain.MenuItem{Key: desc.App, Label: label, Position: len(groups)})
		}
		position++
		items = append(items, domain.MenuItem{
			Key:        desc.ID(),
			ParentKey:  desc.App,
			Label:      plural(desc),
			URL:        "/" + desc.App + "/" + desc.Name + "/list",
			Permission: desc.Permission(domain.VerbView),
			Position:   position,
		})
	}
	items = append(items,
		domain.MenuItem{Key: "audit", Label: "Auditoría", Position: len(groups) + 1},
		domain.MenuItem{Key: "audit.logs", ParentKey: "audit", Label: "Registro de cambios", URL: "/audit/logs", Permission: PermissionViewAudit, Position: 1},
	)
	return items
}

// Sync stores the derived menu and drops entries no longer backed by a route.
func (s *MenuService) Sync(ctx context.Context) (int, int, error) {
	added, removed, err := s.repo.Replace(ctx, s.Items())
	if err != nil {
		return 0, 0, err
	}
	s.log.WithFields(logrus.Fields{"added": added, "removed": removed}).Info("menu synchronized")
	return added, removed, nil
}

// Visible returns the stored entries the caller may open. Groups without a
// visible child are hidden.
func (s *MenuService) Visible(ctx context.Context) ([]domain.MenuItem, error) {
	scope := uow.From(ctx)
	if scope == nil || scope.User == nil {
		return nil, domain.ErrUnauthenticated
	}
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	shown := map[string]bool{}
	var leaves []domain.MenuItem
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if item.Permission != "" && !scope.Can(item.Permission) {
			continue
		}
		leaves = append(leaves, item)
		shown[item.ParentKey] = true
	}
	out := make([]domain.MenuItem, 0, len(leaves))
	for _, item := range items {
		if item.URL == "" && shown[item.Key] {
			out = append(out, item)
		}
	}
	return append(out, leaves...), nil
}
