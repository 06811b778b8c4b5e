package sqlite

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
)

type menuItemModel struct {
	Key        string `gorm:"column:key;primaryKey"`
	ParentKey  string `gorm:"column:parent_key;not null"`
	Label      string `gorm:"column:label;not null"`
	URL        string `gorm:"column:url;not null"`
	Permission string `gorm:"column:permission;not null"`
	Position   int    `gorm:"column:position;not null"`
}

func (menuItemModel) TableName() string {
	return "menu_items"
}

type MenuRepository struct {
	db *gormsqlite.DB
}

func NewMenuRepository(db *gormsqlite.DB) *MenuRepository {
	return &MenuRepository{db: db}
}

var _ ports.MenuRepository = (*MenuRepository)(nil)

// Replace makes the stored menu equal to items and reports how many keys were
// new and how many disappeared.
func (r *MenuRepository) Replace(ctx context.Context, items []domain.MenuItem) (int, int, error) {
	var added, removed int
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var existing []string
		if err := tx.Model(&menuItemModel{}).Pluck("key", &existing).Error; err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		for _, k := range existing {
			known[k] = true
		}

		keep := make([]string, 0, len(items))
		for _, item := range items {
			if !known[item.Key] {
				added++
			}
			keep = append(keep, item.Key)
			model := menuItemModel{
				Key:        item.Key,
				ParentKey:  item.ParentKey,
				Label:      item.Label,
				URL:        item.URL,
				Permission: item.Permission,
				Position:   item.Position,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"parent_key", "label", "url", "permission", "position"}),
			}).Create(&model).Error; err != nil {
				return err
			}
		}

		stale := tx.Model(&menuItemModel{})
		if len(keep) > 0 {
			stale = stale.Where("key NOT IN ?", keep)
		} else {
			stale = stale.Where("1 = 1")
		}
		res := stale.Delete(&menuItemModel{})
		if res.Error != nil {
			return res.Error
		}
		removed = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("replace menu: %w", err)
	}
	return added, removed, nil
}

func (r *MenuRepository) List(ctx context.Context) ([]domain.MenuItem, error) {
	var rows []menuItemModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Order("parent_key ASC, position ASC, key ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list menu: %w", err)
	}
	out := make([]domain.MenuItem, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.MenuItem{
			Key:        m.Key,
			ParentKey:  m.ParentKey,
			Label:      m.Label,
			URL:        m.URL,
			Permission: m.Permission,
			Position:   m.Position,
		})
	}
	return out, nil
}
