package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
)

const defaultAuditPageSize = 50

type changeRecordModel struct {
	ID             int64             `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp      string            `gorm:"column:timestamp;not null"`
	ActorID        *int64            `gorm:"column:actor_id"`
	Action         string            `gorm:"column:action;not null"`
	EntityID       string            `gorm:"column:entity_id"`
	ObjectID       string            `gorm:"column:object_id"`
	SourceTable    string            `gorm:"column:table_name"`
	BeforeSnapshot datatypes.JSONMap `gorm:"column:before_snapshot"`
	AfterSnapshot  datatypes.JSONMap `gorm:"column:after_snapshot"`
	Description    string            `gorm:"column:description"`
	ClientIP       string            `gorm:"column:client_ip"`
	UserAgent      string            `gorm:"column:user_agent"`
	RequestID      string            `gorm:"column:request_id"`
}

func (changeRecordModel) TableName() string {
	return "change_records"
}

type changeRecordRow struct {
	changeRecordModel
	ActorName sql.NullString `gorm:"column:actor_name"`
}

// AuditStore is the append-only change record log.
type AuditStore struct {
	db *gormsqlite.DB
}

func NewAuditStore(db *gormsqlite.DB) *AuditStore {
	return &AuditStore{db: db}
}

var _ ports.AuditStore = (*AuditStore)(nil)

// Append writes rec in its own transaction.
func (s *AuditStore) Append(ctx context.Context, rec *domain.ChangeRecord) (int64, error) {
	var id int64
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		id, err = insertChange(tx.DB, rec)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// insertChange stores rec inside tx. Timestamps never go backwards relative to
// the newest record so id order and time order agree.
func insertChange(tx *gorm.DB, rec *domain.ChangeRecord) (int64, error) {
	ts := rec.Timestamp.UTC().Format(domain.TimeLayout)
	var last sql.NullString
	if err := tx.Raw("SELECT timestamp FROM change_records ORDER BY id DESC LIMIT 1").Scan(&last).Error; err != nil {
		return 0, fmt.Errorf("read last change timestamp: %w", err)
	}
	if last.Valid && last.String > ts {
		ts = last.String
		if parsed, err := time.Parse(domain.TimeLayout, ts); err == nil {
			rec.Timestamp = parsed
		}
	}

	model := changeRecordModel{
		Timestamp:      ts,
		ActorID:        rec.ActorID,
		Action:         string(rec.Action),
		EntityID:       rec.EntityID,
		ObjectID:       rec.ObjectID,
		SourceTable:    rec.TableName,
		BeforeSnapshot: jsonMap(rec.Before),
		AfterSnapshot:  jsonMap(rec.After),
		Description:    rec.Description,
		ClientIP:       rec.ClientIP,
		UserAgent:      rec.UserAgent,
		RequestID:      rec.RequestID,
	}
	if err := tx.Create(&model).Error; err != nil {
		return 0, fmt.Errorf("insert change record: %w", err)
	}
	rec.ID = model.ID
	return model.ID, nil
}

func (s *AuditStore) Get(ctx context.Context, id int64) (domain.ChangeRecord, error) {
	var row changeRecordRow
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return joinedRecords(tx.DB).Where("c.id = ?", id).Take(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChangeRecord{}, domain.ErrNotFound
		}
		return domain.ChangeRecord{}, fmt.Errorf("get change record: %w", err)
	}
	return row.toDomain(), nil
}

// Query returns one page of records, newest first.
func (s *AuditStore) Query(ctx context.Context, filter domain.AuditFilter) (domain.AuditPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultAuditPageSize
	}
	if filter.PageSize > domain.MaxPageSize {
		filter.PageSize = domain.MaxPageSize
	}
	if filter.Period != "" && filter.From.IsZero() && filter.To.IsZero() {
		from, to, ok := filter.Period.Range(time.Now().UTC())
		if !ok {
			return domain.AuditPage{}, fmt.Errorf("%w: period %q", domain.ErrInvalidFilter, filter.Period)
		}
		filter.From, filter.To = from, to
	}

	var rows []changeRecordRow
	var total int64
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := applyAuditFilter(joinedRecords(tx.DB), filter).Count(&total).Error; err != nil {
			return err
		}
		return applyAuditFilter(joinedRecords(tx.DB), filter).
			Order("c.id DESC").
			Limit(filter.PageSize).
			Offset((filter.Page - 1) * filter.PageSize).
			Find(&rows).Error
	})
	if err != nil {
		return domain.AuditPage{}, fmt.Errorf("query change records: %w", err)
	}

	page := domain.AuditPage{Total: total, Page: filter.Page, PageSize: filter.PageSize}
	page.Records = make([]domain.ChangeRecord, 0, len(rows))
	for _, row := range rows {
		page.Records = append(page.Records, row.toDomain())
	}
	return page, nil
}

// Purge deletes records matching pred. It is the only removal path and needs a
// capability minted for a superuser.
func (s *AuditStore) Purge(ctx context.Context, capability domain.PurgeCapability, pred domain.PurgePredicate) (int64, error) {
	if !capability.Valid() {
		return 0, domain.ErrUnauthorized
	}
	var removed int64
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Table("change_records")
		if !pred.Before.IsZero() {
			query = query.Where("timestamp < ?", pred.Before.UTC().Format(domain.TimeLayout))
		}
		if pred.Action != "" {
			query = query.Where("action = ?", string(pred.Action))
		}
		if pred.EntityID != "" {
			query = query.Where("entity_id = ?", pred.EntityID)
		}
		res := query.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&changeRecordModel{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("purge change records: %w", err)
	}
	return removed, nil
}

func joinedRecords(tx *gorm.DB) *gorm.DB {
	return tx.Table("change_records AS c").
		Select("c.*, u.username AS actor_name").
		Joins("LEFT JOIN users u ON u.id = c.actor_id")
}

func applyAuditFilter(query *gorm.DB, f domain.AuditFilter) *gorm.DB {
	if f.EntityID != "" {
		query = query.Where("c.entity_id = ?", f.EntityID)
	}
	if f.ObjectID != "" {
		query = query.Where("c.object_id = ?", f.ObjectID)
	}
	if f.ActorID != nil {
		query = query.Where("c.actor_id = ?", *f.ActorID)
	}
	if f.Action != "" {
		query = query.Where("c.action = ?", string(f.Action))
	}
	if ip := strings.TrimSpace(f.IP); ip != "" {
		query = query.Where("instr(ulower(COALESCE(c.client_ip, '')), ulower(?)) > 0", ip)
	}
	if !f.From.IsZero() {
		query = query.Where("c.timestamp >= ?", f.From.UTC().Format(domain.TimeLayout))
	}
	if !f.To.IsZero() {
		query = query.Where("c.timestamp < ?", f.To.UTC().Format(domain.TimeLayout))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		cols := []string{"c.description", "c.entity_id", "c.object_id", "c.client_ip", "u.username"}
		parts := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, col := range cols {
			parts[i] = "instr(ulower(COALESCE(" + col + ", '')), ulower(?)) > 0"
			args[i] = search
		}
		query = query.Where("("+strings.Join(parts, " OR ")+")", args...)
	}
	return query
}

func (r changeRecordRow) toDomain() domain.ChangeRecord {
	ts, _ := time.Parse(domain.TimeLayout, r.Timestamp)
	return domain.ChangeRecord{
		ID:          r.ID,
		Timestamp:   ts,
		ActorID:     r.ActorID,
		ActorName:   r.ActorName.String,
		Action:      domain.Action(r.Action),
		EntityID:    r.EntityID,
		ObjectID:    r.ObjectID,
		TableName:   r.SourceTable,
		Before:      snapshot(r.BeforeSnapshot),
		After:       snapshot(r.AfterSnapshot),
		Description: r.Description,
		ClientIP:    r.ClientIP,
		UserAgent:   r.UserAgent,
		RequestID:   r.RequestID,
	}
}

func jsonMap(s domain.Snapshot) datatypes.JSONMap {
	if s == nil {
		return nil
	}
	return datatypes.JSONMap(s)
}

// snapshot maps an absent column back to nil. An empty snapshot is never
// stored, so the two cannot be confused.
func snapshot(m datatypes.JSONMap) domain.Snapshot {
	if len(m) == 0 {
		return nil
	}
	return domain.Snapshot(m)
}
