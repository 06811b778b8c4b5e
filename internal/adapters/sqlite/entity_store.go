package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
)

// EntityStore keeps every registered entity in its own table, one column per
// stored field. Writes fire the hook inside the write transaction.
type EntityStore struct {
	db   *gormsqlite.DB
	hook ports.WriteHook
}

func NewEntityStore(db *gormsqlite.DB, hook ports.WriteHook) *EntityStore {
	if hook == nil {
		hook = noopHook{}
	}
	return &EntityStore{db: db, hook: hook}
}

var _ ports.EntityStore = (*EntityStore)(nil)

func (s *EntityStore) Get(ctx context.Context, desc *domain.EntityDescriptor, id int64) (domain.Row, error) {
	var row domain.Row
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var err error
		row, err = getRow(tx.DB, desc, id, true, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *EntityStore) List(ctx context.Context, desc *domain.EntityDescriptor, q domain.ListQuery) ([]domain.Row, int64, error) {
	q = q.Normalize()
	preds, err := queryPredicates(desc, q, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}
	order, err := orderClause(desc, q.OrderBy)
	if err != nil {
		return nil, 0, err
	}

	var rows []map[string]any
	var total int64
	err = s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		base := func() (*gorm.DB, error) {
			return filtered(tx.DB.Table(quote(desc.Table)+" AS t"), desc, preds)
		}

		counter, err := base()
		if err != nil {
			return err
		}
		if err := counter.Count(&total).Error; err != nil {
			return fmt.Errorf("count %s: %w", desc.Table, err)
		}

		finder, err := base()
		if err != nil {
			return err
		}
		finder = finder.Select(selectList(desc)).Order(order)
		if !q.All {
			finder = finder.Limit(q.PageSize).Offset((q.Page - 1) * q.PageSize)
		}
		if err := finder.Find(&rows).Error; err != nil {
			return fmt.Errorf("list %s: %w", desc.Table, err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Row(r))
	}
	return out, total, nil
}

type stampRow struct {
	LastModified sql.NullString `gorm:"column:last_modified"`
	Count        int64          `gorm:"column:row_count"`
	MaxID        sql.NullInt64  `gorm:"column:max_id"`
}

func (s *EntityStore) Stamp(ctx context.Context, desc *domain.EntityDescriptor, q domain.ListQuery) (domain.DataStamp, error) {
	preds, err := queryPredicates(desc, q, time.Now().UTC())
	if err != nil {
		return domain.DataStamp{}, err
	}
	modified := "''"
	if desc.Timestamps {
		modified = "MAX(t.modified_at)"
	}

	var sr stampRow
	var related []string
	err = s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query, err := filtered(tx.DB.Table(quote(desc.Table)+" AS t"), desc, preds)
		if err != nil {
			return err
		}
		if err := query.Select(modified + " AS last_modified, COUNT(*) AS row_count, MAX(t.id) AS max_id").Scan(&sr).Error; err != nil {
			return err
		}
		related, err = relatedStamps(tx.DB, desc)
		return err
	})
	if err != nil {
		return domain.DataStamp{}, fmt.Errorf("stamp %s: %w", desc.Table, err)
	}
	return domain.DataStamp{
		LastModified: sr.LastModified.String,
		Count:        sr.Count,
		MaxID:        sr.MaxID.Int64,
		Related:      strings.Join(related, ";"),
	}, nil
}

// relatedStamps reads the last modification of every table a relation field
// points at, since rendered rows carry their display labels.
func relatedStamps(db *gorm.DB, desc *domain.EntityDescriptor) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, f := range desc.Fields {
		if f.Kind != domain.KindRelation || f.Relation == nil || seen[f.Relation.Table] {
			continue
		}
		table := f.Relation.Table
		seen[table] = true
		if !db.Migrator().HasColumn(table, "modified_at") {
			continue
		}
		var last sql.NullString
		if err := db.Table(quote(table)).Select("MAX(modified_at)").Scan(&last).Error; err != nil {
			return nil, err
		}
		out = append(out, table+"="+last.String)
	}
	return out, nil
}

// Write runs fn in one write transaction. A system unit of work is opened when
// the caller has none so hooks can always stash prior state.
func (s *EntityStore) Write(ctx context.Context, fn func(tx ports.EntityTx) error) error {
	ctx, release := uow.Ensure(ctx)
	defer release()
	return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return fn(&entityTx{ctx: ctx, db: tx.DB, hook: s.hook})
	})
}

type entityTx struct {
	ctx  context.Context
	db   *gorm.DB
	hook ports.WriteHook
}

func (t *entityTx) Get(desc *domain.EntityDescriptor, id int64) (domain.Row, error) {
	return getRow(t.db, desc, id, true, false)
}

func (t *entityTx) FindBy(desc *domain.EntityDescriptor, field string, value any) (domain.Row, error) {
	if _, ok := desc.Field(field); !ok {
		return nil, fmt.Errorf("%s: unknown field %q", desc.ID(), field)
	}
	query := t.db.Table(quote(desc.Table)+" AS t").Select("t.*").Where("t."+quote(field)+" = ?", dbValue(value))
	if desc.SoftDelete {
		query = query.Where("t.deleted_at IS NULL")
	}
	row := map[string]any{}
	if err := query.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find %s by %s: %w", desc.Table, field, err)
	}
	return domain.Row(row), nil
}

func (t *entityTx) Exists(table string, id int64) (bool, error) {
	var n int64
	if err := t.db.Table(quote(table)).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check %s#%d: %w", table, id, err)
	}
	return n > 0, nil
}

func (t *entityTx) Insert(desc *domain.EntityDescriptor, values domain.Row) (int64, error) {
	scope := uow.From(t.ctx)
	cols, args := assignments(desc, values)
	if desc.Timestamps {
		now := scope.Now().Format(domain.TimeLayout)
		cols = append(cols, "created_at", "modified_at")
		args = append(args, now, now)
	}
	if desc.TracksAuthors {
		actor := actorValue(scope)
		cols = append(cols, "created_by", "modified_by")
		args = append(args, actor, actor)
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("insert %s: no values", desc.Table)
	}

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		marks[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(desc.Table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if err := t.db.Exec(stmt, args...).Error; err != nil {
		return 0, mapWriteError(desc, err, false)
	}

	var id int64
	if err := t.db.Raw("SELECT last_insert_rowid()").Scan(&id).Error; err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	if err := t.hook.OnAfterWrite(t.ctx, t.hookTx(), desc, id, true, domain.WriteOptions{}); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *entityTx) Update(desc *domain.EntityDescriptor, id int64, values domain.Row, opts domain.WriteOptions) error {
	if err := t.hook.OnBeforeWrite(t.ctx, t.hookTx(), desc, id); err != nil {
		return err
	}

	scope := uow.From(t.ctx)
	cols, args := assignments(desc, values)
	if desc.Timestamps {
		cols = append(cols, "modified_at")
		args = append(args, scope.Now().Format(domain.TimeLayout))
	}
	if desc.TracksAuthors {
		cols = append(cols, "modified_by")
		args = append(args, actorValue(scope))
	}

	if len(cols) == 0 {
		if _, err := getRow(t.db, desc, id, true, false); err != nil {
			return err
		}
	} else {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = quote(c) + " = ?"
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quote(desc.Table), strings.Join(sets, ", "))
		if desc.SoftDelete {
			stmt += " AND deleted_at IS NULL"
		}
		res := t.db.Exec(stmt, append(args, id)...)
		if res.Error != nil {
			return mapWriteError(desc, res.Error, false)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
	}

	return t.hook.OnAfterWrite(t.ctx, t.hookTx(), desc, id, false, opts)
}

func (t *entityTx) Delete(desc *domain.EntityDescriptor, id int64) error {
	if err := t.hook.OnBeforeWrite(t.ctx, t.hookTx(), desc, id); err != nil {
		return err
	}

	var res *gorm.DB
	if desc.SoftDelete {
		scope := uow.From(t.ctx)
		sets := []string{"deleted_at = ?", "deleted_by = ?"}
		args := []any{scope.Now().Format(domain.TimeLayout), actorValue(scope)}
		if desc.StatusField != "" {
			sets = append(sets, quote(desc.StatusField)+" = 0")
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND deleted_at IS NULL", quote(desc.Table), strings.Join(sets, ", "))
		res = t.db.Exec(stmt, append(args, id)...)
	} else {
		res = t.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", quote(desc.Table)), id)
	}
	if res.Error != nil {
		return mapWriteError(desc, res.Error, true)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}

	return t.hook.OnAfterDelete(t.ctx, t.hookTx(), desc, id)
}

func (t *entityTx) hookTx() ports.HookTx {
	return &hookTx{db: t.db}
}

// hookTx exposes the running transaction to hooks.
type hookTx struct {
	db *gorm.DB
}

func (h *hookTx) Load(desc *domain.EntityDescriptor, id int64) (domain.Row, error) {
	return getRow(h.db, desc, id, false, true)
}

func (h *hookTx) Display(rel domain.Relation, id int64) (string, error) {
	var label sql.NullString
	err := h.db.Raw(fmt.Sprintf("SELECT %s FROM %s AS r WHERE r.id = ?", displayExpr("r", rel), quote(rel.Table)), id).Scan(&label).Error
	if err != nil {
		return "", fmt.Errorf("display %s#%d: %w", rel.Table, id, err)
	}
	return label.String, nil
}

func (h *hookTx) AppendChange(rec *domain.ChangeRecord) (int64, error) {
	return insertChange(h.db, rec)
}

func (h *hookTx) Enqueue(event domain.OutboxEvent) error {
	return insertOutbox(h.db, event)
}

type noopHook struct{}

func (noopHook) OnBeforeWrite(context.Context, ports.HookTx, *domain.EntityDescriptor, int64) error {
	return nil
}

func (noopHook) OnAfterWrite(context.Context, ports.HookTx, *domain.EntityDescriptor, int64, bool, domain.WriteOptions) error {
	return nil
}

func (noopHook) OnAfterDelete(context.Context, ports.HookTx, *domain.EntityDescriptor, int64) error {
	return nil
}

func getRow(db *gorm.DB, desc *domain.EntityDescriptor, id int64, withDisplay, includeDeleted bool) (domain.Row, error) {
	query := db.Table(quote(desc.Table) + " AS t")
	if withDisplay {
		query = query.Select(selectList(desc))
	} else {
		query = query.Select("t.*")
	}
	query = query.Where("t.id = ?", id)
	if desc.SoftDelete && !includeDeleted {
		query = query.Where("t.deleted_at IS NULL")
	}
	row := map[string]any{}
	if err := query.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get %s#%d: %w", desc.Table, id, err)
	}
	return domain.Row(row), nil
}

// selectList reads every column plus a "<field>_display" column per relation.
func selectList(desc *domain.EntityDescriptor) string {
	parts := []string{"t.*"}
	for _, f := range desc.Fields {
		if f.Kind != domain.KindRelation || f.Relation == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("(SELECT %s FROM %s AS r WHERE r.id = t.%s) AS %s",
			displayExpr("r", *f.Relation), quote(f.Relation.Table), quote(f.Name), quote(f.Name+"_display")))
	}
	return strings.Join(parts, ", ")
}

func displayExpr(alias string, rel domain.Relation) string {
	if len(rel.Display) == 0 {
		return "CAST(" + alias + ".id AS TEXT)"
	}
	parts := make([]string, len(rel.Display))
	for i, c := range rel.Display {
		parts[i] = "COALESCE(" + alias + "." + quote(c) + ", '')"
	}
	return "TRIM(" + strings.Join(parts, " || ' ' || ") + ")"
}

func queryPredicates(desc *domain.EntityDescriptor, q domain.ListQuery, now time.Time) ([]domain.Predicate, error) {
	var preds []domain.Predicate
	if search := strings.TrimSpace(q.Search); search != "" && len(desc.SearchFields) > 0 {
		anyOf := make(domain.Predicate, 0, len(desc.SearchFields))
		for _, f := range desc.SearchFields {
			anyOf = append(anyOf, domain.Condition{Field: f, Op: domain.OpContains, Value: search})
		}
		preds = append(preds, anyOf)
	}
	for name, value := range q.Filters {
		filter, ok := desc.Filters[name]
		if !ok {
			continue
		}
		fp, ok := filter(value, now)
		if !ok {
			continue
		}
		preds = append(preds, fp...)
	}
	return preds, nil
}

func filtered(query *gorm.DB, desc *domain.EntityDescriptor, preds []domain.Predicate) (*gorm.DB, error) {
	if desc.SoftDelete {
		query = query.Where("t.deleted_at IS NULL")
	}
	for _, pred := range preds {
		if len(pred) == 0 {
			continue
		}
		parts := make([]string, 0, len(pred))
		var args []any
		for _, c := range pred {
			if c.Field != "id" {
				if _, ok := desc.Field(c.Field); !ok {
					return nil, fmt.Errorf("%w: %s has no field %q", domain.ErrInvalidFilter, desc.ID(), c.Field)
				}
			}
			col := "t." + quote(c.Field)
			switch c.Op {
			case domain.OpEq:
				parts = append(parts, col+" = ?")
				args = append(args, dbValue(c.Value))
			case domain.OpContains:
				parts = append(parts, "instr(ulower(COALESCE(CAST("+col+" AS TEXT), '')), ulower(?)) > 0")
				args = append(args, fmt.Sprint(c.Value))
			case domain.OpEmpty:
				parts = append(parts, "("+col+" IS NULL OR TRIM(CAST("+col+" AS TEXT)) = '')")
			case domain.OpBefore:
				parts = append(parts, col+" < ?")
				args = append(args, dbValue(c.Value))
			case domain.OpIsTrue:
				parts = append(parts, col+" = 1")
			default:
				return nil, fmt.Errorf("%w: operator %q", domain.ErrInvalidFilter, c.Op)
			}
		}
		query = query.Where("("+strings.Join(parts, " OR ")+")", args...)
	}
	return query, nil
}

// orderClause applies the caller override or the descriptor default, with the
// primary key as final tie breaker.
func orderClause(desc *domain.EntityDescriptor, override []string) (string, error) {
	fields := desc.OrderBy
	if len(override) > 0 {
		fields = override
	}
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		dir := "ASC"
		name := f
		if strings.HasPrefix(f, "-") {
			dir = "DESC"
			name = f[1:]
		}
		if name == "id" {
			parts = append(parts, "t.id "+dir)
			continue
		}
		if field, ok := desc.Field(name); !ok || !field.Stored() {
			return "", fmt.Errorf("%w: cannot order %s by %q", domain.ErrInvalidFilter, desc.ID(), name)
		}
		parts = append(parts, "t."+quote(name)+" "+dir)
	}
	parts = append(parts, "t.id ASC")
	return strings.Join(parts, ", "), nil
}

func assignments(desc *domain.EntityDescriptor, values domain.Row) ([]string, []any) {
	var cols []string
	var args []any
	for _, f := range desc.Fields {
		if !f.Stored() {
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, f.Name)
		args = append(args, dbValue(v))
	}
	return cols, args
}

func dbValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(domain.TimeLayout)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

func actorValue(scope *uow.Context) any {
	if id := scope.ActorID(); id != nil {
		return *id
	}
	return nil
}

func objectID(id int64) string {
	return strconv.FormatInt(id, 10)
}
