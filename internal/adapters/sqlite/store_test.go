package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/hooks"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/registry"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
	"github.com/jaico1231/paola-sub001/internal/platform/logging"
	"github.com/jaico1231/paola-sub001/migrations"
)

type fixture struct {
	db      *gormsqlite.DB
	store   *EntityStore
	audit   *AuditStore
	users   *UserRepository
	partner *domain.EntityDescriptor
	account *domain.EntityDescriptor
	journal *domain.EntityDescriptor
	cityID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "contaerp.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.WriteSQLDB()
	require.NoError(t, err)
	require.NoError(t, migrations.Up(ctx, sqlDB))

	require.NoError(t, db.W.Exec(`INSERT INTO countries (code, name) VALUES ('CO', 'Colombia')`).Error)
	require.NoError(t, db.W.Exec(`INSERT INTO states (code, name, country_id) VALUES ('11', 'Bogotá D.C.', 1)`).Error)
	require.NoError(t, db.W.Exec(`INSERT INTO cities (code, name, state_id) VALUES ('11001', 'Bogotá', 1)`).Error)

	f := &fixture{db: db, partner: partnerDesc(), account: accountDesc(), journal: journalDesc(), cityID: 1}
	reg := registry.New()
	for _, d := range []*domain.EntityDescriptor{f.partner, f.account, f.journal} {
		require.NoError(t, reg.Register(d))
	}
	f.audit = NewAuditStore(db)
	f.users = NewUserRepository(db)
	f.store = NewEntityStore(db, hooks.NewRecorder(reg, f.audit, logging.Discard(), hooks.WithNotifications()))
	return f
}

func partnerDesc() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "third_party",
		Name:            "partner",
		Table:           "partners",
		DisplaySingular: "Tercero",
		DisplayFields:   []string{"first_name", "last_name"},
		SearchFields:    []string{"document_number", "first_name", "last_name", "email"},
		OrderBy:         []string{"last_name", "first_name"},
		Fields: []domain.Field{
			{Name: "document_type", Kind: domain.KindEnum},
			{Name: "document_number", Kind: domain.KindText, Required: true, Unique: true},
			{Name: "first_name", Kind: domain.KindText, Required: true},
			{Name: "last_name", Kind: domain.KindText},
			{Name: "third_party_type", Kind: domain.KindEnum, Required: true},
			{Name: "email", Kind: domain.KindText, Unique: true},
			{Name: "mobile", Kind: domain.KindText},
			{Name: "address", Kind: domain.KindText},
			{Name: "city_id", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "cities", Display: []string{"name"}}},
			{Name: "is_active", Kind: domain.KindBoolean},
		},
		Filters: map[string]domain.NamedFilter{
			"missing": func(value string, _ time.Time) ([]domain.Predicate, bool) {
				if value != "email" {
					return nil, false
				}
				return []domain.Predicate{{{Field: "email", Op: domain.OpEmpty}}}, true
			},
		},
		StatusField:   "is_active",
		Timestamps:    true,
		TracksAuthors: true,
		AuditOn:       domain.DefaultAuditSet(),
	}
}

func accountDesc() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "accounting",
		Name:            "account",
		Table:           "accounts",
		DisplaySingular: "Cuenta",
		DisplayFields:   []string{"code", "name"},
		Fields: []domain.Field{
			{Name: "code", Kind: domain.KindText, Required: true, Unique: true},
			{Name: "name", Kind: domain.KindText, Required: true},
			{Name: "nature", Kind: domain.KindEnum},
			{Name: "level", Kind: domain.KindNumber},
			{Name: "is_active", Kind: domain.KindBoolean},
		},
		StatusField:   "is_active",
		SoftDelete:    true,
		Timestamps:    true,
		TracksAuthors: true,
		AuditOn:       domain.DefaultAuditSet(),
	}
}

func journalDesc() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "accounting",
		Name:            "journal_entry",
		Table:           "journal_entries",
		DisplaySingular: "Asiento",
		DisplayFields:   []string{"number"},
		Fields: []domain.Field{
			{Name: "number", Kind: domain.KindText},
			{Name: "entry_date", Kind: domain.KindDate},
			{Name: "partner_id", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "partners", Display: []string{"first_name"}}},
			{Name: "account_id", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "accounts", Display: []string{"code"}}},
			{Name: "debit", Kind: domain.KindNumber},
		},
		Timestamps: true,
		AuditOn:    domain.DefaultAuditSet(),
	}
}

func actingAs(t *testing.T, user *domain.User) context.Context {
	t.Helper()
	ctx, release := uow.Begin(context.Background(), &uow.Context{User: user, ClientIP: "190.24.5.6", UserAgent: "Firefox/128", RequestID: "req-1"})
	t.Cleanup(release)
	return ctx
}

func (f *fixture) insert(t *testing.T, ctx context.Context, desc *domain.EntityDescriptor, values domain.Row) int64 {
	t.Helper()
	var id int64
	require.NoError(t, f.store.Write(ctx, func(tx ports.EntityTx) error {
		var err error
		id, err = tx.Insert(desc, values)
		return err
	}))
	return id
}

func (f *fixture) records(t *testing.T, filter domain.AuditFilter) []domain.ChangeRecord {
	t.Helper()
	page, err := f.audit.Query(context.Background(), filter)
	require.NoError(t, err)
	return page.Records
}

func TestCreateWritesChangeRecordWithRelationDisplay(t *testing.T) {
	f := newFixture(t)
	user, err := f.users.Upsert(context.Background(), domain.User{Username: "jperez", PasswordHash: "x", Active: true})
	require.NoError(t, err)
	ctx := actingAs(t, &user)

	id := f.insert(t, ctx, f.partner, domain.Row{
		"document_type": "CC", "document_number": "1020304050", "first_name": "Ana",
		"last_name": "Gómez", "third_party_type": "Persona Natural", "city_id": f.cityID, "is_active": true,
	})

	recs := f.records(t, domain.AuditFilter{EntityID: "third_party.partner"})
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, domain.ActionCreate, rec.Action)
	assert.Equal(t, objectID(id), rec.ObjectID)
	assert.Equal(t, "partners", rec.TableName)
	assert.Nil(t, rec.Before)
	assert.Equal(t, "1020304050", rec.After["document_number"])
	assert.Equal(t, json.Number("1"), rec.After["city_id"])
	assert.Equal(t, "Bogotá", rec.After["city_id_display"])
	assert.Equal(t, true, rec.After["is_active"])
	assert.Equal(t, "CREATE en Tercero: Ana Gómez", rec.Description)
	require.NotNil(t, rec.ActorID)
	assert.Equal(t, user.ID, *rec.ActorID)
	assert.Equal(t, "jperez", rec.ActorName)
	assert.Equal(t, "190.24.5.6", rec.ClientIP)
	assert.Equal(t, "req-1", rec.RequestID)

	row, err := f.store.Get(context.Background(), f.partner, id)
	require.NoError(t, err)
	assert.Equal(t, "Bogotá", row["city_id_display"])
	assert.Equal(t, user.ID, row["created_by"])

	var queued int64
	require.NoError(t, f.db.R.Table("outbox_events").Count(&queued).Error)
	assert.Equal(t, int64(1), queued)
}

func TestUpdateRecordsOnlyChangedFields(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	id := f.insert(t, ctx, f.partner, domain.Row{"document_number": "1", "first_name": "Ana", "third_party_type": "Persona Natural"})

	require.NoError(t, f.store.Write(ctx, func(tx ports.EntityTx) error {
		return tx.Update(f.partner, id, domain.Row{"email": "ana@example.co"}, domain.WriteOptions{})
	}))
	require.NoError(t, f.store.Write(ctx, func(tx ports.EntityTx) error {
		return tx.Update(f.partner, id, domain.Row{"email": "ana@example.co"}, domain.WriteOptions{})
	}))

	recs := f.records(t, domain.AuditFilter{Action: domain.ActionUpdate})
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Before["email"])
	assert.Equal(t, "ana@example.co", recs[0].After["email"])
	assert.Equal(t, "UPDATE en Tercero: Ana (email)", recs[0].Description)
	assert.Nil(t, recs[0].ActorID)
	assert.Equal(t, "system", recs[0].Actor())
}

func TestDuplicateKeyRollsBackWithoutRecord(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	f.insert(t, ctx, f.partner, domain.Row{"document_number": "77", "first_name": "Ana", "third_party_type": "Persona Natural"})

	err := f.store.Write(ctx, func(tx ports.EntityTx) error {
		_, err := tx.Insert(f.partner, domain.Row{"document_number": "77", "first_name": "Otra", "third_party_type": "Persona Natural"})
		return err
	})
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "document_number", dup.Field)
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)

	assert.Len(t, f.records(t, domain.AuditFilter{}), 1)
}

func TestDeleteInUseIsRefusedAndNotAudited(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	partnerID := f.insert(t, ctx, f.partner, domain.Row{"document_number": "9", "first_name": "Ana", "third_party_type": "Persona Natural"})
	accountID := f.insert(t, ctx, f.account, domain.Row{"code": "1105", "name": "Caja", "nature": "D", "level": int64(3)})
	f.insert(t, ctx, f.journal, domain.Row{"number": "CE-1", "entry_date": "2026-10-01", "partner_id": partnerID, "account_id": accountID, "debit": 1000.0})

	err := f.store.Write(ctx, func(tx ports.EntityTx) error {
		return tx.Delete(f.partner, partnerID)
	})
	require.ErrorIs(t, err, domain.ErrReferentialIntegrity)

	_, err = f.store.Get(context.Background(), f.partner, partnerID)
	require.NoError(t, err)
	assert.Empty(t, f.records(t, domain.AuditFilter{Action: domain.ActionDelete}))
}

func TestHardDeleteRecordsBeforeSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	id := f.insert(t, ctx, f.partner, domain.Row{"document_number": "5", "first_name": "Luis", "third_party_type": "Persona Natural", "city_id": f.cityID})

	require.NoError(t, f.store.Write(ctx, func(tx ports.EntityTx) error {
		return tx.Delete(f.partner, id)
	}))

	_, err := f.store.Get(context.Background(), f.partner, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	recs := f.records(t, domain.AuditFilter{Action: domain.ActionDelete})
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].After)
	assert.Equal(t, "Luis", recs[0].Before["first_name"])
	assert.Equal(t, "Bogotá", recs[0].Before["city_id_display"])
	assert.Equal(t, "DELETE en Tercero: Luis", recs[0].Description)
}

func TestSoftDeleteHidesRowAndMarksAuthor(t *testing.T) {
	f := newFixture(t)
	user, err := f.users.Upsert(context.Background(), domain.User{Username: "contador", PasswordHash: "x", Active: true})
	require.NoError(t, err)
	ctx := actingAs(t, &user)
	id := f.insert(t, ctx, f.account, domain.Row{"code": "1110", "name": "Bancos", "nature": "D", "level": int64(3), "is_active": true})

	require.NoError(t, f.store.Write(ctx, func(tx ports.EntityTx) error {
		return tx.Delete(f.account, id)
	}))

	_, err = f.store.Get(context.Background(), f.account, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	rows, total, err := f.store.List(context.Background(), f.account, domain.ListQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, rows)

	var raw struct {
		DeletedBy *int64
		IsActive  int64
	}
	require.NoError(t, f.db.R.Raw(`SELECT deleted_by, is_active FROM accounts WHERE id = ?`, id).Scan(&raw).Error)
	require.NotNil(t, raw.DeletedBy)
	assert.Equal(t, user.ID, *raw.DeletedBy)
	assert.Zero(t, raw.IsActive)

	recs := f.records(t, domain.AuditFilter{Action: domain.ActionDelete})
	require.Len(t, recs, 1)
	assert.Equal(t, "1110", recs[0].Before["code"])
}

func TestListSearchIsCaseAndAccentInsensitiveAcrossFields(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	f.insert(t, ctx, f.partner, domain.Row{"document_number": "100", "first_name": "ÑANDÚ", "last_name": "Sur", "third_party_type": "Persona Natural"})
	f.insert(t, ctx, f.partner, domain.Row{"document_number": "200", "first_name": "Pedro", "last_name": "Ñandú", "third_party_type": "Persona Natural", "email": "p@x.co"})
	f.insert(t, ctx, f.partner, domain.Row{"document_number": "300", "first_name": "Otro", "third_party_type": "Persona Natural"})

	rows, total, err := f.store.List(context.Background(), f.partner, domain.ListQuery{Search: "ñandú"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, rows, 2)

	rows, total, err = f.store.List(context.Background(), f.partner, domain.ListQuery{Search: "ñandú", Filters: map[string]string{"missing": "email"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "100", rows[0]["document_number"])

	_, total, err = f.store.List(context.Background(), f.partner, domain.ListQuery{Filters: map[string]string{"missing": "fax"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestListOrdersAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	for _, n := range []string{"Castro", "Acosta", "Barrios"} {
		f.insert(t, ctx, f.partner, domain.Row{"document_number": n, "first_name": "X", "last_name": n, "third_party_type": "Persona Natural"})
	}

	rows, total, err := f.store.List(context.Background(), f.partner, domain.ListQuery{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acosta", rows[0]["last_name"])
	assert.Equal(t, "Barrios", rows[1]["last_name"])

	rows, _, err = f.store.List(context.Background(), f.partner, domain.ListQuery{OrderBy: []string{"-last_name"}, All: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Castro", rows[0]["last_name"])

	_, _, err = f.store.List(context.Background(), f.partner, domain.ListQuery{OrderBy: []string{"password"}})
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)
}

func TestStampChangesWhenRowsChange(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	id := f.insert(t, ctx, f.partner, domain.Row{"document_number": "1", "first_name": "Ana", "third_party_type": "Persona Natural"})

	before, err := f.store.Stamp(context.Background(), f.partner, domain.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), before.Count)
	assert.Equal(t, id, before.MaxID)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, f.store.Write(ctx, func(tx ports.EntityTx) error {
		return tx.Update(f.partner, id, domain.Row{"mobile": "3001234567"}, domain.WriteOptions{})
	}))
	after, err := f.store.Stamp(context.Background(), f.partner, domain.ListQuery{})
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestStampFollowsRelatedLabels(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	f.insert(t, ctx, f.partner, domain.Row{"document_number": "1", "first_name": "Ana", "third_party_type": "Persona Natural", "city_id": f.cityID})

	before, err := f.store.Stamp(context.Background(), f.partner, domain.ListQuery{})
	require.NoError(t, err)

	require.NoError(t, f.db.W.Exec(`UPDATE cities SET name = 'Santa Fe de Bogotá', modified_at = ? WHERE id = ?`,
		time.Now().UTC().Format(domain.TimeLayout), f.cityID).Error)

	after, err := f.store.Stamp(context.Background(), f.partner, domain.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, before.Count, after.Count)
	assert.Equal(t, before.LastModified, after.LastModified)
	assert.NotEqual(t, before.Related, after.Related)
	assert.Contains(t, after.Related, "cities=")
}

func TestChangeRecordsAreAppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := actingAs(t, nil)
	f.insert(t, ctx, f.partner, domain.Row{"document_number": "1", "first_name": "Ana", "third_party_type": "Persona Natural"})

	err := f.db.W.Exec(`UPDATE change_records SET description = 'edited'`).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestAppendNeverMovesTimeBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	_, err := f.audit.Append(ctx, &domain.ChangeRecord{Timestamp: late, Action: domain.ActionLogin, Description: "a"})
	require.NoError(t, err)
	early := &domain.ChangeRecord{Timestamp: late.Add(-time.Hour), Action: domain.ActionLogout, Description: "b"}
	_, err = f.audit.Append(ctx, early)
	require.NoError(t, err)

	recs := f.records(t, domain.AuditFilter{})
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Timestamp.Before(recs[1].Timestamp))
	assert.Equal(t, late, early.Timestamp)
}

func TestPurgeRequiresCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.audit.Append(ctx, &domain.ChangeRecord{Timestamp: time.Now().UTC(), Action: domain.ActionLogin})
		require.NoError(t, err)
	}

	_, err := f.audit.Purge(ctx, domain.PurgeCapability{}, domain.PurgePredicate{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	admin := &domain.User{ID: 1, Active: true, Superuser: true}
	capability, err := admin.PurgeCapability()
	require.NoError(t, err)
	removed, err := f.audit.Purge(ctx, capability, domain.PurgePredicate{Action: domain.ActionLogin})
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestAuditQueryFiltersAndSearches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC()
	_, err := f.audit.Append(ctx, &domain.ChangeRecord{Timestamp: base, Action: domain.ActionLogin, Description: "Inicio de sesión desde Firefox", ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = f.audit.Append(ctx, &domain.ChangeRecord{Timestamp: base, Action: domain.ActionOther, Description: "PURGA de registros", ClientIP: "10.0.0.2"})
	require.NoError(t, err)

	assert.Len(t, f.records(t, domain.AuditFilter{Search: "purga"}), 1)
	assert.Len(t, f.records(t, domain.AuditFilter{IP: "10.0.0.1"}), 1)
	assert.Len(t, f.records(t, domain.AuditFilter{IP: "10.0.0"}), 2)
	assert.Len(t, f.records(t, domain.AuditFilter{IP: ".0.2"}), 1)
	assert.Empty(t, f.records(t, domain.AuditFilter{IP: "181.50"}))
	assert.Len(t, f.records(t, domain.AuditFilter{Period: domain.PeriodToday}), 2)
	assert.Empty(t, f.records(t, domain.AuditFilter{From: base.Add(time.Hour)}))

	_, err = f.audit.Get(ctx, 999)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMenuReplaceReportsAddedAndRemoved(t *testing.T) {
	f := newFixture(t)
	repo := NewMenuRepository(f.db)
	ctx := context.Background()

	added, removed, err := repo.Replace(ctx, []domain.MenuItem{{Key: "base", Label: "Base"}, {Key: "base.country", ParentKey: "base", Label: "Países"}})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Zero(t, removed)

	added, removed, err = repo.Replace(ctx, []domain.MenuItem{{Key: "base", Label: "Base"}})
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 1, removed)

	items, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestUserRepositoryKeepsPermissionsAndSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.users.Upsert(ctx, domain.User{
		Username: "aux", PasswordHash: "h", Active: true,
		Groups:      []string{"contabilidad"},
		Permissions: map[string]bool{"third_party.view_partner": true},
	})
	require.NoError(t, err)

	found, err := f.users.FindByUsername(ctx, "aux")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.True(t, found.Can("third_party.view_partner"))
	assert.False(t, found.Can("third_party.delete_partner"))
	assert.Equal(t, []string{"contabilidad"}, found.Groups)

	sessions := NewSessionRepository(f.db)
	require.NoError(t, sessions.Create(ctx, domain.Session{TokenHash: "abc", UserID: user.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}))
	s, err := sessions.Find(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, user.ID, s.UserID)
	require.NoError(t, sessions.Delete(ctx, "abc"))
	_, err = sessions.Find(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
