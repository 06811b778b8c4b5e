package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite"
	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/hooks"
	"github.com/jaico1231/paola-sub001/internal/core/registry"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
	"github.com/jaico1231/paola-sub001/internal/platform/logging"
	"github.com/jaico1231/paola-sub001/migrations"
)

const partnerID = "third_party.partner"

type env struct {
	db       *gormsqlite.DB
	registry *registry.Registry
	store    *sqlite.EntityStore
	audit    *sqlite.AuditStore
	users    *sqlite.UserRepository
	recorder *hooks.Recorder
	crud     *CrudService
	admin    domain.User
	clerk    domain.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "usecase.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.WriteSQLDB()
	require.NoError(t, err)
	require.NoError(t, migrations.Up(ctx, sqlDB))
	require.NoError(t, db.W.Exec(`INSERT INTO countries (code, name) VALUES ('CO', 'Colombia')`).Error)
	require.NoError(t, db.W.Exec(`INSERT INTO states (code, name, country_id) VALUES ('05', 'Antioquia', 1)`).Error)
	require.NoError(t, db.W.Exec(`INSERT INTO cities (code, name, state_id) VALUES ('05001', 'Medellín', 1)`).Error)

	e := &env{db: db, registry: registry.New()}
	for _, d := range []*domain.EntityDescriptor{partnerDescriptor(), cityDescriptor(), journalDescriptor()} {
		require.NoError(t, e.registry.Register(d))
	}
	e.audit = sqlite.NewAuditStore(db)
	e.users = sqlite.NewUserRepository(db)
	e.recorder = hooks.NewRecorder(e.registry, e.audit, logging.Discard())
	e.store = sqlite.NewEntityStore(db, e.recorder)
	e.crud = NewCrudService(e.registry, e.store, NewValidator(), e.recorder, logging.Discard())

	e.admin, err = e.users.Upsert(ctx, domain.User{Username: "admin", PasswordHash: "x", Superuser: true, Active: true})
	require.NoError(t, err)
	e.clerk, err = e.users.Upsert(ctx, domain.User{
		Username:     "clerk",
		PasswordHash: "x",
		Active:       true,
		Permissions:  map[string]bool{"third_party.view_partner": true},
	})
	require.NoError(t, err)
	return e
}

func partnerDescriptor() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "third_party",
		Name:            "partner",
		Table:           "partners",
		DisplaySingular: "Tercero",
		DisplayPlural:   "Terceros",
		DisplayFields:   []string{"first_name", "last_name"},
		SearchFields:    []string{"document_number", "first_name", "last_name", "company_name", "email"},
		OrderBy:         []string{"first_name"},
		ListFields:      []string{"document_number", "first_name", "company_name", "city_id", "is_active"},
		Fields: []domain.Field{
			{Name: "document_type", Label: "Tipo de documento", Kind: domain.KindEnum, Choices: []string{"CC", "NIT", "CE", "PP"}},
			{Name: "document_number", Label: "Número de documento", Kind: domain.KindText, Required: true, Unique: true, MaxLength: 20},
			{Name: "first_name", Label: "Nombre", Kind: domain.KindText, Required: true},
			{Name: "last_name", Label: "Apellido", Kind: domain.KindText},
			{Name: "company_name", Label: "Razón social", Kind: domain.KindText},
			{Name: "third_party_type", Label: "Tipo de tercero", Kind: domain.KindText, Required: true},
			{Name: "email", Label: "Correo", Kind: domain.KindText, Unique: true},
			{Name: "mobile", Label: "Celular", Kind: domain.KindText},
			{Name: "city_id", Label: "Ciudad", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "cities", Display: []string{"name"}}},
			{Name: "is_active", Label: "Activo", Kind: domain.KindBoolean},
		},
		Filters: map[string]domain.NamedFilter{
			"missing": func(value string, _ time.Time) ([]domain.Predicate, bool) {
				if value != "email" {
					return nil, false
				}
				return []domain.Predicate{{{Field: "email", Op: domain.OpEmpty}}}, true
			},
		},
		UniqueKey:     "document_number",
		StatusField:   "is_active",
		Timestamps:    true,
		TracksAuthors: true,
		AuditOn:       domain.DefaultAuditSet(),
	}
}

func cityDescriptor() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "geography",
		Name:            "city",
		Table:           "cities",
		DisplaySingular: "Ciudad",
		DisplayFields:   []string{"name"},
		Fields: []domain.Field{
			{Name: "code", Kind: domain.KindText, Required: true, Unique: true},
			{Name: "name", Kind: domain.KindText, Required: true},
			{Name: "state_id", Kind: domain.KindRelation, Required: true, Relation: &domain.Relation{Table: "states", Display: []string{"name"}}},
		},
		UniqueKey:  "code",
		Timestamps: true,
		AuditOn:    domain.DefaultAuditSet(),
	}
}

func journalDescriptor() *domain.EntityDescriptor {
	return &domain.EntityDescriptor{
		App:             "accounting",
		Name:            "journal_entry",
		Table:           "journal_entries",
		DisplaySingular: "Asiento",
		DisplayFields:   []string{"number"},
		Fields: []domain.Field{
			{Name: "number", Kind: domain.KindText, Required: true},
			{Name: "entry_date", Kind: domain.KindDate, Required: true},
			{Name: "partner_id", Kind: domain.KindRelation, Relation: &domain.Relation{Table: "partners", Display: []string{"first_name"}}},
			{Name: "account_id", Kind: domain.KindRelation, Required: true, Relation: &domain.Relation{Table: "accounts", Display: []string{"code"}}},
			{Name: "debit", Kind: domain.KindNumber},
		},
		Timestamps: true,
		AuditOn:    domain.DefaultAuditSet(),
	}
}

func (e *env) as(t *testing.T, user domain.User) context.Context {
	t.Helper()
	ctx, release := uow.Begin(context.Background(), &uow.Context{User: &user, ClientIP: "181.50.2.3", UserAgent: "Mozilla/5.0", RequestID: "req-test"})
	t.Cleanup(release)
	return ctx
}

func (e *env) records(t *testing.T, filter domain.AuditFilter) []domain.ChangeRecord {
	t.Helper()
	page, err := e.audit.Query(context.Background(), filter)
	require.NoError(t, err)
	return page.Records
}

func (e *env) countRecords(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.R.Table("change_records").Count(&n).Error)
	return n
}

func acme() map[string]any {
	return map[string]any{
		"document_number":  "900123456-1",
		"first_name":       "Acme",
		"third_party_type": "Persona Jurídica",
		"company_name":     "Acme S.A.S",
	}
}

// csvBody joins lines with the default import delimiter already in place.
func csvBody(lines ...string) io.Reader {
	return bytes.NewBufferString(strings.Join(lines, "\n") + "\n")
}

// stubRenderer counts renders and writes a body that changes on every call,
// so cache hits are visible as identical bytes.
type stubRenderer struct {
	format domain.ExportFormat
	calls  int
	last   domain.ExportDocument
}

func (r *stubRenderer) Format() domain.ExportFormat { return r.format }

func (r *stubRenderer) ContentType() string { return "application/octet-stream" }

func (r *stubRenderer) Render(w io.Writer, doc domain.ExportDocument) error {
	r.calls++
	r.last = doc
	_, err := fmt.Fprintf(w, "%s render %d rows %d", r.format, r.calls, len(doc.Rows))
	return err
}
