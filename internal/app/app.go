package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/adapters/events"
	"github.com/jaico1231/paola-sub001/internal/adapters/export"
	"github.com/jaico1231/paola-sub001/internal/adapters/httpapi"
	sqliteadapter "github.com/jaico1231/paola-sub001/internal/adapters/sqlite"
	"github.com/jaico1231/paola-sub001/internal/adapters/sqlite/gormsqlite"
	"github.com/jaico1231/paola-sub001/internal/catalog"
	"github.com/jaico1231/paola-sub001/internal/core/hooks"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
	"github.com/jaico1231/paola-sub001/internal/core/usecase"
	"github.com/jaico1231/paola-sub001/internal/platform/logging"
	"github.com/jaico1231/paola-sub001/internal/platform/metrics"
	"github.com/jaico1231/paola-sub001/migrations"
)

type Config struct {
	Addr              string
	DBPath            string
	EntitiesConfig    string
	TimeZone          string
	Organization      string
	City              string
	PDFCacheTTL       time.Duration
	PDFLogo           string
	SessionTTL        time.Duration
	SecureCookies     bool
	GroupRedirects    map[string]string
	WebhookURL        string
	WebhookSecret     string
	OutboxInterval    time.Duration
	BootstrapAdmin    string
	BootstrapPassword string
}

// App is the wired process: one database, one registry and the services built
// on them. Commands other than serve use it without starting the dispatcher.
type App struct {
	cfg      Config
	log      *logrus.Logger
	db       *gormsqlite.DB
	location *time.Location
	metrics  *metrics.Metrics

	Crud   *usecase.CrudService
	Import *usecase.ImportService
	Export *usecase.ExportService
	Audit  *usecase.AuditService
	Auth   *usecase.AuthService
	Menu   *usecase.MenuService
	Seeds  *usecase.SeedService

	dispatcher *usecase.OutboxDispatcher
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New opens and migrates the database, registers the configured entities and
// builds every service.
func New(ctx context.Context, cfg Config, log *logrus.Logger) (*App, error) {
	entities, err := catalog.LoadConfig(cfg.EntitiesConfig)
	if err != nil {
		return nil, err
	}
	reg, err := catalog.NewRegistry(entities)
	if err != nil {
		return nil, err
	}

	loc, err := loadLocation(cfg.TimeZone)
	if err != nil {
		return nil, err
	}

	db, err := gormsqlite.Open(cfg.DBPath, logging.NewGormLogger(log, 200*time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())

	auditStore := sqliteadapter.NewAuditStore(db)
	recorder := hooks.NewRecorder(reg, auditStore, log, hooks.WithNotifications(), hooks.WithMetrics(m))
	store := sqliteadapter.NewEntityStore(db, recorder)
	crud := usecase.NewCrudService(reg, store, usecase.NewValidator(), recorder, log)

	renderers := []ports.ExportRenderer{
		export.NewCSVRenderer(usecase.DefaultImportDelimiter),
		export.NewXLSXRenderer(),
		export.NewPDFRenderer(cfg.Organization, cfg.City),
	}
	exportOpts := []usecase.ExportOption{usecase.WithExportMetrics(m), usecase.WithPDFCacheTTL(cfg.PDFCacheTTL)}
	if cfg.PDFLogo != "" {
		exportOpts = append(exportOpts, usecase.WithLogo(cfg.PDFLogo))
	}

	var publisher ports.EventPublisher = events.NewLogPublisher(log)
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 10*time.Second)
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		location: loc,
		metrics:  m,
		Crud:     crud,
		Import:   usecase.NewImportService(crud, store, sqliteadapter.NewImportBatchRepository(db), m, log),
		Export:   usecase.NewExportService(crud, store, renderers, log, exportOpts...),
		Audit:    usecase.NewAuditService(auditStore, recorder, loc, log),
		Auth: usecase.NewAuthService(
			sqliteadapter.NewUserRepository(db),
			sqliteadapter.NewSessionRepository(db),
			recorder,
			cfg.GroupRedirects,
			cfg.SessionTTL,
			log,
		),
		Menu:  usecase.NewMenuService(reg, sqliteadapter.NewMenuRepository(db), catalog.AppLabels, log),
		Seeds: usecase.NewSeedService(crud, reg, store, catalog.Seeds(), catalog.SeedOrder, log),
		dispatcher: usecase.NewOutboxDispatcher(
			sqliteadapter.NewOutboxRepository(db),
			publisher,
			log,
			usecase.WithDispatchInterval(cfg.OutboxInterval),
			usecase.WithDispatchBatch(100),
			usecase.WithChangeLookup(auditStore),
			usecase.WithDispatchMetrics(m),
		),
	}
	return a, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = usecase.DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}

// Bootstrap makes sure the configured superuser exists with the configured
// password. It does nothing when either is empty.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.cfg.BootstrapAdmin == "" || a.cfg.BootstrapPassword == "" {
		return nil
	}
	user, err := a.Auth.EnsureSuperuser(ctx, a.cfg.BootstrapAdmin, a.cfg.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("bootstrap superuser: %w", err)
	}
	a.log.WithField("username", user.Username).Info("superuser ensured")
	return nil
}

// Server builds the HTTP server and starts the outbox dispatcher; Close stops
// it again.
func (a *App) Server(ctx context.Context) *http.Server {
	opts := []httpapi.Option{httpapi.WithLocation(a.location)}
	if a.cfg.SecureCookies {
		opts = append(opts, httpapi.WithSecureCookies())
	}
	handler := httpapi.NewHandler(httpapi.Services{
		Crud:    a.Crud,
		Import:  a.Import,
		Export:  a.Export,
		Audit:   a.Audit,
		Auth:    a.Auth,
		Menu:    a.Menu,
		Metrics: a.metrics,
	}, a.log, opts...)

	a.dispatcher.Start(ctx)
	return &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Reset rolls every migration back, applies them again and reloads all seed
// modules.
func (a *App) Reset(ctx context.Context) (usecase.SeedReport, error) {
	writeSQLDB, err := a.db.WriteSQLDB()
	if err != nil {
		return usecase.SeedReport{}, fmt.Errorf("resolve writer sql db: %w", err)
	}
	if err := migrations.Reset(ctx, writeSQLDB); err != nil {
		return usecase.SeedReport{}, err
	}
	a.log.Warn("database reset")
	return a.Seeds.Load(ctx, "all", usecase.DefaultSeedBatch, true)
}

func (a *App) Close() error {
	return resourceCloser{closers: []io.Closer{a.dispatcher, a.db}}.Close()
}
