package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/usecase"
	"github.com/jaico1231/paola-sub001/internal/platform/metrics"
)

const (
	maxJSONBodySize   = 1 << 20
	maxUploadBodySize = 10 << 20
	sessionCookie     = "contaerp_session"
)

// Services groups the use cases the HTTP surface is built on.
type Services struct {
	Crud    *usecase.CrudService
	Import  *usecase.ImportService
	Export  *usecase.ExportService
	Audit   *usecase.AuditService
	Auth    *usecase.AuthService
	Menu    *usecase.MenuService
	Metrics *metrics.Metrics
}

type Handler struct {
	crud     *usecase.CrudService
	importer *usecase.ImportService
	exporter *usecase.ExportService
	audit    *usecase.AuditService
	auth     *usecase.AuthService
	menu     *usecase.MenuService
	metrics  *metrics.Metrics
	location *time.Location
	secure   bool
	log      *logrus.Logger
}

type Option func(*Handler)

// WithLocation sets the zone used to read date filters of the audit log.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.location = loc
		}
	}
}

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies() Option {
	return func(h *Handler) { h.secure = true }
}

func NewHandler(s Services, log *logrus.Logger, opts ...Option) *Handler {
	h := &Handler{
		crud:     s.Crud,
		importer: s.Import,
		exporter: s.Export,
		audit:    s.Audit,
		auth:     s.Auth,
		menu:     s.Menu,
		metrics:  s.Metrics,
		location: time.UTC,
		log:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Group(func(sr chi.Router) {
		sr.Use(h.withScope)
		sr.Get("/auth/login", h.loginForm)
		sr.Post("/auth/login", h.login)

		sr.Group(func(pr chi.Router) {
			pr.Use(h.requireUser)
			pr.Post("/auth/logout", h.logout)
			pr.Get("/menu", h.listMenu)

			pr.Get("/audit/logs", h.listChanges)
			pr.Get("/audit/logs/export", h.exportChanges)
			pr.Get("/audit/logs/{id}", h.getChange)
			pr.Post("/audit/purge", h.purgeChanges)

			pr.Route("/{app}/{entity}", func(er chi.Router) {
				er.Get("/list", h.list)
				er.Get("/create", h.createForm)
				er.Post("/create", h.create)
				er.Get("/{id}/update", h.updateForm)
				er.Post("/{id}/update", h.update)
				er.Post("/{id}/delete", h.delete)
				er.Post("/{id}/toggle-status", h.toggleStatus)
				er.Post("/upload", h.upload)
				er.Get("/upload/{batch}", h.uploadStatus)
				er.Get("/export", h.export)
			})
		})
	})
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
