package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
)

// envelope is the body of every JSON response outside file downloads.
type envelope struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
	Data     any                 `json:"data,omitempty"`
}

// wantsJSON reports whether the caller is an API or AJAX client rather than
// a browser navigating pages.
func wantsJSON(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// done answers a successful operation: the envelope for JSON clients, a
// redirect (or the named page) for browsers.
func (h *Handler) done(w http.ResponseWriter, r *http.Request, status int, env envelope, page string, view any) {
	env.Success = true
	if wantsJSON(r) {
		writeJSON(w, status, env)
		return
	}
	if r.Method == http.MethodPost && env.Redirect != "" && page == "" {
		http.Redirect(w, r, env.Redirect, http.StatusSeeOther)
		return
	}
	if page == "" {
		page = "message"
		view = env
	}
	h.render(w, r, status, page, view)
}

// fail maps a domain error to its status and answers in the caller's format.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, env := h.classify(r, err)
	if wantsJSON(r) {
		writeJSON(w, status, env)
		return
	}
	if status == http.StatusUnauthorized {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	h.render(w, r, status, "message", env)
}

func (h *Handler) classify(r *http.Request, err error) (int, envelope) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, envelope{Message: "Por favor corrija los errores del formulario.", Errors: verr.Fields}
	}
	var dup *domain.DuplicateKeyError
	if errors.As(err, &dup) && dup.Field != "" {
		return http.StatusConflict, envelope{
			Message: "Ya existe un registro con estos datos.",
			Errors:  map[string][]string{dup.Field: {"Ya existe un registro con este valor."}},
		}
	}

	switch {
	case errors.Is(err, domain.ErrDuplicateKey):
		return http.StatusConflict, envelope{Message: "Ya existe un registro con estos datos."}
	case errors.Is(err, domain.ErrReferentialIntegrity):
		return http.StatusConflict, envelope{Message: "No se puede eliminar: el registro está en uso."}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, envelope{Message: "Debe iniciar sesión.", Redirect: "/auth/login"}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, envelope{Message: "No tiene permiso para realizar esta acción."}
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownEntity):
		return http.StatusNotFound, envelope{Message: "Registro no encontrado."}
	case errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, domain.ErrInvalidHeader),
		errors.Is(err, domain.ErrInvalidEncoding),
		errors.Is(err, domain.ErrNotToggleable),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, envelope{Message: err.Error()}
	}

	h.log.WithError(err).WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": requestID(r),
	}).Error("request failed")
	return http.StatusInternalServerError, envelope{Message: "Error interno del servidor."}
}

func requestID(r *http.Request) string {
	if scope := uow.From(r.Context()); scope != nil {
		return scope.RequestID
	}
	return ""
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// readInput decodes a JSON object or a url-encoded form into raw field values.
func readInput(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, badRequest("invalid JSON body: %v", err)
		}
		if err := ensureEOF(dec); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := r.ParseForm(); err != nil {
		return nil, badRequest("invalid form body: %v", err)
	}
	raw := make(map[string]any, len(r.PostForm))
	for k, v := range r.PostForm {
		if k == "csrf_token" || len(v) == 0 {
			continue
		}
		raw[k] = v[len(v)-1]
	}
	return raw, nil
}

func ensureEOF(dec *json.Decoder) error {
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return badRequest("request body must contain a single JSON object")
	}
	return nil
}
