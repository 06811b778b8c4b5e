package httpapi

import (
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

// auditFilter reads the change log filters. date_start and date_end are
// calendar days in the handler's location; the end day is inclusive.
func (h *Handler) auditFilter(values url.Values) (domain.AuditFilter, error) {
	f := domain.AuditFilter{
		EntityID: strings.TrimSpace(values.Get("entity")),
		ObjectID: strings.TrimSpace(values.Get("object_id")),
		IP:       strings.TrimSpace(values.Get("ip")),
		Search:   strings.TrimSpace(values.Get("search")),
		Period:   domain.Period(strings.TrimSpace(values.Get("period"))),
	}
	f.Page, _ = strconv.Atoi(values.Get("page"))
	f.PageSize, _ = strconv.Atoi(values.Get("page_size"))

	if v := strings.TrimSpace(values.Get("actor")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, badRequest("invalid actor %q", v)
		}
		f.ActorID = &id
	}
	if v := values.Get("action"); v != "" {
		action, err := domain.ParseAction(v)
		if err != nil {
			return f, badRequest("%v", err)
		}
		f.Action = action
	}
	if v := values.Get("date_start"); v != "" {
		t, err := time.ParseInLocation(domain.DateLayout, v, h.location)
		if err != nil {
			return f, badRequest("invalid date_start %q", v)
		}
		f.From = t
	}
	if v := values.Get("date_end"); v != "" {
		t, err := time.ParseInLocation(domain.DateLayout, v, h.location)
		if err != nil {
			return f, badRequest("invalid date_end %q", v)
		}
		f.To = t.AddDate(0, 0, 1)
	}
	return f, nil
}

func (h *Handler) listChanges(w http.ResponseWriter, r *http.Request) {
	filter, err := h.auditFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		h.done(w, r, http.StatusOK, envelope{Data: map[string]any{
			"records":   page.Records,
			"total":     page.Total,
			"page":      page.Page,
			"page_size": page.PageSize,
		}}, "", nil)
		return
	}
	h.render(w, r, http.StatusOK, "audit", page)
}

func (h *Handler) getChange(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.fail(w, r, domain.ErrNotFound)
		return
	}
	rec, err := h.audit.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		h.done(w, r, http.StatusOK, envelope{Data: rec}, "", nil)
		return
	}
	h.render(w, r, http.StatusOK, "change", rec)
}

func (h *Handler) exportChanges(w http.ResponseWriter, r *http.Request) {
	filter, err := h.auditFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.audit.ExportCSV(r.Context(), filter, &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	res := domain.ExportResult{
		Body:        buf.Bytes(),
		ContentType: "text/csv; charset=utf-8",
		FileName:    "auditoria_" + time.Now().In(h.location).Format("20060102_150405") + ".csv",
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", res.Disposition())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

func (h *Handler) purgeChanges(w http.ResponseWriter, r *http.Request) {
	raw, err := readInput(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var pred domain.PurgePredicate
	if v, _ := raw["before"].(string); v != "" {
		t, err := time.ParseInLocation(domain.DateLayout, v, h.location)
		if err != nil {
			h.fail(w, r, badRequest("invalid before %q", v))
			return
		}
		pred.Before = t
	}
	if v, _ := raw["action"].(string); v != "" {
		action, err := domain.ParseAction(v)
		if err != nil {
			h.fail(w, r, badRequest("%v", err))
			return
		}
		pred.Action = action
	}
	pred.EntityID, _ = raw["entity"].(string)

	removed, err := h.audit.Purge(r.Context(), pred)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.done(w, r, http.StatusOK, envelope{
		Message:  strconv.FormatInt(removed, 10) + " registros eliminados.",
		Redirect: "/audit/logs",
		Data:     map[string]int64{"removed": removed},
	}, "", nil)
}
