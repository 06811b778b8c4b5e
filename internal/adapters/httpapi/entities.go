package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

// reservedParams are list query parameters that are not named filters.
var reservedParams = map[string]bool{
	"q": true, "page": true, "page_size": true, "order": true, "format": true, "refresh": true,
}

func entityID(r *http.Request) string {
	return chi.URLParam(r, "app") + "." + chi.URLParam(r, "entity")
}

func entityBase(r *http.Request) string {
	return "/" + chi.URLParam(r, "app") + "/" + chi.URLParam(r, "entity")
}

func objectID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrNotFound
	}
	return id, nil
}

func listQuery(values url.Values) domain.ListQuery {
	q := domain.ListQuery{Search: strings.TrimSpace(values.Get("q"))}
	q.Page, _ = strconv.Atoi(values.Get("page"))
	q.PageSize, _ = strconv.Atoi(values.Get("page_size"))
	if order := values.Get("order"); order != "" {
		for _, name := range strings.Split(order, ",") {
			if name = strings.TrimSpace(name); name != "" {
				q.OrderBy = append(q.OrderBy, name)
			}
		}
	}
	for name, v := range values {
		if reservedParams[name] || len(v) == 0 || v[0] == "" {
			continue
		}
		if q.Filters == nil {
			q.Filters = map[string]string{}
		}
		q.Filters[name] = v[0]
	}
	return q
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := listQuery(r.URL.Query())
	page, err := h.crud.List(r.Context(), entityID(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		h.done(w, r, http.StatusOK, envelope{Data: page}, "", nil)
		return
	}
	desc, err := h.crud.Descriptor(r.Context(), entityID(r), domain.VerbView)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pages := int64(1)
	if page.PageSize > 0 && page.Total > 0 {
		pages = (page.Total + int64(page.PageSize) - 1) / int64(page.PageSize)
	}
	title := desc.DisplayPlural
	if title == "" {
		title = desc.ID()
	}
	h.render(w, r, http.StatusOK, "list", listView{Title: title, Base: entityBase(r), Query: q, Page: page, Pages: pages})
}

func (h *Handler) createForm(w http.ResponseWriter, r *http.Request) {
	desc, err := h.crud.Descriptor(r.Context(), entityID(r), domain.VerbAdd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.showForm(w, r, desc, entityBase(r)+"/create", nil)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	raw, err := readInput(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.crud.Create(r.Context(), entityID(r), raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.done(w, r, http.StatusCreated, envelope{
		Message:  "Registro creado correctamente.",
		Redirect: entityBase(r) + "/list",
		Data:     map[string]int64{"id": id},
	}, "", nil)
}

func (h *Handler) updateForm(w http.ResponseWriter, r *http.Request) {
	id, err := objectID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	desc, err := h.crud.Descriptor(r.Context(), entityID(r), domain.VerbChange)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	row, err := h.crud.Get(r.Context(), entityID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.showForm(w, r, desc, fmt.Sprintf("%s/%d/update", entityBase(r), id), row)
}

func (h *Handler) showForm(w http.ResponseWriter, r *http.Request, desc *domain.EntityDescriptor, action string, values domain.Row) {
	if wantsJSON(r) {
		h.done(w, r, http.StatusOK, envelope{Data: map[string]any{
			"entity":  desc.ID(),
			"columns": desc.Columns(fieldNames(desc)),
			"values":  values,
		}}, "", nil)
		return
	}
	fields := make([]domain.Field, 0, len(desc.Fields))
	for _, f := range desc.StoredFields() {
		if f.Kind == domain.KindFile || f.Kind == domain.KindImage {
			continue
		}
		fields = append(fields, f)
	}
	h.render(w, r, http.StatusOK, "form", formView{Title: desc.DisplaySingular, Action: action, Fields: fields, Values: values})
}

func fieldNames(desc *domain.EntityDescriptor) []string {
	out := make([]string, 0, len(desc.Fields))
	for _, f := range desc.StoredFields() {
		out = append(out, f.Name)
	}
	return out
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := objectID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	raw, err := readInput(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.crud.Update(r.Context(), entityID(r), id, raw); err != nil {
		h.fail(w, r, err)
		return
	}
	h.done(w, r, http.StatusOK, envelope{
		Message:  "Registro actualizado correctamente.",
		Redirect: entityBase(r) + "/list",
		Data:     map[string]int64{"id": id},
	}, "", nil)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := objectID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.crud.Delete(r.Context(), entityID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.done(w, r, http.StatusOK, envelope{
		Message:  "Registro eliminado correctamente.",
		Redirect: entityBase(r) + "/list",
	}, "", nil)
}

func (h *Handler) toggleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := objectID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	active, err := h.crud.ToggleStatus(r.Context(), entityID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := "Registro desactivado."
	if active {
		msg = "Registro activado."
	}
	h.done(w, r, http.StatusOK, envelope{
		Message:  msg,
		Redirect: entityBase(r) + "/list",
		Data:     map[string]bool{"active": active},
	}, "", nil)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
		h.fail(w, r, badRequest("invalid multipart body: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, badRequest("missing file"))
		return
	}
	defer file.Close()

	opts := domain.ImportOptions{
		Encoding: strings.TrimSpace(r.FormValue("encoding")),
		FileName: header.Filename,
	}
	if d := r.FormValue("delimiter"); d != "" {
		if d == `\t` || d == "tab" {
			d = "\t"
		}
		if utf8.RuneCountInString(d) != 1 {
			h.fail(w, r, badRequest("delimiter must be a single character"))
			return
		}
		opts.Delimiter, _ = utf8.DecodeRuneInString(d)
	}
	if a := r.FormValue("atomic"); a != "" {
		opts.Atomic = domain.AsBool(a)
	}

	batch, err := h.importer.Import(r.Context(), entityID(r), file, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.showBatch(w, r, batch)
}

func (h *Handler) uploadStatus(w http.ResponseWriter, r *http.Request) {
	desc, err := h.crud.Descriptor(r.Context(), entityID(r), domain.VerbAdd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := h.importer.Batch(r.Context(), chi.URLParam(r, "batch"))
	if err == nil && batch.EntityID != desc.ID() {
		err = domain.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.showBatch(w, r, batch)
}

func (h *Handler) showBatch(w http.ResponseWriter, r *http.Request, batch domain.ImportBatch) {
	if wantsJSON(r) {
		h.done(w, r, http.StatusOK, envelope{Message: batch.Message, Data: batchView(batch)}, "", nil)
		return
	}
	h.render(w, r, http.StatusOK, "import", batch)
}

func batchView(b domain.ImportBatch) map[string]any {
	return map[string]any{
		"id":        b.ID,
		"entity":    b.EntityID,
		"file_name": b.FileName,
		"state":     b.State,
		"atomic":    b.Atomic,
		"created":   b.Created,
		"updated":   b.Updated,
		"skipped":   b.Skipped,
		"errors":    b.Errors,
		"rows":      b.Rows,
	}
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	format, err := domain.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.fail(w, r, badRequest("%v", err))
		return
	}
	refresh := domain.AsBool(r.URL.Query().Get("refresh"))
	q := listQuery(r.URL.Query())
	q.All = true

	res, err := h.exporter.Export(r.Context(), entityID(r), format, q, refresh)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cache := "miss"
	if res.Cached {
		cache = "hit"
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", res.Disposition())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.Header().Set("X-Export-Cache", cache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}
