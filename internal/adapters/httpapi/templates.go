package httpapi

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

const layoutTemplate = `<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>{{block "title" .}}ContaERP{{end}}</title></head>
<body>
<main>{{template "content" .}}</main>
</body>
</html>`

var pageTemplates = map[string]string{
	"message": `{{define "content"}}<p class="{{if .Success}}ok{{else}}error{{end}}">{{.Message}}</p>
{{with .Errors}}<ul>{{range $field, $msgs := .}}{{range $msgs}}<li>{{$field}}: {{.}}</li>{{end}}{{end}}</ul>{{end}}
{{with .Redirect}}<a href="{{.}}">Continuar</a>{{end}}{{end}}`,

	"login": `{{define "title"}}Iniciar sesión{{end}}{{define "content"}}<form method="post" action="/auth/login">
<label>Usuario <input name="username" autocomplete="username"></label>
<label>Contraseña <input name="password" type="password" autocomplete="current-password"></label>
<button type="submit">Ingresar</button>
</form>{{end}}`,

	"menu": `{{define "content"}}<nav><ul>{{range .}}<li data-key="{{.Key}}">{{if .URL}}<a href="{{.URL}}">{{.Label}}</a>{{else}}<strong>{{.Label}}</strong>{{end}}</li>{{end}}</ul></nav>{{end}}`,

	"list": `{{define "title"}}{{.Title}}{{end}}{{define "content"}}<h1>{{.Title}}</h1>
<form method="get"><input name="q" value="{{.Query.Search}}"><button>Buscar</button></form>
<p><a href="{{.Base}}/create">Nuevo</a> <a href="{{.Base}}/export?format=xlsx">Excel</a> <a href="{{.Base}}/export?format=pdf">PDF</a></p>
<table>
<thead><tr>{{range .Page.Columns}}<th>{{.Label}}</th>{{end}}<th></th></tr></thead>
<tbody>{{$base := .Base}}{{$cols := .Page.Columns}}{{range .Page.Rows}}{{$row := .}}<tr>{{range $cols}}<td>{{cell $row .Name}}</td>{{end}}<td><a href="{{$base}}/{{$row.ID}}/update">Editar</a></td></tr>{{end}}</tbody>
</table>
<p>{{.Page.Total}} registros, página {{.Page.Page}} de {{.Pages}}</p>{{end}}`,

	"form": `{{define "title"}}{{.Title}}{{end}}{{define "content"}}<h1>{{.Title}}</h1>
<form method="post" action="{{.Action}}">{{$values := .Values}}{{range .Fields}}
<label>{{label .}}{{if .Required}} *{{end}}
{{if .Choices}}<select name="{{.Name}}">{{$v := cell $values .Name}}<option value=""></option>{{range .Choices}}<option{{if eq . $v}} selected{{end}}>{{.}}</option>{{end}}</select>{{else}}<input name="{{.Name}}" value="{{cell $values .Name}}">{{end}}
</label>{{end}}
<button type="submit">Guardar</button>
</form>{{end}}`,

	"import": `{{define "title"}}Carga masiva{{end}}{{define "content"}}<h1>Carga masiva</h1>
<p>{{.Message}}</p>
<p>Creados: {{.Created}} Actualizados: {{.Updated}} Omitidos: {{.Skipped}} Errores: {{.Errors}}</p>
<ul>{{range .Rows}}{{if eq .Outcome "error"}}<li>{{.Message}}</li>{{end}}{{end}}</ul>{{end}}`,

	"audit": `{{define "title"}}Registro de cambios{{end}}{{define "content"}}<h1>Registro de cambios</h1>
<table><thead><tr><th>Fecha</th><th>Usuario</th><th>Acción</th><th>Entidad</th><th>Descripción</th><th>IP</th></tr></thead>
<tbody>{{range .Records}}<tr><td><a href="/audit/logs/{{.ID}}">{{.Timestamp.Format "2006-01-02 15:04:05"}}</a></td><td>{{.Actor}}</td><td>{{.Action}}</td><td>{{.EntityID}}</td><td>{{.Description}}</td><td>{{.ClientIP}}</td></tr>{{end}}</tbody></table>
<p>{{.Total}} registros</p>{{end}}`,

	"change": `{{define "title"}}Cambio #{{.ID}}{{end}}{{define "content"}}<h1>{{.Action}} {{.EntityID}} {{.ObjectID}}</h1>
<p>{{.Description}}</p>
<dl><dt>Usuario</dt><dd>{{.Actor}}</dd><dt>IP</dt><dd>{{.ClientIP}}</dd><dt>Navegador</dt><dd>{{.UserAgent}}</dd></dl>
<table><thead><tr><th>Campo</th><th>Antes</th><th>Después</th></tr></thead>
<tbody>{{$before := .Before}}{{range $k, $v := .After}}<tr><td>{{$k}}</td><td>{{index $before $k}}</td><td>{{$v}}</td></tr>{{end}}</tbody></table>{{end}}`,
}

var templateFuncs = template.FuncMap{
	"cell": func(row domain.Row, name string) string { return domain.Stringify(row[name]) },
	"label": func(f domain.Field) string {
		if f.Label != "" {
			return f.Label
		}
		return f.Name
	},
}

var pages = parsePages()

func parsePages() map[string]*template.Template {
	out := make(map[string]*template.Template, len(pageTemplates))
	for name, body := range pageTemplates {
		t := template.Must(template.New("layout").Funcs(templateFuncs).Parse(layoutTemplate))
		out[name] = template.Must(t.Parse(body))
	}
	return out
}

type listView struct {
	Title string
	Base  string
	Query domain.ListQuery
	Page  domain.Page
	Pages int64
}

type formView struct {
	Title  string
	Action string
	Fields []domain.Field
	Values domain.Row
}

// render executes a page into a buffer first so a template failure still
// produces a clean 500.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, view any) {
	t, ok := pages[page]
	if !ok {
		t = pages["message"]
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", view); err != nil {
		h.log.WithError(err).WithField("page", page).WithField("request_id", requestID(r)).Error("render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
