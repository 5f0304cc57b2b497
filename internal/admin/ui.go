package admin

import (
	"html/template"
	"net/http"

	"github.com/adityalohuni/snapfile/internal/page"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>snapfile archives</title>
<style>body{font-family:sans-serif;margin:2em}td{padding:.2em 1em}</style></head>
<body><h1>Archives</h1>
<table>
<tr><th>Title</th><th>URL</th><th>Size</th><th>Saved</th></tr>
{{range .}}<tr><td><a href="/api/captures/{{.ID}}">{{if .Title}}{{.Title}}{{else}}{{.ID}}{{end}}</a></td><td>{{.URL}}</td><td>{{.Size}}</td><td>{{.CreatedAt.Format "2006-01-02 15:04"}}</td></tr>
{{else}}<tr><td colspan="4">No archives yet.</td></tr>
{{end}}</table></body></html>
`))

// UIHandler lists the stored archives as a plain HTML page.
type UIHandler struct {
	Store *page.Store
}

func (h UIHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, h.Store.List()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
