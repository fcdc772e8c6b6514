// Package render turns dashboard views into HTML. A page renders in one of
// two modes chosen per request: Normal wraps it in the layout, Polling emits
// only the condensed page body for a client refreshing in place.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nadmax/resqview/internal/dashboard"
)

type Mode int

const (
	Normal Mode = iota
	Polling
)

func (m Mode) String() string {
	if m == Polling {
		return "polling"
	}
	return "normal"
}

const (
	PollSuffix   = ".poll"
	CacheControl = "max-age=0, private, must-revalidate"
	timeOfDay    = "15:04:05"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{
	"overview", "queues", "queue", "workers", "worker", "working",
	"failed", "fail_detail", "stats", "redis", "keys", "key",
}

var whitespace = regexp.MustCompile(`\s+`)

// Condense collapses every whitespace run to a single space.
func Condense(s string) string {
	return whitespace.ReplaceAllString(s, " ")
}

// PollMarkup is the fragment a client looks for: a timestamp on a polled
// render, or the link that starts polling on a normal one.
func PollMarkup(path string, mode Mode, now time.Time) template.HTML {
	if mode == Polling {
		return template.HTML(`<p class="poll">Last Updated: ` + now.Format(timeOfDay) + `</p>`)
	}
	href := template.HTMLEscapeString(strings.TrimSuffix(path, "/") + PollSuffix)
	return template.HTML(`<p class="poll"><a href="` + href + `" rel="poll">Live Poll</a></p>`)
}

// Page is what every template receives.
type Page struct {
	Name    string
	Section string
	Path    string
	Poll    template.HTML
	Polling bool
	Data    any
}

type Renderer struct {
	pages map[string]*template.Template
	fail  *template.Template
	now   func() time.Time
}

func New() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template, len(pages)), now: time.Now}

	for _, name := range pages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		r.pages[name] = t
	}

	fail, err := template.New("degraded").Funcs(funcs).ParseFS(templateFS, "templates/error.html")
	if err != nil {
		return nil, fmt.Errorf("parse error template: %w", err)
	}
	r.fail = fail

	return r, nil
}

// Render writes the named page. path is the request path without any .poll
// suffix and is where the Live Poll link points.
func (r *Renderer) Render(w http.ResponseWriter, name string, data any, mode Mode, path string) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}

	page := Page{
		Name:    name,
		Section: section(path),
		Path:    path,
		Poll:    PollMarkup(path, mode, r.now()),
		Polling: mode == Polling,
		Data:    data,
	}

	var buf bytes.Buffer
	entry := "layout"
	if mode == Polling {
		entry = "content"
	}
	if err := t.ExecuteTemplate(&buf, entry, page); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", CacheControl)
	if mode == Polling {
		_, err := w.Write([]byte(Condense(buf.String())))
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// RenderError writes the standalone degraded page, without the layout.
func (r *Renderer) RenderError(w http.ResponseWriter, status int, message string) {
	var buf bytes.Buffer
	if err := r.fail.ExecuteTemplate(&buf, "error", message); err != nil {
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", CacheControl)
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// section is the first path segment, used to highlight the current tab.
func section(path string) string {
	s := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

type pagerLinks struct {
	Path  string
	Pager dashboard.Pager
}

var funcs = template.FuncMap{
	"escape": url.PathEscape,
	"join":   strings.Join,
	"pager": func(path string, p dashboard.Pager) pagerLinks {
		return pagerLinks{Path: path, Pager: p}
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006/01/02 15:04:05")
	},
	"tabs": func() []string {
		return []string{"Overview", "Working", "Failed", "Queues", "Workers", "Stats"}
	},
	"lower": strings.ToLower,
}
