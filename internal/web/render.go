package web

import (
	"fmt"
	"html/template"
	"io"

	"github.com/client-intake/frontend/internal/messages"
	"github.com/labstack/echo/v4"
)

// Page template names.
const (
	PageChoice  = "choice"
	PageIntake  = "intake"
	PageClients = "clients"
	PageError   = "error"
)

// Renderer renders the intake pages with a message catalog.
type Renderer struct {
	catalog *messages.Catalog
	pages   map[string]*template.Template
}

var _ echo.Renderer = (*Renderer)(nil)

// NewRenderer parses every page together with the shared layout.
func NewRenderer(catalog *messages.Catalog) (*Renderer, error) {
	funcs := template.FuncMap{
		"t":    catalog.Text,
		"lang": catalog.Locale,
		"size": humanSize,
	}

	r := &Renderer{catalog: catalog, pages: make(map[string]*template.Template)}
	for _, page := range []string{PageChoice, PageIntake, PageClients, PageError} {
		tmpl, err := template.New(page).Funcs(funcs).ParseFS(templateFiles,
			"templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", page, err)
		}
		r.pages[page] = tmpl
	}
	return r, nil
}

// Catalog returns the catalog used for page text.
func (r *Renderer) Catalog() *messages.Catalog {
	return r.catalog
}

// Render implements echo.Renderer.
func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
