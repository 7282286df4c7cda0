// Package messages holds the user-facing text of the intake screens.
// Catalogs are YAML documents keyed by message id; Polish and Russian ship
// embedded, and an override file can replace individual entries.
package messages

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "pl"

// KeyRequestError formats a failure reason reported by the intake service.
const KeyRequestError = "request_error"

//go:embed locales/*.yaml
var localeFS embed.FS

// document is the on-disk shape of a catalog.
type document struct {
	Locale   string            `yaml:"locale"`
	Name     string            `yaml:"name"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog resolves message ids for one locale.
type Catalog struct {
	locale string
	name   string
	texts  map[string]string
}

// Locales lists the embedded locales in sorted order.
func Locales() []string {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Load returns the catalog for locale. An empty locale selects
// DefaultLocale. When overridePath is set its entries replace the embedded
// ones.
func Load(locale, overridePath string) (*Catalog, error) {
	if locale == "" {
		locale = DefaultLocale
	}

	f, err := localeFS.Open(path.Join("locales", locale+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown locale %q (available: %s)", locale, strings.Join(Locales(), ", "))
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s catalog: %w", locale, err)
	}

	if overridePath != "" {
		if err := c.MergeFile(overridePath); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Parse reads a catalog document.
func Parse(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Messages == nil {
		doc.Messages = make(map[string]string)
	}
	return &Catalog{locale: doc.Locale, name: doc.Name, texts: doc.Messages}, nil
}

// MergeFile overlays the messages of a catalog file on c.
func (c *Catalog) MergeFile(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening messages file: %w", err)
	}
	defer file.Close()

	overlay, err := Parse(file)
	if err != nil {
		return fmt.Errorf("parsing messages file %s: %w", filePath, err)
	}
	for k, v := range overlay.texts {
		c.texts[k] = v
	}
	return nil
}

// Locale returns the catalog's locale code.
func (c *Catalog) Locale() string { return c.locale }

// Name returns the human readable language name.
func (c *Catalog) Name() string { return c.name }

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
	_, ok := c.texts[key]
	return ok
}

// Keys returns every defined key, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.texts))
	for k := range c.texts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Text renders key with optional printf arguments. Unknown keys render as
// the key itself so a missing translation stays visible.
func (c *Catalog) Text(key string, args ...any) string {
	text, ok := c.texts[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}

// Failure renders a failed request. A reason from the service wins over
// the local key.
func (c *Catalog) Failure(reason, key string) string {
	if reason != "" {
		return c.Text(KeyRequestError, reason)
	}
	if key == "" {
		return ""
	}
	return c.Text(key)
}
