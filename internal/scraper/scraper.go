package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mnboos/job-graph/internal/domain"
)

// RawItem is one job posting exactly as a job board returned it.
type RawItem map[string]any

// Get walks nested objects along path and returns the value found there.
func (r RawItem) Get(path ...string) (any, bool) {
	var cur any = map[string]any(r)
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// String returns the value at path as trimmed text. Numbers are formatted
// without exponent so numeric zip codes survive.
func (r RawItem) String(path ...string) string {
	v, ok := r.Get(path...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Strings returns the string elements of the list at path.
func (r RawItem) Strings(path ...string) []string {
	v, ok := r.Get(path...)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// Bool returns the value at path as a boolean; anything non-boolean is false.
func (r RawItem) Bool(path ...string) bool {
	v, ok := r.Get(path...)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case RawItem:
		return m, true
	default:
		return nil, false
	}
}

// Scraper fetches every posting a job board returns for its query.
type Scraper interface {
	Scrape(ctx context.Context) ([]RawItem, error)
}

// Factory builds a scraper for one query.
type Factory func(query []string) Scraper

// Registry maps scraper identifiers to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// New instantiates the scraper registered under name
func (r *Registry) New(name string, query []string) (Scraper, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownScraper, name)
	}
	return factory(query), nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered identifiers in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
