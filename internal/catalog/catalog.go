// Package catalog provides clients for open-data catalog APIs. The bulk
// fetch orchestrator only depends on the Client interface; CKAN and Socrata
// backends adapt their wire formats to it.
package catalog

import "context"

// Resource is one downloadable file associated with a catalog entry.
// Raw retains the untouched record so kept-metadata documents can carry
// catalog-specific fields through unmodified.
type Resource struct {
	ID       string
	Name     string
	URL      string
	Format   string
	Language string
	Raw      map[string]any
}

// Entry is one raw catalog record (a package in CKAN terms). It is kept as
// a generic document: the resolver prunes its resource list without
// touching any other field.
type Entry map[string]any

// Resources extracts the typed resource list from the entry. Records that
// are not objects are skipped.
func (e Entry) Resources() []Resource {
	raw, _ := e["resources"].([]any)
	out := make([]Resource, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Resource{
			ID:       stringField(m, "id"),
			Name:     stringField(m, "name"),
			URL:      stringField(m, "url"),
			Format:   stringField(m, "format"),
			Language: stringField(m, "language"),
			Raw:      m,
		})
	}
	return out
}

// SearchResult is one page of catalog entries plus the catalog-wide total.
type SearchResult struct {
	Count   int
	Entries []Entry
}

// Client is the contract the resolver consumes. Search returns the total
// entry count for the given filters and one page of raw records.
type Client interface {
	Search(ctx context.Context, offset, limit int, filters map[string]string) (SearchResult, error)
	BaseURL() string
}

// FilterFunc is a caller-supplied predicate over a single resource record.
// It must be pure; a nil FilterFunc accepts everything.
type FilterFunc func(Resource) bool

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
