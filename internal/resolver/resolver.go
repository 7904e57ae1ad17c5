// Package resolver turns raw catalog entries into a flat, filtered list of
// downloadable resource references plus the pruned kept-metadata document.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/opendatahub/catalog-harvester/internal/catalog"
	"github.com/opendatahub/catalog-harvester/internal/jobstate"
	"github.com/opendatahub/catalog-harvester/internal/metrics"
)

// nameJoin joins the sanitized display name and the resource id. Both
// components are sanitized so the separator cannot appear in either, which
// keeps the mapping back to the original id collision-free.
const nameJoin = "::"

// Options configures one resolution pass.
type Options struct {
	// BatchSize is the metadata page size.
	BatchSize int

	// MaxEntries clamps the catalog-reported total.
	MaxEntries int

	// FromIndex is the starting page offset.
	FromIndex int

	// KeepResourceName stores files as <name>::<id>.<format>.
	KeepResourceName bool

	// SearchFilters are passed to every search call.
	SearchFilters map[string]string

	// Filter is the caller predicate; nil accepts all resources.
	Filter catalog.FilterFunc

	Log *slog.Logger
}

// Resolve enumerates the catalog and produces the resource list and the
// kept-metadata entries, in catalog page order then within-entry resource
// order. Page fetch failures shrink the result set but are not fatal; only
// context cancellation aborts the pass.
func Resolve(ctx context.Context, client catalog.Client, opts Options) ([]jobstate.ResourceRef, []catalog.Entry, error) {
	log := opts.Log
	if log == nil {
		log = slog.With("component", "resolver")
	}

	// Zero-row probe for the catalog-wide total.
	probe, err := client.Search(ctx, 0, 0, opts.SearchFilters)
	if err != nil {
		return nil, nil, fmt.Errorf("probe catalog count: %w", err)
	}

	total := probe.Count
	if opts.MaxEntries > 0 && total > opts.MaxEntries {
		total = opts.MaxEntries
	}

	var (
		refs []jobstate.ResourceRef
		kept []catalog.Entry
	)

	pages := 0
	if opts.BatchSize > 0 {
		pages = (total + opts.BatchSize - 1) / opts.BatchSize
	}
	offset := opts.FromIndex
	m := metrics.Get()

	for page := 0; page < pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		res, err := client.Search(ctx, offset, opts.BatchSize, opts.SearchFilters)
		offset += opts.BatchSize
		if err != nil {
			// Page-level errors only shrink the result set.
			log.Warn("metadata page fetch failed", "offset", offset-opts.BatchSize, "error", err)
			if m != nil {
				m.MetadataPagesFailed.Inc()
			}
			continue
		}
		if m != nil {
			m.MetadataPagesFetched.Inc()
		}

		for _, entry := range res.Entries {
			entryRefs, keptResources := resolveEntry(entry, client.BaseURL(), opts, log)
			if len(keptResources) == 0 {
				continue
			}

			refs = append(refs, entryRefs...)

			pruned := catalog.Entry(maps.Clone(entry))
			pruned["resources"] = keptResources
			pruned["num_resources"] = len(keptResources)
			kept = append(kept, pruned)
		}
	}

	if m != nil {
		m.ResourcesResolved.Add(float64(len(refs)))
	}
	log.Info("resolution complete", "entries_kept", len(kept), "resources", len(refs))
	return refs, kept, nil
}

// resolveEntry applies the predicate and sanitization to one entry's
// resources. It returns the refs to download and the raw records of the
// surviving resources, in their original order.
func resolveEntry(entry catalog.Entry, baseURL string, opts Options, log *slog.Logger) ([]jobstate.ResourceRef, []any) {
	var (
		refs     []jobstate.ResourceRef
		survived []any
	)

	for _, rsc := range entry.Resources() {
		if !accept(opts.Filter, rsc, log) {
			continue
		}
		if rsc.URL == "" || rsc.ID == "" {
			continue
		}

		id := SanitizeID(rsc.ID)
		name := SanitizeName(rsc.Name)

		survived = append(survived, rsc.Raw)

		if opts.KeepResourceName && name != "" {
			id = name + nameJoin + id
		}

		url := rsc.URL
		if !strings.HasPrefix(url, "http") {
			// Some catalogs return catalog-relative resource URLs.
			url = baseURL + "/" + strings.TrimLeft(url, "/")
		}

		refs = append(refs, jobstate.ResourceRef{ID: id, URL: url})
	}

	return refs, survived
}

// accept runs the predicate, treating a panicking predicate as a rejection.
func accept(filter catalog.FilterFunc, rsc catalog.Resource, log *slog.Logger) (ok bool) {
	if filter == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("filter predicate panicked, resource rejected", "resource_id", rsc.ID, "panic", r)
			ok = false
		}
	}()
	return filter(rsc)
}

// SanitizeID makes a resource id safe to embed in a stored filename. Path
// separators become underscores; the name/id join separator cannot survive.
func SanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	return strings.ReplaceAll(id, nameJoin, "-")
}

// SanitizeName normalizes a resource display name the same way, with spaces
// and colons collapsed to dashes.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, ":", "-")
	return strings.ReplaceAll(name, "/", "-")
}

// FormatFilter builds a predicate accepting only the listed formats,
// case-insensitively. An empty list accepts everything.
func FormatFilter(formats []string) catalog.FilterFunc {
	if len(formats) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(formats))
	for _, f := range formats {
		set[strings.ToLower(f)] = struct{}{}
	}
	return func(rsc catalog.Resource) bool {
		_, ok := set[strings.ToLower(rsc.Format)]
		return ok
	}
}
