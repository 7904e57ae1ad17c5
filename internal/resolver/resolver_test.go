package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/opendatahub/catalog-harvester/internal/catalog"
)

// fakeCatalog serves canned pages keyed by offset.
type fakeCatalog struct {
	count    int
	pages    map[int][]catalog.Entry
	failAt   map[int]bool
	searches int
}

func (f *fakeCatalog) Search(ctx context.Context, offset, limit int, filters map[string]string) (catalog.SearchResult, error) {
	f.searches++
	if limit == 0 {
		return catalog.SearchResult{Count: f.count}, nil
	}
	if f.failAt[offset] {
		return catalog.SearchResult{}, fmt.Errorf("server melted at offset %d", offset)
	}
	return catalog.SearchResult{Count: f.count, Entries: f.pages[offset]}, nil
}

func (f *fakeCatalog) BaseURL() string { return "https://catalog.example.org" }

func entry(id string, resources ...map[string]any) catalog.Entry {
	raw := make([]any, len(resources))
	for i, r := range resources {
		raw[i] = r
	}
	return catalog.Entry{"id": id, "resources": raw, "num_resources": len(resources), "title": "t-" + id}
}

func rsc(id, name, url, format string) map[string]any {
	return map[string]any{"id": id, "name": name, "url": url, "format": format}
}

func TestResolveOrderAndPruning(t *testing.T) {
	client := &fakeCatalog{
		count: 3,
		pages: map[int][]catalog.Entry{
			0: {
				entry("p1",
					rsc("r1", "first", "https://files.example.org/r1.csv", "CSV"),
					rsc("r2", "second", "https://files.example.org/r2.json", "JSON"),
				),
				entry("p2",
					rsc("r3", "third", "https://files.example.org/r3.csv", "csv"),
				),
			},
			2: {
				entry("p3",
					rsc("r4", "fourth", "https://files.example.org/r4.pdf", "PDF"),
				),
			},
		},
	}

	refs, kept, err := Resolve(context.Background(), client, Options{
		BatchSize: 2,
		Filter:    FormatFilter([]string{"csv"}),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(refs) != 2 {
		t.Fatalf("refs = %+v, want r1 and r3", refs)
	}
	if refs[0].ID != "r1" || refs[1].ID != "r3" {
		t.Errorf("refs out of order: %+v", refs)
	}

	// p3 had no surviving resources, so only p1 and p2 are kept, each with
	// the pruned resource list and recomputed count.
	if len(kept) != 2 {
		t.Fatalf("kept = %d entries, want 2", len(kept))
	}
	if kept[0]["id"] != "p1" || kept[0]["num_resources"] != 1 {
		t.Errorf("kept[0] = %+v, want p1 with 1 resource", kept[0])
	}
	if kept[0]["title"] != "t-p1" {
		t.Errorf("non-resource fields must pass through, got %+v", kept[0])
	}
	pruned, ok := kept[0]["resources"].([]any)
	if !ok || len(pruned) != 1 {
		t.Fatalf("kept[0] resources = %+v, want the single csv record", kept[0]["resources"])
	}
}

func TestResolveDeterministic(t *testing.T) {
	client := &fakeCatalog{
		count: 2,
		pages: map[int][]catalog.Entry{
			0: {
				entry("p1", rsc("r1", "a", "https://x/1.csv", "csv")),
				entry("p2", rsc("r2", "b", "https://x/2.csv", "csv")),
			},
		},
	}

	first, _, err := Resolve(context.Background(), client, Options{BatchSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := Resolve(context.Background(), client, Options{BatchSize: 10})
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("refs[%d] differ: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestResolvePageFailureShrinksResult(t *testing.T) {
	client := &fakeCatalog{
		count: 4,
		pages: map[int][]catalog.Entry{
			0: {entry("p1", rsc("r1", "a", "https://x/1.csv", "csv"))},
			2: {entry("p2", rsc("r2", "b", "https://x/2.csv", "csv"))},
		},
		failAt: map[int]bool{0: true},
	}

	refs, _, err := Resolve(context.Background(), client, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("page failures must not be fatal: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "r2" {
		t.Errorf("refs = %+v, want only r2 (offset advanced past the failed page)", refs)
	}
}

func TestResolveRelativeURLAbsolutized(t *testing.T) {
	client := &fakeCatalog{
		count: 1,
		pages: map[int][]catalog.Entry{
			0: {entry("p1", rsc("r1", "a", "/dataset/files/r1.csv", "csv"))},
		},
	}

	refs, _, err := Resolve(context.Background(), client, Options{BatchSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	want := "https://catalog.example.org/dataset/files/r1.csv"
	if len(refs) != 1 || refs[0].URL != want {
		t.Errorf("refs = %+v, want URL %s", refs, want)
	}
}

func TestResolveKeepResourceName(t *testing.T) {
	client := &fakeCatalog{
		count: 1,
		pages: map[int][]catalog.Entry{
			0: {entry("p1", rsc("ab/cd", "My File: 2024", "https://x/f.csv", "csv"))},
		},
	}

	refs, _, err := Resolve(context.Background(), client, Options{
		BatchSize:        10,
		KeepResourceName: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "My-File--2024::ab_cd"
	if len(refs) != 1 || refs[0].ID != want {
		t.Errorf("refs = %+v, want id %q", refs, want)
	}
}

func TestResolvePanickingFilterRejects(t *testing.T) {
	client := &fakeCatalog{
		count: 1,
		pages: map[int][]catalog.Entry{
			0: {entry("p1",
				rsc("r1", "a", "https://x/1.csv", "csv"),
				rsc("r2", "b", "https://x/2.csv", "csv"),
			)},
		},
	}

	refs, _, err := Resolve(context.Background(), client, Options{
		BatchSize: 10,
		Filter: func(r catalog.Resource) bool {
			if r.ID == "r1" {
				panic("bad predicate")
			}
			return true
		},
	})
	if err != nil {
		t.Fatalf("a panicking predicate must not abort resolution: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "r2" {
		t.Errorf("refs = %+v, want only r2", refs)
	}
}

func TestResolveMaxEntriesClampsTotal(t *testing.T) {
	client := &fakeCatalog{
		count: 100,
		pages: map[int][]catalog.Entry{
			0: {entry("p1", rsc("r1", "a", "https://x/1.csv", "csv"))},
		},
	}

	_, _, err := Resolve(context.Background(), client, Options{
		BatchSize:  10,
		MaxEntries: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	// One probe plus exactly one page for the clamped total.
	if client.searches != 2 {
		t.Errorf("searches = %d, want 2", client.searches)
	}
}

func TestSanitize(t *testing.T) {
	if got := SanitizeID("a/b::c"); got != "a_b-c" {
		t.Errorf("SanitizeID = %q", got)
	}
	if got := SanitizeName("  Nice Name: v1/2 "); got != "Nice-Name--v1-2" {
		t.Errorf("SanitizeName = %q", got)
	}
}

func TestFormatFilter(t *testing.T) {
	f := FormatFilter([]string{"csv", "JSON"})
	if !f(catalog.Resource{Format: "CSV"}) {
		t.Error("CSV should match case-insensitively")
	}
	if !f(catalog.Resource{Format: "json"}) {
		t.Error("json should match")
	}
	if f(catalog.Resource{Format: "pdf"}) {
		t.Error("pdf should not match")
	}
	if FormatFilter(nil) != nil {
		t.Error("empty format list should yield a nil (accept-all) filter")
	}
}
