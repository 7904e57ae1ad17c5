package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/opendatahub/catalog-harvester/internal/httpx"
)

// SocrataClient lists datasets through the Socrata discovery API and adapts
// them to the catalog contract. Each Socrata dataset maps to one entry with
// a single CSV export resource, so the same resolver and scheduler work
// unchanged over both backends.
type SocrataClient struct {
	domain   string
	appToken string
	http     *httpx.Client
}

// NewSocrataClient creates a client for a Socrata domain, e.g.
// "data.cityofchicago.org". A full URL with scheme is also accepted, for
// self-hosted portals. appToken may be empty for anonymous access.
func NewSocrataClient(domain, appToken string, client *httpx.Client) *SocrataClient {
	return &SocrataClient{
		domain:   strings.TrimRight(domain, "/"),
		appToken: appToken,
		http:     client,
	}
}

// NewChicagoSocrata creates a client for the Chicago data portal.
func NewChicagoSocrata(appToken string, client *httpx.Client) *SocrataClient {
	return NewSocrataClient("data.cityofchicago.org", appToken, client)
}

// BaseURL returns the URL of the Socrata domain, https unless the domain
// carries its own scheme.
func (c *SocrataClient) BaseURL() string {
	if strings.Contains(c.domain, "://") {
		return c.domain
	}
	return "https://" + c.domain
}

// socrataCatalogPage is the discovery API response shape.
type socrataCatalogPage struct {
	ResultSetSize int `json:"resultSetSize"`
	Results       []struct {
		Resource  map[string]any `json:"resource"`
		Permalink string         `json:"permalink"`
	} `json:"results"`
}

// Search implements the Client contract over /api/catalog/v1.
func (c *SocrataClient) Search(ctx context.Context, offset, limit int, filters map[string]string) (SearchResult, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	if c.appToken != "" {
		q.Set("$$app_token", c.appToken)
	}

	u := fmt.Sprintf("%s/api/catalog/v1?%s", c.BaseURL(), q.Encode())

	var page socrataCatalogPage
	if err := c.http.GetJSON(ctx, u, &page); err != nil {
		return SearchResult{}, fmt.Errorf("socrata catalog: %w", err)
	}

	entries := make([]Entry, 0, len(page.Results))
	for _, res := range page.Results {
		id := stringField(res.Resource, "id")
		if id == "" {
			continue
		}
		name := stringField(res.Resource, "name")

		rsc := map[string]any{
			"id":     id,
			"name":   name,
			"url":    c.exportURL(id),
			"format": "csv",
		}
		entries = append(entries, Entry{
			"id":        id,
			"name":      name,
			"permalink": res.Permalink,
			"resources": []any{rsc},
		})
	}

	return SearchResult{Count: page.ResultSetSize, Entries: entries}, nil
}

// exportURL returns the full-dataset CSV export endpoint for a dataset id.
func (c *SocrataClient) exportURL(id string) string {
	return fmt.Sprintf("%s/api/views/%s/rows.csv?accessType=DOWNLOAD", c.BaseURL(), id)
}
