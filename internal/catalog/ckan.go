package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/opendatahub/catalog-harvester/internal/httpx"
)

// CKANClient talks to a CKAN action API deployment. Deployments differ only
// by base URL and action path, so there is one client type with constructor
// presets rather than a type per catalog.
type CKANClient struct {
	baseURL    string
	actionPath string
	http       *httpx.Client
}

// NewCKANClient creates a client for an arbitrary CKAN deployment.
// actionPath is the prefix of the action API, e.g. "/api/3/action".
func NewCKANClient(baseURL, actionPath string, client *httpx.Client) *CKANClient {
	return &CKANClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		actionPath: actionPath,
		http:       client,
	}
}

// Known CKAN deployments.

func NewCanadaCKAN(client *httpx.Client) *CKANClient {
	return NewCKANClient("https://open.canada.ca", "/data/api/3/action", client)
}

func NewItalyCKAN(client *httpx.Client) *CKANClient {
	return NewCKANClient("https://dati.gov.it", "/opendata/api/3/action", client)
}

func NewUKCKAN(client *httpx.Client) *CKANClient {
	return NewCKANClient("https://data.gov.uk", "/api/action", client)
}

func NewModenaCKAN(client *httpx.Client) *CKANClient {
	return NewCKANClient("https://opendata.comune.modena.it", "/api/3/action", client)
}

// BaseURL returns the deployment base URL, used to absolutize relative
// resource URLs.
func (c *CKANClient) BaseURL() string {
	return c.baseURL
}

// ckanEnvelope is the standard CKAN action response wrapper.
type ckanEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// Call invokes a named CKAN action with query parameters and returns the
// raw result document. Every endpoint goes through here; the named methods
// below are thin wrappers.
func (c *CKANClient) Call(ctx context.Context, action string, params map[string]string) (json.RawMessage, error) {
	q := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}

	u := fmt.Sprintf("%s%s/%s", c.baseURL, c.actionPath, action)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	var env ckanEnvelope
	if err := c.http.GetJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("ckan %s: %w", action, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("ckan %s: action reported failure", action)
	}
	return env.Result, nil
}

// PackageSearch runs a paged package_search.
func (c *CKANClient) PackageSearch(ctx context.Context, start, rows int, filters map[string]string) (json.RawMessage, error) {
	params := map[string]string{
		"start": strconv.Itoa(start),
		"rows":  strconv.Itoa(rows),
	}
	for k, v := range filters {
		params[k] = v
	}
	return c.Call(ctx, "package_search", params)
}

// PackageShow fetches a single package by id.
func (c *CKANClient) PackageShow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Call(ctx, "package_show", map[string]string{"id": id})
}

// PackageList fetches the list of package names.
func (c *CKANClient) PackageList(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, "package_list", nil)
}

// ResourceShow fetches a single resource by id.
func (c *CKANClient) ResourceShow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Call(ctx, "resource_show", map[string]string{"id": id})
}

// ResourceSearch runs a resource_search query.
func (c *CKANClient) ResourceSearch(ctx context.Context, query string) (json.RawMessage, error) {
	return c.Call(ctx, "resource_search", map[string]string{"query": query})
}

// ckanSearchResult is the package_search result document.
type ckanSearchResult struct {
	Count   int     `json:"count"`
	Results []Entry `json:"results"`
}

// Search implements the Client contract over package_search.
func (c *CKANClient) Search(ctx context.Context, offset, limit int, filters map[string]string) (SearchResult, error) {
	raw, err := c.PackageSearch(ctx, offset, limit, filters)
	if err != nil {
		return SearchResult{}, err
	}

	var res ckanSearchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return SearchResult{}, fmt.Errorf("ckan package_search: decode result: %w", err)
	}
	return SearchResult{Count: res.Count, Entries: res.Results}, nil
}
