package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendatahub/catalog-harvester/internal/httpx"
)

func testHTTPClient() *httpx.Client {
	return httpx.NewClient(httpx.Options{
		RetryAttempts:   1,
		RetryBackoff:    time.Millisecond,
		RetryMaxBackoff: time.Millisecond,
	})
}

func TestCKANSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/3/action/package_search", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("start"))
		assert.Equal(t, "10", r.URL.Query().Get("rows"))
		assert.Equal(t, "res_format:CSV", r.URL.Query().Get("fq"))

		fmt.Fprint(w, `{
			"success": true,
			"result": {
				"count": 123,
				"results": [
					{"id": "pkg-1", "resources": [{"id": "r1", "url": "https://x/1.csv", "format": "CSV"}]},
					{"id": "pkg-2", "resources": []}
				]
			}
		}`)
	}))
	defer srv.Close()

	client := NewCKANClient(srv.URL, "/api/3/action", testHTTPClient())
	res, err := client.Search(context.Background(), 20, 10, map[string]string{"fq": "res_format:CSV"})
	require.NoError(t, err)

	assert.Equal(t, 123, res.Count)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "pkg-1", res.Entries[0]["id"])

	resources := res.Entries[0].Resources()
	require.Len(t, resources, 1)
	assert.Equal(t, "r1", resources[0].ID)
	assert.Equal(t, "CSV", resources[0].Format)
}

func TestCKANCallReportsActionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "result": null}`)
	}))
	defer srv.Close()

	client := NewCKANClient(srv.URL, "/api/3/action", testHTTPClient())
	_, err := client.Call(context.Background(), "package_search", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package_search")
}

func TestCKANPackageShow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/3/action/package_show", r.URL.Path)
		assert.Equal(t, "pkg-9", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"success": true, "result": {"id": "pkg-9"}}`)
	}))
	defer srv.Close()

	client := NewCKANClient(srv.URL, "/api/3/action", testHTTPClient())
	raw, err := client.PackageShow(context.Background(), "pkg-9")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "pkg-9"}`, string(raw))
}

func TestCKANPresets(t *testing.T) {
	hc := testHTTPClient()
	tests := []struct {
		client *CKANClient
		base   string
	}{
		{NewCanadaCKAN(hc), "https://open.canada.ca"},
		{NewItalyCKAN(hc), "https://dati.gov.it"},
		{NewUKCKAN(hc), "https://data.gov.uk"},
		{NewModenaCKAN(hc), "https://opendata.comune.modena.it"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.base, tt.client.BaseURL())
	}
}
