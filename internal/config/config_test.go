package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithDestination(t *testing.T) {
	dest := t.TempDir()
	t.Setenv("HARVEST_DESTINATION", dest)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, dest, cfg.Job.Destination)
	assert.Equal(t, "csv", cfg.Job.Format)
	assert.Equal(t, 1000, cfg.Job.BatchSize)
	assert.Equal(t, int64(1<<20), cfg.Job.MaxResourceSize)
	assert.True(t, cfg.Job.SaveMetadata)
	assert.Equal(t, "ckan", cfg.Catalog.Kind)
	assert.Equal(t, 4, cfg.Perf.OuterWorkers)
	assert.Equal(t, 4, cfg.Perf.InnerWorkers)
	assert.Equal(t, 60*time.Second, cfg.HTTP.ResourceTimeout)
}

func TestLoadYAMLFile(t *testing.T) {
	dest := t.TempDir()
	dir := t.TempDir()
	path := filepath.Join(dir, "harvest.yaml")

	yaml := `
job:
  destination: ` + dest + `
  format: json
  batch_size: 250
  keep_resource_name: true
  filter_formats: [json, geojson]
catalog:
  kind: ckan
  preset: modena
perf:
  outer_workers: 2
  inner_workers: 8
http:
  resource_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Job.Format)
	assert.Equal(t, 250, cfg.Job.BatchSize)
	assert.True(t, cfg.Job.KeepResourceName)
	assert.Equal(t, []string{"json", "geojson"}, cfg.Job.FilterFormats)
	assert.Equal(t, "modena", cfg.Catalog.Preset)
	assert.Equal(t, 2, cfg.Perf.OuterWorkers)
	assert.Equal(t, 8, cfg.Perf.InnerWorkers)
	assert.Equal(t, 90*time.Second, cfg.HTTP.ResourceTimeout)
}

func TestEnvOverridesYAML(t *testing.T) {
	dest := t.TempDir()
	dir := t.TempDir()
	path := filepath.Join(dir, "harvest.yaml")

	yaml := `
job:
  destination: ` + dest + `
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	t.Setenv("HARVEST_FORMAT", "csv")
	t.Setenv("HARVEST_OUTER_WORKERS", "6")
	t.Setenv("HARVEST_FILTER_FORMATS", "csv, tsv")
	t.Setenv("HARVEST_CATALOG_KIND", "socrata")
	t.Setenv("HARVEST_CATALOG_PRESET", "chicago")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "csv", cfg.Job.Format)
	assert.Equal(t, 6, cfg.Perf.OuterWorkers)
	assert.Equal(t, []string{"csv", "tsv"}, cfg.Job.FilterFormats)
	assert.Equal(t, "socrata", cfg.Catalog.Kind)
}

func TestValidate(t *testing.T) {
	dest := t.TempDir()

	base := func() Config {
		cfg := Default()
		cfg.Job.Destination = dest
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing destination", func(t *testing.T) {
		cfg := base()
		cfg.Job.Destination = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("destination does not exist", func(t *testing.T) {
		cfg := base()
		cfg.Job.Destination = filepath.Join(dest, "nope")
		assert.Error(t, cfg.Validate())
	})

	t.Run("destination is a file", func(t *testing.T) {
		file := filepath.Join(dest, "f")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		cfg := base()
		cfg.Job.Destination = file
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad batch size", func(t *testing.T) {
		cfg := base()
		cfg.Job.BatchSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad workers", func(t *testing.T) {
		cfg := base()
		cfg.Perf.InnerWorkers = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown catalog kind", func(t *testing.T) {
		cfg := base()
		cfg.Catalog.Kind = "gopher"
		assert.Error(t, cfg.Validate())
	})
}
