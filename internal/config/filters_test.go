package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReadFilters(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "filters.json", `{"filters": {"brands": ["Toyota", " ", "Kia"], "max_pages": 5}}`)
	f, err := ReadFilters(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Toyota", "Kia"}, f.Brands)
	assert.Equal(t, 5, f.MaxPages)
}

func TestReadFiltersWithoutFiltersKey(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "filters.json", `{"other": true}`)
	f, err := ReadFilters(path)
	require.NoError(t, err)
	assert.Empty(t, f.Brands)
	assert.Zero(t, f.MaxPages)
}

func TestLoadFiltersDegrades(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing":  filepath.Join(t.TempDir(), "filters.json"),
		"corrupt":  writeFile(t, "filters.json", `{"filters": [`),
		"negative": writeFile(t, "filters.json", `{"filters": {"max_pages": -2}}`),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.ErrorLevel)
			f := LoadFilters(path, zap.New(core))
			assert.Equal(t, Filters{}, f)
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, path, logs.All()[0].ContextMap()["path"])
		})
	}
}

func TestLoadFiltersEmptyPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Filters{}, LoadFilters("", nil))
}

func TestResolveMaxPages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flag    int
		filters Filters
		want    int
	}{
		{name: "flag wins", flag: 2, filters: Filters{MaxPages: 9}, want: 2},
		{name: "filters when no flag", flag: 0, filters: Filters{MaxPages: 9}, want: 9},
		{name: "unbounded", flag: 0, filters: Filters{}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolveMaxPages(tt.flag, tt.filters))
		})
	}
}
