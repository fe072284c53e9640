package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Filters narrows a crawl. It is read from the "filters" object of a JSON
// file such as {"filters": {"brands": ["Toyota"], "max_pages": 5}}.
type Filters struct {
	Brands   []string `mapstructure:"brands"`
	MaxPages int      `mapstructure:"max_pages"`
}

// ReadFilters parses the filters file at path.
func ReadFilters(path string) (Filters, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Filters{}, fmt.Errorf("filters not found at %s: %w", path, err)
		}
		return Filters{}, fmt.Errorf("stat filters: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return Filters{}, fmt.Errorf("read filters: %w", err)
	}
	var f Filters
	if err := v.UnmarshalKey("filters", &f); err != nil {
		return Filters{}, fmt.Errorf("decode filters: %w", err)
	}
	brands := f.Brands[:0]
	for _, b := range f.Brands {
		if b = strings.TrimSpace(b); b != "" {
			brands = append(brands, b)
		}
	}
	f.Brands = brands
	if f.MaxPages < 0 {
		return Filters{}, fmt.Errorf("filters.max_pages must be >= 0, got %d", f.MaxPages)
	}
	return f, nil
}

// LoadFilters reads the filters file and degrades to no filters (unbounded
// walk) when it is missing or unreadable. An empty path means no filters.
func LoadFilters(path string, logger *zap.Logger) Filters {
	if strings.TrimSpace(path) == "" {
		return Filters{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := ReadFilters(path)
	if err != nil {
		logger.Error("Error loading filters, crawling without them", zap.String("path", path), zap.Error(err))
		return Filters{}
	}
	return f
}

// ResolveMaxPages applies flag > filters file > unbounded precedence.
// Zero means unbounded.
func ResolveMaxPages(flagValue int, filters Filters) int {
	if flagValue > 0 {
		return flagValue
	}
	if filters.MaxPages > 0 {
		return filters.MaxPages
	}
	return 0
}
