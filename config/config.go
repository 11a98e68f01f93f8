// Package config loads the frozen, environment-driven configuration for the
// scrape-to-answer pipeline. Values have documented defaults; an optional
// YAML file may override them before environment variables are applied.
// An override file naming an unrecognized option is rejected rather than
// silently ignored.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single frozen record enumerating every recognized tunable.
type Config struct {
	StorageBasePath string `yaml:"storage_base_path"`

	BrowserTimeout            time.Duration `yaml:"browser_timeout"`
	BrowserWaitFor            string        `yaml:"browser_wait_for"`
	MaxConcurrentBrowsers     int           `yaml:"max_concurrent_browsers"`
	MaxConcurrentExtractions  int           `yaml:"max_concurrent_extractions"`
	MaxPagesPerSite           int           `yaml:"max_pages_per_site"`

	ChunkCharLimit int `yaml:"chunk_char_limit"`
	ChunkOverlap   int `yaml:"chunk_overlap"`

	DefaultTopK    int           `yaml:"default_top_k"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// yamlKeys are the only top-level keys accepted in an override file. A file
// containing any other key is rejected rather than silently ignored, per
// the "unknown options are rejected loudly" design note.
var yamlKeys = map[string]bool{
	"storage_base_path":           true,
	"browser_timeout":             true,
	"browser_wait_for":            true,
	"max_concurrent_browsers":     true,
	"max_concurrent_extractions":  true,
	"max_pages_per_site":          true,
	"chunk_char_limit":            true,
	"chunk_overlap":               true,
	"default_top_k":               true,
	"default_timeout":             true,
}

func defaults() Config {
	return Config{
		StorageBasePath:          "./data",
		BrowserTimeout:           60 * time.Second,
		BrowserWaitFor:           "networkidle",
		MaxConcurrentBrowsers:    3,
		MaxConcurrentExtractions: 5,
		MaxPagesPerSite:          1000,
		ChunkCharLimit:           4000,
		ChunkOverlap:             200,
		DefaultTopK:              10,
		DefaultTimeout:           30 * time.Second,
	}
}

// Load builds a Config from defaults, an optional YAML override file (if
// path is non-empty and exists), and environment variables, in that
// priority order (env wins).
func Load(yamlPath string) (*Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		switch {
		case err == nil:
			var raw map[string]interface{}
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
			for key := range raw {
				if !yamlKeys[key] {
					return nil, fmt.Errorf("config: unrecognized option %q in %s", key, yamlPath)
				}
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	if v := os.Getenv("STORAGE_BASE_PATH"); v != "" {
		cfg.StorageBasePath = v
	}
	if v := os.Getenv("BROWSER_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return nil, fmt.Errorf("config: BROWSER_TIMEOUT: %w", err)
		}
		cfg.BrowserTimeout = d
	}
	if v := os.Getenv("BROWSER_WAIT_FOR"); v != "" {
		cfg.BrowserWaitFor = v
	}
	if v := os.Getenv("MAX_CONCURRENT_BROWSERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MAX_CONCURRENT_BROWSERS: %w", err)
		}
		cfg.MaxConcurrentBrowsers = n
	}
	if v := os.Getenv("MAX_CONCURRENT_EXTRACTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MAX_CONCURRENT_EXTRACTIONS: %w", err)
		}
		cfg.MaxConcurrentExtractions = n
	}
	if v := os.Getenv("MAX_PAGES_PER_SITE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MAX_PAGES_PER_SITE: %w", err)
		}
		cfg.MaxPagesPerSite = n
	}
	if v := os.Getenv("CHUNK_CHAR_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: CHUNK_CHAR_LIMIT: %w", err)
		}
		cfg.ChunkCharLimit = n
	}
	if v := os.Getenv("CHUNK_OVERLAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: CHUNK_OVERLAP: %w", err)
		}
		cfg.ChunkOverlap = n
	}
	if v := os.Getenv("DEFAULT_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: DEFAULT_TOP_K: %w", err)
		}
		cfg.DefaultTopK = n
	}
	if v := os.Getenv("DEFAULT_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return nil, fmt.Errorf("config: DEFAULT_TIMEOUT: %w", err)
		}
		cfg.DefaultTimeout = d
	}

	return &cfg, nil
}

func parseSeconds(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
