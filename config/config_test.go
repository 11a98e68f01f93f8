package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.StorageBasePath != "./data" {
		t.Errorf("StorageBasePath = %q", cfg.StorageBasePath)
	}
	if cfg.MaxConcurrentBrowsers != 3 {
		t.Errorf("MaxConcurrentBrowsers = %d", cfg.MaxConcurrentBrowsers)
	}
	if cfg.ChunkCharLimit != 4000 || cfg.ChunkOverlap != 200 {
		t.Errorf("chunk limits = %d/%d", cfg.ChunkCharLimit, cfg.ChunkOverlap)
	}
}

func TestLoad_YAMLOverride(t *testing.T) {
	yaml := "storage_base_path: /tmp/scrapeqa\nmax_concurrent_browsers: 8\n"
	f, err := os.CreateTemp("", "config_test_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.WriteString(yaml)
	f.Close()

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StorageBasePath != "/tmp/scrapeqa" {
		t.Errorf("StorageBasePath = %q", cfg.StorageBasePath)
	}
	if cfg.MaxConcurrentBrowsers != 8 {
		t.Errorf("MaxConcurrentBrowsers = %d", cfg.MaxConcurrentBrowsers)
	}
}

func TestLoad_YAMLUnknownKeyRejected(t *testing.T) {
	yaml := "storage_base_path: /tmp/scrapeqa\nbogus_option: true\n"
	f, err := os.CreateTemp("", "config_test_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.WriteString(yaml)
	f.Close()

	if _, err := Load(f.Name()); err == nil {
		t.Error("expected error for unrecognized option")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	f, err := os.CreateTemp("", "config_test_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.WriteString("max_pages_per_site: 7\n")
	f.Close()

	t.Setenv("MAX_PAGES_PER_SITE", "42")
	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxPagesPerSite != 42 {
		t.Errorf("MaxPagesPerSite = %d", cfg.MaxPagesPerSite)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("MAX_PAGES_PER_SITE", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric MAX_PAGES_PER_SITE")
	}
}
