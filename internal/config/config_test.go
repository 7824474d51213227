package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("addr = %s", cfg.Addr)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if !cfg.Mirakl.Mock {
		t.Error("mirakl not mocked by default")
	}
	if cfg.AuthMode != "dev" {
		t.Errorf("auth mode = %s", cfg.AuthMode)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
addr: ":9090"
data_dir: /var/lib/shipflow
mirakl:
  base_url: https://shop.mirakl.example
  api_key: file-key
  mock: false
carriers:
  tipsa:
    base_url: https://tipsa.example
    api_key: tipsa-key
  gls:
    mock: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MIRAKL_API_KEY", "env-key")
	t.Setenv("POLL_INTERVAL_SECONDS", "30")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("addr = %s", cfg.Addr)
	}
	if cfg.Mirakl.APIKey != "env-key" {
		t.Errorf("env override lost: api key = %s", cfg.Mirakl.APIKey)
	}
	if cfg.Mirakl.Mock {
		t.Error("mirakl mock not overridden by file")
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if cc := cfg.Carrier("tipsa"); cc.APIKey != "tipsa-key" || cc.Mock {
		t.Errorf("tipsa config = %+v", cc)
	}
	// unconfigured carriers run mocked
	if cc := cfg.Carrier("seur"); !cc.Mock {
		t.Errorf("seur config = %+v, want mock", cc)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("addr = %s", cfg.Addr)
	}
}
