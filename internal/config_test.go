package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/arkeimport/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Store.URL = "http://localhost:8787"
	return cfg
}

func TestDefaultConfig_RequiresStoreURL(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("default config without store url should fail")
	}
	if !strings.Contains(err.Error(), "store") {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config with store url should pass: %v", err)
	}
}

func TestStoreConfig_RelativeURL(t *testing.T) {
	cfg := validConfig()
	cfg.Store.URL = "localhost:8787"
	if err := cfg.Validate(); err == nil {
		t.Fatal("relative store url should fail")
	}
}

func TestStoreConfig_AnchorPath(t *testing.T) {
	cfg := validConfig()
	cfg.Store.AnchorPath = "arke"
	if err := cfg.Validate(); err == nil {
		t.Fatal("anchor path without leading slash should fail")
	}
}

func TestSourceConfig_DirRequiresDir(t *testing.T) {
	cfg := validConfig()
	cfg.Source.Kind = SourceKindDir
	err := cfg.Validate()
	if err == nil {
		t.Fatal("dir source without dir should fail")
	}
	cfg.Source.Dir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dir source with dir should pass: %v", err)
	}
}

func TestSourceConfig_InvalidKind(t *testing.T) {
	cfg := validConfig()
	cfg.Source.Kind = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown source kind should fail")
	}
}

func TestSourceConfig_Pattern(t *testing.T) {
	cfg := validConfig()
	cfg.Source.Pattern = "shard.jsonl"
	if err := cfg.Validate(); err == nil {
		t.Fatal("pattern without a shard placeholder should fail")
	}
}

func TestImportConfig_Bounds(t *testing.T) {
	cases := map[string]func(*ImportConfig){
		"checkpoint every": func(c *ImportConfig) { c.CheckpointEvery = 0 },
		"negative delay":   func(c *ImportConfig) { c.Delay = -time.Second },
		"negative cap":     func(c *ImportConfig) { c.MaxRecords = -1 },
		"no workers":       func(c *ImportConfig) { c.VerifyWorkers = 0 },
		"no institution":   func(c *ImportConfig) { c.Institution.Name = "" },
		"no collection id": func(c *ImportConfig) { c.CollectionID = "" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg.Import)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestStatusConfig_DisabledSkipsPort(t *testing.T) {
	cfg := validConfig()
	cfg.App.Status.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled status server should ignore port: %v", err)
	}
	cfg.App.Status.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled status server without port should fail")
	}
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	t.Setenv("TEST_STORE_URL", "https://arke.example.org")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  log_level: debug
store:
  url: ${TEST_STORE_URL}
  timeout: 30s
source:
  kind: dir
  dir: ./shards
import:
  delay: 0s
  max_records: 100
  verify_workers: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.URL != "https://arke.example.org" {
		t.Errorf("store url = %q", cfg.Store.URL)
	}
	if cfg.Store.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.Store.Timeout)
	}
	if cfg.Import.Delay != 0 || cfg.Import.MaxRecords != 100 || cfg.Import.VerifyWorkers != 4 {
		t.Errorf("import = %+v", cfg.Import)
	}
	// Untouched keys keep their defaults.
	if cfg.Import.CheckpointEvery != 10 || cfg.Source.ShardCount != 72 {
		t.Errorf("defaults lost: every=%d shards=%d", cfg.Import.CheckpointEvery, cfg.Source.ShardCount)
	}
	if cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("log level = %v", cfg.App.LogLevel)
	}
}
