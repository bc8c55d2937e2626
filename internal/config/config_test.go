package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
index:
  batch_size: 8
  deep_scan: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Index.BatchSize != 8 || !cfg.Index.DeepScan {
		t.Errorf("unexpected index config: %+v", cfg.Index)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/shashin.db"
scan:
  include_directories: ["./photos"]
  exclude_directories: ["./photos/private"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "shashin.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Scan.IncludeDirectories) != 1 || cfg.Scan.IncludeDirectories[0] != filepath.Join(dir, "photos") {
		t.Errorf("include directories: got %v", cfg.Scan.IncludeDirectories)
	}
	if len(cfg.Scan.ExcludeDirectories) != 1 || cfg.Scan.ExcludeDirectories[0] != filepath.Join(dir, "photos", "private") {
		t.Errorf("exclude directories: got %v", cfg.Scan.ExcludeDirectories)
	}
}

func TestLoad_envOverridesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
text_embed:
  provider: openai
  openai_api_key: "from-yaml"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvOpenAIAPIKey, "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TextEmbed.OpenAIAPIKey != "from-env" {
		t.Errorf("openai_api_key = %q, want from-env", cfg.TextEmbed.OpenAIAPIKey)
	}
}

func TestLoad_dotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("vector:\n  backend: qdrant\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvQdrantAPIKey+"=secret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	prev, had := os.LookupEnv(EnvQdrantAPIKey)
	_ = os.Unsetenv(EnvQdrantAPIKey)
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(EnvQdrantAPIKey, prev)
		} else {
			_ = os.Unsetenv(EnvQdrantAPIKey)
		}
	})
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.Qdrant.APIKey != "secret" {
		t.Errorf("qdrant api key = %q, want secret", cfg.Vector.Qdrant.APIKey)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 23107 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Index.BatchSize != 32 {
		t.Errorf("default batch size: got %d", cfg.Index.BatchSize)
	}
	if cfg.Scan.Method != ScanMethodDefault {
		t.Errorf("default scan method: got %s", cfg.Scan.Method)
	}
	if !reflect.DeepEqual(cfg.Scan.Extensions, DefaultImageExtensions) {
		t.Errorf("scan extensions: got %v", cfg.Scan.Extensions)
	}
	if cfg.Vector.Backend != "sqlite" {
		t.Errorf("default vector backend: got %s", cfg.Vector.Backend)
	}
	if cfg.Search.DefaultTopK != 5 || cfg.Search.DefaultThreshold != 0 {
		t.Errorf("search defaults: got %+v", cfg.Search)
	}
	if cfg.OCR.Provider != "none" || cfg.OCR.MinConfidence != 0.5 {
		t.Errorf("ocr defaults: got %+v", cfg.OCR)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.VectorDir = filepath.Join(dir, "vectors")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "ocr.bleve")
	cfg.Scan.IncludeDirectories = []string{filepath.Join(dir, "pics")}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Scan.IncludeDirectories, cfg.Scan.IncludeDirectories) {
		t.Errorf("include directories: got %v", got.Scan.IncludeDirectories)
	}
	if got.Storage.DatabasePath != cfg.Storage.DatabasePath {
		t.Errorf("database path: got %s", got.Storage.DatabasePath)
	}
}

func TestAddRemoveDirectory(t *testing.T) {
	list, changed := AddDirectory(nil, "/photos/")
	if !changed || len(list) != 1 || list[0] != "/photos" {
		t.Fatalf("add: got %v changed=%v", list, changed)
	}
	list, changed = AddDirectory(list, "/photos")
	if changed || len(list) != 1 {
		t.Errorf("duplicate add should be a no-op: %v", list)
	}
	list, changed = RemoveDirectory(list, "/photos")
	if !changed || len(list) != 0 {
		t.Errorf("remove: got %v changed=%v", list, changed)
	}
	_, changed = RemoveDirectory(list, "/missing")
	if changed {
		t.Error("removing missing directory should report no change")
	}
}
