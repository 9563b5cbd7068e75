package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("ZCLASS_TEST_HOST", "db.internal")

	cases := []struct {
		in   string
		want string
	}{
		{"host: ${ZCLASS_TEST_HOST}", "host: db.internal"},
		{"host: ${ZCLASS_TEST_HOST:localhost}", "host: db.internal"},
		{"port: ${ZCLASS_TEST_MISSING:5432}", "port: 5432"},
		{"key: ${ZCLASS_TEST_MISSING}", "key: ${ZCLASS_TEST_MISSING}"},
		{"empty: ${ZCLASS_TEST_MISSING:}", "empty: "},
	}
	for _, tc := range cases {
		if got := expandEnv(tc.in); got != tc.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadFromDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")

	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Storage.Backend != StorageBackendFile {
		t.Errorf("storage backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Jobs.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Jobs.Workers)
	}
	if cfg.Generation.RepairRounds != 3 {
		t.Errorf("repair rounds = %d, want 3", cfg.Generation.RepairRounds)
	}
	if cfg.Cache.Redis.ClassTTL != 24*time.Hour {
		t.Errorf("class ttl = %s, want 24h", cfg.Cache.Redis.ClassTTL)
	}
	if p, ok := cfg.LLM.Providers["ollama"]; !ok || p.Type != ProviderTypeOllama {
		t.Errorf("default ollama provider missing: %+v", cfg.LLM.Providers)
	}
}

func TestLoadFromFileOverridesAndValidates(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	dir := t.TempDir()

	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("config.yaml", "jobs:\n  workers: 4\nstorage:\n  backend: gcs\n  gcs:\n    bucket: ${ZCLASS_TEST_BUCKET:classes-bucket}\n")
	write("config.test.yaml", "jobs:\n  queue_size: 7\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Jobs.Workers != 4 || cfg.Jobs.QueueSize != 7 {
		t.Errorf("jobs = %+v, want workers=4 queue_size=7", cfg.Jobs)
	}
	if cfg.Storage.GCS.Bucket != "classes-bucket" {
		t.Errorf("bucket = %q, want classes-bucket", cfg.Storage.GCS.Bucket)
	}

	// 空 bucket 会在 Validate 中被拒绝
	cfg.Storage.GCS.Bucket = " "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for gcs backend without bucket")
	}
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}
