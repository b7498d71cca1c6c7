package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func baseFields() map[string]string {
	return map[string]string{
		"port":           "8080",
		"logLevel":       "info",
		"parseServerURL": "https://parseapi.back4app.com",
		"parseAppID":     "app-id",
		"parseRESTKey":   "rest-key",
		"geminiAPIKey":   "gemini-key",
		"tokenSecret":    "0123456789abcdef0123456789abcdef",
		"redisAddr":      "localhost:6379",
		"minioEndpoint":  "localhost:9000",
		"minioAccessKey": "minio",
		"minioSecretKey": "minio123",
		"minioBucket":    "exampro-proofs",
		"syncInterval":   "15s",
	}
}

func writeConfig(t *testing.T, fields map[string]string) string {
	t.Helper()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	content := ""
	for _, k := range keys {
		content += fmt.Sprintf("%s: %q\n", k, fields[k])
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseFields()))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.GenerationModel != "gemini-3-flash-preview" {
		t.Fatalf("generationModel = %q", cfg.GenerationModel)
	}
	if cfg.SnapshotDSN != "exampro.db" {
		t.Fatalf("snapshotDSN = %q", cfg.SnapshotDSN)
	}
	if cfg.NoteStream != "exampro:notes" || cfg.NoteWorkers != 2 {
		t.Fatalf("queue defaults not applied: %+v", cfg)
	}
	interval, err := ParseSyncInterval(cfg.SyncInterval)
	if err != nil {
		t.Fatalf("parse sync interval: %v", err)
	}
	if interval != 15*time.Second {
		t.Fatalf("syncInterval = %v", interval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("PARSE_REST_KEY", "env-rest")
	t.Setenv("EXAMPRO_SNAPSHOT_DSN", "postgres://x:y@localhost:5432/exampro")

	cfg, err := Load(writeConfig(t, baseFields()))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.GeminiAPIKey != "env-gemini" {
		t.Fatalf("geminiAPIKey = %q", cfg.GeminiAPIKey)
	}
	if cfg.ParseRESTKey != "env-rest" {
		t.Fatalf("parseRESTKey = %q", cfg.ParseRESTKey)
	}
	if cfg.SnapshotDSN != "postgres://x:y@localhost:5432/exampro" {
		t.Fatalf("snapshotDSN = %q", cfg.SnapshotDSN)
	}
}

func TestLoadRejectsMissingRequirements(t *testing.T) {
	for _, key := range []string{"port", "parseAppID", "geminiAPIKey", "tokenSecret", "redisAddr", "minioBucket"} {
		fields := baseFields()
		delete(fields, key)
		if _, err := Load(writeConfig(t, fields)); err == nil {
			t.Errorf("%s: expected validation error", key)
		}
	}
}

func TestLoadRejectsTinySyncInterval(t *testing.T) {
	fields := baseFields()
	fields["syncInterval"] = "100ms"
	if _, err := Load(writeConfig(t, fields)); err == nil {
		t.Fatal("expected error for sub-second interval")
	}
}
