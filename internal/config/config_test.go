package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseConfig = `
port: "8080"
databaseURL: "postgres://localhost:5432/books"
elasticAddresses:
  - "http://localhost:9200"
redisAddr: "localhost:6379"
`

func TestLoadReadsYAML(t *testing.T) {
	path := writeConfig(t, baseConfig+`
logLevel: "debug"
clientOrigin: "http://localhost:3000"
elasticIndex: "books-test"
outboxConcurrency: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.ElasticAddresses) != 1 || cfg.ElasticAddresses[0] != "http://localhost:9200" {
		t.Fatalf("elastic addresses %v", cfg.ElasticAddresses)
	}
	if cfg.ElasticIndex != "books-test" || cfg.OutboxConcurrency != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.OutboxStream == "" || cfg.OutboxGroup == "" {
		t.Fatal("outbox stream and group must default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, baseConfig)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://db.internal:5432/books")
	t.Setenv("ELASTIC_ADDRESSES", "http://es1:9200, http://es2:9200")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://db.internal:5432/books" {
		t.Fatalf("databaseURL = %q", cfg.DatabaseURL)
	}
	if len(cfg.ElasticAddresses) != 2 || cfg.ElasticAddresses[1] != "http://es2:9200" {
		t.Fatalf("elastic addresses %v", cfg.ElasticAddresses)
	}
	if cfg.RedisAddr != "redis.internal:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoadRequiresSearchConnection(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost:5432/books"
redisAddr: "localhost:6379"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "elastic") {
		t.Fatalf("expected missing elastic error, got %v", err)
	}
}

func TestLoadCloudIDRequiresCredentials(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost:5432/books"
redisAddr: "localhost:6379"
elasticCloudID: "deploy:abc"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "elasticUsername") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
elasticAddresses: ["http://localhost:9200"]
redisAddr: "localhost:6379"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "databaseURL") {
		t.Fatalf("expected databaseURL error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
