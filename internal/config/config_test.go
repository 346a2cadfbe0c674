package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSQLiteDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("APP_TIMEZONE", "America/Bogota")
	t.Setenv("SWEEP_INTERVAL", "10s")
	t.Setenv("DISPATCH_RETRIES", "0")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://broker:5672/")

	cfg := Load()
	if cfg.DBDriver != "sqlite" || cfg.Port != "8080" {
		t.Fatalf("driver/port = %s/%s", cfg.DBDriver, cfg.Port)
	}
	if cfg.Timezone.String() != "America/Bogota" {
		t.Fatalf("timezone = %s", cfg.Timezone)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("sweep interval = %s, want clamped to 1m", cfg.SweepInterval)
	}
	if cfg.DispatchRetries != 1 {
		t.Fatalf("dispatch retries = %d, want 1", cfg.DispatchRetries)
	}
	if cfg.RabbitURL != "amqp://broker:5672/" {
		t.Fatalf("rabbit url = %s", cfg.RabbitURL)
	}
	if !cfg.SweepEnabled || cfg.QueueEnabled {
		t.Fatalf("sweep/queue = %v/%v", cfg.SweepEnabled, cfg.QueueEnabled)
	}
}

func TestLoadEnvFileKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LABS_TEST_A=from-file\nLABS_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LABS_TEST_A", "from-env")
	t.Setenv("LABS_TEST_B", "")
	os.Unsetenv("LABS_TEST_B")

	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("LABS_TEST_A"); got != "from-env" {
		t.Fatalf("A = %q, want the process value", got)
	}
	if got := os.Getenv("LABS_TEST_B"); got != "from-file" {
		t.Fatalf("B = %q, want the file value", got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestSideConfigs(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	rl := LoadRateLimitConfig()
	if rl.Capacity != 1 || rl.TTL != 10*time.Second {
		t.Fatalf("rate limit = %+v", rl)
	}

	t.Setenv("CACHE_METHODS", " get, head ,")
	if m := LoadCacheConfig().Methods; !m["GET"] || !m["HEAD"] || len(m) != 2 {
		t.Fatalf("cache methods = %v", m)
	}

	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_ENABLED", "off")
	rc := LoadRedisConfig()
	if rc.Addr != "cache:6380" || rc.Enabled {
		t.Fatalf("redis = %+v", rc)
	}
	if NewRedisClient(rc) != nil {
		t.Fatal("disabled redis returned a client")
	}
}
