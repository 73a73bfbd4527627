package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("ROW_CAP", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if cfg.Pipeline.RowCap != 10 {
		t.Errorf("expected default row cap 10, got %d", cfg.Pipeline.RowCap)
	}
	if cfg.Pipeline.StaleAfter != 72*time.Hour {
		t.Errorf("expected 72h staleness window, got %s", cfg.Pipeline.StaleAfter)
	}
	if cfg.Pipeline.PollInterval != time.Minute {
		t.Errorf("expected 1m poll interval, got %s", cfg.Pipeline.PollInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("ROW_CAP", "3")
	t.Setenv("POLL_INTERVAL", "15s")
	t.Setenv("MAX_ATTEMPTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver should be lower-cased, got %q", cfg.Database.Driver)
	}
	if cfg.Pipeline.RowCap != 3 {
		t.Errorf("expected row cap 3, got %d", cfg.Pipeline.RowCap)
	}
	if cfg.Pipeline.PollInterval != 15*time.Second {
		t.Errorf("expected 15s, got %s", cfg.Pipeline.PollInterval)
	}
	if cfg.Pipeline.MaxAttempts != 0 {
		t.Errorf("expected unlimited attempts, got %d", cfg.Pipeline.MaxAttempts)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"non-numeric cap", "ROW_CAP", "ten", "ROW_CAP"},
		{"zero cap", "ROW_CAP", "0", "ROW_CAP must be at least 1"},
		{"bad duration", "POLL_INTERVAL", "soon", "POLL_INTERVAL"},
		{"unknown driver", "DB_DRIVER", "oracle", "unsupported DB_DRIVER"},
		{"unknown metrics", "METRICS_BACKEND", "statsd", "unsupported METRICS_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestSQLiteRequiresURL(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing for sqlite")
	}
}
