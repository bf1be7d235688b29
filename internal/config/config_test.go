package config

import (
	"encoding/hex"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected development env, got %q", cfg.Env)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("expected IsDevelopment true")
	}
	if !cfg.UsingDevKey {
		t.Fatal("expected dev key fallback without SECRET_KEY")
	}
	if len(cfg.SecretKey) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(cfg.SecretKey))
	}
	if cfg.SessionTTL != 72*time.Hour {
		t.Fatalf("expected 72h session TTL, got %v", cfg.SessionTTL)
	}
}

func TestLoadHexSecretKey(t *testing.T) {
	key := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	t.Setenv("SECRET_KEY", key)

	cfg := Load()

	if cfg.UsingDevKey {
		t.Fatal("expected explicit key")
	}
	want, _ := hex.DecodeString(key)
	if string(cfg.SecretKey) != string(want) {
		t.Fatal("hex key decoded incorrectly")
	}
}

func TestProductionRequiresSecretKey(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SECRET_KEY", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without SECRET_KEY in production")
		}
	}()
	Load()
}

func TestCORSOrigins(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg := Load()

	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
}
