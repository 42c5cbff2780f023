package cfg

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func validCfg() *Cfg {
	return &Cfg{
		Port:              "8080",
		Environment:       "development",
		DatabasePath:      "linkvault.db",
		MinioEndpoint:     "localhost:9000",
		Argon2Time:        4,
		Argon2Memory:      128 * 1024,
		Argon2Parallelism: 2,
		Pepper:            NewSecret(strings.Repeat("p", 32)),
		JWTSecret:         NewSecret(strings.Repeat("j", 32)),
		SessionTTL:        24 * time.Hour,
		MaxPasteSize:      64 * 1024,
		MaxFileSize:       10 * 1024 * 1024,
		DefaultTTL:        10 * time.Minute,
		MaxTTL:            30 * 24 * time.Hour,
		SweepInterval:     5 * time.Minute,
		SweepBatch:        100,
		BulkMaxIDs:        100,
		CascadeWorkers:    4,
		RateLimit:         RateLimitCfg{RPM: 60, ConservativeLimit: 5},
		ContextTimeout:    30 * time.Second,
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "8080" {
		t.Fatalf("Port = %q", c.Port)
	}
	if c.MaxPasteSize != 64*1024 || c.MaxFileSize != 10*1024*1024 {
		t.Fatalf("size defaults = %d / %d", c.MaxPasteSize, c.MaxFileSize)
	}
	if c.DefaultTTL != 600*time.Second || c.MaxTTL != 30*24*time.Hour {
		t.Fatalf("ttl defaults = %v / %v", c.DefaultTTL, c.MaxTTL)
	}
	if c.SweepInterval != 5*time.Minute || c.SweepBatch != 100 {
		t.Fatalf("sweep defaults = %v / %d", c.SweepInterval, c.SweepBatch)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_PASTE_SIZE", "1024")
	t.Setenv("DEFAULT_TTL", "2m")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 172.16.0.0/12")
	t.Setenv("REDIS_PASSWORD", "sekrit")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "9999" || c.MaxPasteSize != 1024 || c.DefaultTTL != 2*time.Minute {
		t.Fatalf("env not applied: %+v", c)
	}
	if len(c.TrustedProxies) != 2 || c.TrustedProxies[1] != "172.16.0.0/12" {
		t.Fatalf("TrustedProxies = %v", c.TrustedProxies)
	}
	if c.RedisPassword.Value() != "sekrit" {
		t.Fatal("secret value lost")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_PASTE_SIZE", "lots")
	if _, err := Load(); err == nil {
		t.Fatal("bad integer accepted")
	}
}

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("hunter22")
	if fmt.Sprintf("%v", s) == "hunter22" || fmt.Sprintf("%s", s) == "hunter22" {
		t.Fatal("secret leaks through formatting")
	}
	if s.Value() != "hunter22" {
		t.Fatal("Value() lost the secret")
	}
	s.Wipe()
	if strings.Contains(s.Value(), "hunter22") {
		t.Fatal("Wipe left the secret intact")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(validCfg()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	mutations := []struct {
		name   string
		mutate func(*Cfg)
	}{
		{"port not a number", func(c *Cfg) { c.Port = "http" }},
		{"db path escapes workdir", func(c *Cfg) { c.DatabasePath = "/etc/linkvault.db" }},
		{"rediss without tls", func(c *Cfg) { c.RedisURL = "rediss://host:6379"; c.RedisTLS = false }},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "http://host:6379" }},
		{"missing minio endpoint", func(c *Cfg) { c.MinioEndpoint = "" }},
		{"weak argon2 time", func(c *Cfg) { c.Argon2Time = 1 }},
		{"weak argon2 memory", func(c *Cfg) { c.Argon2Memory = 1024 }},
		{"short pepper", func(c *Cfg) { c.Pepper = NewSecret("short") }},
		{"short jwt secret", func(c *Cfg) { c.JWTSecret = NewSecret("short") }},
		{"session ttl too short", func(c *Cfg) { c.SessionTTL = time.Second }},
		{"paste size over ceiling", func(c *Cfg) { c.MaxPasteSize = 11 * 1024 * 1024 }},
		{"file size over ceiling", func(c *Cfg) { c.MaxFileSize = 101 * 1024 * 1024 }},
		{"max ttl below default", func(c *Cfg) { c.MaxTTL = time.Minute; c.DefaultTTL = time.Hour }},
		{"sweep interval too tight", func(c *Cfg) { c.SweepInterval = time.Second }},
		{"bulk ids out of range", func(c *Cfg) { c.BulkMaxIDs = 5000 }},
		{"bad trusted proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }},
		{"production without metrics auth", func(c *Cfg) { c.Environment = "production" }},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			c := validCfg()
			m.mutate(c)
			if err := Validate(c); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}

	prod := validCfg()
	prod.Environment = "production"
	prod.MetricsUser = "ops"
	prod.MetricsPass = NewSecret("strongpass")
	if err := Validate(prod); err != nil {
		t.Fatalf("production config with metrics auth rejected: %v", err)
	}
}
