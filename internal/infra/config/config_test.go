package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.MaxBotsPerUser != 5 {
		t.Fatalf("unexpected max bots: got %d want 5", cfg.App.MaxBotsPerUser)
	}
	if cfg.RPC.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected rpc timeout: %s", cfg.RPC.RequestTimeout)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected driver: %q", cfg.Storage.Driver)
	}
	if cfg.App.FirstTickDelay != 100*time.Millisecond {
		t.Fatalf("unexpected first tick delay: %s", cfg.App.FirstTickDelay)
	}
}

func TestLoadConfigYAMLAndEnv(t *testing.T) {
	dir := chdirTemp(t)

	yaml := []byte(`
rpc:
  request_timeout: 3s
  networks:
    polygon:
      - http://a.example
      - http://b.example
kafka:
  topic: ticks
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("ENCRYPTION_KEY", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RPC.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected rpc timeout: %s", cfg.RPC.RequestTimeout)
	}
	if got := cfg.RPC.Networks["polygon"]; len(got) != 2 || got[1] != "http://b.example" {
		t.Fatalf("unexpected polygon endpoints: %v", got)
	}
	if cfg.Vault.EncryptionKey != "from-env" {
		t.Fatalf("unexpected encryption key: %q", cfg.Vault.EncryptionKey)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topic != "ticks" {
		t.Fatalf("unexpected topic: %q", cfg.Kafka.Topic)
	}
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	chdirTemp(t)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("app.http_addr", ":5000", "")
	if err := fs.Parse([]string{"--app.http_addr=:9999"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadConfig(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.HTTPAddr != ":9999" {
		t.Fatalf("unexpected addr: %q", cfg.App.HTTPAddr)
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		return Config{
			App:     AppConfig{MaxBotsPerUser: 5},
			Vault:   VaultConfig{EncryptionKey: "k"},
			RPC:     RPCConfig{RequestTimeout: time.Second},
			Storage: StorageConfig{Driver: "memory"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"empty key", func(c *Config) { c.Vault.EncryptionKey = " " }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, true},
		{"unknown network", func(c *Config) { c.RPC.Networks = map[string][]string{"solana": {"http://x"}} }, true},
		{"empty network list", func(c *Config) { c.RPC.Networks = map[string][]string{"bsc": {}} }, true},
		{"telegram without chat", func(c *Config) { c.Telegram.BotToken = "t" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := validateConfig(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
