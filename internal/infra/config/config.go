package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config -
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Vault    VaultConfig    `mapstructure:"vault"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
}

type AppConfig struct {
	DataDir        string        `mapstructure:"data_dir"`
	LogDir         string        `mapstructure:"log_dir"`
	HTTPAddr       string        `mapstructure:"http_addr"`
	FirstTickDelay time.Duration `mapstructure:"first_tick_delay"`
	TickTimeout    time.Duration `mapstructure:"tick_timeout"`
	MaxBotsPerUser int           `mapstructure:"max_bots_per_user"`
	HistorySize    int           `mapstructure:"history_size"`
}

type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// RPCConfig - Networks overrides the built-in endpoint lists, keyed by network id.
type RPCConfig struct {
	RequestTimeout  time.Duration       `mapstructure:"request_timeout"`
	RateLimit       float64             `mapstructure:"rate_limit"`
	RateBurst       int                 `mapstructure:"rate_burst"`
	MaxResponseSize int64               `mapstructure:"max_response_size"`
	Networks        map[string][]string `mapstructure:"networks"`
}

type StorageConfig struct {
	Driver       string `mapstructure:"driver"` // memory | postgres
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	SnapshotFile string `mapstructure:"snapshot_file"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type StripeConfig struct {
	SecretKey       string            `mapstructure:"secret_key"`
	WebhookSecret   string            `mapstructure:"webhook_secret"`
	PortalReturnURL string            `mapstructure:"portal_return_url"`
	Prices          map[string]string `mapstructure:"prices"`
}

// LoadConfig layers, lowest first:
// 1. defaults
// 2. config.yaml
// 3. .env file
// 4. environment
// 5. flags (when a flag set is given)
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	godotenv.Load(".env")

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("etc")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CRYPTOBOTICS")
	v.AutomaticEnv()

	setupEnvAliases(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// KAFKA_BROKERS arrives as one comma separated string
	if raw := v.Get("kafka.brokers"); raw != nil {
		switch b := raw.(type) {
		case string:
			config.Kafka.Brokers = splitList(b)
		case []string:
			config.Kafka.Brokers = b
		case []interface{}:
			result := make([]string, 0, len(b))
			for _, item := range b {
				if str, ok := item.(string); ok {
					result = append(result, strings.TrimSpace(str))
				}
			}
			config.Kafka.Brokers = result
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setupEnvAliases(v *viper.Viper) {
	v.BindEnv("app.http_addr", "HTTP_ADDR")
	v.BindEnv("app.data_dir", "DATA_DIR")
	v.BindEnv("app.log_dir", "LOG_DIR")

	v.BindEnv("vault.encryption_key", "ENCRYPTION_KEY")

	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.postgres_dsn", "DATABASE_URL")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")

	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")

	v.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	v.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")
}

// setDefaults -
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.data_dir", "data")
	v.SetDefault("app.log_dir", "logs")
	v.SetDefault("app.http_addr", ":5000")
	v.SetDefault("app.first_tick_delay", 100*time.Millisecond)
	v.SetDefault("app.tick_timeout", 60*time.Second)
	v.SetDefault("app.max_bots_per_user", 5)
	v.SetDefault("app.history_size", 256)

	// Vault
	v.SetDefault("vault.encryption_key", "cryptobotics-key")

	// RPC
	v.SetDefault("rpc.request_timeout", 10*time.Second)
	v.SetDefault("rpc.rate_limit", 10.0)
	v.SetDefault("rpc.rate_burst", 20)
	v.SetDefault("rpc.max_response_size", 10*1024*1024) // 10MB

	// Storage
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.snapshot_file", "store.json")

	// Redis
	v.SetDefault("redis.db", 0)

	// Kafka
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "bot-updates")

	// Stripe
	v.SetDefault("stripe.portal_return_url", "http://localhost:5000/dashboard")
}

var knownNetworks = map[string]bool{
	"ethereum": true,
	"bsc":      true,
	"polygon":  true,
	"arbitrum": true,
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Vault.EncryptionKey) == "" {
		return fmt.Errorf("vault.encryption_key is required")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want memory or postgres)", cfg.Storage.Driver)
	}

	for network, urls := range cfg.RPC.Networks {
		if !knownNetworks[network] {
			return fmt.Errorf("rpc.networks: unsupported network %q", network)
		}
		if len(urls) == 0 {
			return fmt.Errorf("rpc.networks.%s: at least one endpoint is required", network)
		}
	}

	if cfg.RPC.RequestTimeout <= 0 {
		return fmt.Errorf("rpc.request_timeout must be positive")
	}
	if cfg.App.MaxBotsPerUser <= 0 {
		return fmt.Errorf("app.max_bots_per_user must be positive")
	}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}

	return nil
}
