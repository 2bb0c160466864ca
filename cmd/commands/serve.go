package commands

// serve wires storage, the chain client, the scheduler, billing and the HTTP
// API, resumes active bots and shuts everything down on SIGINT/SIGTERM.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	monitor "cryptobotics/bots_monitor"
	"cryptobotics/internal/api"
	"cryptobotics/internal/billing"
	"cryptobotics/internal/clients_api/evm"
	"cryptobotics/internal/features/vault"
	"cryptobotics/internal/infra/config"
	"cryptobotics/internal/infra/kafka"
	logging "cryptobotics/internal/infra/log"
	"cryptobotics/internal/infra/retry"
	"cryptobotics/internal/service"
	"cryptobotics/internal/storage"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the bot scheduler",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("app.http_addr", ":5000", "HTTP listen address")
	f.String("storage.driver", "memory", "storage backend: memory or postgres")
	f.String("storage.postgres_dsn", "", "PostgreSQL connection string")
	f.String("redis.addr", "", "Redis address for shared platform counters (optional)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		logging.LogError("Failed to load config", zap.Error(err))
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(cfg.App.LogDir); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logging.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, flush, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := flush(); err != nil {
			logging.LogError("Failed to flush store", zap.Error(err))
		}
		store.Close()
	}()

	sealer, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to init vault: %w", err)
	}

	history, err := monitor.NewHistory(0, cfg.App.HistorySize)
	if err != nil {
		return fmt.Errorf("failed to init history: %w", err)
	}

	chain := newChainClient(cfg, store)

	hub := api.NewHub()
	defer hub.Close()

	tg := newTelegram(cfg)
	notifier, closeNotifiers, err := buildNotifiers(cfg, hub, tg)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	sched := monitor.NewScheduler(monitor.Options{
		Store:          store,
		Stats:          store,
		Chain:          chain,
		Notifier:       notifier,
		History:        history,
		FirstTickDelay: cfg.App.FirstTickDelay,
		TickTimeout:    cfg.App.TickTimeout,
	})
	defer sched.Shutdown()

	resumed, err := sched.Resume(ctx)
	if err != nil {
		logging.LogError("Failed to resume active bots", zap.Error(err))
	}

	if tg != nil {
		go monitor.NewCommandHandler(tg, cfg.Telegram.ChatID, store, sched, history).Run(ctx)
	}

	reset := monitor.NewDailyReset(monitor.RealClock{}, store, time.UTC)
	reset.Start()
	defer reset.Stop()

	svc := service.New(service.Options{
		Store:          store,
		Scheduler:      sched,
		Billing:        newBilling(cfg),
		Vault:          sealer,
		NewToken:       vault.NewBotToken,
		MaxBotsPerUser: cfg.App.MaxBotsPerUser,
	})

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(api.Options{
		Service:         svc,
		History:         history,
		Hub:             hub,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	})
	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logging.LogSuccess("CryptoBotics is running",
		zap.String("addr", cfg.App.HTTPAddr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("resumedBots", resumed))

	select {
	case <-ctx.Done():
		logging.LogInfo("Shutdown signal received, stopping bots and server...")
	case err := <-errCh:
		logging.LogError("HTTP server failed", zap.Error(err))
		return err
	}

	// HTTP drains before the scheduler stops.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.LogWarn("Timeout waiting for HTTP server to stop, forcing shutdown", zap.Error(err))
	} else {
		logging.LogSuccess("Server stopped gracefully")
	}

	sched.Shutdown()
	return nil
}

// openStore returns the configured store and a flush hook run at shutdown.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func() error, error) {
	noFlush := func() error { return nil }

	var (
		store storage.Store
		flush = noFlush
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := storage.NewPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		logging.LogSuccess("Connected to PostgreSQL")
		store = pg
	default:
		mem := storage.NewMemoryStore()
		path := filepath.Join(cfg.App.DataDir, cfg.Storage.SnapshotFile)
		if err := mem.LoadSnapshot(path); err != nil {
			return nil, nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
		logging.LogInfo("Using in-memory store", zap.String("snapshot", path))
		store = mem
		flush = func() error { return mem.SaveSnapshot(path) }
	}

	if cfg.Redis.Addr == "" {
		return store, flush, nil
	}
	stats, err := storage.NewRedisStats(ctx, storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, store)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logging.LogSuccess("Platform counters backed by Redis", zap.String("addr", cfg.Redis.Addr))
	return storage.WithStats(store, stats), flush, nil
}

func newChainClient(cfg *config.Config, counter evm.Counter) *evm.Client {
	return evm.NewClient(evm.Options{
		Networks:        evm.WithOverrides(evm.DefaultNetworks(), cfg.RPC.Networks),
		RequestTimeout:  cfg.RPC.RequestTimeout,
		RateLimit:       cfg.RPC.RateLimit,
		RateBurst:       cfg.RPC.RateBurst,
		MaxResponseSize: cfg.RPC.MaxResponseSize,
		Counter:         counter,
	})
}

func newTelegram(cfg *config.Config) *tgbotapi.BotAPI {
	if cfg.Telegram.BotToken == "" {
		return nil
	}
	tg, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logging.LogWarn("Failed to initialize Telegram bot (continuing without it)", zap.Error(err))
		return nil
	}
	logging.LogSuccess("Telegram bot authorized", zap.String("username", tg.Self.UserName))
	return tg
}

// buildNotifiers fans updates out to the dashboard hub plus Telegram and Kafka
// when configured.
func buildNotifiers(cfg *config.Config, hub *api.Hub, tg *tgbotapi.BotAPI) (monitor.Notifier, func(), error) {
	notifiers := monitor.MultiNotifier{hub}
	var closers []func() error

	if tg != nil {
		notifiers = append(notifiers, monitor.NewTelegramNotifier(tg, cfg.Telegram.ChatID, retry.DefaultOptions))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init kafka publisher: %w", err)
		}
		logging.LogInfo("Streaming bot updates to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
		notifiers = append(notifiers, monitor.NewStreamNotifier(pub))
		closers = append(closers, pub.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logging.LogWarn("Failed to close notifier", zap.Error(err))
			}
		}
	}
	return notifiers, closeAll, nil
}

func newBilling(cfg *config.Config) service.Billing {
	if cfg.Stripe.SecretKey == "" {
		logging.LogWarn("STRIPE_SECRET_KEY not set, billing runs offline")
		return billing.NewOffline(cfg.Stripe.Prices)
	}
	return billing.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Prices)
}
