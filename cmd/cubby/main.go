package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/cubby/internal/availability"
	"github.com/vbonduro/cubby/internal/cloud"
	"github.com/vbonduro/cubby/internal/cloud/memory"
	cloudredis "github.com/vbonduro/cubby/internal/cloud/redis"
	"github.com/vbonduro/cubby/internal/config"
	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/emoji"
	claudeemoji "github.com/vbonduro/cubby/internal/emoji/claude"
	ollamaemoji "github.com/vbonduro/cubby/internal/emoji/ollama"
	"github.com/vbonduro/cubby/internal/events"
	"github.com/vbonduro/cubby/internal/legacy"
	"github.com/vbonduro/cubby/internal/logging"
	"github.com/vbonduro/cubby/internal/metrics"
	"github.com/vbonduro/cubby/internal/migration"
	"github.com/vbonduro/cubby/internal/mirror"
	"github.com/vbonduro/cubby/internal/photostore/local"
	"github.com/vbonduro/cubby/internal/remotechange"
	"github.com/vbonduro/cubby/internal/service"
	"github.com/vbonduro/cubby/internal/settings"
	"github.com/vbonduro/cubby/internal/sharing"
	"github.com/vbonduro/cubby/internal/syncstate"
	"github.com/vbonduro/cubby/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cubby stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return err
	}
	m := metrics.New()

	prefs, err := settings.Open(filepath.Join(cfg.DataDir, "Settings.sqlite"))
	if err != nil {
		return err
	}
	defer prefs.Close()

	stores, err := datastore.Open(ctx, datastore.Options{
		BaseDir:  cfg.DataDir,
		InMemory: cfg.TestMode,
		Settings: prefs,
		Logger:   logging.Component(logger, "datastore"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("failed to close stores", "error", err)
		}
	}()

	hub := web.NewHub(logging.Component(logger, "events"))
	defer hub.Close()
	recovery := events.NewBroadcaster[migration.RecoveryEvent](1)
	recoveryCh, unsubscribe := recovery.Subscribe()
	defer unsubscribe()

	// The migration finishes before the merge pipeline is armed.
	migrator := migration.NewService(legacy.FileProvider{Path: cfg.LegacyDBPath}, prefs, stores, recovery, m, logging.Component(logger, "migration"))
	outcome, err := migrator.RunIfNeeded(ctx)
	if err != nil {
		return err
	}
	logger.Info("legacy migration", "outcome", outcome)

	pipeline := remotechange.New(stores, remotechange.Options{
		Private:  remotechange.StoreIdentity{Path: stores.PrivateStore().Path(), ID: stores.PrivateStore().ID()},
		Shared:   remotechange.StoreIdentity{Path: stores.SharedStore().Path(), ID: stores.SharedStore().ID()},
		Debounce: cfg.MergeDebounce,
		Metrics:  m,
		Logger:   logging.Component(logger, "merge"),
	})
	pipeline.Start()
	defer pipeline.Stop()

	container, closeCloud, err := newContainer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCloud()

	override, err := cfg.AvailabilityOverride()
	if err != nil {
		return err
	}
	machine := syncstate.New(availability.NewProber(container, logging.Component(logger, "availability")), syncstate.Options{
		Enabled:  cfg.CloudSyncEnabled,
		Interval: cfg.SyncPollInterval,
		Override: override,
		Metrics:  m,
		Logger:   logging.Component(logger, "sync"),
	})

	shares := sharing.NewService(container, stores, sharing.Options{
		Metrics: m,
		Logger:  logging.Component(logger, "sharing"),
	})
	stores.SetRoleResolver(shares)

	photos, err := local.New(cfg.PhotoPath)
	if err != nil {
		return err
	}
	inventory := service.NewInventoryService(stores, shares, newSuggester(cfg, logger), photos, logging.Component(logger, "inventory"))
	defer inventory.Close()
	if err := inventory.ResumePendingEmoji(ctx); err != nil {
		logger.Warn("failed to resume emoji suggestions", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	merges, stopMerges := pipeline.Subscribe()
	defer stopMerges()
	mergeEvents, stopMergeEvents := pipeline.Subscribe()
	defer stopMergeEvents()
	syncStates, stopSyncStates := machine.Subscribe()
	defer stopSyncStates()

	g.Go(func() error { web.Forward(gctx, hub, web.EventMerge, mergeEvents); return nil })
	g.Go(func() error { web.Forward(gctx, hub, web.EventSyncState, syncStates); return nil })
	g.Go(func() error { web.Forward(gctx, hub, web.EventRecovery, recoveryCh); return nil })

	if cfg.CloudSyncEnabled {
		mirrorStates, stopMirrorStates := machine.Subscribe()
		defer stopMirrorStates()
		// Run keeps retrying Start until the container accepts it.
		mirrorer := mirror.New(container, stores, machine, m, logging.Component(logger, "mirror"))
		defer mirrorer.Stop()
		g.Go(func() error { return mirrorer.Run(gctx, merges, mirrorStates) })
	}

	machine.Start()
	defer machine.Stop()
	hub.Broadcast(web.EventSyncState, machine.State())

	server := web.NewServer(web.Options{
		Inventory: inventory,
		Sharing:   shares,
		Sync:      machine,
		Hub:       hub,
		Metrics:   m,
		Logger:    logging.Component(logger, "http"),
	})
	g.Go(func() error { return server.Run(gctx, cfg.ListenAddr) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newContainer picks the cloud backend. The memory backend keeps everything
// in process and suits a single device.
func newContainer(cfg *config.Config, logger *slog.Logger) (*cloud.Client, func(), error) {
	cloudLogger := logging.Component(logger, "cloud")
	switch cfg.CloudBackend {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		logger.Info("using redis cloud backend", "addr", cfg.RedisAddr, "container", cfg.CloudContainerID)
		backend := cloudredis.New(rdb, cfg.CloudContainerID, cloudLogger)
		return cloud.NewClient(backend, cfg.CloudUserID, cloudLogger), func() { _ = rdb.Close() }, nil
	default:
		logger.Info("using in-memory cloud backend")
		return cloud.NewClient(memory.New(), cfg.CloudUserID, cloudLogger), func() {}, nil
	}
}

func newSuggester(cfg *config.Config, logger *slog.Logger) emoji.Suggester {
	switch cfg.EmojiBackend {
	case "claude":
		logger.Info("using Claude emoji backend", "model", cfg.ClaudeModel)
		return claudeemoji.NewSuggester(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	case "ollama":
		logger.Info("using Ollama emoji backend", "model", cfg.OllamaModel)
		return ollamaemoji.NewSuggester(cfg.OllamaHost, cfg.OllamaModel)
	default:
		return nil
	}
}
