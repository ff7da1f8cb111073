package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"crypto_view/internal/domain"
	"crypto_view/internal/handler/api"
	"crypto_view/internal/infra"
	"crypto_view/internal/infra/binance"
	"crypto_view/internal/infra/coincap"
	"crypto_view/internal/infra/storage"
	"crypto_view/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// iconWorkers limits concurrent logo downloads.
const iconWorkers = 5

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Downloader *infra.IconDownloader
	Seq        *domain.SeqSource
	View       *service.MarketView
	Dashboard  *service.Dashboard
	Snapshots  *infra.CoinGeckoClient
	Feeds      []*FeedSupervisor
	Registry   *prometheus.Registry
	Server     *api.Server

	configPath string

	iconMu    sync.Mutex
	iconsDone map[domain.AssetID]bool
	iconWG    sync.WaitGroup
	iconCtx   context.Context
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{
		configPath: configPath,
		iconsDone:  make(map[domain.AssetID]bool),
		iconCtx:    context.Background(),
	}
}

// Initialize loads configuration and builds every component. Nothing touches
// the network until Run.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Crypto View...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.configPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("Config file not found, using defaults", slog.String("path", b.configPath))
		cfg = infra.DefaultConfig()
		err = cfg.Validate()
	}
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	b.recordVersion()
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Initialize Icon Downloader
	downloader, err := infra.NewIconDownloader(cfg.Icons.Dir, cfg.Icons.Size)
	if err != nil {
		return err
	}
	b.Downloader = downloader
	slog.Info("✅ Icon downloader ready")

	// 5. Market view + presentation
	b.Seq = &domain.SeqSource{}
	b.View = service.NewMarketView(service.MarketViewConfig{
		BufferSize: cfg.View.BufferSize,
		BufferTTL:  cfg.View.BufferTTL,
		StaleAfter: cfg.View.StaleAfter,
		Recorder:   infra.GlobalMetrics,
	})
	dash, err := service.NewDashboard(b.View, store)
	if err != nil {
		return err
	}
	b.Dashboard = dash

	// 6. Snapshot poller + live feeds
	b.Snapshots = infra.NewCoinGeckoClient(cfg, b.Seq, b.onSnapshot)
	b.Feeds = b.buildFeeds()
	slog.Info("✅ Market sources configured", slog.Int("feeds", len(b.Feeds)))

	// 7. Metrics + HTTP API
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(
		infra.NewMetricsCollector(infra.GlobalMetrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := api.NewHandler(b.Dashboard, b.View, b.Downloader, b.Snapshots.LastUpdated)
	b.Server = api.NewServer(handler,
		api.WithAddr(cfg.HTTP.Addr),
		api.WithCORS(cfg.HTTP.CORS),
		api.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout),
		api.WithRegistry(b.Registry),
	)

	return nil
}

func (b *Bootstrap) buildFeeds() []*FeedSupervisor {
	cfg := b.Config
	supCfg := SupervisorConfig{
		Reconnect:  cfg.Feeds.Reconnect,
		MaxRetries: cfg.Feeds.MaxRetries,
	}

	var feeds []*FeedSupervisor
	if cfg.Binance.Enabled {
		stream := binance.NewStream(binance.Config{
			BaseURL:          cfg.Binance.WSURL,
			Symbols:          cfg.BinanceSymbols(),
			Seq:              b.Seq,
			Recorder:         infra.GlobalMetrics,
			HandshakeTimeout: cfg.Feeds.HandshakeDelay,
			PingInterval:     cfg.Feeds.PingInterval,
		})
		feeds = append(feeds, NewFeedSupervisor(stream, supCfg, b.View.Enqueue, b.View.ReportError))
	}
	if cfg.CoinCap.Enabled {
		stream := coincap.NewStream(coincap.Config{
			BaseURL:          cfg.CoinCap.WSURL,
			Assets:           cfg.CoinCapAssets(),
			Seq:              b.Seq,
			Recorder:         infra.GlobalMetrics,
			HandshakeTimeout: cfg.Feeds.HandshakeDelay,
			PingInterval:     cfg.Feeds.PingInterval,
		})
		feeds = append(feeds, NewFeedSupervisor(stream, supCfg, b.View.Enqueue, b.View.ReportError))
	}
	return feeds
}

// recordVersion remembers the last started version in the app_configs table.
func (b *Bootstrap) recordVersion() {
	version := b.Config.App.Version
	stored, err := b.Storage.LoadConfigMap()
	if err != nil {
		slog.Warn("Failed to read stored settings", slog.Any("error", err))
		return
	}
	slog.Debug("Stored settings loaded", slog.Int("keys", len(stored)))
	if prev, ok := stored["app.version"]; ok && prev != version {
		slog.Info("Version changed since last start", slog.String("from", prev), slog.String("to", version))
	}
	if err := b.Storage.SaveConfig("app.version", version); err != nil {
		slog.Warn("Failed to store version", slog.Any("error", err))
	}
}

// Run starts every background component. It returns once they are started;
// cancel ctx and call Shutdown to stop them.
func (b *Bootstrap) Run(ctx context.Context) {
	b.iconCtx = ctx

	b.View.StartTickProcessor(ctx)
	slog.InfoContext(ctx, "✅ Tick processor started")

	go b.watchErrors(ctx)

	b.Snapshots.Start(ctx)
	slog.InfoContext(ctx, "✅ Snapshot polling started", slog.Duration("interval", b.Config.CoinGecko.PollInterval))

	for _, f := range b.Feeds {
		f.Start(ctx)
	}

	b.Server.Start()
}

// Shutdown stops feeds, polling and the HTTP server, then closes storage.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	var errs []error

	if b.Server != nil {
		if err := b.Server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range b.Feeds {
		f.Stop()
	}
	if b.Snapshots != nil {
		b.Snapshots.Stop()
	}
	b.iconWG.Wait()

	if b.Seq != nil {
		slog.Info("Market events sequenced", slog.Uint64("last_seq", b.Seq.Current()))
	}

	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bootstrap) onSnapshot(batch domain.SnapshotBatch) {
	if !b.View.ApplySnapshot(batch) {
		slog.Debug("Out-of-order snapshot ignored", slog.Uint64("seq", batch.Seq))
		return
	}
	b.syncIcons(b.iconCtx, batch.Assets)
}

// watchErrors logs subscription failures surfaced by the view.
func (b *Bootstrap) watchErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-b.View.Errors():
			slog.Warn("Live feed error", slog.Any("error", err))
		}
	}
}

// syncIcons downloads logos for assets seen for the first time, in the background.
func (b *Bootstrap) syncIcons(ctx context.Context, assets []domain.AssetSnapshot) {
	b.iconMu.Lock()
	var todo []domain.AssetSnapshot
	for _, a := range assets {
		if a.LogoURL == "" || b.iconsDone[a.ID] {
			continue
		}
		b.iconsDone[a.ID] = true
		todo = append(todo, a)
	}
	b.iconMu.Unlock()

	if len(todo) == 0 {
		return
	}

	b.iconWG.Add(1)
	go func() {
		defer b.iconWG.Done()
		slog.Info("🔄 Starting icon synchronization...", slog.Int("assets", len(todo)))

		var wg sync.WaitGroup
		semaphore := make(chan struct{}, iconWorkers) // Limit concurrent downloads

		for _, a := range todo {
			wg.Add(1)
			go func(a domain.AssetSnapshot) {
				defer wg.Done()
				select {
				case <-ctx.Done():
					b.forgetIcon(a.ID)
					return
				case semaphore <- struct{}{}: // Acquire
				}
				defer func() { <-semaphore }() // Release

				if _, err := b.Downloader.DownloadIcon(ctx, a.ID, a.LogoURL); err != nil {
					slog.Warn("Failed to download icon", slog.String("asset", a.ID.String()), slog.Any("error", err))
					// allow a retry on the next snapshot
					b.forgetIcon(a.ID)
				}
			}(a)
		}

		wg.Wait()
		slog.Info("✨ Icon synchronization completed")
	}()
}

func (b *Bootstrap) forgetIcon(id domain.AssetID) {
	b.iconMu.Lock()
	delete(b.iconsDone, id)
	b.iconMu.Unlock()
}
