package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/webstalk/internal/config"
	"github.com/IshaanNene/webstalk/internal/downloader"
	"github.com/IshaanNene/webstalk/internal/engine"
	"github.com/IshaanNene/webstalk/internal/middleware"
	"github.com/IshaanNene/webstalk/internal/observability"
	"github.com/IshaanNene/webstalk/internal/scheduler"
	"github.com/IshaanNene/webstalk/internal/scraper"
	"github.com/IshaanNene/webstalk/internal/signalbus"
	"github.com/IshaanNene/webstalk/internal/storage"
	"github.com/IshaanNene/webstalk/internal/transport"
)

var (
	cfgFile string
	verbose bool
	seeds   []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "webstalk",
		Short: "WebStalk — concurrent web crawl engine",
		Long: `WebStalk drives a spider's start requests through a Scheduler,
Downloader, and Scraper, routing extracted items to a configurable
storage sink.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateConfigCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [urls...]",
		Short: "Run a crawl from the given seed URLs using the config-defined parser rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds = args
			return runCrawl()
		},
	}
	return cmd
}

func runCrawl() error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	signals := signalbus.New(logger)

	mw := middleware.New(logger)
	if cfg.Middleware.RobotsTxt.Enabled {
		mw.Register(middleware.NewRobotsMiddleware(cfg.Engine.RespectRobotsTxt))
	}
	if cfg.Middleware.Dedup.Enabled {
		mw.Register(middleware.NewDedupMiddleware(4096))
	}
	if cfg.Middleware.Retry.Enabled {
		mw.Register(middleware.NewRetryMiddleware(cfg.Middleware.Retry.RetryDelay, cfg.Middleware.Retry.RetryHTTPCodes, logger))
	}
	itemChain, err := middleware.BuildItemChain(cfg.Middleware.ItemChain, logger)
	if err != nil {
		return fmt.Errorf("build item chain: %w", err)
	}
	for _, im := range itemChain {
		mw.Register(im)
	}

	proxyMgr := transport.NewProxyManager(cfg.Proxy, logger)
	httpTransport, err := transport.NewHTTPTransport(cfg.Transport, cfg.Engine.RequestTimeout, cfg.Engine.UserAgents, proxyMgr, logger)
	if err != nil {
		return fmt.Errorf("build http transport: %w", err)
	}
	transports := map[string]transport.Transport{"http": httpTransport}
	if cfg.Transport.Type == "browser" {
		browserTransport, err := transport.NewBrowserTransport(cfg.Transport, cfg.Engine.RequestTimeout, proxyMgr, logger)
		if err != nil {
			return fmt.Errorf("build browser transport: %w", err)
		}
		transports["browser"] = browserTransport
		defer browserTransport.Close()
	}
	defer httpTransport.Close()

	dlCfg := downloader.Config{
		ConcurrentRequests:          cfg.Downloader.ConcurrentRequests,
		ConcurrentRequestsPerDomain: cfg.Downloader.ConcurrentRequestsPerDomain,
		ConcurrentRequestsPerIP:     cfg.Downloader.ConcurrentRequestsPerIP > 0,
		Delay:                       cfg.Downloader.Delay,
		RandomizeDelay:              cfg.Downloader.RandomizeDelay,
		DefaultFetcherType:          cfg.Downloader.DefaultFetcherType,
		SlotIdleTimeout:             cfg.Downloader.SlotIdleTimeout,
	}
	dl := downloader.New(dlCfg, mw, transports, logger)
	defer dl.Close()

	sched := scheduler.NewMemoryScheduler(logger, cfg.Scheduler.PersistencePath)

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("build storage: %w", err)
	}
	defer store.Close()

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	engCfg := engine.Config{
		MaxDepth:           cfg.Engine.MaxDepth,
		AllowedDomains:     cfg.Engine.AllowedDomains,
		DisallowedDomains:  cfg.Engine.DisallowedDomains,
		MaxRequests:        cfg.Engine.MaxRequests,
		MaxItems:           cfg.Engine.MaxItems,
		CheckpointInterval: cfg.Engine.CheckpointInterval,
		CheckpointPath:     cfg.Engine.CheckpointPath,
		LogstatsInterval:   cfg.Engine.LogstatsInterval,
		IdleShutdownDelay:  cfg.Engine.IdleShutdownDelay,
		CloseTimeout:       cfg.Engine.CloseTimeout,
		StorageBatchSize:   cfg.Storage.BatchSize,
	}
	eng := engine.New(engCfg, sched, dl, mw, signals, store, metrics, logger)

	scrCfg := scraper.Config{
		SlotMaxActiveSize: int64(cfg.Scraper.SlotMaxActiveSize),
		ConcurrentItems:   cfg.Scraper.ConcurrentItems,
	}
	scr := scraper.New(scrCfg, mw, signals, eng.Crawl, eng.OnItem, logger)
	eng.SetScraper(scr)

	sp := newRuleSpider(cfg, seeds, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, stopping crawl")
		eng.Stop()
	}()

	if err := eng.Start(ctx, sp); err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	eng.Wait()

	stats := eng.Stats()
	logger.Info("crawl finished",
		"requests_sent", stats.RequestsSent.Load(),
		"responses_ok", stats.ResponsesOK.Load(),
		"items_scraped", stats.ItemsScraped.Load(),
		"items_dropped", stats.ItemsDropped.Load(),
	)
	return nil
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration without crawling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Printf("config OK\n")
			fmt.Printf("  downloader.concurrent_requests: %d\n", cfg.Downloader.ConcurrentRequests)
			fmt.Printf("  transport.type:                 %s\n", cfg.Transport.Type)
			fmt.Printf("  storage.type:                   %s\n", cfg.Storage.Type)
			fmt.Printf("  scheduler.type:                 %s\n", cfg.Scheduler.Type)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("webstalk %s\n", config.Version)
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
