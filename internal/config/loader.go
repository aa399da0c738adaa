package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("WEBSTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("webstalk")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".webstalk"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper so env-only overrides of
// a single key don't zero out the rest of that section.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.max_depth", cfg.Engine.MaxDepth)
	v.SetDefault("engine.respect_robots_txt", cfg.Engine.RespectRobotsTxt)
	v.SetDefault("engine.checkpoint_interval", cfg.Engine.CheckpointInterval)
	v.SetDefault("engine.logstats_interval", cfg.Engine.LogstatsInterval)
	v.SetDefault("engine.idle_shutdown_delay", cfg.Engine.IdleShutdownDelay)
	v.SetDefault("engine.close_timeout", cfg.Engine.CloseTimeout)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
	v.SetDefault("engine.user_agents", cfg.Engine.UserAgents)

	v.SetDefault("downloader.concurrent_requests", cfg.Downloader.ConcurrentRequests)
	v.SetDefault("downloader.concurrent_requests_per_ip", cfg.Downloader.ConcurrentRequestsPerIP)
	v.SetDefault("downloader.concurrent_requests_per_domain", cfg.Downloader.ConcurrentRequestsPerDomain)
	v.SetDefault("downloader.delay", cfg.Downloader.Delay)
	v.SetDefault("downloader.randomize_delay", cfg.Downloader.RandomizeDelay)
	v.SetDefault("downloader.default_fetcher_type", cfg.Downloader.DefaultFetcherType)
	v.SetDefault("downloader.slot_idle_timeout", cfg.Downloader.SlotIdleTimeout)

	v.SetDefault("scraper.slot_max_active_size", cfg.Scraper.SlotMaxActiveSize)
	v.SetDefault("scraper.concurrent_items", cfg.Scraper.ConcurrentItems)

	v.SetDefault("scheduler.type", cfg.Scheduler.Type)

	v.SetDefault("transport.type", cfg.Transport.Type)
	v.SetDefault("transport.follow_redirects", cfg.Transport.FollowRedirects)
	v.SetDefault("transport.max_redirects", cfg.Transport.MaxRedirects)
	v.SetDefault("transport.max_body_size", cfg.Transport.MaxBodySize)
	v.SetDefault("transport.idle_conn_timeout", cfg.Transport.IdleConnTimeout)
	v.SetDefault("transport.max_idle_conns", cfg.Transport.MaxIdleConns)
	v.SetDefault("transport.max_browser_pages", cfg.Transport.MaxBrowserPages)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.rotation", cfg.Proxy.Rotation)
	v.SetDefault("proxy.health_check", cfg.Proxy.HealthCheck)
	v.SetDefault("proxy.rotate_on_fail", cfg.Proxy.RotateOnFail)

	v.SetDefault("middleware.robots_txt.enabled", cfg.Middleware.RobotsTxt.Enabled)
	v.SetDefault("middleware.robots_txt.order", cfg.Middleware.RobotsTxt.Order)
	v.SetDefault("middleware.dedup.enabled", cfg.Middleware.Dedup.Enabled)
	v.SetDefault("middleware.dedup.order", cfg.Middleware.Dedup.Order)
	v.SetDefault("middleware.retry.enabled", cfg.Middleware.Retry.Enabled)
	v.SetDefault("middleware.retry.order", cfg.Middleware.Retry.Order)
	v.SetDefault("middleware.retry.max_retries", cfg.Middleware.Retry.MaxRetries)
	v.SetDefault("middleware.retry.retry_delay", cfg.Middleware.Retry.RetryDelay)
	v.SetDefault("middleware.retry.retry_http_codes", cfg.Middleware.Retry.RetryHTTPCodes)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.batch_size", cfg.Storage.BatchSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
