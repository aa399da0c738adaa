package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for webstalk.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"     yaml:"engine"`
	Downloader DownloaderConfig `mapstructure:"downloader" yaml:"downloader"`
	Scraper    ScraperConfig    `mapstructure:"scraper"    yaml:"scraper"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"  yaml:"scheduler"`
	Transport  TransportConfig  `mapstructure:"transport"  yaml:"transport"`
	Proxy      ProxyConfig      `mapstructure:"proxy"      yaml:"proxy"`
	Middleware MiddlewareConfig `mapstructure:"middleware" yaml:"middleware"`
	Parser     ParserConfig     `mapstructure:"parser"     yaml:"parser"`
	Storage    StorageConfig    `mapstructure:"storage"    yaml:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
}

// EngineConfig controls the Execution Engine.
type EngineConfig struct {
	MaxDepth           int           `mapstructure:"max_depth"            yaml:"max_depth"`
	RespectRobotsTxt   bool          `mapstructure:"respect_robots_txt"   yaml:"respect_robots_txt"`
	AllowedDomains     []string      `mapstructure:"allowed_domains"      yaml:"allowed_domains"`
	DisallowedDomains  []string      `mapstructure:"disallowed_domains"   yaml:"disallowed_domains"`
	AllowedURLPatterns []string      `mapstructure:"allowed_url_patterns" yaml:"allowed_url_patterns"`
	MaxRequests        int           `mapstructure:"max_requests"         yaml:"max_requests"`
	MaxItems           int           `mapstructure:"max_items"            yaml:"max_items"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"  yaml:"checkpoint_interval"`
	CheckpointPath     string        `mapstructure:"checkpoint_path"      yaml:"checkpoint_path"`
	LogstatsInterval   time.Duration `mapstructure:"logstats_interval"    yaml:"logstats_interval"`
	IdleShutdownDelay  time.Duration `mapstructure:"idle_shutdown_delay"  yaml:"idle_shutdown_delay"`
	CloseTimeout       time.Duration `mapstructure:"close_timeout"        yaml:"close_timeout"`
	UserAgents         []string      `mapstructure:"user_agents"          yaml:"user_agents"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"      yaml:"request_timeout"`
}

// DownloaderConfig controls the Downloader and its per-host Slots.
type DownloaderConfig struct {
	ConcurrentRequests      int           `mapstructure:"concurrent_requests"        yaml:"concurrent_requests"`
	ConcurrentRequestsPerIP int           `mapstructure:"concurrent_requests_per_ip" yaml:"concurrent_requests_per_ip"`
	ConcurrentRequestsPerDomain int       `mapstructure:"concurrent_requests_per_domain" yaml:"concurrent_requests_per_domain"`
	Delay                   time.Duration `mapstructure:"delay"                      yaml:"delay"`
	RandomizeDelay          bool          `mapstructure:"randomize_delay"            yaml:"randomize_delay"`
	DefaultFetcherType      string        `mapstructure:"default_fetcher_type"       yaml:"default_fetcher_type"`
	SlotIdleTimeout         time.Duration `mapstructure:"slot_idle_timeout"          yaml:"slot_idle_timeout"`
}

// ScraperConfig controls the Scraper slot's backpressure.
type ScraperConfig struct {
	SlotMaxActiveSize int `mapstructure:"slot_max_active_size" yaml:"slot_max_active_size"`
	ConcurrentItems   int `mapstructure:"concurrent_items"     yaml:"concurrent_items"`
}

// SchedulerConfig controls request scheduling.
type SchedulerConfig struct {
	Type            string `mapstructure:"type"              yaml:"type"` // only "memory" is implemented
	PersistencePath string `mapstructure:"persistence_path"  yaml:"persistence_path"`
	DedupPersist    bool   `mapstructure:"dedup_persist"     yaml:"dedup_persist"`
}

// TransportConfig controls the HTTP/browser transports.
type TransportConfig struct {
	Type            string        `mapstructure:"type"              yaml:"type"` // http, browser
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	Stealth         bool          `mapstructure:"stealth"           yaml:"stealth"`
	MaxBrowserPages int           `mapstructure:"max_browser_pages" yaml:"max_browser_pages"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled      bool     `mapstructure:"enabled"        yaml:"enabled"`
	Rotation     string   `mapstructure:"rotation"       yaml:"rotation"`
	URLs         []string `mapstructure:"urls"           yaml:"urls"`
	HealthCheck  bool     `mapstructure:"health_check"   yaml:"health_check"`
	RotateOnFail bool     `mapstructure:"rotate_on_fail" yaml:"rotate_on_fail"`
}

// MiddlewareConfig configures the pluggable middleware chain. The CLI and
// SDK register robots, dedup and retry in that fixed order; the Order
// values are loaded but do not change the chain order.
type MiddlewareConfig struct {
	RobotsTxt  MiddlewareEntry   `mapstructure:"robots_txt" yaml:"robots_txt"`
	Dedup      MiddlewareEntry   `mapstructure:"dedup"      yaml:"dedup"`
	Retry      RetryConfig       `mapstructure:"retry"      yaml:"retry"`
	ItemChain  []ItemMiddlewareEntry `mapstructure:"item_chain" yaml:"item_chain"`
}

// MiddlewareEntry toggles a built-in downloader middleware.
type MiddlewareEntry struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Order   int  `mapstructure:"order"   yaml:"order"`
}

// RetryConfig configures the retry middleware.
type RetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"          yaml:"enabled"`
	Order          int           `mapstructure:"order"            yaml:"order"`
	MaxRetries     int           `mapstructure:"max_retries"      yaml:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"      yaml:"retry_delay"`
	RetryHTTPCodes []int         `mapstructure:"retry_http_codes" yaml:"retry_http_codes"`
}

// ItemMiddlewareEntry names a built-in item-pipeline stage and its options.
type ItemMiddlewareEntry struct {
	Name    string         `mapstructure:"name"    yaml:"name"`
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// ParserConfig controls link/data extraction helpers.
type ParserConfig struct {
	AutoDetect bool        `mapstructure:"auto_detect" yaml:"auto_detect"`
	Rules      []ParseRule `mapstructure:"rules"       yaml:"rules"`
}

// ParseRule defines a single extraction rule.
type ParseRule struct {
	Name      string `mapstructure:"name"      yaml:"name"`
	Selector  string `mapstructure:"selector"  yaml:"selector"`
	Type      string `mapstructure:"type"      yaml:"type"` // css, xpath, regex
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
	Pattern   string `mapstructure:"pattern"   yaml:"pattern"`
}

// StorageConfig controls the item sink.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"` // json, jsonl, csv, mongo
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	BatchSize  int    `mapstructure:"batch_size"  yaml:"batch_size"`
	MongoURI   string `mapstructure:"mongo_uri"   yaml:"mongo_uri"`
	MongoDB    string `mapstructure:"mongo_db"    yaml:"mongo_db"`
	MongoColl  string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus-format metrics server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxDepth:           5,
			RespectRobotsTxt:   true,
			CheckpointInterval: 60 * time.Second,
			CheckpointPath:     "",
			LogstatsInterval:   60 * time.Second,
			IdleShutdownDelay:  5 * time.Second,
			CloseTimeout:       30 * time.Second,
			RequestTimeout:     30 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Downloader: DownloaderConfig{
			ConcurrentRequests:          16,
			ConcurrentRequestsPerIP:     0,
			ConcurrentRequestsPerDomain: 8,
			Delay:                       0,
			RandomizeDelay:              true,
			DefaultFetcherType:          "http",
			SlotIdleTimeout:             60 * time.Second,
		},
		Scraper: ScraperConfig{
			SlotMaxActiveSize: 5_000_000,
			ConcurrentItems:   100,
		},
		Scheduler: SchedulerConfig{
			Type: "memory",
		},
		Transport: TransportConfig{
			Type:            "http",
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			MaxBrowserPages: 4,
		},
		Proxy: ProxyConfig{
			Enabled:      false,
			Rotation:     "round_robin",
			HealthCheck:  true,
			RotateOnFail: true,
		},
		Middleware: MiddlewareConfig{
			RobotsTxt: MiddlewareEntry{Enabled: true, Order: 100},
			Dedup:     MiddlewareEntry{Enabled: true, Order: 200},
			Retry: RetryConfig{
				Enabled:        true,
				Order:          900,
				MaxRetries:     3,
				RetryDelay:     2 * time.Second,
				RetryHTTPCodes: []int{500, 502, 503, 504, 522, 524, 429},
			},
		},
		Parser: ParserConfig{
			AutoDetect: true,
		},
		Storage: StorageConfig{
			Type:       "json",
			OutputPath: "./output",
			BatchSize:  100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
