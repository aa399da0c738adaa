// Package webstalk is the embeddable crawler SDK: it wires the internal
// Scheduler/Downloader/Scraper/Middleware Manager/Execution Engine stack
// behind an OnHTML-callback surface, the way the teacher's sdk.go wired
// its (now deleted) single-package engine behind the same surface.
package webstalk

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/webstalk/internal/config"
	"github.com/IshaanNene/webstalk/internal/downloader"
	"github.com/IshaanNene/webstalk/internal/engine"
	"github.com/IshaanNene/webstalk/internal/middleware"
	"github.com/IshaanNene/webstalk/internal/observability"
	"github.com/IshaanNene/webstalk/internal/parser"
	"github.com/IshaanNene/webstalk/internal/scheduler"
	"github.com/IshaanNene/webstalk/internal/scraper"
	"github.com/IshaanNene/webstalk/internal/signalbus"
	"github.com/IshaanNene/webstalk/internal/storage"
	"github.com/IshaanNene/webstalk/internal/transport"
	"github.com/IshaanNene/webstalk/internal/types"
)

// HTMLCallback is invoked for every element matching a registered
// selector. It inspects the element and, optionally, yields an item or
// follow-up requests through the Element it receives.
type HTMLCallback func(e *Element)

// Element wraps a single matched node plus the response it came from.
// Callbacks build an Item by calling Set, and queue follow-up crawls by
// calling Follow.
type Element struct {
	Selection *goquery.Selection
	Response  *types.Response

	item   *types.Item
	follow []*types.Request
	logger *slog.Logger
}

// Text returns the matched element's trimmed text content.
func (e *Element) Text() string {
	return strings.TrimSpace(e.Selection.Text())
}

// Attr returns the named attribute of the matched element, or "".
func (e *Element) Attr(name string) string {
	v, _ := e.Selection.Attr(name)
	return v
}

// HTML returns the matched element's inner HTML.
func (e *Element) HTML() string {
	h, err := e.Selection.Html()
	if err != nil {
		return ""
	}
	return h
}

// Item lazily creates (if needed) and returns the item being built for
// this element's response, so repeated calls from the same callback
// accumulate fields on one item.
func (e *Element) Item() *types.Item {
	if e.item == nil {
		e.item = types.NewItem(e.Response.Request.URLString())
	}
	return e.item
}

// Set is a shortcut for Item().Set.
func (e *Element) Set(key string, value any) {
	e.Item().Set(key, value)
}

// Follow resolves rawURL against the response's final URL and queues it
// as a follow-up request at the current depth + 1.
func (e *Element) Follow(rawURL string) {
	abs, err := resolveURL(e.Response.FinalURL, rawURL)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("follow: could not resolve URL", "url", rawURL, "error", err)
		}
		return
	}
	req, err := types.NewRequest(abs)
	if err != nil {
		return
	}
	req.Depth = e.Response.Request.Depth + 1
	req.ParentURL = e.Response.Request.URLString()
	e.follow = append(e.follow, req)
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// Option mutates the crawler's configuration before Start.
type Option func(*config.Config)

func WithConcurrency(n int) Option {
	return func(c *config.Config) { c.Downloader.ConcurrentRequests = n }
}

func WithMaxDepth(depth int) Option {
	return func(c *config.Config) { c.Engine.MaxDepth = depth }
}

func WithDelay(d time.Duration) Option {
	return func(c *config.Config) { c.Downloader.Delay = d }
}

func WithOutput(format, path string) Option {
	return func(c *config.Config) {
		c.Storage.Type = format
		c.Storage.OutputPath = path
	}
}

func WithUserAgent(ua string) Option {
	return func(c *config.Config) { c.Engine.UserAgents = []string{ua} }
}

func WithAllowedDomains(domains ...string) Option {
	return func(c *config.Config) { c.Engine.AllowedDomains = domains }
}

func WithProxy(urls ...string) Option {
	return func(c *config.Config) {
		c.Proxy.Enabled = len(urls) > 0
		c.Proxy.URLs = urls
	}
}

func WithRobotsRespect(respect bool) Option {
	return func(c *config.Config) { c.Engine.RespectRobotsTxt = respect }
}

func WithMaxRequests(n int) Option {
	return func(c *config.Config) { c.Engine.MaxRequests = n }
}

// WithBrowser switches the default transport to a headless-browser
// fetch, for pages that need JS execution to render their content.
func WithBrowser() Option {
	return func(c *config.Config) { c.Transport.Type = "browser" }
}

func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// htmlRule pairs a selector with its callback, in registration order so
// Start can run them deterministically over each response.
type htmlRule struct {
	selector string
	callback HTMLCallback
}

// Crawler is the embeddable crawl driver. Register selectors with
// OnHTML, then call Start with one or more seed URLs.
type Crawler struct {
	cfg    *config.Config
	logger *slog.Logger
	rules  []htmlRule

	eng     *engine.Engine
	dl      *downloader.Downloader
	metrics *observability.Metrics
}

// NewCrawler builds a Crawler from config.DefaultConfig with the given
// options applied.
func NewCrawler(opts ...Option) *Crawler {
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return &Crawler{cfg: cfg, logger: logger}
}

// OnHTML registers a callback invoked for every element matching
// selector in any crawled response. Selectors are run in registration
// order against the same parsed document.
func (c *Crawler) OnHTML(selector string, cb HTMLCallback) {
	c.rules = append(c.rules, htmlRule{selector: selector, callback: cb})
}

// Start builds the engine graph and runs a crawl to completion (or until
// Stop is called) seeded from urls.
func (c *Crawler) Start(urls ...string) error {
	if err := config.Validate(c.cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	signals := signalbus.New(c.logger)

	mw := middleware.New(c.logger)
	if c.cfg.Middleware.RobotsTxt.Enabled {
		mw.Register(middleware.NewRobotsMiddleware(c.cfg.Engine.RespectRobotsTxt))
	}
	if c.cfg.Middleware.Dedup.Enabled {
		mw.Register(middleware.NewDedupMiddleware(4096))
	}
	if c.cfg.Middleware.Retry.Enabled {
		mw.Register(middleware.NewRetryMiddleware(
			c.cfg.Middleware.Retry.RetryDelay,
			c.cfg.Middleware.Retry.RetryHTTPCodes,
			c.logger,
		))
	}
	itemChain, err := middleware.BuildItemChain(c.cfg.Middleware.ItemChain, c.logger)
	if err != nil {
		return fmt.Errorf("build item chain: %w", err)
	}
	for _, im := range itemChain {
		mw.Register(im)
	}

	proxyMgr := transport.NewProxyManager(c.cfg.Proxy, c.logger)
	httpTransport, err := transport.NewHTTPTransport(c.cfg.Transport, c.cfg.Engine.RequestTimeout, c.cfg.Engine.UserAgents, proxyMgr, c.logger)
	if err != nil {
		return fmt.Errorf("build http transport: %w", err)
	}
	transports := map[string]transport.Transport{"http": httpTransport}
	if c.cfg.Transport.Type == "browser" {
		browserTransport, err := transport.NewBrowserTransport(c.cfg.Transport, c.cfg.Engine.RequestTimeout, proxyMgr, c.logger)
		if err != nil {
			return fmt.Errorf("build browser transport: %w", err)
		}
		transports["browser"] = browserTransport
	}

	dlCfg := downloader.Config{
		ConcurrentRequests:          c.cfg.Downloader.ConcurrentRequests,
		ConcurrentRequestsPerDomain: c.cfg.Downloader.ConcurrentRequestsPerDomain,
		ConcurrentRequestsPerIP:     c.cfg.Downloader.ConcurrentRequestsPerIP > 0,
		Delay:                       c.cfg.Downloader.Delay,
		RandomizeDelay:              c.cfg.Downloader.RandomizeDelay,
		DefaultFetcherType:          c.cfg.Downloader.DefaultFetcherType,
		SlotIdleTimeout:             c.cfg.Downloader.SlotIdleTimeout,
	}
	c.dl = downloader.New(dlCfg, mw, transports, c.logger)

	sched := scheduler.NewMemoryScheduler(c.logger, c.cfg.Scheduler.PersistencePath)

	store, err := storage.New(c.cfg.Storage, c.logger)
	if err != nil {
		return fmt.Errorf("build storage: %w", err)
	}

	c.metrics = observability.NewMetrics(c.logger)
	if c.cfg.Metrics.Enabled {
		if err := c.metrics.StartServer(c.cfg.Metrics.Port, c.cfg.Metrics.Path); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	engCfg := engine.Config{
		MaxDepth:           c.cfg.Engine.MaxDepth,
		AllowedDomains:     c.cfg.Engine.AllowedDomains,
		DisallowedDomains:  c.cfg.Engine.DisallowedDomains,
		MaxRequests:        c.cfg.Engine.MaxRequests,
		MaxItems:           c.cfg.Engine.MaxItems,
		CheckpointInterval: c.cfg.Engine.CheckpointInterval,
		CheckpointPath:     c.cfg.Engine.CheckpointPath,
		LogstatsInterval:   c.cfg.Engine.LogstatsInterval,
		IdleShutdownDelay:  c.cfg.Engine.IdleShutdownDelay,
		CloseTimeout:       c.cfg.Engine.CloseTimeout,
		StorageBatchSize:   c.cfg.Storage.BatchSize,
	}
	c.eng = engine.New(engCfg, sched, c.dl, mw, signals, store, c.metrics, c.logger)

	scrCfg := scraper.Config{
		SlotMaxActiveSize: int64(c.cfg.Scraper.SlotMaxActiveSize),
		ConcurrentItems:   c.cfg.Scraper.ConcurrentItems,
	}
	scr := scraper.New(scrCfg, mw, signals, c.eng.Crawl, c.eng.OnItem, c.logger)
	c.eng.SetScraper(scr)

	sp := newCallbackSpider(c.cfg, urls, c.rules, c.logger)

	if err := c.eng.Start(context.Background(), sp); err != nil {
		return err
	}
	c.eng.Wait()
	return nil
}

// Wait blocks until a running crawl finishes.
func (c *Crawler) Wait() {
	if c.eng != nil {
		c.eng.Wait()
	}
}

// Stop requests a graceful shutdown of a running crawl.
func (c *Crawler) Stop() {
	if c.eng != nil {
		c.eng.Stop()
	}
}

// Pause suspends request dispatch without closing the crawl.
func (c *Crawler) Pause() {
	if c.eng != nil {
		c.eng.Pause()
	}
}

// Resume undoes a prior Pause.
func (c *Crawler) Resume() {
	if c.eng != nil {
		c.eng.Resume()
	}
}

// Stats returns a point-in-time snapshot of engine and metrics counters.
func (c *Crawler) Stats() map[string]any {
	out := map[string]any{}
	if c.eng != nil {
		stats := c.eng.Stats()
		out["requests_sent"] = stats.RequestsSent.Load()
		out["requests_failed"] = stats.RequestsFailed.Load()
		out["responses_ok"] = stats.ResponsesOK.Load()
		out["items_scraped"] = stats.ItemsScraped.Load()
		out["items_dropped"] = stats.ItemsDropped.Load()
	}
	if c.metrics != nil {
		for k, v := range c.metrics.Snapshot() {
			out[k] = v
		}
	}
	return out
}

// callbackSpider adapts a Crawler's OnHTML registry and seed URLs to the
// spider.Spider contract the Execution Engine drives. Declarative
// extraction (config.ParserConfig's AutoDetect/Rules) runs alongside the
// imperative OnHTML callbacks and feeds the same item/request stream:
// OnHTML is for a caller's own selectors, the composite parser is for
// config-driven rule extraction and structured-data/link auto-discovery
// a caller would otherwise have to hand-write a selector for.
type callbackSpider struct {
	cfg     *config.Config
	urls    []string
	rules   []htmlRule
	logger  *slog.Logger
	auto    *parser.CompositeParser
	useAuto bool
}

func newCallbackSpider(cfg *config.Config, urls []string, rules []htmlRule, logger *slog.Logger) *callbackSpider {
	s := &callbackSpider{cfg: cfg, urls: urls, rules: rules, logger: logger}
	if cfg.Parser.AutoDetect || len(cfg.Parser.Rules) > 0 {
		s.auto = parser.NewCompositeParser(logger)
		s.useAuto = true
	}
	return s
}

func (s *callbackSpider) Name() string { return "webstalk-sdk" }

func (s *callbackSpider) StartURLs() []string { return s.urls }

func (s *callbackSpider) CustomSettings() map[string]any { return nil }

func (s *callbackSpider) StartRequests(ctx context.Context) (<-chan *types.Request, error) {
	out := make(chan *types.Request, len(s.urls))
	go func() {
		defer close(out)
		for _, u := range s.urls {
			req, err := types.NewRequest(u)
			if err != nil {
				s.logger.Warn("skipping invalid seed URL", "url", u, "error", err)
				continue
			}
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *callbackSpider) Parse(ctx context.Context, resp *types.Response) (<-chan any, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	out := make(chan any, 32)
	go func() {
		defer close(out)

		for _, rule := range s.rules {
			doc.Find(rule.selector).Each(func(_ int, sel *goquery.Selection) {
				el := &Element{Selection: sel, Response: resp, logger: s.logger}
				rule.callback(el)
				for _, req := range el.follow {
					select {
					case out <- req:
					case <-ctx.Done():
						return
					}
				}
				if el.item != nil {
					select {
					case out <- el.item:
					case <-ctx.Done():
						return
					}
				}
			})
		}

		if s.useAuto {
			items, links, err := s.auto.Parse(resp, s.cfg.Parser.Rules)
			if err != nil {
				s.logger.Debug("auto parser error", "url", resp.Request.URLString(), "error", err)
			}
			for _, item := range items {
				select {
				case out <- item:
				case <-ctx.Done():
					return
				}
			}
			for _, link := range links {
				abs, err := resolveURL(resp.FinalURL, link)
				if err != nil {
					continue
				}
				req, err := types.NewRequest(abs)
				if err != nil {
					continue
				}
				req.Depth = resp.Request.Depth + 1
				req.ParentURL = resp.Request.URLString()
				select {
				case out <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
