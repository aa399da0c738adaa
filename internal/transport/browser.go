package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/webstalk/internal/config"
	"github.com/IshaanNene/webstalk/internal/types"
)

// BrowserTransport fetches requests by rendering them in headless Chromium
// via go-rod, for pages that need JavaScript execution. Grounded on the
// teacher's fetcher/browser.go; its stealth mode uses go-rod/stealth's
// page-level patches instead of the teacher's hand-rolled StealthJS, since
// go-rod/stealth already covers the same navigator/webdriver fingerprints.
type BrowserTransport struct {
	browser        *rod.Browser
	requestTimeout time.Duration
	stealth        bool
	logger         *slog.Logger
	proxyMgr       *ProxyManager
	pagePool       chan *rod.Page
	maxPages       int
}

// NewBrowserTransport launches a headless Chromium instance and returns a
// Transport backed by it.
func NewBrowserTransport(cfg config.TransportConfig, requestTimeout time.Duration, proxyMgr *ProxyManager, logger *slog.Logger) (*BrowserTransport, error) {
	bt := &BrowserTransport{
		requestTimeout: requestTimeout,
		stealth:        cfg.Stealth,
		proxyMgr:       proxyMgr,
		logger:         logger.With("component", "browser_transport"),
		maxPages:       cfg.MaxBrowserPages,
	}
	if bt.maxPages <= 0 {
		bt.maxPages = 4
	}

	launchURL, err := bt.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	bt.browser = browser
	bt.pagePool = make(chan *rod.Page, bt.maxPages)

	bt.logger.Info("browser transport ready", "max_pages", bt.maxPages, "stealth", bt.stealth)
	return bt, nil
}

func (bt *BrowserTransport) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-web-security").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled")

	if bt.proxyMgr != nil {
		if proxyURL := bt.proxyMgr.Next(); proxyURL != nil {
			l = l.Proxy(proxyURL.String())
		}
	}

	return l.Launch()
}

// Fetch navigates to req's URL and returns the rendered page content.
func (bt *BrowserTransport) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	start := time.Now()

	page, err := bt.getPage()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}
	defer bt.putPage(page)

	if bt.stealth {
		page, err = stealth.Page(bt.browser)
		if err != nil {
			return nil, &types.FetchError{URL: req.URLString(), Err: fmt.Errorf("stealth page: %w", err), Retryable: true}
		}
	}

	if ua := req.Headers.Get("User-Agent"); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			bt.logger.Warn("failed to set user agent", "error", err)
		}
	}

	if len(req.Headers) > 0 {
		headers := make([]string, 0, len(req.Headers)*2)
		for k, vals := range req.Headers {
			if k == "User-Agent" {
				continue
			}
			for _, v := range vals {
				headers = append(headers, k, v)
			}
		}
		if len(headers) > 0 {
			_, _ = page.SetExtraHeaders(headers)
		}
	}

	if len(req.Cookies) > 0 {
		cookies := make([]*proto.NetworkCookieParam, 0, len(req.Cookies))
		for name, value := range req.Cookies {
			cookies = append(cookies, &proto.NetworkCookieParam{Name: name, Value: value, URL: req.URLString()})
		}
		if err := page.SetCookies(cookies); err != nil {
			bt.logger.Warn("failed to set cookies", "error", err)
		}
	}

	timeout := bt.requestTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	if err := page.Timeout(timeout).Navigate(req.URLString()); err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}

	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		bt.logger.Warn("page stability timeout, continuing", "url", req.URLString(), "error", err)
	}

	if jsCode, ok := req.Meta["js_eval"]; ok {
		if js, ok := jsCode.(string); ok && js != "" {
			if _, err := page.Eval(js); err != nil {
				bt.logger.Warn("js eval error", "url", req.URLString(), "error", err)
			}
			time.Sleep(500 * time.Millisecond)
		}
	}

	if selector, ok := req.Meta["wait_selector"]; ok {
		if sel, ok := selector.(string); ok && sel != "" {
			if err := page.Timeout(10 * time.Second).MustElement(sel).WaitVisible(); err != nil {
				bt.logger.Warn("wait selector timeout", "selector", sel, "error", err)
			}
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}

	finalURL := req.URLString()
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	resp := types.NewBrowserResponse(req, 200, []byte(html), finalURL, time.Since(start))

	if pageCookies, err := page.Cookies(nil); err == nil && len(pageCookies) > 0 {
		for _, c := range pageCookies {
			resp.Cookies[c.Name] = c.Value
		}
	}

	bt.logger.Debug("browser fetch complete", "url", req.URLString(), "final_url", finalURL, "size", len(html), "duration", resp.FetchDuration)
	return resp, nil
}

// Close shuts down the browser and releases every pooled page.
func (bt *BrowserTransport) Close() error {
	close(bt.pagePool)
	for page := range bt.pagePool {
		_ = page.Close()
	}
	if bt.browser != nil {
		return bt.browser.Close()
	}
	return nil
}

// Type identifies this Transport to the Downloader's fetcher-type routing.
func (bt *BrowserTransport) Type() string { return "browser" }

func (bt *BrowserTransport) getPage() (*rod.Page, error) {
	select {
	case page := <-bt.pagePool:
		return page, nil
	default:
		return bt.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
}

func (bt *BrowserTransport) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case bt.pagePool <- page:
	default:
		_ = page.Close()
	}
}
