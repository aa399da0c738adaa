package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IshaanNene/webstalk/internal/types"
)

// RobotsMiddleware enforces robots.txt: a RequestMiddleware that drops
// disallowed requests with types.ErrDropItem-style semantics (a sentinel
// error the Downloader treats as a non-retryable drop, not a failure).
// Requests with DontFilter set bypass it entirely.
type RobotsMiddleware struct {
	enabled bool
	cache   map[string]*robotsData
	mu      sync.RWMutex
	client  *http.Client
}

type robotsData struct {
	disallowed []string
	allowed    []string
	crawlDelay time.Duration
	sitemaps   []string
	fetchedAt  time.Time
}

// NewRobotsMiddleware creates a RobotsMiddleware.
func NewRobotsMiddleware(enabled bool) *RobotsMiddleware {
	return &RobotsMiddleware{
		enabled: enabled,
		cache:   make(map[string]*robotsData),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ProcessRequest implements RequestMiddleware.
func (rm *RobotsMiddleware) ProcessRequest(ctx context.Context, req *types.Request) (*types.Response, *types.Request, error) {
	if !rm.enabled || req.DontFilter {
		return nil, nil, nil
	}
	if rm.IsAllowed(req.URLString()) {
		return nil, nil, nil
	}
	return nil, nil, &types.FetchError{URL: req.URLString(), Err: types.ErrBlocked, Retryable: false}
}

// IsAllowed checks if a URL is allowed by its domain's robots.txt.
func (rm *RobotsMiddleware) IsAllowed(rawURL string) bool {
	if !rm.enabled {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	domain := u.Scheme + "://" + u.Host
	data := rm.getRobotsData(domain)
	if data == nil {
		return true // can't fetch robots.txt = allow
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range data.allowed {
		if matchRobotsPattern(pattern, path) {
			return true
		}
	}
	for _, pattern := range data.disallowed {
		if matchRobotsPattern(pattern, path) {
			return false
		}
	}
	return true
}

// CrawlDelay returns the crawl-delay for a domain, if robots.txt specifies one.
func (rm *RobotsMiddleware) CrawlDelay(domain string) time.Duration {
	rm.mu.RLock()
	data, ok := rm.cache[domain]
	rm.mu.RUnlock()
	if !ok || data == nil {
		return 0
	}
	return data.crawlDelay
}

func (rm *RobotsMiddleware) getRobotsData(domain string) *robotsData {
	rm.mu.RLock()
	data, ok := rm.cache[domain]
	rm.mu.RUnlock()
	if ok {
		return data
	}

	data = rm.fetchRobotsTxt(domain)

	rm.mu.Lock()
	rm.cache[domain] = data
	rm.mu.Unlock()

	return data
}

func (rm *RobotsMiddleware) fetchRobotsTxt(domain string) *robotsData {
	resp, err := rm.client.Get(domain + "/robots.txt")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}

	return parseRobotsTxt(string(body))
}

func parseRobotsTxt(content string) *robotsData {
	data := &robotsData{fetchedAt: time.Now()}

	lines := strings.Split(content, "\n")
	inOurSection := false
	userAgent := ""

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(strings.ToLower(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch key {
		case "user-agent":
			userAgent = strings.ToLower(value)
			inOurSection = userAgent == "*" || strings.Contains(userAgent, "webstalk")
		case "disallow":
			if inOurSection && value != "" {
				data.disallowed = append(data.disallowed, value)
			}
		case "allow":
			if inOurSection && value != "" {
				data.allowed = append(data.allowed, value)
			}
		case "crawl-delay":
			if inOurSection {
				var delay float64
				if _, err := fmt.Sscanf(value, "%f", &delay); err == nil {
					data.crawlDelay = time.Duration(delay * float64(time.Second))
				}
			}
		case "sitemap":
			data.sitemaps = append(data.sitemaps, value)
		}
	}

	return data
}

func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}

	endsWithDollar := strings.HasSuffix(pattern, "$")
	if endsWithDollar {
		pattern = pattern[:len(pattern)-1]
	}

	if strings.Contains(pattern, "*") {
		return matchWildcard(pattern, path, endsWithDollar)
	}

	if endsWithDollar {
		return path == pattern
	}
	return strings.HasPrefix(path, pattern)
}

func matchWildcard(pattern, path string, mustEnd bool) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}

	if mustEnd {
		return pos == len(path)
	}
	return true
}
