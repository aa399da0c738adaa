package integration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/IshaanNene/webstalk/internal/config"
	"github.com/IshaanNene/webstalk/internal/parser"
	"github.com/IshaanNene/webstalk/internal/transport"
	"github.com/IshaanNene/webstalk/internal/types"
	"github.com/IshaanNene/webstalk/pkg/webstalk"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// TestLiveFetch tests fetching a real URL over the HTTP transport.
func TestLiveFetch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live test")
	}

	cfg := config.DefaultConfig()
	tr, err := transport.NewHTTPTransport(cfg.Transport, cfg.Engine.RequestTimeout, cfg.Engine.UserAgents, nil, testLogger)
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	defer tr.Close()

	req, _ := types.NewRequest("https://quotes.toscrape.com")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := tr.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}

	t.Logf("Status: %d", resp.StatusCode)
	t.Logf("Content-Type: %s", resp.ContentType)
	t.Logf("Body size: %d bytes", len(resp.Body))
	t.Logf("Duration: %s", resp.FetchDuration)

	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if len(resp.Body) < 100 {
		t.Error("body too short")
	}
}

// TestLiveParse tests CSS and structured-data extraction against a real page.
func TestLiveParse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live test")
	}

	cfg := config.DefaultConfig()
	tr, _ := transport.NewHTTPTransport(cfg.Transport, cfg.Engine.RequestTimeout, cfg.Engine.UserAgents, nil, testLogger)
	defer tr.Close()

	req, _ := types.NewRequest("https://quotes.toscrape.com")
	resp, err := tr.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	p := parser.NewCSSParser(testLogger)
	rules := []config.ParseRule{
		{Name: "quotes", Type: "css", Selector: ".quote .text"},
		{Name: "authors", Type: "css", Selector: ".quote .author"},
	}
	items, links, err := p.Parse(resp, rules)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	t.Logf("CSS: %d items, %d links", len(items), len(links))
	for _, item := range items {
		for k, v := range item.Fields {
			t.Logf("  %s = %v", k, v)
		}
	}
	if len(links) < 5 {
		t.Errorf("expected at least 5 links, got %d", len(links))
	}

	sde := parser.NewStructuredDataExtractor(testLogger)
	sdResults, _ := sde.Extract(resp)
	t.Logf("Structured data: %d results", len(sdResults))
	for _, sd := range sdResults {
		t.Logf("  Type: %s, Fields: %d", sd.Type, len(sd.Data))
	}
}

// TestLiveCrawl exercises the full SDK wiring (scheduler, downloader,
// scraper, middleware chain, storage) against a real site.
func TestLiveCrawl(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live test")
	}

	outDir := t.TempDir()
	crawler := webstalk.NewCrawler(
		webstalk.WithMaxDepth(1),
		webstalk.WithConcurrency(2),
		webstalk.WithDelay(500*time.Millisecond),
		webstalk.WithOutput("jsonl", outDir),
		webstalk.WithMaxRequests(10),
	)

	var scraped int
	crawler.OnHTML(".quote", func(e *webstalk.Element) {
		text := e.Selection.Find(".text").Text()
		if text != "" {
			e.Set("text", text)
			e.Set("author", e.Selection.Find(".author").Text())
			scraped++
		}
	})

	done := make(chan error, 1)
	go func() { done <- crawler.Start("https://quotes.toscrape.com") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("crawl failed: %v", err)
		}
	case <-time.After(60 * time.Second):
		crawler.Stop()
		<-done
		t.Log("crawl timed out, stopped gracefully")
	}

	stats := crawler.Stats()
	t.Logf("Results: %+v", stats)

	sent, _ := stats["requests_sent"].(int64)
	if sent < 1 {
		t.Error("expected at least 1 request sent")
	}
}
