package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/IshaanNene/webstalk/internal/config"
	"github.com/IshaanNene/webstalk/internal/parser"
	"github.com/IshaanNene/webstalk/internal/types"
)

// ruleSpider drives a crawl from config.ParserConfig's declarative
// extraction rules alone, since the CLI has no way to register an
// imperative OnHTML callback the way pkg/webstalk's SDK does.
type ruleSpider struct {
	cfg    *config.Config
	seeds  []string
	logger *slog.Logger
	parser *parser.CompositeParser
}

func newRuleSpider(cfg *config.Config, seeds []string, logger *slog.Logger) *ruleSpider {
	return &ruleSpider{
		cfg:    cfg,
		seeds:  seeds,
		logger: logger,
		parser: parser.NewCompositeParser(logger),
	}
}

func (s *ruleSpider) Name() string { return "webstalk-cli" }

func (s *ruleSpider) StartURLs() []string { return s.seeds }

func (s *ruleSpider) CustomSettings() map[string]any { return nil }

func (s *ruleSpider) StartRequests(ctx context.Context) (<-chan *types.Request, error) {
	out := make(chan *types.Request, len(s.seeds))
	go func() {
		defer close(out)
		for _, u := range s.seeds {
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

func (s *ruleSpider) Parse(ctx context.Context, resp *types.Response) (<-chan any, error) {
	items, links, err := s.parser.Parse(resp, s.cfg.Parser.Rules)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", resp.Request.URLString(), err)
	}

	out := make(chan any, len(items)+len(links))
	go func() {
		defer close(out)
		for _, item := range items {
			item.SpiderName = s.Name()
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
		for _, link := range links {
			abs, err := resolveRequestURL(resp.FinalURL, link)
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
	}()
	return out, nil
}

func resolveRequestURL(base, ref string) (string, error) {
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
