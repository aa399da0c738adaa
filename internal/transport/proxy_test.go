package transport

import (
	"log/slog"
	"os"
	"testing"

	"github.com/IshaanNene/webstalk/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestNewProxyManagerDisabledReturnsNil(t *testing.T) {
	pm := NewProxyManager(config.ProxyConfig{Enabled: false, URLs: []string{"http://a:8080"}}, testLogger)
	if pm != nil {
		t.Error("expected nil ProxyManager when proxying is disabled")
	}
}

func TestProxyManagerRoundRobinCyclesAllHealthy(t *testing.T) {
	pm := NewProxyManager(config.ProxyConfig{
		Enabled:  true,
		Rotation: "round_robin",
		URLs:     []string{"http://a:8080", "http://b:8080", "http://c:8080"},
	}, testLogger)
	if pm.Count() != 3 {
		t.Fatalf("expected 3 proxies, got %d", pm.Count())
	}

	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		u := pm.Next()
		if u == nil {
			t.Fatal("expected a proxy URL, got nil")
		}
		seen[u.Host] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected round robin to visit all 3 proxies, saw %d", len(seen))
	}
}

func TestProxyManagerMarkFailedExcludesFromRotation(t *testing.T) {
	pm := NewProxyManager(config.ProxyConfig{
		Enabled:  true,
		Rotation: "round_robin",
		URLs:     []string{"http://a:8080", "http://b:8080"},
	}, testLogger)

	first := pm.Next()
	pm.MarkFailed(first, nil)

	if pm.HealthyCount() != 1 {
		t.Fatalf("expected 1 healthy proxy after marking one failed, got %d", pm.HealthyCount())
	}
	for i := 0; i < 4; i++ {
		u := pm.Next()
		if u.String() == first.String() {
			t.Error("marked-failed proxy should not be returned by Next")
		}
	}
}

func TestProxyManagerNextReturnsNilWhenNoneHealthy(t *testing.T) {
	pm := NewProxyManager(config.ProxyConfig{
		Enabled: true,
		URLs:    []string{"http://a:8080"},
	}, testLogger)
	u := pm.Next()
	pm.MarkFailed(u, nil)
	if pm.Next() != nil {
		t.Error("expected nil when no healthy proxies remain")
	}
}
