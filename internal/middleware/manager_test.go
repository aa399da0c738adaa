package middleware

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/IshaanNene/webstalk/internal/pipeline"
	"github.com/IshaanNene/webstalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type recordingRequestMW struct {
	name string
	log  *[]string
}

func (m recordingRequestMW) ProcessRequest(ctx context.Context, req *types.Request) (*types.Response, *types.Request, error) {
	*m.log = append(*m.log, m.name)
	return nil, nil, nil
}

type recordingResponseMW struct {
	name string
	log  *[]string
}

func (m recordingResponseMW) ProcessResponse(ctx context.Context, req *types.Request, resp *types.Response) (*types.Response, *types.Request, error) {
	*m.log = append(*m.log, m.name)
	return nil, nil, nil
}

func TestManagerRequestOrderIsRegistrationOrder(t *testing.T) {
	var log []string
	m := New(testLogger)
	m.Register(recordingRequestMW{name: "first", log: &log})
	m.Register(recordingRequestMW{name: "second", log: &log})

	req, _ := types.NewRequest("https://example.com")
	if _, _, err := m.ProcessRequest(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 || log[0] != "first" || log[1] != "second" {
		t.Fatalf("expected request chain in registration order, got %v", log)
	}
}

func TestManagerResponseOrderIsReversed(t *testing.T) {
	var log []string
	m := New(testLogger)
	m.Register(recordingResponseMW{name: "first", log: &log})
	m.Register(recordingResponseMW{name: "second", log: &log})

	req, _ := types.NewRequest("https://example.com")
	resp := &types.Response{StatusCode: 200}
	if _, _, err := m.ProcessResponse(context.Background(), req, resp); err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 || log[0] != "second" || log[1] != "first" {
		t.Fatalf("expected response chain in reverse registration order, got %v", log)
	}
}

func TestManagerItemChainDropsOnErrDropItem(t *testing.T) {
	m := New(testLogger)
	m.Register(AdaptPipeline(&pipeline.RequiredFieldsMiddleware{Fields: []string{"title"}}))

	item := types.NewItem("https://example.com")
	item.Set("body", "no title here")

	result, err := m.ProcessItem(context.Background(), item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected item to be dropped, got %+v", result)
	}
}

func TestManagerItemChainPassesThrough(t *testing.T) {
	m := New(testLogger)
	m.Register(AdaptPipeline(&pipeline.TrimMiddleware{}))

	item := types.NewItem("https://example.com")
	item.Set("title", "  hello  ")

	result, err := m.ProcessItem(context.Background(), item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected item to survive the chain")
	}
	if result.GetString("title") != "hello" {
		t.Fatalf("expected trimmed title, got %q", result.GetString("title"))
	}
}
