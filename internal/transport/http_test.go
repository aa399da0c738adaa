package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func TestParseRetryAfterSeconds(t *testing.T) {
	if d := parseRetryAfter("10"); d != 10*time.Second {
		t.Errorf("expected 10s, got %v", d)
	}
}

func TestParseRetryAfterCapsAtTwoMinutes(t *testing.T) {
	if d := parseRetryAfter("600"); d != 120*time.Second {
		t.Errorf("expected cap at 120s, got %v", d)
	}
}

func TestParseRetryAfterEmptyDefaultsToFiveSeconds(t *testing.T) {
	if d := parseRetryAfter(""); d != 5*time.Second {
		t.Errorf("expected 5s default, got %v", d)
	}
}

func TestIsRetryableErrorContextCanceled(t *testing.T) {
	if isRetryableError(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
}

func TestIsRetryableErrorConnRefused(t *testing.T) {
	err := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	if !isRetryableError(err) {
		t.Error("connection refused should be retryable")
	}
}

func TestDecompressReaderGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte("hello world"))
	gw.Close()

	resp := &http.Response{Header: http.Header{"Content-Encoding": []string{"gzip"}}}
	reader, err := decompressReader(resp, &buf)
	if err != nil {
		t.Fatalf("decompressReader: %v", err)
	}
	out := make([]byte, 11)
	n, _ := reader.Read(out)
	if string(out[:n]) != "hello world" {
		t.Errorf("expected decompressed body, got %q", out[:n])
	}
}

func TestDecompressReaderNoEncoding(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	src := bytes.NewBufferString("plain")
	reader, err := decompressReader(resp, src)
	if err != nil {
		t.Fatalf("decompressReader: %v", err)
	}
	if reader != src {
		t.Error("expected passthrough reader for no Content-Encoding")
	}
}

func TestRandomDelayStaysNearBase(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 20; i++ {
		d := RandomDelay(base)
		if d < 70*time.Millisecond || d > 130*time.Millisecond {
			t.Errorf("RandomDelay(%v) = %v, outside expected jitter range", base, d)
		}
	}
}
