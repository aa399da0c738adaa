package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/IshaanNene/webstalk/internal/types"
)

// RetryMiddleware re-enqueues failed requests instead of letting the
// Downloader retry them directly — the Downloader itself never retries;
// retry policy lives entirely here, as both an ExceptionMiddleware (for
// transport-level failures) and a ResponseMiddleware (for responses that
// arrived successfully but carry a retryable status code).
type RetryMiddleware struct {
	retryDelay time.Duration
	retryCodes map[int]bool
	logger     *slog.Logger
}

// NewRetryMiddleware creates a RetryMiddleware. retryDelay is the base
// backoff applied before re-queuing when the failure carries no explicit
// Retry-After.
func NewRetryMiddleware(retryDelay time.Duration, retryHTTPCodes []int, logger *slog.Logger) *RetryMiddleware {
	codes := make(map[int]bool, len(retryHTTPCodes))
	for _, c := range retryHTTPCodes {
		codes[c] = true
	}
	return &RetryMiddleware{
		retryDelay: retryDelay,
		retryCodes: codes,
		logger:     logger.With("component", "retry_middleware"),
	}
}

// ProcessException implements ExceptionMiddleware.
func (m *RetryMiddleware) ProcessException(ctx context.Context, req *types.Request, downloadErr error) (*types.Response, *types.Request, error) {
	fetchErr, ok := downloadErr.(*types.FetchError)
	if !ok || !fetchErr.IsRetryable() || req.RetryCount >= req.MaxRetries {
		return nil, nil, nil
	}

	delay := m.retryDelay
	if fetchErr.RetryAfter > 0 {
		delay = fetchErr.RetryAfter
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}

	retryReq := req.Clone()
	retryReq.RetryCount++
	retryReq.Priority = types.PriorityLow
	m.logger.Warn("retrying request",
		"url", req.URLString(),
		"retry", retryReq.RetryCount,
		"max_retries", req.MaxRetries,
		"error", downloadErr,
	)
	return nil, retryReq, nil
}

// ProcessResponse implements ResponseMiddleware, retrying responses that
// downloaded successfully but carry a configured retryable status code.
func (m *RetryMiddleware) ProcessResponse(ctx context.Context, req *types.Request, resp *types.Response) (*types.Response, *types.Request, error) {
	if !m.retryCodes[resp.StatusCode] || req.RetryCount >= req.MaxRetries {
		return resp, nil, nil
	}

	retryReq := req.Clone()
	retryReq.RetryCount++
	retryReq.Priority = types.PriorityLow
	m.logger.Warn("retrying response",
		"url", req.URLString(),
		"status", resp.StatusCode,
		"retry", retryReq.RetryCount,
	)
	return nil, retryReq, nil
}
