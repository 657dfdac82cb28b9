package strata

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryEmbedder wraps an Embedder and automatically retries transient HTTP
// errors (status 429 Too Many Requests and 503 Service Unavailable) with
// exponential backoff.
type retryEmbedder struct {
	inner       Embedder
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
	logger      *slog.Logger
}

// RetryOption configures a retryEmbedder.
type RetryOption func(*retryEmbedder)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryEmbedder) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryEmbedder) { r.baseDelay = d }
}

// RetryTimeout sets the overall timeout for the entire retry sequence. The
// zero value (default) disables the timeout.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryEmbedder) { r.timeout = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN and final failures at ERROR. If not set, output is discarded.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryEmbedder) { r.logger = l }
}

// WithRetry wraps e with automatic retry on transient HTTP errors (429,
// 503). Retries use exponential backoff with jitter; when the error carries
// a Retry-After duration, the delay is at least that long. Compose with any
// Embedder:
//
//	emb := strata.WithRetry(gemini.NewEmbedding(apiKey, model, dims))
//	emb := strata.WithRetry(gemini.NewEmbedding(apiKey, model, dims), strata.RetryMaxAttempts(5))
func WithRetry(e Embedder, opts ...RetryOption) Embedder {
	r := &retryEmbedder{
		inner:       e,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

var _ Embedder = (*retryEmbedder)(nil)

func (r *retryEmbedder) Name() string    { return r.inner.Name() }
func (r *retryEmbedder) Dimensions() int { return r.inner.Dimensions() }

// Embed implements Embedder with retry.
func (r *retryEmbedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var last error
	for i := 0; i < r.maxAttempts; i++ {
		result, err := r.inner.Embed(ctx, texts)
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		r.logger.Warn("retrying transient error",
			"provider", r.inner.Name(),
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(r.baseDelay, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Error("all retry attempts exhausted",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", last)
	return nil, last
}

// withTimeout returns a child context with a deadline if r.timeout is set.
// If timeout is zero or ctx already has an earlier deadline, ctx is returned
// unchanged.
func (r *retryEmbedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *HTTPError
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// statusOf extracts the HTTP status code from an HTTPError, or 0.
func statusOf(err error) int {
	var e *HTTPError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	var e *HTTPError
	if errors.As(err, &e) && e.RetryAfter > backoff {
		return e.RetryAfter
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
