package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/intentbridge/relay/internal/event"
	"github.com/intentbridge/relay/internal/queue"
	"github.com/intentbridge/relay/internal/signer"
)

// ErrClientRejected means the relayer answered with a non-2xx status below
// 500: the request reached it and was refused (already processed, invalid
// transition). Never retried; the job completes as handled-unsuccessful.
var ErrClientRejected = errors.New("relayer rejected event")

const (
	eventPath          = "/indexer/event"
	defaultMaxAttempts = 3
	defaultBackoffBase = 1 * time.Second
)

// Dispatcher posts canonical events to the downstream relayer with a
// signature, timestamp, and idempotency key, retrying transient failures.
type Dispatcher struct {
	baseURL string
	secret  string
	client  *http.Client
	logger  *slog.Logger

	maxAttempts int
	backoffBase time.Duration
	nowFunc     func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// New builds a dispatcher for the given relayer base URL. The shared secret
// signs every outbound payload.
func New(baseURL, secret string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		baseURL:     baseURL,
		secret:      secret,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		nowFunc:     time.Now,
		sleep:       sleepCtx,
	}
}

// Dispatch serializes and posts one canonical event. Network errors and 5xx
// responses are retried up to the attempt limit with exponential backoff;
// exhaustion returns the last error so the queue layer can apply its own,
// longer-timescale retry on top.
func (d *Dispatcher) Dispatch(ctx context.Context, ce *event.CanonicalEvent) error {
	payload, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := ce.DeliveryKey()

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, queue.BackoffDelay(d.backoffBase, attempt-1)); err != nil {
				return err
			}
		}

		err := d.post(ctx, payload, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClientRejected) || errors.Is(err, context.Canceled) {
			return err
		}

		lastErr = err
		d.logger.Warn("dispatch attempt failed",
			"idempotency_key", key,
			"attempt", attempt,
			"error", err)
	}

	return fmt.Errorf("dispatch exhausted after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, payload []byte, idempotencyKey string) error {
	ts := strconv.FormatInt(d.nowFunc().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+eventPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signer.SignTimestamped(d.secret, ts, payload))
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode < 500:
		// Anything below 500 is the relayer's verdict, not a transient
		// fault; retrying would replay the same refusal.
		return fmt.Errorf("%w: status %d", ErrClientRejected, resp.StatusCode)
	default:
		return fmt.Errorf("relayer status %d", resp.StatusCode)
	}
}

// Ping checks that the relayer endpoint is reachable. Any HTTP response
// counts; this is a connectivity preflight, not a health contract.
func (d *Dispatcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach relayer: %w", err)
	}
	resp.Body.Close()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
