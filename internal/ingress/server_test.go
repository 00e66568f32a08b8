package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/intentbridge/relay/internal/chains"
	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/event"
	"github.com/intentbridge/relay/internal/queue"
)

const mantlePool = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	healthy  bool
	stats    queue.Stats
}

func (f *fakeQueue) Enqueue(ctx context.Context, raw *event.RawEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.enqueued {
		if id == raw.ID {
			return false, nil
		}
	}
	f.enqueued = append(f.enqueued, raw.ID)
	return true, nil
}

func (f *fakeQueue) Stats(ctx context.Context) (queue.Stats, error) {
	return f.stats, nil
}

func (f *fakeQueue) Health(ctx context.Context) error {
	if !f.healthy {
		return errors.New("redis down")
	}
	return nil
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func newTestServer(q *fakeQueue) *Server {
	reg := chains.NewRegistry([]config.Chain{
		{Name: "mantle", ChainID: 5003, Contracts: []string{mantlePool}, Aliases: []string{"mantle"}},
	})
	cfg := config.ServerConfig{WebhookSecret: "s3cret", SecretHeader: "X-Webhook-Secret"}
	return New(cfg, q, reg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func postWebhook(t *testing.T, h http.Handler, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitForEnqueue(t *testing.T, q *fakeQueue, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for q.count() != want {
		select {
		case <-deadline:
			t.Fatalf("enqueued = %d, want %d", q.count(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

const validBody = `{
  "id": "evt-1",
  "entity": "intent_filled",
  "op": "INSERT",
  "new": {
    "contract_id": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
    "transaction_hash": "0xfeed",
    "block_number": 77,
    "log_index": 2
  }
}`

func TestWebhookAuth(t *testing.T) {
	q := &fakeQueue{}
	h := newTestServer(q).Handler()

	tests := []struct {
		name   string
		secret string
		want   int
	}{
		{"missing_secret", "", http.StatusUnauthorized},
		{"wrong_secret", "nope", http.StatusUnauthorized},
		{"valid_secret", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postWebhook(t, h, tt.secret, validBody)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// Only the authenticated request may have enqueued.
	waitForEnqueue(t, q, 1)
}

func TestWebhookMalformedBody(t *testing.T) {
	q := &fakeQueue{}
	h := newTestServer(q).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"not_json", "{{{"},
		{"missing_entity", `{"id":"e1","new":{"transaction_hash":"0x1"}}`},
		{"missing_record", `{"id":"e1","entity":"intent_filled"}`},
		{"missing_id", `{"entity":"intent_filled","new":{"transaction_hash":"0x1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postWebhook(t, h, "s3cret", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
	if q.count() != 0 {
		t.Fatalf("malformed bodies must not enqueue, got %d", q.count())
	}
}

func TestWebhookIgnoresUnsupportedTraffic(t *testing.T) {
	q := &fakeQueue{}
	h := newTestServer(q).Handler()

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{
			"unsupported_entity",
			`{"id":"e1","entity":"pool_swapped","new":{"transaction_hash":"0x1","contract_id":"` + mantlePool + `"}}`,
			"unsupported entity",
		},
		{
			"unsupported_chain",
			`{"id":"e2","entity":"intent_filled","new":{"transaction_hash":"0x1","chain_id":42}}`,
			"unsupported chain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postWebhook(t, h, "s3cret", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["status"] != "ignored" || resp["reason"] != tt.reason {
				t.Fatalf("response = %v", resp)
			}
		})
	}

	time.Sleep(50 * time.Millisecond)
	if q.count() != 0 {
		t.Fatalf("ignored traffic must not enqueue, got %d", q.count())
	}
}

func TestWebhookAcceptReturnsIdempotencyKey(t *testing.T) {
	q := &fakeQueue{}
	h := newTestServer(q).Handler()

	w := postWebhook(t, h, "s3cret", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "accepted" || resp["idempotency_key"] != "evt-1" {
		t.Fatalf("response = %v", resp)
	}
	waitForEnqueue(t, q, 1)
}

func TestWebhookDuplicateDeliveryStillAcknowledged(t *testing.T) {
	q := &fakeQueue{}
	h := newTestServer(q).Handler()

	for i := 0; i < 2; i++ {
		w := postWebhook(t, h, "s3cret", validBody)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d", i, w.Code)
		}
	}

	waitForEnqueue(t, q, 1)
	time.Sleep(50 * time.Millisecond)
	if q.count() != 1 {
		t.Fatalf("duplicate delivery enqueued twice")
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		want    int
		status  string
	}{
		{"healthy", true, http.StatusOK, "healthy"},
		{"unhealthy", false, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeQueue{healthy: tt.healthy}).Handler()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["status"] != tt.status {
				t.Fatalf("status field = %q", resp["status"])
			}
			if resp["timestamp"] == "" {
				t.Fatalf("missing timestamp")
			}
		})
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	q := &fakeQueue{healthy: true, stats: queue.Stats{Waiting: 3, Active: 1, Completed: 40, Failed: 2, Delayed: 5}}
	h := newTestServer(q).Handler()

	req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats queue.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats != q.stats {
		t.Fatalf("stats = %+v, want %+v", stats, q.stats)
	}
}
