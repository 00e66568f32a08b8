package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/intentbridge/relay/internal/event"
	"github.com/intentbridge/relay/internal/signer"
)

func testEvent() *event.CanonicalEvent {
	idx := uint(3)
	return &event.CanonicalEvent{
		EventType:       event.TypeFilled,
		Chain:           "mantle",
		ChainID:         5003,
		TransactionHash: "0xdeadbeef",
		BlockNumber:     1042,
		LogIndex:        &idx,
		EventData:       map[string]any{"amount": "1000"},
		Timestamp:       "1724900000",
	}
}

func newTestDispatcher(url string) (*Dispatcher, *[]time.Duration) {
	d := New(url, "s3cret", 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	delays := &[]time.Duration{}
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		*delays = append(*delays, dur)
		return nil
	}
	d.nowFunc = func() time.Time { return time.Unix(1724900000, 0) }
	return d, delays
}

func TestDispatchSignsAndSucceeds(t *testing.T) {
	var gotSig, gotTS, gotKey string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/indexer/event" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotSig = r.Header.Get("X-Signature")
		gotTS = r.Header.Get("X-Timestamp")
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, delays := newTestDispatcher(server.URL)
	if err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(*delays) != 0 {
		t.Errorf("no retries expected, slept %v", *delays)
	}
	if gotKey != "0xdeadbeef-3" {
		t.Errorf("idempotency key = %q", gotKey)
	}
	if gotTS != "1724900000" {
		t.Errorf("timestamp = %q", gotTS)
	}
	if want := signer.SignTimestamped("s3cret", gotTS, gotBody); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
	if !strings.Contains(string(gotBody), `"event_type":"filled"`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestDispatchRetrySchedule(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, delays := newTestDispatcher(server.URL)
	if err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestDispatchNonRetryableStatusIsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"unprocessable", http.StatusUnprocessableEntity},
		{"conflict", http.StatusConflict},
		{"not_modified", http.StatusNotModified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts++
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			d, delays := newTestDispatcher(server.URL)
			err := d.Dispatch(context.Background(), testEvent())
			if !errors.Is(err, ErrClientRejected) {
				t.Fatalf("expected client rejection, got %v", err)
			}
			if attempts != 1 {
				t.Errorf("attempts = %d, want 1", attempts)
			}
			if len(*delays) != 0 {
				t.Errorf("no backoff expected, slept %v", *delays)
			}
		})
	}
}

func TestDispatchExhaustion(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, _ := newTestDispatcher(server.URL)
	err := d.Dispatch(context.Background(), testEvent())
	if err == nil || errors.Is(err, ErrClientRejected) {
		t.Fatalf("expected transient exhaustion, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !strings.Contains(err.Error(), "exhausted") {
		t.Errorf("error should mention exhaustion: %v", err)
	}
}
