package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ceroxe/paywatch/internal/admission"
	"github.com/ceroxe/paywatch/internal/monitor"
	"github.com/ceroxe/paywatch/internal/notify"
)

type fakeRunner struct {
	mu      sync.Mutex
	status  monitor.Status
	block   chan struct{} // if non-nil, Run waits until closed
	started chan struct{}
	calls   int
}

func (f *fakeRunner) Run(ctx context.Context, taskID string, amount float64, deadline time.Time) monitor.Status {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return monitor.StatusCancelled
		}
	}
	return f.status
}

type fakeDeliverer struct {
	mu       sync.Mutex
	payloads []notify.Payload
	urls     []string
	delay    time.Duration
	done     chan struct{}
}

func (f *fakeDeliverer) Deliver(ctx context.Context, taskID, callbackURL string, payload notify.Payload) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.urls = append(f.urls, callbackURL)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	return nil
}

func (f *fakeDeliverer) delivered() []notify.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Payload(nil), f.payloads...)
}

func testHandler(runner SessionRunner, deliverer Deliverer) (*PaymentHandler, *admission.Gate) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := admission.New()
	h := NewPaymentHandler(context.Background(), "T", time.Minute, gate, runner, deliverer, nil, logger)
	return h, gate
}

func postWatch(t *testing.T, h *PaymentHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/watch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	// The request id middleware normally supplies the task id.
	wrapped := RequestIDMiddleware(http.HandlerFunc(h.HandleWatch))
	wrapped.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleWatchInvalidRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"zero amount", `{"token":"T","money":0,"callbackUrl":"http://x/cb"}`},
		{"negative amount", `{"token":"T","money":-1,"callbackUrl":"http://x/cb"}`},
		{"missing callback", `{"token":"T","money":1.00}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, gate := testHandler(&fakeRunner{}, &fakeDeliverer{})
			rec := postWatch(t, h, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp := decodeResponse(t, rec); resp.Status != "ERROR" || resp.Message != "Invalid Parameters" {
				t.Errorf("body = %+v", resp)
			}
			if gate.Busy() {
				t.Error("rejected request must not hold the gate")
			}
		})
	}
}

func TestHandleWatchBadToken(t *testing.T) {
	h, gate := testHandler(&fakeRunner{}, &fakeDeliverer{})
	rec := postWatch(t, h, `{"token":"wrong","money":1.00,"callbackUrl":"http://x/cb"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != "UNAUTHORIZED" {
		t.Errorf("body = %+v", resp)
	}
	if gate.Busy() {
		t.Error("unauthorized request must not hold the gate")
	}
}

func TestHandleWatchReadyThenPending(t *testing.T) {
	runner := &fakeRunner{status: monitor.StatusMatched, block: make(chan struct{})}
	h, _ := testHandler(runner, &fakeDeliverer{})

	rec := postWatch(t, h, `{"token":"T","money":1.00,"callbackUrl":"http://x/cb?oid=abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != "READY" {
		t.Fatalf("first request = %+v, want READY", resp)
	}

	rec = postWatch(t, h, `{"token":"T","money":2.00,"callbackUrl":"http://x/cb"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "PENDING" {
		t.Fatalf("second request = %+v, want PENDING", resp)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	var pending PendingData
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatal(err)
	}
	if pending.WaitSeconds <= 0 {
		t.Errorf("waitSeconds = %d, want > 0", pending.WaitSeconds)
	}

	close(runner.block)
}

func TestSessionOutcomeDelivered(t *testing.T) {
	for _, status := range []monitor.Status{monitor.StatusMatched, monitor.StatusTimeout} {
		t.Run(status.String(), func(t *testing.T) {
			deliverer := &fakeDeliverer{done: make(chan struct{})}
			done := deliverer.done
			runner := &fakeRunner{status: status}
			h, gate := testHandler(runner, deliverer)

			postWatch(t, h, `{"token":"T","money":1.00,"timestamp":"req-ts","callbackUrl":"http://x/cb?oid=abc"}`)

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("callback never dispatched")
			}

			got := deliverer.delivered()
			if len(got) != 1 {
				t.Fatalf("expected 1 delivery, got %d", len(got))
			}
			if got[0].Status != status.String() || got[0].Amount != 1.00 || got[0].RequestTimestamp != "req-ts" {
				t.Errorf("payload = %+v", got[0])
			}

			// The gate is released only after delivery completes.
			waitFor(t, func() bool { return !gate.Busy() })
		})
	}
}

func TestGateHeldUntilDeliveryCompletes(t *testing.T) {
	deliverer := &fakeDeliverer{delay: 100 * time.Millisecond}
	runner := &fakeRunner{status: monitor.StatusMatched}
	h, gate := testHandler(runner, deliverer)

	postWatch(t, h, `{"token":"T","money":1.00,"callbackUrl":"http://x/cb"}`)

	// Session finishes almost immediately; delivery is still running.
	time.Sleep(30 * time.Millisecond)
	if !gate.Busy() {
		t.Fatal("gate must stay busy until the callback is delivered")
	}

	waitFor(t, func() bool { return !gate.Busy() })
	if len(deliverer.delivered()) != 1 {
		t.Error("delivery should have completed")
	}
}

func TestCancelledSessionSendsNoCallback(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := admission.New()
	deliverer := &fakeDeliverer{}
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{})}
	started := runner.started

	ctx, cancel := context.WithCancel(context.Background())
	h := NewPaymentHandler(ctx, "T", time.Minute, gate, runner, deliverer, nil, logger)

	postWatch(t, h, `{"token":"T","money":1.00,"callbackUrl":"http://x/cb"}`)

	<-started
	cancel()

	waitFor(t, func() bool { return !gate.Busy() })
	if len(deliverer.delivered()) != 0 {
		t.Error("cancelled session must not trigger a callback")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
