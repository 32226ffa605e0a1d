package server

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ceroxe/paywatch/internal/admission"
	"github.com/ceroxe/paywatch/internal/capture"
	"github.com/ceroxe/paywatch/internal/monitor"
	"github.com/ceroxe/paywatch/internal/motion"
	"github.com/ceroxe/paywatch/internal/notify"
	"github.com/ceroxe/paywatch/internal/recognize"
)

type e2eCapturer struct{ n int }

func (c *e2eCapturer) CaptureRegion(_ context.Context, r capture.Region) (*capture.Frame, error) {
	c.n++
	pix := make([]byte, r.Width*r.Height*4)
	for i := range pix {
		pix[i] = byte(c.n) // repaint every frame so motion always triggers
	}
	return &capture.Frame{Pix: pix, Width: r.Width, Height: r.Height, CapturedAt: time.Now()}, nil
}

type e2eRecognizer struct{ polls int }

func (r *e2eRecognizer) Recognize(context.Context, *capture.Frame) ([]recognize.Block, error) {
	r.polls++
	if r.polls == 1 {
		return []recognize.Block{{Text: "transaction #5"}}, nil
	}
	return []recognize.Block{
		{Text: "transaction #6"},
		{Text: "¥1.00"},
	}, nil
}

// Full pipeline: watch request -> detection -> signed callback, with
// the receiver verifying the signature the way the remote side does.
func TestWatchDetectNotifyPipeline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	type received struct {
		query map[string]string
		body  notify.Payload
	}
	callbackCh := make(chan received, 1)
	callbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := map[string]string{}
		for k, v := range r.URL.Query() {
			q[k] = v[0]
		}
		var body notify.Payload
		_ = json.NewDecoder(r.Body).Decode(&body)
		callbackCh <- received{query: q, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackSrv.Close()

	sampler := capture.NewSampler(&e2eCapturer{}, capture.ScreenSize{Width: 200, Height: 200}, 32, 32)
	loop := monitor.NewLoop(sampler, motion.New(4, 0.05), &e2eRecognizer{}, monitor.Tuning{
		IdleInterval:      time.Millisecond,
		BusyInterval:      time.Millisecond,
		HeartbeatInterval: time.Minute,
		SerialPattern:     `transaction#(\d+)`,
	}, logger)

	notifier := notify.New("S", 3, time.Millisecond, logger)
	gate := admission.New()
	h := NewPaymentHandler(context.Background(), "T", 10*time.Second, gate, loop, notifier, nil, logger)

	body := fmt.Sprintf(`{"token":"T","money":1.00,"timestamp":"req-ts","callbackUrl":"%s/cb?oid=abc"}`, callbackSrv.URL)
	rec := postWatch(t, h, body)
	if resp := decodeResponse(t, rec); resp.Status != "READY" {
		t.Fatalf("watch response = %+v, want READY", resp)
	}

	var got received
	select {
	case got = <-callbackCh:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never arrived")
	}

	if got.body.Status != "SUCCESS" || got.body.Amount != 1.00 || got.body.OrderID != "abc" {
		t.Errorf("callback body = %+v", got.body)
	}
	if got.query["money"] != "1.00" || got.query["status"] != "SUCCESS" {
		t.Errorf("callback query = %+v", got.query)
	}

	// Independent verifier derivation over the received parameters.
	canonical := fmt.Sprintf("money=%s&oid=%s&status=%s&timestamp=%s&key=S",
		got.query["money"], got.query["oid"], got.query["status"], got.query["timestamp"])
	want := strings.ToUpper(fmt.Sprintf("%x", md5.Sum([]byte(canonical))))
	if got.query["sign"] != want {
		t.Errorf("signature = %s, verifier derives %s", got.query["sign"], want)
	}

	waitFor(t, func() bool { return !gate.Busy() })
}
