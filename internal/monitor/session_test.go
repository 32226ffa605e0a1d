package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ceroxe/paywatch/internal/capture"
	"github.com/ceroxe/paywatch/internal/motion"
	"github.com/ceroxe/paywatch/internal/recognize"
)

// frameSource fabricates frames: static sources return identical pixels
// every capture, changing sources repaint the whole frame each time.
type frameSource struct {
	changing bool
	calls    atomic.Int32
}

func (f *frameSource) CaptureRegion(_ context.Context, r capture.Region) (*capture.Frame, error) {
	n := f.calls.Add(1)
	fill := byte(0x20)
	if f.changing {
		fill = byte(n)
	}
	pix := make([]byte, r.Width*r.Height*4)
	for i := range pix {
		pix[i] = fill
	}
	return &capture.Frame{Pix: pix, Width: r.Width, Height: r.Height, CapturedAt: time.Now()}, nil
}

// scriptRecognizer replays a fixed sequence of poll results, repeating
// the last step once the script is exhausted.
type scriptRecognizer struct {
	steps []scriptStep
	calls atomic.Int32
}

type scriptStep struct {
	blocks []recognize.Block
	err    error
}

func (s *scriptRecognizer) Recognize(context.Context, *capture.Frame) ([]recognize.Block, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	step := s.steps[i]
	return step.blocks, step.err
}

func testLoop(src capture.Capturer, rec recognize.Recognizer, tuning Tuning) *Loop {
	sampler := capture.NewSampler(src, capture.ScreenSize{Width: 100, Height: 100}, 16, 16)
	gate := motion.New(4, 0.05)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLoop(sampler, gate, rec, tuning, logger)
}

func fastTuning() Tuning {
	return Tuning{
		IdleInterval:      time.Millisecond,
		BusyInterval:      time.Millisecond,
		HeartbeatInterval: time.Minute,
		SerialPattern:     `transaction#(\d+)`,
	}
}

func TestRunMatchesNewTransaction(t *testing.T) {
	rec := &scriptRecognizer{steps: []scriptStep{
		{blocks: blocks("transaction #5")},
		{blocks: blocks("transaction #6", "1.00")},
	}}
	loop := testLoop(&frameSource{changing: true}, rec, fastTuning())

	got := loop.Run(context.Background(), "t1", 1.00, time.Now().Add(5*time.Second))
	if got != StatusMatched {
		t.Fatalf("status = %v, want StatusMatched", got)
	}
}

func TestRunTimesOutWithoutMatch(t *testing.T) {
	rec := &scriptRecognizer{steps: []scriptStep{
		{blocks: blocks("transaction #5")},
	}}
	loop := testLoop(&frameSource{changing: true}, rec, fastTuning())

	got := loop.Run(context.Background(), "t2", 1.00, time.Now().Add(100*time.Millisecond))
	if got != StatusTimeout {
		t.Fatalf("status = %v, want StatusTimeout", got)
	}
}

func TestRunCancellation(t *testing.T) {
	rec := &scriptRecognizer{steps: []scriptStep{{blocks: nil}}}
	loop := testLoop(&frameSource{changing: true}, rec, fastTuning())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Status, 1)
	go func() {
		done <- loop.Run(ctx, "t3", 1.00, time.Now().Add(time.Hour))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case got := <-done:
		if got != StatusCancelled {
			t.Fatalf("status = %v, want StatusCancelled", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit promptly after cancellation")
	}
}

func TestRunSkipsRecognitionWhileStatic(t *testing.T) {
	rec := &scriptRecognizer{steps: []scriptStep{{blocks: nil}}}
	loop := testLoop(&frameSource{changing: false}, rec, fastTuning())

	loop.Run(context.Background(), "t4", 1.00, time.Now().Add(100*time.Millisecond))

	// The first poll has no previous frame and always scans; every later
	// poll sees an unchanged frame and must skip recognition.
	if got := rec.calls.Load(); got != 1 {
		t.Errorf("recognizer ran %d times on a static screen, want 1", got)
	}
}

func TestRunHeartbeatForcesScan(t *testing.T) {
	rec := &scriptRecognizer{steps: []scriptStep{{blocks: nil}}}
	tuning := fastTuning()
	tuning.HeartbeatInterval = 20 * time.Millisecond
	loop := testLoop(&frameSource{changing: false}, rec, tuning)

	loop.Run(context.Background(), "t5", 1.00, time.Now().Add(150*time.Millisecond))

	if got := rec.calls.Load(); got < 3 {
		t.Errorf("expected heartbeat rescans on a static screen, got %d scans", got)
	}
}

func TestRunToleratesRecognitionErrors(t *testing.T) {
	rec := &scriptRecognizer{steps: []scriptStep{
		{err: errors.New("engine hiccup")},
		{blocks: blocks("transaction #5")},
		{blocks: blocks("transaction #6", "1.00")},
	}}
	loop := testLoop(&frameSource{changing: true}, rec, fastTuning())

	got := loop.Run(context.Background(), "t6", 1.00, time.Now().Add(5*time.Second))
	if got != StatusMatched {
		t.Fatalf("status = %v, want StatusMatched after transient failure", got)
	}
}
