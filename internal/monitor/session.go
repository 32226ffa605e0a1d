package monitor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ceroxe/paywatch/internal/capture"
	"github.com/ceroxe/paywatch/internal/motion"
	"github.com/ceroxe/paywatch/internal/recognize"
)

// Status is how a session ended.
type Status int

const (
	// StatusTimeout: the deadline passed without a matching transaction.
	StatusTimeout Status = iota
	// StatusMatched: a new transaction with the target amount appeared.
	StatusMatched
	// StatusCancelled: the session was aborted (shutdown). No callback
	// is sent for cancelled sessions.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusMatched:
		return "SUCCESS"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "TIMEOUT"
	}
}

// Tuning holds the loop's timing and pattern knobs. Zero values fall
// back to the defaults observed to work over VNC.
type Tuning struct {
	IdleInterval      time.Duration // sleep when nothing changed (default 500ms)
	BusyInterval      time.Duration // sleep after a recognition pass (default 800ms)
	HeartbeatInterval time.Duration // forced re-scan period (default 20s)
	SerialPattern     string
}

func (t Tuning) withDefaults() Tuning {
	if t.IdleInterval <= 0 {
		t.IdleInterval = 500 * time.Millisecond
	}
	if t.BusyInterval <= 0 {
		t.BusyInterval = 800 * time.Millisecond
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = 20 * time.Second
	}
	return t
}

// Loop drives one monitoring session: capture, motion-gate, recognize,
// track. It owns all per-session state; exactly one Loop runs at a time
// (the admission gate enforces this upstream).
type Loop struct {
	sampler    *capture.Sampler
	gate       *motion.Gate
	recognizer recognize.Recognizer
	tuning     Tuning
	logger     *slog.Logger
}

// NewLoop wires the session components together.
func NewLoop(sampler *capture.Sampler, gate *motion.Gate, recognizer recognize.Recognizer, tuning Tuning, logger *slog.Logger) *Loop {
	return &Loop{
		sampler:    sampler,
		gate:       gate,
		recognizer: recognizer,
		tuning:     tuning.withDefaults(),
		logger:     logger,
	}
}

// Run polls until a matching transaction appears, the deadline passes,
// or ctx is cancelled. Per-poll capture and recognition failures are
// logged and tolerated; only the deadline or cancellation end a session
// without a match.
func (l *Loop) Run(ctx context.Context, taskID string, targetAmount float64, deadline time.Time) Status {
	amountText := FormatAmount(targetAmount)
	amountNoDot := strings.ReplaceAll(amountText, ".", "")

	tracker, err := NewTracker(l.tuning.SerialPattern)
	if err != nil {
		// Pattern problems are configuration errors; nothing to poll for.
		l.logger.Error("session aborted", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return StatusTimeout
	}

	l.logger.Info("session started",
		slog.String("task_id", taskID),
		slog.String("target_amount", amountText),
		slog.Time("deadline", deadline),
	)

	var (
		lastFrame  *capture.Frame
		lastScanAt time.Time
		scans      int
		skipped    int
	)

	for {
		if ctx.Err() != nil {
			l.logger.Info("session cancelled", slog.String("task_id", taskID))
			return StatusCancelled
		}
		now := time.Now()
		if !now.Before(deadline) {
			l.logger.Info("session timed out", slog.String("task_id", taskID), slog.Int("scans", scans))
			return StatusTimeout
		}

		frame, err := l.sampler.Sample(ctx)
		if err != nil {
			l.logger.Warn("capture failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
			if !sleepCtx(ctx, l.tuning.IdleInterval) {
				return StatusCancelled
			}
			continue
		}

		motionDetected := lastFrame == nil || l.gate.Changed(lastFrame, frame)
		forceScan := now.Sub(lastScanAt) > l.tuning.HeartbeatInterval

		if !motionDetected && !forceScan {
			skipped++
			if !sleepCtx(ctx, l.tuning.IdleInterval) {
				return StatusCancelled
			}
			continue
		}

		lastFrame = frame
		lastScanAt = now
		scans++

		trigger := "motion"
		if !motionDetected {
			trigger = "heartbeat"
		}

		start := time.Now()
		blocks, err := l.recognizer.Recognize(ctx, frame)
		if err != nil {
			l.logger.Warn("recognition failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
			if !sleepCtx(ctx, l.tuning.BusyInterval) {
				return StatusCancelled
			}
			continue
		}

		l.logScan(taskID, scans, skipped, trigger, time.Since(start), blocks)
		skipped = 0

		switch tracker.Observe(blocks, amountText, amountNoDot) {
		case BaselineSet:
			l.logger.Info("baseline serial locked",
				slog.String("task_id", taskID),
				slog.Int64("serial", tracker.Baseline()),
			)
		case Matched:
			l.logger.Info("amount matched",
				slog.String("task_id", taskID),
				slog.Int64("serial", tracker.Baseline()),
				slog.String("amount", amountText),
			)
			return StatusMatched
		case SerialAdvanced:
			l.logger.Warn("new transaction with wrong amount",
				slog.String("task_id", taskID),
				slog.Int64("serial", tracker.Baseline()),
				slog.String("expected", amountText),
			)
		}

		if !sleepCtx(ctx, l.tuning.BusyInterval) {
			return StatusCancelled
		}
	}
}

// logScan mirrors the per-scan diagnostics the operator watches: which
// trigger fired, how long recognition took, and the digit-bearing text.
func (l *Loop) logScan(taskID string, scans, skipped int, trigger string, cost time.Duration, blocks []recognize.Block) {
	var key []string
	for _, b := range blocks {
		t := strings.TrimSpace(b.Text)
		if strings.ContainsAny(t, "0123456789") {
			key = append(key, t)
		}
	}
	if len(key) == 0 {
		return
	}
	l.logger.Info("scan",
		slog.String("task_id", taskID),
		slog.Int("scan", scans),
		slog.Int("skipped_frames", skipped),
		slog.String("trigger", trigger),
		slog.Duration("cost", cost),
		slog.String("text", strings.Join(key, " | ")),
	)
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
