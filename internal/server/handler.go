package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ceroxe/paywatch/internal/admission"
	"github.com/ceroxe/paywatch/internal/monitor"
	"github.com/ceroxe/paywatch/internal/notify"
)

// WatchRequest is the inbound monitoring request.
type WatchRequest struct {
	Token       string  `json:"token"`
	Money       float64 `json:"money"`
	Timestamp   string  `json:"timestamp"`
	CallbackURL string  `json:"callbackUrl"`
}

// Response is the uniform JSON envelope for all watch responses.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// PendingData carries the wait estimate returned while another session
// holds the gate.
type PendingData struct {
	WaitSeconds int `json:"waitSeconds"`
}

// SessionRunner is the monitor loop as the handler sees it.
type SessionRunner interface {
	Run(ctx context.Context, taskID string, targetAmount float64, deadline time.Time) monitor.Status
}

// Deliverer posts the signed outcome callback.
type Deliverer interface {
	Deliver(ctx context.Context, taskID, callbackURL string, payload notify.Payload) error
}

// Journal records session history. Failures are logged, never fatal:
// the journal is bookkeeping, not state.
type Journal interface {
	SessionStarted(ctx context.Context, id string, amount float64, callbackURL, requestTimestamp string) error
	SessionFinished(ctx context.Context, id, status string) error
	DeliveryResult(ctx context.Context, id string, delivered bool, deliveryErr string) error
}

// NopJournal discards session history.
type NopJournal struct{}

func (NopJournal) SessionStarted(context.Context, string, float64, string, string) error {
	return nil
}
func (NopJournal) SessionFinished(context.Context, string, string) error      { return nil }
func (NopJournal) DeliveryResult(context.Context, string, bool, string) error { return nil }

// PaymentHandler validates watch requests, drives admission and session
// dispatch, and shapes the synchronous responses. The eventual outcome
// reaches the caller only through the webhook.
type PaymentHandler struct {
	token   string
	timeout time.Duration
	gate    *admission.Gate
	runner  SessionRunner
	deliver Deliverer
	journal Journal
	logger  *slog.Logger

	// baseCtx outlives individual requests; cancelling it aborts the
	// in-flight session and any pending callback delivery.
	baseCtx context.Context
}

// NewPaymentHandler wires the handler. baseCtx is the process-lifetime
// context used for sessions and deliveries.
func NewPaymentHandler(baseCtx context.Context, token string, timeout time.Duration, gate *admission.Gate, runner SessionRunner, deliverer Deliverer, journal Journal, logger *slog.Logger) *PaymentHandler {
	if journal == nil {
		journal = NopJournal{}
	}
	return &PaymentHandler{
		token:   token,
		timeout: timeout,
		gate:    gate,
		runner:  runner,
		deliver: deliverer,
		journal: journal,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// HandleWatch implements the single POST endpoint.
func (h *PaymentHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acquired := false
	defer func() {
		if rec := recover(); rec != nil {
			// The gate must not stay busy for a session that never started.
			if acquired {
				h.gate.Release()
			}
			h.logger.Error("watch handler panicked", slog.Any("panic", rec))
			writeJSON(w, http.StatusInternalServerError, Response{Status: "ERROR", Message: fmt.Sprint(rec)})
		}
	}()

	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		AddError(ctx, err)
		writeJSON(w, http.StatusBadRequest, Response{Status: "ERROR", Message: "Invalid Parameters"})
		return
	}
	if req.Money <= 0 || req.CallbackURL == "" {
		h.logger.Warn("invalid watch request",
			slog.Float64("money", req.Money),
			slog.String("callback_url", req.CallbackURL),
		)
		writeJSON(w, http.StatusBadRequest, Response{Status: "ERROR", Message: "Invalid Parameters"})
		return
	}
	if req.Token != h.token {
		h.logger.Warn("token mismatch", slog.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, Response{Status: "UNAUTHORIZED", Message: "Invalid Token"})
		return
	}

	now := time.Now()
	deadline := now.Add(h.timeout)
	if !h.gate.TryAcquire(deadline) {
		wait := h.gate.RemainingWait(now)
		h.logger.Info("busy, rejecting request", slog.Int("wait_seconds", wait))
		writeJSON(w, http.StatusOK, Response{Status: "PENDING", Message: "System Busy", Data: PendingData{WaitSeconds: wait}})
		return
	}
	acquired = true

	taskID := GetRequestID(ctx)
	if len(taskID) > 8 {
		taskID = taskID[:8]
	}
	AddLogField(ctx, "task_id", taskID)

	h.logger.Info("watch accepted",
		slog.String("task_id", taskID),
		slog.String("target_amount", monitor.FormatAmount(req.Money)),
		slog.String("callback_url", req.CallbackURL),
	)
	if err := h.journal.SessionStarted(ctx, taskID, req.Money, req.CallbackURL, req.Timestamp); err != nil {
		h.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}

	go h.runSession(taskID, req, deadline)
	acquired = false // the session owns the gate now

	writeJSON(w, http.StatusOK, Response{Status: "READY", Message: "Monitoring Started"})
}

// runSession executes one monitoring session and hands the outcome to
// the notifier. The admission gate is released only after delivery
// finishes, so a new session cannot start mid-callback. Cancelled
// sessions release immediately and send nothing.
func (h *PaymentHandler) runSession(taskID string, req WatchRequest, deadline time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("session crashed", slog.String("task_id", taskID), slog.Any("panic", rec))
			h.gate.Release()
		}
	}()

	status := h.runner.Run(h.baseCtx, taskID, req.Money, deadline)

	if err := h.journal.SessionFinished(context.Background(), taskID, status.String()); err != nil {
		h.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}

	if status == monitor.StatusCancelled {
		h.gate.Release()
		return
	}

	payload := notify.Payload{
		Status:           status.String(),
		RequestTimestamp: req.Timestamp,
		DetectedAt:       time.Now().UnixMilli(),
		Amount:           req.Money,
		Message:          status.String(),
	}

	go func() {
		err := h.deliver.Deliver(h.baseCtx, taskID, req.CallbackURL, payload)
		var detail string
		if err != nil {
			detail = err.Error()
		}
		if jerr := h.journal.DeliveryResult(context.Background(), taskID, err == nil, detail); jerr != nil {
			h.logger.Warn("journal write failed", slog.String("error", jerr.Error()))
		}
		h.gate.Release()
		h.logger.Info("session closed, lock released", slog.String("task_id", taskID))
	}()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
