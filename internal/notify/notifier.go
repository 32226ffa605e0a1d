package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ceroxe/paywatch/internal/monitor"
)

// Payload is the callback body. The remote side verifies the signed
// query parameters; the JSON body carries the same facts for redundancy.
type Payload struct {
	Status           string  `json:"status"`
	RequestTimestamp string  `json:"requestTimestamp"`
	DetectedAt       int64   `json:"detectedAt"`
	Amount           float64 `json:"amount"`
	OrderID          string  `json:"orderId,omitempty"`
	Message          string  `json:"message"`
}

// Notifier posts signed outcome callbacks with bounded retries.
type Notifier struct {
	client        *http.Client
	secret        string
	maxAttempts   int
	retryInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New builds a Notifier. maxAttempts is the total number of delivery
// tries (default 3); retryInterval is the fixed pause between them
// (default 2s).
func New(secret string, maxAttempts int, retryInterval time.Duration, logger *slog.Logger) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if retryInterval <= 0 {
		retryInterval = 2 * time.Second
	}
	return &Notifier{
		client:        &http.Client{Timeout: 5 * time.Second},
		secret:        secret,
		maxAttempts:   maxAttempts,
		retryInterval: retryInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Deliver signs and posts the payload to callbackURL, retrying on
// transport failures and non-2xx responses. It stops on the first
// success. The returned error is terminal: delivery failures never
// reopen the session that produced the outcome.
func (n *Notifier) Deliver(ctx context.Context, taskID, callbackURL string, payload Payload) error {
	amountText := monitor.FormatAmount(payload.Amount)
	timestamp := strconv.FormatInt(n.now().UnixMilli(), 10)

	finalURL, err := SignedURL(callbackURL, amountText, payload.Status, timestamp, n.secret)
	if err != nil {
		return fmt.Errorf("build signed url: %w", err)
	}
	if u, err := url.Parse(callbackURL); err == nil {
		payload.OrderID = u.Query().Get("oid")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	n.logger.Info("callback dispatch",
		slog.String("task_id", taskID),
		slog.String("url", finalURL),
	)

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		lastErr = n.post(ctx, finalURL, body)
		if lastErr == nil {
			n.logger.Info("callback delivered",
				slog.String("task_id", taskID),
				slog.Int("attempt", attempt),
			)
			return nil
		}

		n.logger.Warn("callback attempt failed",
			slog.String("task_id", taskID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if ctx.Err() != nil {
			break
		}
		if attempt < n.maxAttempts {
			t := time.NewTimer(n.retryInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("callback abandoned: %w", ctx.Err())
			case <-t.C:
			}
		}
	}

	n.logger.Error("callback failed permanently",
		slog.String("task_id", taskID),
		slog.Int("attempts", n.maxAttempts),
	)
	return fmt.Errorf("callback failed after %d attempts: %w", n.maxAttempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
