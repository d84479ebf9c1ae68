package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hiroq/mail-relay/internal/metrics"
	"github.com/hiroq/mail-relay/internal/notify"
)

// maxErrorBodyBytes caps how much of a failed webhook response is kept for
// logging.
const maxErrorBodyBytes = 4096

// NoRouteError reports a recipient with no routing entry and no default.
type NoRouteError struct {
	Address string
}

// Error implements the error interface
func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no webhook route for %s", e.Address)
}

// DeliveryError reports a non-2xx webhook response.
type DeliveryError struct {
	Status int
	Body   string
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.Status, e.Body)
}

// Dispatcher fans the prepared notification body out to the webhook of
// each recipient.
type Dispatcher struct {
	store  RouteStore
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil client gets a default with a
// 30 second timeout; a nil logger falls back to slog.Default.
func NewDispatcher(store RouteStore, client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		client: client,
		logger: logger,
	}
}

// Dispatch resolves and delivers to each recipient in order. The body was
// encoded once by the caller and is reused for every POST.
//
// A missing route (including the default) aborts the remaining loop and is
// returned to the caller. A failed delivery is logged and counted but does
// not stop the other recipients, and Dispatch still returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []string, body *notify.Body) error {
	for _, address := range recipients {
		url, err := d.resolve(ctx, address)
		if err != nil {
			metrics.Deliveries.WithLabelValues(metrics.OutcomeNoRoute).Inc()
			return err
		}

		attemptID := uuid.NewString()
		start := time.Now()
		err = d.deliver(ctx, url, body)
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.Deliveries.WithLabelValues(metrics.OutcomeFailed).Inc()
			d.logger.Error("webhook delivery failed",
				slog.String("attempt_id", attemptID),
				slog.String("recipient", address),
				slog.String("error", err.Error()),
			)
			continue
		}

		metrics.Deliveries.WithLabelValues(metrics.OutcomeDelivered).Inc()
		d.logger.Info("webhook delivered",
			slog.String("attempt_id", attemptID),
			slog.String("recipient", address),
		)
	}
	return nil
}

// resolve looks the address up in the routing table, falling back to the
// default entry.
func (d *Dispatcher) resolve(ctx context.Context, address string) (string, error) {
	url, err := d.store.Lookup(ctx, address)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, ErrRouteNotFound) {
		return "", err
	}

	url, err = d.store.Lookup(ctx, DefaultRouteKey)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, ErrRouteNotFound) {
		return "", err
	}
	return "", &NoRouteError{Address: address}
}

// deliver issues one POST of the prepared body to the webhook URL.
func (d *Dispatcher) deliver(ctx context.Context, url string, body *notify.Body) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body.Reader())
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", body.ContentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &DeliveryError{Status: resp.StatusCode, Body: string(snippet)}
	}
	return nil
}
