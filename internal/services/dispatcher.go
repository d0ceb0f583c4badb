package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
)

// Dispatcher sends one built message through the gateway and reports the
// outcome as a DispatchResult. It never retries.
type Dispatcher struct {
	gateway Gateway
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. A zero timeout leaves the send bounded
// only by the caller's context.
func NewDispatcher(gateway Gateway, timeout time.Duration, metrics *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gateway: gateway,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

func (d *Dispatcher) Send(ctx context.Context, msg models.NotificationMessage) models.DispatchResult {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	id, err := d.gateway.Send(ctx, &msg)
	d.metrics.ObserveDispatch(start)

	if err != nil {
		d.logger.Warn("gateway send failed",
			slog.String("provider", d.gateway.Name()),
			slog.Any("error", err),
		)
		return models.DispatchResult{
			Success:      false,
			ErrorDetail:  err.Error(),
			TokenInvalid: errors.Is(err, ErrInvalidToken),
		}
	}
	return models.DispatchResult{Success: true, MessageID: id}
}
