package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
)

// FollowTask asks for one notification: FollowerID was newly added to the
// follower list of the Subject document.
type FollowTask struct {
	DocumentID string
	FollowerID string
	Subject    *models.UserRecord
	ObservedAt time.Time
}

// Key identifies one observed follow for deduplication. A redelivered change
// carries the same ObservedAt; a later refollow does not.
func (t FollowTask) Key() string {
	key := t.DocumentID + ":" + t.FollowerID
	if t.ObservedAt.IsZero() {
		return key
	}
	return key + ":" + strconv.FormatInt(t.ObservedAt.UnixNano(), 10)
}

// TokenSuppressor remembers device tokens the gateway rejected as invalid.
type TokenSuppressor interface {
	IsTokenSuppressed(ctx context.Context, token string) (bool, error)
	SuppressToken(ctx context.Context, token string, ttl time.Duration) error
}

// DeliveryLedger guards against notifying the same relationship twice when a
// change is redelivered.
type DeliveryLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// FollowNotifierDeps wires a FollowNotifier. Suppressor, Ledger and Status
// are optional.
type FollowNotifierDeps struct {
	Resolver    *DeviceTokenResolver
	Builder     *NotificationBuilder
	Dispatcher  *Dispatcher
	Intents     IntentTemplate
	Suppressor  TokenSuppressor
	Ledger      DeliveryLedger
	Status      *StatusUpdater
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	SuppressTTL time.Duration
	DedupeTTL   time.Duration
}

type FollowNotifier struct {
	resolver    *DeviceTokenResolver
	builder     *NotificationBuilder
	dispatcher  *Dispatcher
	intents     IntentTemplate
	suppressor  TokenSuppressor
	ledger      DeliveryLedger
	status      *StatusUpdater
	metrics     *metrics.Metrics
	logger      *slog.Logger
	suppressTTL time.Duration
	dedupeTTL   time.Duration
}

func NewFollowNotifier(deps FollowNotifierDeps) *FollowNotifier {
	return &FollowNotifier{
		resolver:    deps.Resolver,
		builder:     deps.Builder,
		dispatcher:  deps.Dispatcher,
		intents:     deps.Intents,
		suppressor:  deps.Suppressor,
		ledger:      deps.Ledger,
		status:      deps.Status,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		suppressTTL: deps.SuppressTTL,
		dedupeTTL:   deps.DedupeTTL,
	}
}

// Notify runs resolve, build and dispatch for one added follower and returns
// the outcome label. Every failure is logged here and stays local to the task.
func (n *FollowNotifier) Notify(ctx context.Context, task FollowTask) string {
	n.metrics.DispatchStarted()
	defer n.metrics.DispatchFinished()

	outcome := n.notify(ctx, task)
	n.metrics.IncOutcome(outcome)
	return outcome
}

func (n *FollowNotifier) notify(ctx context.Context, task FollowTask) string {
	log := n.logger.With(
		slog.String("document_id", task.DocumentID),
		slog.String("follower_id", task.FollowerID),
	)

	if n.ledger != nil {
		claimed, err := n.ledger.Claim(ctx, task.Key(), n.dedupeTTL)
		if err != nil {
			log.Warn("dedupe ledger unavailable, sending anyway", slog.Any("error", err))
		} else if !claimed {
			log.Info("follow notification already sent, skipping")
			return metrics.OutcomeDuplicate
		}
	}

	token, ok := n.resolver.Resolve(ctx, task.FollowerID)
	if !ok {
		n.release(ctx, task, log)
		return metrics.OutcomeNoToken
	}

	if n.suppressor != nil {
		suppressed, err := n.suppressor.IsTokenSuppressed(ctx, token)
		if err != nil {
			log.Warn("token suppression check failed", slog.Any("error", err))
		} else if suppressed {
			log.Info("device token is suppressed, skipping")
			n.release(ctx, task, log)
			return metrics.OutcomeSuppressed
		}
	}

	intent := n.intents.FollowIntent(task.FollowerID, task.Subject)
	msg := n.builder.Build(intent, token)
	result := n.dispatcher.Send(ctx, msg)

	if !result.Success {
		log.Error("follow notification failed", slog.String("detail", result.ErrorDetail))
		if result.TokenInvalid && n.suppressor != nil {
			if err := n.suppressor.SuppressToken(ctx, token, n.suppressTTL); err != nil {
				log.Warn("failed to suppress invalid token", slog.Any("error", err))
			}
		}
		n.release(ctx, task, log)
		if n.status != nil {
			n.status.MarkFailed(ctx, task, result.ErrorDetail)
		}
		return metrics.OutcomeFailed
	}

	log.Info("follow notification delivered", slog.String("message_id", result.MessageID))
	if n.status != nil {
		n.status.MarkDelivered(ctx, task, result.MessageID)
	}
	return metrics.OutcomeDelivered
}

func (n *FollowNotifier) release(ctx context.Context, task FollowTask, log *slog.Logger) {
	if n.ledger == nil {
		return
	}
	if err := n.ledger.Release(ctx, task.Key()); err != nil {
		log.Warn("failed to release dedupe claim", slog.Any("error", err))
	}
}
