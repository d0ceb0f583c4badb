package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/internal/services"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
	"github.com/CyberwizD/follow-notifier/pkg/retry"
)

// FollowerCache keeps the last seen follower list per document.
type FollowerCache interface {
	Get(ctx context.Context, documentID string) ([]string, bool, error)
	Put(ctx context.Context, documentID string, followers []string) error
	Delete(ctx context.Context, documentID string) error
}

// Notifier handles one added follower.
type Notifier interface {
	Notify(ctx context.Context, task services.FollowTask) string
}

// ListenerConfig tunes buffering, fan-out and shutdown.
type ListenerConfig struct {
	BatchBuffer  int
	Concurrency  int
	DrainTimeout time.Duration
	Resubscribe  retry.Config
}

// ChangeListener keeps one subscription to a ChangeSource open, diffs every
// modified document against its previous follower list and fans the added
// followers out to the Notifier.
type ChangeListener struct {
	source   ChangeSource
	cache    FollowerCache
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      ListenerConfig

	sem      *semaphore.Weighted
	inflight sync.WaitGroup
}

func NewChangeListener(source ChangeSource, cache FollowerCache, notifier Notifier, metrics *metrics.Metrics, logger *slog.Logger, cfg ListenerConfig) *ChangeListener {
	if cfg.BatchBuffer <= 0 {
		cfg.BatchBuffer = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &ChangeListener{
		source:   source,
		cache:    cache,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With(slog.String("source", source.Name())),
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run processes batches until ctx is cancelled, then waits up to
// DrainTimeout for in-flight notifications before abandoning them.
func (l *ChangeListener) Run(ctx context.Context) error {
	batches := make(chan models.ChangeBatch, l.cfg.BatchBuffer)

	// Sends outlive ctx so a shutdown does not cut a request in half.
	dispatchCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		l.subscribe(ctx, batches)
	}()

	l.logger.Info("change listener started")
	for {
		select {
		case <-ctx.Done():
			<-subDone
			l.drain(abandon)
			l.logger.Info("change listener stopped")
			return nil
		case batch := <-batches:
			l.handleBatch(ctx, dispatchCtx, batch)
		}
	}
}

func (l *ChangeListener) subscribe(ctx context.Context, out chan<- models.ChangeBatch) {
	backoff := retry.NewBackoff(l.cfg.Resubscribe)
	for {
		var delivered atomic.Bool
		err := l.source.Subscribe(ctx, func(ctx context.Context, batch models.ChangeBatch) error {
			select {
			case out <- batch:
				delivered.Store(true)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errSubscriptionEnded
		}
		if delivered.Load() {
			backoff.Reset()
		}

		wait := backoff.Next()
		l.metrics.IncSubscriptionError(l.source.Name())
		l.logger.Error("change subscription failed, resubscribing",
			slog.Any("error", err),
			slog.Duration("backoff", wait),
		)
		if retry.Sleep(ctx, wait) != nil {
			return
		}
	}
}

func (l *ChangeListener) handleBatch(ctx, dispatchCtx context.Context, batch models.ChangeBatch) {
	for _, ev := range batch.Events {
		l.metrics.IncChangeEvent(ev.Kind.String())
		l.handleEvent(ctx, dispatchCtx, ev)
	}
}

func (l *ChangeListener) handleEvent(ctx, dispatchCtx context.Context, ev models.ChangeEvent) {
	log := l.logger.With(
		slog.String("document_id", ev.DocumentID),
		slog.String("kind", ev.Kind.String()),
	)

	switch ev.Kind {
	case models.ChangeAdded:
		if ev.Current == nil {
			log.Warn("added event without a document state")
			return
		}
		l.store(ctx, ev.DocumentID, ev.Current.Followers, log)
	case models.ChangeRemoved:
		if err := l.cache.Delete(ctx, ev.DocumentID); err != nil {
			log.Warn("failed to evict follower snapshot", slog.Any("error", err))
		}
	case models.ChangeModified:
		l.handleModified(ctx, dispatchCtx, ev, log)
	default:
		log.Warn("ignoring change of unknown kind")
	}
}

func (l *ChangeListener) handleModified(ctx, dispatchCtx context.Context, ev models.ChangeEvent, log *slog.Logger) {
	if ev.Current == nil {
		log.Warn("modified event without a document state")
		return
	}

	previous := ev.Previous
	if previous == nil {
		followers, ok, err := l.cache.Get(ctx, ev.DocumentID)
		if err != nil {
			log.Warn("failed to load previous follower list", slog.Any("error", err))
			return
		}
		if !ok {
			log.Warn("previous state unknown, skipping diff")
			l.store(ctx, ev.DocumentID, ev.Current.Followers, log)
			return
		}
		previous = &models.UserRecord{ID: ev.DocumentID, Followers: followers}
	}

	delta := services.ComputeDelta(ev.DocumentID, previous, ev.Current)
	l.store(ctx, ev.DocumentID, ev.Current.Followers, log)
	if delta.Empty() {
		return
	}

	l.metrics.AddFollowerAdditions(len(delta.AddedFollowerIDs))
	log.Info("new followers detected", slog.Int("count", len(delta.AddedFollowerIDs)))
	for _, followerID := range delta.AddedFollowerIDs {
		l.submit(ctx, dispatchCtx, services.FollowTask{
			DocumentID: ev.DocumentID,
			FollowerID: followerID,
			Subject:    ev.Current,
			ObservedAt: ev.ObservedAt,
		})
	}
}

func (l *ChangeListener) store(ctx context.Context, documentID string, followers []string, log *slog.Logger) {
	if err := l.cache.Put(ctx, documentID, followers); err != nil {
		log.Warn("failed to store follower snapshot", slog.Any("error", err))
	}
}

// submit blocks only while every dispatch slot is taken.
func (l *ChangeListener) submit(ctx, dispatchCtx context.Context, task services.FollowTask) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.logger.Warn("shutting down, follow notification dropped",
			slog.String("document_id", task.DocumentID),
			slog.String("follower_id", task.FollowerID),
		)
		return
	}
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		defer l.sem.Release(1)
		l.notifier.Notify(dispatchCtx, task)
	}()
}

func (l *ChangeListener) drain(abandon context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(l.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		l.logger.Warn("drain timeout reached, abandoning in-flight notifications")
		abandon()
	}
}
