package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/internal/repository"
	"github.com/CyberwizD/follow-notifier/internal/services"
	"github.com/CyberwizD/follow-notifier/pkg/logger"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
	"github.com/CyberwizD/follow-notifier/pkg/retry"
)

// scriptedSource emits rounds[i] on the i-th Subscribe call, then returns
// errs[i] if set or blocks until ctx is done.
type scriptedSource struct {
	mu     sync.Mutex
	rounds [][]models.ChangeBatch
	errs   []error
	calls  int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Subscribe(ctx context.Context, emit EmitFunc) error {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i < len(s.rounds) {
		for _, b := range s.rounds[i] {
			if err := emit(ctx, b); err != nil {
				return nil
			}
		}
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return s.errs[i]
	}
	<-ctx.Done()
	return nil
}

// recordingNotifier records tasks. Followers listed in block wait for
// release (or ctx) before returning.
type recordingNotifier struct {
	mu        sync.Mutex
	tasks     []services.FollowTask
	block     map[string]bool
	release   chan struct{}
	cancelled bool
}

func (n *recordingNotifier) Notify(ctx context.Context, task services.FollowTask) string {
	n.mu.Lock()
	n.tasks = append(n.tasks, task)
	blocked := n.block[task.FollowerID]
	n.mu.Unlock()

	if blocked {
		select {
		case <-n.release:
		case <-ctx.Done():
			n.mu.Lock()
			n.cancelled = true
			n.mu.Unlock()
			return metrics.OutcomeFailed
		}
	}
	return metrics.OutcomeDelivered
}

func (n *recordingNotifier) followers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.tasks))
	for _, t := range n.tasks {
		out = append(out, t.FollowerID)
	}
	return out
}

func (n *recordingNotifier) wasCancelled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancelled
}

// flakyCache fails lookups for the listed documents.
type flakyCache struct {
	*repository.MemoryFollowerCache
	failGet map[string]bool
}

func (c *flakyCache) Get(ctx context.Context, documentID string) ([]string, bool, error) {
	if c.failGet[documentID] {
		return nil, false, errors.New("cache unavailable")
	}
	return c.MemoryFollowerCache.Get(ctx, documentID)
}

type stubUserStore map[string]*models.UserRecord

func (s stubUserStore) GetUser(_ context.Context, userID string) (*models.UserRecord, error) {
	return s[userID], nil
}

type stubGateway struct {
	mu   sync.Mutex
	sent []models.NotificationMessage
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Send(_ context.Context, msg *models.NotificationMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, *msg)
	return fmt.Sprintf("msg-%d", len(g.sent)), nil
}

func (g *stubGateway) Sent() []models.NotificationMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.NotificationMessage(nil), g.sent...)
}

func testListenerConfig() ListenerConfig {
	return ListenerConfig{
		BatchBuffer:  8,
		Concurrency:  4,
		DrainTimeout: time.Second,
		Resubscribe: retry.Config{
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			JitterFactor:   -1,
		},
	}
}

func batchOf(events ...models.ChangeEvent) models.ChangeBatch {
	return models.ChangeBatch{Source: "scripted", Events: events}
}

func user(id string, followers ...string) *models.UserRecord {
	return &models.UserRecord{ID: id, Followers: followers}
}

func modified(id string, previous, current *models.UserRecord) models.ChangeEvent {
	return models.ChangeEvent{Kind: models.ChangeModified, DocumentID: id, Previous: previous, Current: current}
}

// startListener runs l in the background and returns a stop func that
// cancels it and waits for Run to return.
func startListener(t *testing.T, l *ChangeListener) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("listener did not stop")
		}
	}
}

func TestListenerNotifiesNewFollowerEndToEnd(t *testing.T) {
	m := metrics.New("test")
	log := logger.Discard()
	gw := &stubGateway{}
	store := stubUserStore{"F1": {ID: "F1", DeviceToken: "T1"}}

	notifier := services.NewFollowNotifier(services.FollowNotifierDeps{
		Resolver:   services.NewDeviceTokenResolver(store, log),
		Builder:    services.NewNotificationBuilder(services.BuilderOptions{AndroidChannelID: "followers"}),
		Dispatcher: services.NewDispatcher(gw, time.Second, m, log),
		Intents: services.IntentTemplate{
			Title: "Yeni Takipçin Var!",
			Body:  "{{name}} seni takip etmeye başladı.",
		},
		Ledger:  repository.NewMemoryLedger(time.Hour),
		Metrics: m,
		Logger:  log,
	})

	subject := &models.UserRecord{ID: "U1", FirstName: "Ali", Followers: []string{"F1"}}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(models.ChangeEvent{Kind: models.ChangeAdded, DocumentID: "U1", Current: user("U1")}),
		batchOf(modified("U1", nil, subject)),
	}}}

	l := NewChangeListener(source, repository.NewMemoryFollowerCache(), notifier, m, log, testListenerConfig())
	stop := startListener(t, l)

	require.Eventually(t, func() bool { return len(gw.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	sent := gw.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "T1", sent[0].Token)
	assert.Equal(t, "Yeni Takipçin Var!", sent[0].Title)
	assert.Equal(t, "Ali seni takip etmeye başladı.", sent[0].Body)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangeEvents.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangeEvents.WithLabelValues("modified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FollowerAdditions))
}

func TestListenerSkipsDiffWhenPreviousUnknown(t *testing.T) {
	cache := repository.NewMemoryFollowerCache()
	notifier := &recordingNotifier{}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(modified("U1", nil, user("U1", "F1"))),
		// Processed strictly after the first batch.
		batchOf(modified("U2", user("U2"), user("U2", "F9"))),
	}}}

	l := NewChangeListener(source, cache, notifier, metrics.New("test"), logger.Discard(), testListenerConfig())
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []string{"F9"}, notifier.followers())
	seeded, ok, err := cache.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, ok, "unknown previous state seeds the cache")
	assert.Equal(t, []string{"F1"}, seeded)
}

func TestListenerPrefersEventPrevious(t *testing.T) {
	cache := repository.NewMemoryFollowerCache()
	require.NoError(t, cache.Put(context.Background(), "U1", nil))
	notifier := &recordingNotifier{}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(modified("U1", user("U1", "A"), user("U1", "A", "B"))),
	}}}

	l := NewChangeListener(source, cache, notifier, metrics.New("test"), logger.Discard(), testListenerConfig())
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []string{"B"}, notifier.followers())
}

func TestListenerUsesCacheAcrossBatches(t *testing.T) {
	notifier := &recordingNotifier{}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(models.ChangeEvent{Kind: models.ChangeAdded, DocumentID: "U1", Current: user("U1", "A")}),
		batchOf(modified("U1", nil, user("U1", "A", "B"))),
		batchOf(modified("U1", nil, user("U1", "A", "B"))),
		batchOf(modified("U1", nil, user("U1", "B", "C", "C"))),
	}}}

	l := NewChangeListener(source, repository.NewMemoryFollowerCache(), notifier, metrics.New("test"), logger.Discard(), testListenerConfig())
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) == 2 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.ElementsMatch(t, []string{"B", "C"}, notifier.followers())
}

func TestListenerCacheFailureIsolatesEvent(t *testing.T) {
	cache := &flakyCache{MemoryFollowerCache: repository.NewMemoryFollowerCache(), failGet: map[string]bool{"U1": true}}
	require.NoError(t, cache.Put(context.Background(), "U1", nil))
	require.NoError(t, cache.Put(context.Background(), "U2", nil))
	notifier := &recordingNotifier{}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(
			modified("U1", nil, user("U1", "F1")),
			modified("U2", nil, user("U2", "F2")),
		),
	}}}

	l := NewChangeListener(source, cache, notifier, metrics.New("test"), logger.Discard(), testListenerConfig())
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []string{"F2"}, notifier.followers())
}

func TestListenerRemovedEvictsSnapshot(t *testing.T) {
	cache := repository.NewMemoryFollowerCache()
	notifier := &recordingNotifier{}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(
			models.ChangeEvent{Kind: models.ChangeAdded, DocumentID: "U1", Current: user("U1", "F1")},
			models.ChangeEvent{Kind: models.ChangeRemoved, DocumentID: "U1"},
			modified("U1", nil, user("U1", "F1", "F2")),
			modified("U3", user("U3"), user("U3", "done")),
		),
	}}}

	l := NewChangeListener(source, cache, notifier, metrics.New("test"), logger.Discard(), testListenerConfig())
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []string{"done"}, notifier.followers(), "no diff against an evicted snapshot")
}

func TestListenerResubscribesAfterFailure(t *testing.T) {
	m := metrics.New("test")
	notifier := &recordingNotifier{}
	source := &scriptedSource{
		rounds: [][]models.ChangeBatch{
			nil,
			{batchOf(modified("U1", user("U1"), user("U1", "F1")))},
		},
		errs: []error{errors.New("stream reset")},
	}

	l := NewChangeListener(source, repository.NewMemoryFollowerCache(), notifier, m, logger.Discard(), testListenerConfig())
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriptionErrors.WithLabelValues("scripted")))
}

func TestListenerSlowDispatchDoesNotBlockOtherDocuments(t *testing.T) {
	notifier := &recordingNotifier{block: map[string]bool{"slow": true}, release: make(chan struct{})}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(
			modified("U1", user("U1"), user("U1", "slow")),
			modified("U2", user("U2"), user("U2", "fast")),
		),
	}}}

	l := NewChangeListener(source, repository.NewMemoryFollowerCache(), notifier, metrics.New("test"), logger.Discard(), testListenerConfig())
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) == 2 }, 2*time.Second, 5*time.Millisecond)

	close(notifier.release)
	stop()
	assert.ElementsMatch(t, []string{"slow", "fast"}, notifier.followers())
	assert.False(t, notifier.wasCancelled(), "released before the drain timeout")
}

func TestListenerAbandonsDispatchAfterDrainTimeout(t *testing.T) {
	notifier := &recordingNotifier{block: map[string]bool{"stuck": true}, release: make(chan struct{})}
	source := &scriptedSource{rounds: [][]models.ChangeBatch{{
		batchOf(modified("U1", user("U1"), user("U1", "stuck"))),
	}}}
	cfg := testListenerConfig()
	cfg.DrainTimeout = 20 * time.Millisecond

	l := NewChangeListener(source, repository.NewMemoryFollowerCache(), notifier, metrics.New("test"), logger.Discard(), cfg)
	stop := startListener(t, l)
	require.Eventually(t, func() bool { return len(notifier.followers()) == 1 }, 2*time.Second, 5*time.Millisecond)

	stop()
	assert.Eventually(t, notifier.wasCancelled, time.Second, 5*time.Millisecond)
}
