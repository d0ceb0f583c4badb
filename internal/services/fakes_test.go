package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/internal/repository"
	"github.com/CyberwizD/follow-notifier/pkg/logger"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
)

// --- Mock implementations ---

// mockUserStore implements UserStore for testing.
type mockUserStore struct {
	users map[string]*models.UserRecord
	err   error
	calls int
	mu    sync.Mutex
}

func (m *mockUserStore) GetUser(_ context.Context, userID string) (*models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.users[userID], nil
}

// mockGateway implements Gateway, failing for tokens listed in failTokens.
type mockGateway struct {
	mu         sync.Mutex
	sent       []models.NotificationMessage
	failTokens map[string]error
	delay      time.Duration
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) Send(ctx context.Context, msg *models.NotificationMessage) (string, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *msg)
	if err, ok := m.failTokens[msg.Token]; ok {
		return "", err
	}
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

func (m *mockGateway) Sent() []models.NotificationMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.NotificationMessage(nil), m.sent...)
}

// mockSuppressor implements TokenSuppressor.
type mockSuppressor struct {
	mu         sync.Mutex
	suppressed map[string]bool
	checkErr   error
}

func (m *mockSuppressor) IsTokenSuppressed(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.suppressed[token], nil
}

func (m *mockSuppressor) SuppressToken(_ context.Context, token string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suppressed == nil {
		m.suppressed = map[string]bool{}
	}
	m.suppressed[token] = true
	return nil
}

// mockStatusStore implements StatusStore.
type mockStatusStore struct {
	mu       sync.Mutex
	statuses []repository.NotificationStatus
	err      error
}

func (m *mockStatusStore) UpdateStatus(_ context.Context, status repository.NotificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return m.err
}

var errGatewayDown = errors.New("gateway unavailable")

type notifierFixture struct {
	store      *mockUserStore
	gateway    *mockGateway
	suppressor *mockSuppressor
	status     *mockStatusStore
	metrics    *metrics.Metrics
	notifier   *FollowNotifier
}

func newNotifierFixture(users ...*models.UserRecord) *notifierFixture {
	log := logger.Discard()
	f := &notifierFixture{
		store:      &mockUserStore{users: map[string]*models.UserRecord{}},
		gateway:    &mockGateway{failTokens: map[string]error{}},
		suppressor: &mockSuppressor{},
		status:     &mockStatusStore{},
		metrics:    metrics.New("test"),
	}
	for _, u := range users {
		f.store.users[u.ID] = u
	}
	f.notifier = NewFollowNotifier(FollowNotifierDeps{
		Resolver:   NewDeviceTokenResolver(f.store, log),
		Builder:    NewNotificationBuilder(BuilderOptions{AndroidChannelID: "followers", BadgeCount: 1}),
		Dispatcher: NewDispatcher(f.gateway, time.Second, f.metrics, log),
		Intents: IntentTemplate{
			Title: "Yeni Takipçin Var!",
			Body:  "{{name}} seni takip etmeye başladı.",
		},
		Suppressor:  f.suppressor,
		Ledger:      repository.NewMemoryLedger(time.Hour),
		Status:      NewStatusUpdater(f.status, "mock", log),
		Metrics:     f.metrics,
		Logger:      log,
		SuppressTTL: time.Hour,
		DedupeTTL:   time.Hour,
	})
	return f
}
