package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/storage/filesystem"
	"letterdrop/backend/internal/storage/memory"
)

type testEnv struct {
	backend     *memory.Store
	letterStore *filesystem.LetterStore
	keys        *KeyService
	subscribers *SubscriberService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := memory.NewStore()
	letterStore, err := filesystem.NewLetterStore(t.TempDir())
	require.NoError(t, err)

	keys := NewKeyService(backend, letterStore, nil, nil)
	subscribers := NewSubscriberService(backend, keys, nil, nil)
	keys.SetSubscriberService(subscribers)

	return &testEnv{
		backend:     backend,
		letterStore: letterStore,
		keys:        keys,
		subscribers: subscribers,
	}
}

// MockNotifier 模拟新信件通知
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) LetterCreated(ctx context.Context, key string) {
	m.Called(key)
}

// MockEnqueuer 模拟通知队列
type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, email, subject, html, key string) (domain.NotificationJob, error) {
	args := m.Called(email, subject, html, key)
	return domain.NotificationJob{ID: "job-" + email, Email: email, Key: key}, args.Error(0)
}

// MockSender 模拟即时发信
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, settings domain.SMTPSettings, mail domain.OutgoingMail) error {
	args := m.Called(settings.Host, mail.To)
	return args.Error(0)
}

// recordingPublisher 记录推送的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LetterEvent
}

func (p *recordingPublisher) Publish(event domain.LetterEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
