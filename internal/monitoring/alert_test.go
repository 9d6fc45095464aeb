package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdrop/backend/internal/storage/memory"
)

type recordingReceiver struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingReceiver) SendAlert(alert *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *recordingReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestAlertManager_QueueBacklog(t *testing.T) {
	ctx := context.Background()
	pending := 0
	receiver := &recordingReceiver{}

	am := NewAlertManager(nil)
	am.AddReceiver(receiver)
	am.AddRule(QueueBacklogRule(func(context.Context) (int, error) { return pending, nil }, 10))

	am.CheckRules(ctx)
	assert.Equal(t, 0, receiver.count())
	assert.Empty(t, am.ActiveAlerts())

	pending = 11
	am.CheckRules(ctx)
	am.CheckRules(ctx)
	require.Equal(t, 1, receiver.count(), "firing alert is sent once")
	assert.Equal(t, "queue_backlog", receiver.alerts[0].ID)
	assert.Contains(t, receiver.alerts[0].Message, "11 notifications pending")
	assert.Len(t, am.ActiveAlerts(), 1)

	pending = 0
	am.CheckRules(ctx)
	assert.Empty(t, am.ActiveAlerts())

	pending = 20
	am.CheckRules(ctx)
	assert.Equal(t, 2, receiver.count(), "alert fires again after recovery")
}

func TestAlertManager_QueueLengthError(t *testing.T) {
	am := NewAlertManager(nil)
	am.AddRule(QueueBacklogRule(func(context.Context) (int, error) { return 0, errors.New("boom") }, 10))

	am.CheckRules(context.Background())
	alerts := am.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "boom")
}

type unhealthyStore struct {
	*memory.Store
	err error
}

func (s *unhealthyStore) Health(context.Context) error { return s.err }

func TestStorageUnavailableRule(t *testing.T) {
	backend := &unhealthyStore{Store: memory.NewStore()}
	rule := StorageUnavailableRule(backend)

	firing, _ := rule.Condition(context.Background())
	assert.False(t, firing)

	backend.err = errors.New("connection refused")
	firing, msg := rule.Condition(context.Background())
	assert.True(t, firing)
	assert.Equal(t, "connection refused", msg)
	assert.Equal(t, AlertLevelCritical, rule.Level)
}
