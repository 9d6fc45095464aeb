package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/monitoring"
	"letterdrop/backend/internal/storage"
	"letterdrop/backend/internal/storage/memory"
)

// MockDeliverer 模拟邮件投递
type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Send(ctx context.Context, settings domain.SMTPSettings, mail domain.OutgoingMail) error {
	args := m.Called(mail.To)
	return args.Error(0)
}

type deliverFunc func(ctx context.Context, mail domain.OutgoingMail) error

func (f deliverFunc) Send(ctx context.Context, _ domain.SMTPSettings, mail domain.OutgoingMail) error {
	return f(ctx, mail)
}

type staticSettings struct {
	settings domain.SMTPSettings
	err      error
}

func (s staticSettings) SMTPSettings(context.Context) (domain.SMTPSettings, error) {
	return s.settings, s.err
}

var configured = staticSettings{settings: domain.SMTPSettings{
	Host: "smtp.example.com",
	Port: 587,
	From: "noreply@example.com",
}}

func newTestQueue(t *testing.T, settings SettingsSource, d Deliverer) (*Queue, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	q := New(store, settings, d, Options{Concurrency: 2, Metrics: monitoring.NewMetrics()})
	return q, store
}

func TestQueue_Enqueue(t *testing.T) {
	q, store := newTestQueue(t, configured, &MockDeliverer{})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "a@example.com", "subject", "<p>hi</p>", "k1")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 0, job.RetryCount)
	assert.False(t, job.CreatedAt.IsZero())

	_, err = q.Enqueue(ctx, "b@example.com", "subject", "<p>hi</p>", "k1")
	require.NoError(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := store.Read(ctx, storage.DocEmailQueue)
	require.NoError(t, err)
	var persisted []map[string]any
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Len(t, persisted, 2)
	assert.Equal(t, "a@example.com", persisted[0]["email"])
	assert.Equal(t, float64(0), persisted[0]["retryCount"])
}

func TestQueue_DrainOnce_Success(t *testing.T) {
	d := &MockDeliverer{}
	d.On("Send", "a@example.com").Return(nil).Once()
	d.On("Send", "b@example.com").Return(nil).Once()

	q, _ := newTestQueue(t, configured, d)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "a@example.com", "s", "h", "k1")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "b@example.com", "s", "h", "k1")
	require.NoError(t, err)

	require.NoError(t, q.DrainOnce(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	d.AssertExpectations(t)
}

func TestQueue_DrainOnce_RetryThenDrop(t *testing.T) {
	d := &MockDeliverer{}
	d.On("Send", "bad@example.com").Return(errors.New("550 mailbox unavailable"))

	q, _ := newTestQueue(t, configured, d)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "bad@example.com", "s", "h", "k1")
	require.NoError(t, err)

	for attempt := 1; attempt < domain.MaxRetry; attempt++ {
		require.NoError(t, q.DrainOnce(ctx))

		jobs, err := q.Jobs(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 1, "job is kept after attempt %d", attempt)
		assert.Equal(t, attempt, jobs[0].RetryCount)
	}

	require.NoError(t, q.DrainOnce(ctx))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "job is dropped after the final failure")

	d.AssertNumberOfCalls(t, "Send", domain.MaxRetry)
}

func TestQueue_DrainOnce_MixedResults(t *testing.T) {
	d := &MockDeliverer{}
	d.On("Send", "ok@example.com").Return(nil)
	d.On("Send", "bad@example.com").Return(errors.New("timeout"))

	q, _ := newTestQueue(t, configured, d)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "ok@example.com", "s", "h", "k1")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "bad@example.com", "s", "h", "k1")
	require.NoError(t, err)

	require.NoError(t, q.DrainOnce(ctx))

	jobs, err := q.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "bad@example.com", jobs[0].Email)
	assert.Equal(t, 1, jobs[0].RetryCount)
}

func TestQueue_DrainOnce_NotConfigured(t *testing.T) {
	d := &MockDeliverer{}
	q, _ := newTestQueue(t, staticSettings{}, d)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "a@example.com", "s", "h", "k1")
	require.NoError(t, err)

	require.NoError(t, q.DrainOnce(ctx))

	jobs, err := q.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Zero(t, jobs[0].RetryCount)
	d.AssertNotCalled(t, "Send", mock.Anything)
}

func TestQueue_DrainOnce_SettingsError(t *testing.T) {
	q, _ := newTestQueue(t, staticSettings{err: errors.New("disk gone")}, &MockDeliverer{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "a@example.com", "s", "h", "k1")
	require.NoError(t, err)

	assert.ErrorContains(t, q.DrainOnce(ctx), "disk gone")
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_DrainOnce_AssignsMissingIDs(t *testing.T) {
	d := &MockDeliverer{}
	d.On("Send", "legacy@example.com").Return(errors.New("refused"))

	q, store := newTestQueue(t, configured, d)
	ctx := context.Background()

	legacy := `[{"email":"legacy@example.com","subject":"s","html":"h","key":"k1","retryCount":0}]`
	require.NoError(t, store.Write(ctx, storage.DocEmailQueue, []byte(legacy)))

	require.NoError(t, q.DrainOnce(ctx))

	jobs, err := q.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.NotEmpty(t, jobs[0].ID)
	assert.Equal(t, 1, jobs[0].RetryCount)
}

func TestQueue_DrainOnce_KeepsJobsEnqueuedDuringDrain(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	d := deliverFunc(func(ctx context.Context, mail domain.OutgoingMail) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})

	q, _ := newTestQueue(t, configured, d)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "first@example.com", "s", "h", "k1")
	require.NoError(t, err)

	drained := make(chan error, 1)
	go func() { drained <- q.DrainOnce(ctx) }()

	<-started
	_, err = q.Enqueue(ctx, "second@example.com", "s", "h", "k1")
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-drained)

	jobs, err := q.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "second@example.com", jobs[0].Email)
	assert.Zero(t, jobs[0].RetryCount)
}

func TestQueue_DrainOnce_CancelledDoesNotCountAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	d := deliverFunc(func(ctx context.Context, mail domain.OutgoingMail) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	q, _ := newTestQueue(t, configured, d)
	_, err := q.Enqueue(context.Background(), "a@example.com", "s", "h", "k1")
	require.NoError(t, err)

	require.NoError(t, q.DrainOnce(ctx))

	jobs, err := q.Jobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Zero(t, jobs[0].RetryCount)
}

func TestQueue_Start(t *testing.T) {
	delivered := make(chan string, 4)
	d := deliverFunc(func(ctx context.Context, mail domain.OutgoingMail) error {
		delivered <- mail.To
		return nil
	})

	q, _ := newTestQueue(t, configured, d)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "a@example.com", "s", "h", "k1")
	require.NoError(t, err)

	p, err := q.Start(ctx, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = q.Start(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrProcessorRunning)

	select {
	case to := <-delivered:
		assert.Equal(t, "a@example.com", to)
	case <-time.After(2 * time.Second):
		t.Fatal("queued job was not delivered")
	}

	_, err = q.Enqueue(ctx, "b@example.com", "s", "h", "k1")
	require.NoError(t, err)

	select {
	case to := <-delivered:
		assert.Equal(t, "b@example.com", to)
	case <-time.After(2 * time.Second):
		t.Fatal("job enqueued while running was not delivered")
	}

	p.Stop()
	select {
	case <-p.Done():
	default:
		t.Fatal("processor did not stop")
	}

	// 停止后可以重新启动
	p2, err := q.Start(ctx, time.Hour)
	require.NoError(t, err)
	p2.Stop()
}
