package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdrop/backend/internal/domain"
)

func TestSubscriberService_Subscribe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.keys.Create(ctx, "k1", "pw"))

	added, err := env.subscribers.Subscribe(ctx, "k1", "a@x.com")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = env.subscribers.Subscribe(ctx, "k1", "a@x.com")
	require.NoError(t, err)
	assert.False(t, added, "second subscribe is a no-op")

	added, err = env.subscribers.Subscribe(ctx, "k1", "A@x.com")
	require.NoError(t, err)
	assert.True(t, added, "duplicates are case sensitive")

	emails, err := env.subscribers.List(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "A@x.com"}, emails)

	t.Run("unknown key", func(t *testing.T) {
		_, err := env.subscribers.Subscribe(ctx, "missing", "a@x.com")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := env.subscribers.Subscribe(ctx, "k1", "not-an-email")
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	})
}

func TestSubscriberService_ListEmpty(t *testing.T) {
	env := newTestEnv(t)

	emails, err := env.subscribers.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, emails)
	assert.Empty(t, emails)
}

func TestSubscriberService_Replace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.subscribers.Replace(ctx, "k1", []string{"b@x.com", " a@x.com ", "b@x.com"}))
	emails, err := env.subscribers.List(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b@x.com", "a@x.com"}, emails)

	assert.ErrorIs(t, env.subscribers.Replace(ctx, "k1", []string{"bad"}), domain.ErrInvalidEmail)

	require.NoError(t, env.subscribers.Replace(ctx, "k1", nil))
	all, err := env.subscribers.All(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, "k1")
}

func TestSubscriberService_RemoveKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.subscribers.Replace(ctx, "k1", []string{"a@x.com"}))
	require.NoError(t, env.subscribers.Replace(ctx, "k2", []string{"b@x.com"}))

	require.NoError(t, env.subscribers.RemoveKey(ctx, "k1"))
	require.NoError(t, env.subscribers.RemoveKey(ctx, "k1"), "removing twice is fine")

	all, err := env.subscribers.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriberSet{"k2": {"b@x.com"}}, all)
}
