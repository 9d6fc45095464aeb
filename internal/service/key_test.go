package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdrop/backend/internal/auth"
	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/storage"
)

func TestKeyService_CreateAndVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.keys.Verify(ctx, "abc123", "secret1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyResult{Exists: false}, res)

	require.NoError(t, env.keys.Create(ctx, "abc123", "secret1"))

	t.Run("correct password", func(t *testing.T) {
		res, err := env.keys.Verify(ctx, "abc123", "secret1")
		require.NoError(t, err)
		assert.Equal(t, domain.VerifyResult{Exists: true, Valid: true}, res)
	})

	t.Run("wrong password", func(t *testing.T) {
		res, err := env.keys.Verify(ctx, "abc123", "wrong")
		require.NoError(t, err)
		assert.Equal(t, domain.VerifyResult{Exists: true, Valid: false}, res)
	})

	t.Run("no password is read access", func(t *testing.T) {
		res, err := env.keys.Verify(ctx, "abc123", "")
		require.NoError(t, err)
		assert.True(t, res.Exists)
		assert.True(t, res.Valid)
	})

	t.Run("keys are case sensitive", func(t *testing.T) {
		exists, err := env.keys.Exists(ctx, "ABC123")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("strict create", func(t *testing.T) {
		err := env.keys.Create(ctx, "abc123", "other")
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		res, err := env.keys.Verify(ctx, "abc123", "secret1")
		require.NoError(t, err)
		assert.True(t, res.Valid, "original password still valid")
	})

	t.Run("stored hash is bcrypt", func(t *testing.T) {
		raw, err := env.backend.Read(ctx, storage.DocKeys)
		require.NoError(t, err)
		var doc map[string]map[string]any
		require.NoError(t, json.Unmarshal(raw, &doc))
		hash, _ := doc["abc123"]["password"].(string)
		assert.False(t, auth.IsLegacyHash(hash))
		assert.NotContains(t, string(raw), "secret1")
	})
}

func TestKeyService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.keys.Create(ctx, "", "pw"), domain.ErrInvalidKey)
	assert.ErrorIs(t, env.keys.Create(ctx, "../etc", "pw"), domain.ErrInvalidKey)
	assert.ErrorIs(t, env.keys.Create(ctx, "ok", ""), domain.ErrInvalidPassword)

	_, err := env.keys.Verify(ctx, "a/b", "pw")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestKeyService_LegacyHashUpgrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sum := md5.Sum([]byte("secret1"))
	legacy := map[string]any{
		"old": map[string]any{"password": hex.EncodeToString(sum[:]), "createdAt": time.Now().UTC()},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, env.backend.Write(ctx, storage.DocKeys, raw))

	res, err := env.keys.Verify(ctx, "old", "wrong")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = env.keys.Verify(ctx, "old", "secret1")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	raw, err = env.backend.Read(ctx, storage.DocKeys)
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	hash, _ := doc["old"]["password"].(string)
	assert.False(t, auth.IsLegacyHash(hash), "hash upgraded to bcrypt")

	res, err = env.keys.Verify(ctx, "old", "secret1")
	require.NoError(t, err)
	assert.True(t, res.Valid, "password still valid after upgrade")
}

func TestKeyService_UpdateKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.keys.Create(ctx, "alpha", "pw1"))
	require.NoError(t, env.keys.Create(ctx, "beta", "pw2"))
	_, err := env.letterStore.Create("alpha", "hello", time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, env.keys.UpdateKey(ctx, "missing", "x", "pw1"), domain.ErrNotFound)
	assert.ErrorIs(t, env.keys.UpdateKey(ctx, "alpha", "gamma", "wrong"), domain.ErrUnauthorized)
	assert.ErrorIs(t, env.keys.UpdateKey(ctx, "alpha", "beta", "pw1"), domain.ErrConflict)

	require.NoError(t, env.keys.UpdateKey(ctx, "alpha", "gamma", "pw1"))

	exists, err := env.keys.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, exists)

	res, err := env.keys.Verify(ctx, "gamma", "pw1")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// 信件文件不随密钥迁移
	n, err := env.letterStore.Count("alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = env.letterStore.Count("gamma")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, env.keys.UpdateKey(ctx, "gamma", "gamma", "pw1"), "rename to self is a no-op")
}

func TestKeyService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.keys.Create(ctx, "abc", "pw"))
	require.NoError(t, env.keys.Create(ctx, "abc-def", "pw"))
	for i := 0; i < 3; i++ {
		_, err := env.letterStore.Create("abc", "letter", time.Now().Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	_, err := env.letterStore.Create("abc-def", "other key", time.Now())
	require.NoError(t, err)
	_, err = env.subscribers.Subscribe(ctx, "abc", "reader@example.com")
	require.NoError(t, err)

	assert.ErrorIs(t, env.keys.Delete(ctx, "abc", "wrong"), domain.ErrUnauthorized)
	assert.ErrorIs(t, env.keys.Delete(ctx, "abc", ""), domain.ErrInvalidPassword)
	assert.ErrorIs(t, env.keys.Delete(ctx, "nope", "pw"), domain.ErrNotFound)

	require.NoError(t, env.keys.Delete(ctx, "abc", "pw"))

	exists, err := env.keys.Exists(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := env.letterStore.Count("abc")
	require.NoError(t, err)
	assert.Zero(t, n, "all letters removed")

	n, err = env.letterStore.Count("abc-def")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "letters of a prefixed key untouched")

	subs, err := env.subscribers.List(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestKeyService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.keys.now = func() time.Time { return base }
	require.NoError(t, env.keys.Create(ctx, "second", "pw"))
	env.keys.now = func() time.Time { return base.Add(-time.Hour) }
	require.NoError(t, env.keys.Create(ctx, "first", "pw"))

	_, err := env.letterStore.Create("second", "x", base)
	require.NoError(t, err)
	_, err = env.subscribers.Subscribe(ctx, "second", "a@example.com")
	require.NoError(t, err)

	infos, err := env.keys.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].Key)
	assert.Equal(t, "second", infos[1].Key)
	assert.Equal(t, 1, infos[1].LetterCount)
	assert.Equal(t, 1, infos[1].SubscriberCount)
}
