package memory

import (
	"context"
	"errors"
	"testing"

	"letterdrop/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_DocumentOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Read(ctx, storage.DocKeys)
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)

	require.NoError(t, store.Write(ctx, storage.DocKeys, []byte(`{"a":1}`)))
	data, err := store.Read(ctx, storage.DocKeys)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
	assert.Equal(t, 1, store.Writes(storage.DocKeys))

	// 返回的是副本
	data[0] = 'x'
	again, err := store.Read(ctx, storage.DocKeys)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(again))
}

func TestMemoryStore_WriteError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("disk full")

	store.SetWriteError(boom)
	assert.ErrorIs(t, store.Write(ctx, storage.DocStats, []byte(`{}`)), boom)

	store.SetWriteError(nil)
	assert.NoError(t, store.Write(ctx, storage.DocStats, []byte(`{}`)))
}
