package dedup

import (
	"context"
	"testing"
	"time"

	"fs-rpc/codec"
	"fs-rpc/message"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *BigCacheStore {
	t.Helper()
	store, err := NewBigCacheStore(context.Background(), time.Minute, codec.GetCodec(codec.CodecTypeMsgpack), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAndLoad(t *testing.T) {
	store := newStore(t)
	id := uuid.New()

	_, ok := store.Load(id)
	assert.False(t, ok)

	want := message.Success(message.Strings([]string{"a.txt", "b.txt"}))
	store.Store(id, want)

	got, ok := store.Load(id)
	require.True(t, ok)
	assert.True(t, want.Equal(got))
	assert.Equal(t, 1, store.Len())
}

func TestStoreKeepsFailures(t *testing.T) {
	store := newStore(t)
	id := uuid.New()

	store.Store(id, message.Failure(message.Errorf(message.NotFound, "gone")))

	got, ok := store.Load(id)
	require.True(t, ok)
	require.NotNil(t, got.Error)
	assert.Equal(t, message.NotFound, got.Error.Kind)
}

func TestStoreIgnoresInvalidOutcome(t *testing.T) {
	store := newStore(t)
	id := uuid.New()

	store.Store(id, &message.Outcome{})

	_, ok := store.Load(id)
	assert.False(t, ok)
}

func TestNewRejectsZeroTTL(t *testing.T) {
	_, err := NewBigCacheStore(context.Background(), 0, codec.GetCodec(codec.CodecTypeJSON), nil)
	assert.Error(t, err)
}
