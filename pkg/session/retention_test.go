package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetention(t *testing.T) {
	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, err := NewRetention(RetentionConfig{Store: NewMemoryStore(10, nil), Schedule: "every day"})
		assert.Error(t, err)
	})

	t.Run("should require a store", func(t *testing.T) {
		_, err := NewRetention(RetentionConfig{})
		assert.Error(t, err)
	})

	t.Run("should delete stale sessions on RunOnce", func(t *testing.T) {
		clock := &testClock{now: time.Unix(1_000_000, 0)}
		store := NewMemoryStore(10, clock.Now)
		ctx := context.Background()

		_, err := store.Create(ctx, "old", nil)
		require.NoError(t, err)
		clock.Advance(31 * 24 * time.Hour)
		_, err = store.Create(ctx, "new", nil)
		require.NoError(t, err)

		retention, err := NewRetention(RetentionConfig{Store: store, Days: 30, Logger: zerolog.Nop()})
		require.NoError(t, err)

		deleted, err := retention.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
		assert.Equal(t, 1, store.Count(ctx))
	})

	t.Run("should start and stop", func(t *testing.T) {
		retention, err := NewRetention(RetentionConfig{Store: NewMemoryStore(10, nil), Logger: zerolog.Nop()})
		require.NoError(t, err)

		require.NoError(t, retention.Start())
		assert.Error(t, retention.Start())
		require.NoError(t, retention.Stop())
		assert.Error(t, retention.Stop())
	})
}
