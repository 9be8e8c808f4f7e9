package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedeck/backend/internal/domain/canonical"
)

func TestMemoryDeliveryDedup(t *testing.T) {
	ctx := context.Background()

	t.Run("first delivery is fresh, replay is not", func(t *testing.T) {
		s := NewMemoryDeliveryDedup()
		defer s.Close()

		fresh, err := s.Remember(ctx, canonical.SourceToolStripe, "evt_1", time.Hour)
		require.NoError(t, err)
		assert.True(t, fresh)

		fresh, err = s.Remember(ctx, canonical.SourceToolStripe, "evt_1", time.Hour)
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("ids are scoped by provider", func(t *testing.T) {
		s := NewMemoryDeliveryDedup()
		defer s.Close()

		_, err := s.Remember(ctx, canonical.SourceToolStripe, "id-1", time.Hour)
		require.NoError(t, err)

		fresh, err := s.Remember(ctx, canonical.SourceToolGitHub, "id-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("expired ids are remembered again", func(t *testing.T) {
		s := NewMemoryDeliveryDedup()
		defer s.Close()

		_, err := s.Remember(ctx, canonical.SourceToolSlack, "id-2", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		fresh, err := s.Remember(ctx, canonical.SourceToolSlack, "id-2", time.Hour)
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("sweep drops expired entries", func(t *testing.T) {
		s := NewMemoryDeliveryDedup()
		defer s.Close()

		_, err := s.Remember(ctx, canonical.SourceToolCanny, "id-3", time.Millisecond)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)

		s.sweep()
		assert.Equal(t, 0, s.Size())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		s := NewMemoryDeliveryDedup()
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
	})
}
