package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

func TestDefaultRegistry(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sync.RetryBudget = 3
	cfg.Sync.PageSize = 100

	registry := NewDefaultRegistry(cfg, zap.NewNop())

	providers := []canonical.SourceTool{
		canonical.SourceToolStripe,
		canonical.SourceToolJira,
		canonical.SourceToolAsana,
		canonical.SourceToolSlack,
		canonical.SourceToolGitHub,
		canonical.SourceToolPlausible,
		canonical.SourceToolCanny,
	}
	for _, provider := range providers {
		c, err := registry.Get(provider)
		require.NoError(t, err, provider)
		assert.Equal(t, provider, c.Provider())
	}

	assert.Len(t, registry.List(), len(providers))

	_, err := registry.Get(canonical.SourceTool("linear"))
	assert.ErrorIs(t, err, integration.ErrConnectorNotRegistered)
}
