package connector

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

// StaticRegistry holds the closed set of provider connectors. Connectors are
// wired at boot; there is no runtime plugin mechanism.
type StaticRegistry struct {
	connectors map[canonical.SourceTool]integration.Connector
}

// NewRegistry builds a registry from the given connectors
func NewRegistry(connectors ...integration.Connector) *StaticRegistry {
	byProvider := make(map[canonical.SourceTool]integration.Connector, len(connectors))
	for _, c := range connectors {
		byProvider[c.Provider()] = c
	}
	return &StaticRegistry{connectors: byProvider}
}

// NewDefaultRegistry wires the full provider set from configuration
func NewDefaultRegistry(cfg *config.Config, logger *zap.Logger) *StaticRegistry {
	retries := cfg.Sync.RetryBudget
	pageSize := cfg.Sync.PageSize
	return NewRegistry(
		NewStripeConnector(logger, retries, pageSize),
		NewJiraConnector(cfg.Providers.Jira, logger, retries, pageSize),
		NewAsanaConnector(cfg.Providers.Asana, logger, retries, pageSize),
		NewSlackConnector(cfg.Providers.Slack, logger, retries, pageSize),
		NewGitHubConnector(cfg.Providers.GitHub, logger, retries, pageSize),
		NewPlausibleConnector(logger, retries, pageSize),
		NewCannyConnector(logger, retries, pageSize),
	)
}

// Get returns the connector for the provider
func (r *StaticRegistry) Get(provider canonical.SourceTool) (integration.Connector, error) {
	c, ok := r.connectors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrConnectorNotRegistered, provider)
	}
	return c, nil
}

// List returns all registered connectors in stable provider order
func (r *StaticRegistry) List() []integration.Connector {
	out := make([]integration.Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Provider() < out[j].Provider()
	})
	return out
}

// Ensure StaticRegistry implements integration.Registry
var _ integration.Registry = (*StaticRegistry)(nil)
