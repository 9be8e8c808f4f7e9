package integration

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulsedeck/backend/internal/domain/canonical"
)

// Repository persists Integration records. Secret fields cross this boundary
// in plaintext; the persistence layer encrypts them before storage.
type Repository interface {
	// Save creates or updates an Integration
	Save(ctx context.Context, i *Integration) error

	// FindByProvider loads the Integration for (tenant, provider);
	// shared.ErrNotFound when the tenant never connected the provider
	FindByProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*Integration, error)

	// FindByWebhookID resolves an Integration from a provider-issued
	// webhook identifier, as used during webhook authentication
	FindByWebhookID(ctx context.Context, provider canonical.SourceTool, webhookID string) (*Integration, error)

	// ListByTenant returns all Integrations of a tenant
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Integration, error)

	// ListConnected returns every Integration currently able to sync,
	// across all tenants, as consumed by the background scheduler
	ListConnected(ctx context.Context) ([]*Integration, error)

	// ListByProvider returns every tenant's Integration for one provider,
	// as used by webhook authentication to locate the matching secret
	ListByProvider(ctx context.Context, provider canonical.SourceTool) ([]*Integration, error)

	// Delete removes the Integration on explicit disconnect
	Delete(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) error
}
