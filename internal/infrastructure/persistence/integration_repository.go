package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/persistence/models"
)

// GormIntegrationRepository implements integration.Repository using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

// NewGormIntegrationRepository creates a new GormIntegrationRepository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// Save creates or updates an Integration
func (r *GormIntegrationRepository) Save(ctx context.Context, i *integration.Integration) error {
	var model models.IntegrationModel
	model.FromDomain(i)
	return r.db.WithContext(ctx).Save(&model).Error
}

// FindByProvider loads the Integration for (tenant, provider)
func (r *GormIntegrationRepository) FindByProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.Integration, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByWebhookID resolves an Integration from a provider-issued webhook identifier
func (r *GormIntegrationRepository) FindByWebhookID(ctx context.Context, provider canonical.SourceTool, webhookID string) (*integration.Integration, error) {
	if webhookID == "" {
		return nil, shared.ErrNotFound
	}
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND webhook_id = ?", provider, webhookID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByTenant returns all Integrations of a tenant
func (r *GormIntegrationRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("provider ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.Integration, len(rows))
	for idx := range rows {
		out[idx] = rows[idx].ToDomain()
	}
	return out, nil
}

// ListConnected returns every Integration currently able to sync
func (r *GormIntegrationRepository) ListConnected(ctx context.Context) ([]*integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", integration.StatusConnected).
		Order("tenant_id ASC, provider ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.Integration, len(rows))
	for idx := range rows {
		out[idx] = rows[idx].ToDomain()
	}
	return out, nil
}

// ListByProvider returns every tenant's Integration for one provider
func (r *GormIntegrationRepository) ListByProvider(ctx context.Context, provider canonical.SourceTool) ([]*integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("provider = ?", provider).
		Order("tenant_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.Integration, len(rows))
	for idx := range rows {
		out[idx] = rows[idx].ToDomain()
	}
	return out, nil
}

// Delete removes the Integration on explicit disconnect
func (r *GormIntegrationRepository) Delete(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) error {
	result := r.db.WithContext(ctx).
		Delete(&models.IntegrationModel{}, "tenant_id = ? AND provider = ?", tenantID, provider)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormIntegrationRepository implements integration.Repository
var _ integration.Repository = (*GormIntegrationRepository)(nil)
