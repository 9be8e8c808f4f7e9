package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/persistence/models"
)

// GormContainerRepository implements canonical.ContainerRepository using GORM
type GormContainerRepository struct {
	db *gorm.DB
}

// NewGormContainerRepository creates a new GormContainerRepository
func NewGormContainerRepository(db *gorm.DB) *GormContainerRepository {
	return &GormContainerRepository{db: db}
}

// Save upserts a container on its natural key. Containers are rediscovered
// on every sync run, so a conflict updates the mutable columns in place.
func (r *GormContainerRepository) Save(ctx context.Context, container *canonical.Container) error {
	var model models.ContainerModel
	model.FromDomain(container)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "external_id"}, {Name: "source_tool"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"name", "attributes", "updated_at"}),
		}).
		Create(&model).Error
}

// FindByRef loads a container by natural key
func (r *GormContainerRepository) FindByRef(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Container, error) {
	var model models.ContainerModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ? AND source_tool = ?", tenantID, ref.ExternalID, ref.SourceTool).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByTool returns all containers of a tenant for one provider
func (r *GormContainerRepository) ListByTool(ctx context.Context, tenantID uuid.UUID, tool canonical.SourceTool) ([]canonical.Container, error) {
	var rows []models.ContainerModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND source_tool = ?", tenantID, tool).
		Order("name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]canonical.Container, len(rows))
	for idx := range rows {
		out[idx] = *rows[idx].ToDomain()
	}
	return out, nil
}

// Delete removes a container by natural key. Deleting an absent container is
// a no-op; provider deletion events can arrive more than once.
func (r *GormContainerRepository) Delete(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) error {
	return r.db.WithContext(ctx).
		Delete(&models.ContainerModel{}, "tenant_id = ? AND external_id = ? AND source_tool = ?",
			tenantID, ref.ExternalID, ref.SourceTool).Error
}

// Ensure GormContainerRepository implements canonical.ContainerRepository
var _ canonical.ContainerRepository = (*GormContainerRepository)(nil)
