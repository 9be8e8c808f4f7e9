package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pulsedeck/backend/internal/domain/shared"
)

// BaseModel provides common persistence fields for all models. TenantID is
// declared on each concrete model so it can participate in that table's
// composite unique index on (tenant_id, external_id, source_tool).
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// FromDomain populates BaseModel from domain BaseEntity
func (m *BaseModel) FromDomain(e shared.BaseEntity) {
	m.ID = e.ID
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// toTenantEntity builds the domain base for a tenant-scoped row
func toTenantEntity(base BaseModel, tenantID uuid.UUID) shared.TenantEntity {
	return shared.TenantEntity{
		BaseEntity: shared.BaseEntity{
			ID:        base.ID,
			CreatedAt: base.CreatedAt,
			UpdatedAt: base.UpdatedAt,
		},
		TenantID: tenantID,
	}
}
