package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
)

// IntegrationModel persists one Integration per (tenant, provider). The
// token, key and webhook secret columns carry the encrypted serializer so
// plaintext never reaches the SQL layer.
type IntegrationModel struct {
	BaseModel
	TenantID           uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_integrations_tenant_provider,priority:1"`
	Provider           canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_integrations_tenant_provider,priority:2"`
	Status             integration.Status   `gorm:"type:varchar(16);not null;default:'disconnected'"`
	AuthKind           integration.AuthKind `gorm:"type:varchar(16);not null"`
	AccessToken        string               `gorm:"serializer:encrypted;type:text"`
	RefreshToken       string               `gorm:"serializer:encrypted;type:text"`
	APIKey             string               `gorm:"column:api_key;serializer:encrypted;type:text"`
	TokenExpiresAt     *time.Time
	WebhookID          string            `gorm:"type:varchar(255);index"`
	WebhookSecret      string            `gorm:"serializer:encrypted;type:text"`
	ProviderAttributes map[string]string `gorm:"serializer:json"`
	LastSyncAt         *time.Time
}

// TableName returns the table name for IntegrationModel
func (IntegrationModel) TableName() string {
	return "integrations"
}

// ToDomain converts IntegrationModel to a domain Integration
func (m *IntegrationModel) ToDomain() *integration.Integration {
	return &integration.Integration{
		TenantEntity:       toTenantEntity(m.BaseModel, m.TenantID),
		Provider:           m.Provider,
		Status:             m.Status,
		AuthKind:           m.AuthKind,
		AccessToken:        m.AccessToken,
		RefreshToken:       m.RefreshToken,
		APIKey:             m.APIKey,
		TokenExpiresAt:     m.TokenExpiresAt,
		WebhookID:          m.WebhookID,
		WebhookSecret:      m.WebhookSecret,
		ProviderAttributes: m.ProviderAttributes,
		LastSyncAt:         m.LastSyncAt,
	}
}

// FromDomain populates IntegrationModel from a domain Integration
func (m *IntegrationModel) FromDomain(i *integration.Integration) {
	m.BaseModel.FromDomain(i.BaseEntity)
	m.TenantID = i.TenantID
	m.Provider = i.Provider
	m.Status = i.Status
	m.AuthKind = i.AuthKind
	m.AccessToken = i.AccessToken
	m.RefreshToken = i.RefreshToken
	m.APIKey = i.APIKey
	m.TokenExpiresAt = i.TokenExpiresAt
	m.WebhookID = i.WebhookID
	m.WebhookSecret = i.WebhookSecret
	m.ProviderAttributes = i.ProviderAttributes
	m.LastSyncAt = i.LastSyncAt
}
