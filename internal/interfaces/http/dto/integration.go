package dto

import (
	"time"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
)

// ConnectRequest represents a request to connect a provider. Credential
// fields are accepted here and never returned by any response DTO.
type ConnectRequest struct {
	Provider     string            `json:"provider" binding:"required,sourcetool"`
	Kind         string            `json:"kind" binding:"required,oneof=oauth2 api_key"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	APIKey       string            `json:"api_key"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	Attributes   map[string]string `json:"attributes"`
}

// Credentials converts the request into domain credential material
func (r ConnectRequest) Credentials() integration.Credentials {
	return integration.Credentials{
		Kind:         integration.AuthKind(r.Kind),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		APIKey:       r.APIKey,
		ExpiresAt:    r.ExpiresAt,
		Attributes:   r.Attributes,
	}
}

// ReconnectRequest carries fresh credentials for an errored integration
type ReconnectRequest struct {
	Kind         string            `json:"kind" binding:"required,oneof=oauth2 api_key"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	APIKey       string            `json:"api_key"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	Attributes   map[string]string `json:"attributes"`
}

// Credentials converts the request into domain credential material
func (r ReconnectRequest) Credentials() integration.Credentials {
	return integration.Credentials{
		Kind:         integration.AuthKind(r.Kind),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		APIKey:       r.APIKey,
		ExpiresAt:    r.ExpiresAt,
		Attributes:   r.Attributes,
	}
}

// LinkContainerRequest represents a request to link a remote container
// (project, board, repository, channel) for syncing
type LinkContainerRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name"`
}

// IntegrationResponse represents a connected integration. Token and key
// material is deliberately absent; only non-secret addressing attributes
// and the token expiry are exposed.
type IntegrationResponse struct {
	ID                string            `json:"id"`
	Provider          string            `json:"provider"`
	Status            string            `json:"status"`
	AuthKind          string            `json:"auth_kind"`
	WebhookRegistered bool              `json:"webhook_registered"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	TokenExpiresAt    *time.Time        `json:"token_expires_at,omitempty"`
	LastSyncAt        *time.Time        `json:"last_sync_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewIntegrationResponse maps a domain Integration onto its API shape
func NewIntegrationResponse(i *integration.Integration) IntegrationResponse {
	return IntegrationResponse{
		ID:                i.ID.String(),
		Provider:          i.Provider.String(),
		Status:            string(i.Status),
		AuthKind:          string(i.AuthKind),
		WebhookRegistered: i.WebhookID != "" || i.WebhookSecret != "",
		Attributes:        i.ProviderAttributes,
		TokenExpiresAt:    i.TokenExpiresAt,
		LastSyncAt:        i.LastSyncAt,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

// ContainerResponse represents a provider-side container
type ContainerResponse struct {
	ID         string         `json:"id,omitempty"`
	ExternalID string         `json:"external_id"`
	SourceTool string         `json:"source_tool"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
}

// NewContainerResponse maps a linked container onto its API shape
func NewContainerResponse(c *canonical.Container) ContainerResponse {
	created := c.CreatedAt
	return ContainerResponse{
		ID:         c.ID.String(),
		ExternalID: c.ExternalID,
		SourceTool: c.SourceTool.String(),
		Name:       c.Name,
		Attributes: c.Attributes,
		CreatedAt:  &created,
	}
}

// NewRemoteContainerResponse maps a container listed from the provider,
// which has no local identity yet
func NewRemoteContainerResponse(c canonical.Container) ContainerResponse {
	return ContainerResponse{
		ExternalID: c.ExternalID,
		SourceTool: c.SourceTool.String(),
		Name:       c.Name,
		Attributes: c.Attributes,
	}
}

// SyncReportResponse summarizes one sync run
type SyncReportResponse struct {
	Provider     string                     `json:"provider"`
	StartedAt    time.Time                  `json:"started_at"`
	FinishedAt   time.Time                  `json:"finished_at"`
	SuccessCount int                        `json:"success_count"`
	FailureCount int                        `json:"failure_count"`
	Containers   []ContainerOutcomeResponse `json:"containers"`
}

// ContainerOutcomeResponse is the per-container slice of a sync report
type ContainerOutcomeResponse struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Succeeded  bool   `json:"succeeded"`
	Upserted   int    `json:"upserted"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

// NewSyncReportResponse maps a domain SyncReport onto its API shape
func NewSyncReportResponse(r *integration.SyncReport) SyncReportResponse {
	resp := SyncReportResponse{
		Provider:     r.Provider.String(),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		Containers:   make([]ContainerOutcomeResponse, 0, len(r.Containers)),
	}
	for _, o := range r.Containers {
		resp.Containers = append(resp.Containers, ContainerOutcomeResponse{
			ExternalID: o.ContainerExternalID,
			Name:       o.ContainerName,
			Succeeded:  o.Succeeded,
			Upserted:   o.Upserted,
			Skipped:    o.Skipped,
			Error:      o.Error,
		})
	}
	return resp
}
