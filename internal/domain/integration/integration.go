package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status represents the lifecycle state of an Integration
type Status string

const (
	// StatusDisconnected indicates no valid credentials are stored
	StatusDisconnected Status = "disconnected"
	// StatusConnected indicates credentials are valid and syncs may run
	StatusConnected Status = "connected"
	// StatusSyncing indicates an orchestrator run is in flight
	StatusSyncing Status = "syncing"
	// StatusError indicates an unrecoverable sync failure; the Integration
	// must be reconnected before it can serve credentials again
	StatusError Status = "error"
)

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusDisconnected, StatusConnected, StatusSyncing, StatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// AuthKind
// ---------------------------------------------------------------------------

// AuthKind describes how a provider authenticates API calls
type AuthKind string

const (
	// AuthKindOAuth2 providers carry access + refresh tokens with expiry
	AuthKindOAuth2 AuthKind = "oauth2"
	// AuthKindAPIKey providers carry a single static key
	AuthKindAPIKey AuthKind = "api_key"
)

// IsValid returns true if the auth kind is valid
func (k AuthKind) IsValid() bool {
	return k == AuthKindOAuth2 || k == AuthKindAPIKey
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// Credentials is the decrypted, in-memory credential material handed to a
// connector. It never reaches persistent storage in this form; the Secret
// Vault serializer encrypts the token fields at the data-access boundary.
type Credentials struct {
	Kind         AuthKind
	AccessToken  string
	RefreshToken string
	APIKey       string
	ExpiresAt    *time.Time
	// Attributes holds provider addressing data that is not secret:
	// Atlassian cloud id, Slack workspace id, GitHub installation id, etc.
	Attributes map[string]string
}

// Attr returns the named provider attribute or the empty string
func (c Credentials) Attr(name string) string {
	if c.Attributes == nil {
		return ""
	}
	return c.Attributes[name]
}

// Expired returns true when an oauth2 token has an expiry in the past
func (c Credentials) Expired(now time.Time) bool {
	return c.Kind == AuthKindOAuth2 && c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// ---------------------------------------------------------------------------
// Integration aggregate
// ---------------------------------------------------------------------------

// Integration is the per-(tenant, provider) credential record. Token and key
// fields are encrypted at rest; they are plaintext only on this in-memory
// representation.
type Integration struct {
	shared.TenantEntity
	Provider           canonical.SourceTool
	Status             Status
	AuthKind           AuthKind
	AccessToken        string
	RefreshToken       string
	APIKey             string
	TokenExpiresAt     *time.Time
	WebhookID          string
	WebhookSecret      string
	ProviderAttributes map[string]string
	LastSyncAt         *time.Time
}

// NewIntegration creates a connected Integration from a successful handshake
func NewIntegration(tenantID uuid.UUID, provider canonical.SourceTool, creds Credentials) *Integration {
	return &Integration{
		TenantEntity:       shared.NewTenantEntity(tenantID),
		Provider:           provider,
		Status:             StatusConnected,
		AuthKind:           creds.Kind,
		AccessToken:        creds.AccessToken,
		RefreshToken:       creds.RefreshToken,
		APIKey:             creds.APIKey,
		TokenExpiresAt:     creds.ExpiresAt,
		ProviderAttributes: creds.Attributes,
	}
}

// Credentials returns the in-memory credential material for connector calls.
// An Integration in error state refuses to serve credentials until it is
// explicitly reconnected.
func (i *Integration) Credentials() (Credentials, error) {
	if i.Status == StatusError {
		return Credentials{}, ErrIntegrationErrored
	}
	if i.Status == StatusDisconnected {
		return Credentials{}, ErrMissingCredentials
	}
	return Credentials{
		Kind:         i.AuthKind,
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
		APIKey:       i.APIKey,
		ExpiresAt:    i.TokenExpiresAt,
		Attributes:   i.ProviderAttributes,
	}, nil
}

// ApplyRefreshedCredentials stores new token material obtained from a
// provider refresh exchange
func (i *Integration) ApplyRefreshedCredentials(creds Credentials) {
	i.AccessToken = creds.AccessToken
	if creds.RefreshToken != "" {
		i.RefreshToken = creds.RefreshToken
	}
	i.TokenExpiresAt = creds.ExpiresAt
	i.UpdatedAt = time.Now()
}

// BeginSync transitions the Integration into syncing state
func (i *Integration) BeginSync() error {
	if i.Status == StatusError || i.Status == StatusDisconnected {
		return shared.ErrInvalidState
	}
	i.Status = StatusSyncing
	i.UpdatedAt = time.Now()
	return nil
}

// CompleteSync records a finished run. Per-container data failures leave the
// Integration connected; only systemic credential failures mark it errored.
func (i *Integration) CompleteSync(at time.Time) {
	i.Status = StatusConnected
	i.LastSyncAt = &at
	i.UpdatedAt = time.Now()
}

// MarkError records an unrecoverable failure
func (i *Integration) MarkError() {
	i.Status = StatusError
	i.UpdatedAt = time.Now()
}

// Reconnect restores a usable state with fresh credential material
func (i *Integration) Reconnect(creds Credentials) {
	i.Status = StatusConnected
	i.AuthKind = creds.Kind
	i.AccessToken = creds.AccessToken
	i.RefreshToken = creds.RefreshToken
	i.APIKey = creds.APIKey
	i.TokenExpiresAt = creds.ExpiresAt
	if creds.Attributes != nil {
		i.ProviderAttributes = creds.Attributes
	}
	i.UpdatedAt = time.Now()
}

// SetWebhook stores provider-side webhook registration metadata
func (i *Integration) SetWebhook(id, secret string) {
	i.WebhookID = id
	i.WebhookSecret = secret
	i.UpdatedAt = time.Now()
}
