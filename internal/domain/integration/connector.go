package integration

import (
	"context"
	"time"

	"github.com/pulsedeck/backend/internal/domain/canonical"
)

// ---------------------------------------------------------------------------
// Resource types
// ---------------------------------------------------------------------------

// ResourceType names a category of provider resource a connector can fetch
type ResourceType string

const (
	// ResourceTasks covers issues, tickets and todos
	ResourceTasks ResourceType = "tasks"
	// ResourceMessages covers chat messages
	ResourceMessages ResourceType = "messages"
	// ResourceCustomers covers billing customers
	ResourceCustomers ResourceType = "customers"
	// ResourceSubscriptions covers recurring subscriptions
	ResourceSubscriptions ResourceType = "subscriptions"
	// ResourceInvoices covers invoices
	ResourceInvoices ResourceType = "invoices"
	// ResourceCommits covers VCS commits
	ResourceCommits ResourceType = "commits"
	// ResourcePullRequests covers pull/merge requests
	ResourcePullRequests ResourceType = "pull_requests"
	// ResourceBranches covers VCS branches
	ResourceBranches ResourceType = "branches"
	// ResourceContributors covers code contributors
	ResourceContributors ResourceType = "contributors"
	// ResourceFeedItems covers feedback posts
	ResourceFeedItems ResourceType = "feed_items"
	// ResourceAnalytics covers aggregated analytics data points
	ResourceAnalytics ResourceType = "analytics"
)

// ---------------------------------------------------------------------------
// Pagination
// ---------------------------------------------------------------------------

// Page is an opaque pagination continuation. The zero value requests the
// first page; the token's meaning (cursor, offset, page number) is private to
// each connector.
type Page struct {
	Token string
}

// First returns true when this is the initial page request
func (p Page) First() bool { return p.Token == "" }

// FetchResult is one page of normalized records plus continuation state
type FetchResult struct {
	Records []canonical.Record
	Next    Page
	HasMore bool
	// Skipped counts malformed provider items that were logged and dropped
	// instead of aborting the page
	Skipped int
}

// ---------------------------------------------------------------------------
// Connector port
// ---------------------------------------------------------------------------

// AccountInfo describes the provider account behind a set of credentials.
// Returned by TestConnection and reusable as a health probe.
type AccountInfo struct {
	AccountID   string
	AccountName string
	// Attributes carries provider addressing data discovered during the
	// handshake (cloud id, workspace id) that later calls need
	Attributes map[string]string
}

// Connector is the port every provider adapter implements. The orchestrator
// and webhook pipeline depend only on this interface, never on concrete
// provider types.
type Connector interface {
	// Provider returns the source tool this connector handles
	Provider() canonical.SourceTool

	// Resources returns the resource types this connector can fetch,
	// in the order they should be synced
	Resources() []ResourceType

	// TestConnection verifies the credentials are currently valid and
	// returns an account descriptor. Invalid credentials surface ErrAuthFailed.
	TestConnection(ctx context.Context, creds Credentials) (*AccountInfo, error)

	// FetchResources fetches one page of a resource type scoped to a
	// container, normalizing provider payloads into canonical records.
	// container is nil for account-level resources (e.g. Stripe customers).
	FetchResources(ctx context.Context, creds Credentials, container *canonical.Container, resource ResourceType, page Page) (*FetchResult, error)

	// RefreshCredentials exchanges a refresh token for new token material.
	// Connectors for api_key providers return ErrRefreshNotSupported.
	RefreshCredentials(ctx context.Context, creds Credentials) (*Credentials, error)
}

// WebhookRegistration is the provider-side webhook descriptor stored on the
// Integration after registration
type WebhookRegistration struct {
	ID     string
	Secret string
}

// WebhookRegistrar is implemented by connectors whose provider supports
// programmatic webhook management
type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, creds Credentials, callbackURL string) (*WebhookRegistration, error)
	UnregisterWebhook(ctx context.Context, creds Credentials, webhookID string) error
}

// ContainerLister is implemented by connectors that can enumerate the
// provider-side containers available for linking
type ContainerLister interface {
	ListContainers(ctx context.Context, creds Credentials, page Page) ([]canonical.Container, Page, bool, error)
}

// Registry provides access to the closed set of registered connectors
type Registry interface {
	// Get returns the connector for the provider
	Get(provider canonical.SourceTool) (Connector, error)
	// List returns all registered connectors
	List() []Connector
}

// ---------------------------------------------------------------------------
// Sync report
// ---------------------------------------------------------------------------

// ContainerOutcome records the result of syncing one container
type ContainerOutcome struct {
	ContainerExternalID string `json:"containerExternalId"`
	ContainerName       string `json:"containerName"`
	Succeeded           bool   `json:"succeeded"`
	Upserted            int    `json:"upserted"`
	Skipped             int    `json:"skipped"`
	Error               string `json:"error,omitempty"`
}

// SyncReport is the per-run summary returned by the orchestrator
type SyncReport struct {
	Provider     canonical.SourceTool `json:"provider"`
	StartedAt    time.Time            `json:"startedAt"`
	FinishedAt   time.Time            `json:"finishedAt"`
	Containers   []ContainerOutcome   `json:"containers"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
}

// Add records a container outcome and updates the aggregate counts
func (r *SyncReport) Add(outcome ContainerOutcome) {
	r.Containers = append(r.Containers, outcome)
	if outcome.Succeeded {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}
}
