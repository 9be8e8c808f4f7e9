package canonical

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pulsedeck/backend/internal/domain/shared"
)

// Attributes is a free-form bag of provider-specific fields that do not
// warrant first-class columns. Stored as JSONB.
type Attributes map[string]any

// ExternalRef is the provider-native identity of a canonical record.
// (ExternalID, SourceTool) is unique per tenant; both sync and webhook
// writes converge on this key.
type ExternalRef struct {
	ExternalID string
	SourceTool SourceTool
}

// Container represents the provider-side grouping object that scopes a sync
// task: a Jira project, GitHub repository, Slack channel, Asana project or
// Canny board. Child entities reference it by ContainerID.
type Container struct {
	shared.TenantEntity
	ExternalRef
	Name       string
	Attributes Attributes
}

// Task is the canonical representation of an issue, ticket or todo
type Task struct {
	shared.TenantEntity
	ExternalRef
	ContainerID *uuid.UUID
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	Assignee    string
	DueAt       *time.Time
	Attributes  Attributes
}

// Message is the canonical representation of a chat message
type Message struct {
	shared.TenantEntity
	ExternalRef
	ContainerID *uuid.UUID
	Author      string
	Body        string
	PostedAt    time.Time
	Attributes  Attributes
}

// Customer is the canonical representation of a billing customer
type Customer struct {
	shared.TenantEntity
	ExternalRef
	Email      string
	Name       string
	Attributes Attributes
}

// FinanceSubscription is the canonical representation of a recurring
// subscription. Amount is normalized to major currency units.
type FinanceSubscription struct {
	shared.TenantEntity
	ExternalRef
	CustomerExternalID string
	Amount             decimal.Decimal
	Currency           string
	BillingCycle       string
	Status             string
	CurrentPeriodEnd   *time.Time
	Attributes         Attributes
}

// Invoice is the canonical representation of an invoice. Amount is
// normalized to major currency units.
type Invoice struct {
	shared.TenantEntity
	ExternalRef
	CustomerExternalID string
	Amount             decimal.Decimal
	Currency           string
	Status             string
	IssuedAt           *time.Time
	Attributes         Attributes
}

// Commit is the canonical representation of a VCS commit
type Commit struct {
	shared.TenantEntity
	ExternalRef
	ContainerID *uuid.UUID
	SHA         string
	AuthorName  string
	AuthorEmail string
	Message     string
	CommittedAt time.Time
	Attributes  Attributes
}

// PullRequest is the canonical representation of a pull or merge request
type PullRequest struct {
	shared.TenantEntity
	ExternalRef
	ContainerID *uuid.UUID
	Number      int
	Title       string
	Author      string
	Status      TaskStatus
	SourceRef   string
	TargetRef   string
	MergedAt    *time.Time
	Attributes  Attributes
}

// Branch is the canonical representation of a VCS branch head
type Branch struct {
	shared.TenantEntity
	ExternalRef
	ContainerID *uuid.UUID
	Name        string
	HeadSHA     string
	Attributes  Attributes
}

// Contributor is the canonical representation of a code contributor
type Contributor struct {
	shared.TenantEntity
	ExternalRef
	ContainerID *uuid.UUID
	Login       string
	Commits     int
	Attributes  Attributes
}

// FeedItem is the canonical representation of a feedback post
type FeedItem struct {
	shared.TenantEntity
	ExternalRef
	ContainerID *uuid.UUID
	Title       string
	Body        string
	Author      string
	Score       int
	Status      string
	Attributes  Attributes
}

// AnalyticsEvent is the canonical representation of an aggregated analytics
// data point (e.g. daily visitors for a site)
type AnalyticsEvent struct {
	shared.TenantEntity
	ExternalRef
	Metric     string
	Value      decimal.Decimal
	BucketDate time.Time
	Attributes Attributes
}

// Record is implemented by every canonical entity a connector can emit.
// Connectors must produce strictly-typed canonical records before anything
// crosses into the sync orchestrator or webhook pipeline.
type Record interface {
	Ref() ExternalRef
}

// Ref returns the provider-native identity of the record
func (r ExternalRef) Ref() ExternalRef { return r }

// AssignTenant stamps every record in a batch with its owning tenant.
// Records that already carry identity keep it.
func AssignTenant(records []Record, tenantID uuid.UUID) {
	for _, rec := range records {
		if e, ok := rec.(interface{ AssignTenant(uuid.UUID) }); ok {
			e.AssignTenant(tenantID)
		}
	}
}
