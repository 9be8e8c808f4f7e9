package canonical

import (
	"context"

	"github.com/google/uuid"
)

// EntityKind names a canonical table. Used by the generic upsert/delete
// helpers to route a Record to its storage.
type EntityKind string

const (
	KindContainer           EntityKind = "container"
	KindTask                EntityKind = "task"
	KindMessage             EntityKind = "message"
	KindCustomer            EntityKind = "customer"
	KindFinanceSubscription EntityKind = "finance_subscription"
	KindInvoice             EntityKind = "invoice"
	KindCommit              EntityKind = "commit"
	KindPullRequest         EntityKind = "pull_request"
	KindBranch              EntityKind = "branch"
	KindContributor         EntityKind = "contributor"
	KindFeedItem            EntityKind = "feed_item"
	KindAnalyticsEvent      EntityKind = "analytics_event"
)

func (t *Task) Kind() EntityKind                { return KindTask }
func (m *Message) Kind() EntityKind             { return KindMessage }
func (c *Customer) Kind() EntityKind            { return KindCustomer }
func (s *FinanceSubscription) Kind() EntityKind { return KindFinanceSubscription }
func (i *Invoice) Kind() EntityKind             { return KindInvoice }
func (c *Commit) Kind() EntityKind              { return KindCommit }
func (p *PullRequest) Kind() EntityKind         { return KindPullRequest }
func (b *Branch) Kind() EntityKind              { return KindBranch }
func (c *Contributor) Kind() EntityKind         { return KindContributor }
func (f *FeedItem) Kind() EntityKind            { return KindFeedItem }
func (a *AnalyticsEvent) Kind() EntityKind      { return KindAnalyticsEvent }

// Store is the canonical persistence port. All writes are keyed on
// (tenant_id, external_id, source_tool) so that batch sync and webhook
// ingestion stay idempotent and order-tolerant.
type Store interface {
	// BatchUpsert writes a sync batch with skip-duplicate semantics
	// (create-only bulk load). Returns the number of rows written.
	BatchUpsert(ctx context.Context, records []Record) (int, error)

	// Upsert writes a single record with create-or-update semantics,
	// as used by webhook-driven mutations.
	Upsert(ctx context.Context, record Record) error

	// DeleteByRef deletes by natural key. Deleting an absent row is a
	// successful no-op.
	DeleteByRef(ctx context.Context, tenantID uuid.UUID, kind EntityKind, ref ExternalRef) error

	// FindTask loads a task by natural key; shared.ErrNotFound when absent
	FindTask(ctx context.Context, tenantID uuid.UUID, ref ExternalRef) (*Task, error)

	// FindMessage loads a message by natural key
	FindMessage(ctx context.Context, tenantID uuid.UUID, ref ExternalRef) (*Message, error)

	// FindFeedItem loads a feedback post by natural key
	FindFeedItem(ctx context.Context, tenantID uuid.UUID, ref ExternalRef) (*FeedItem, error)

	// FindSubscription loads a subscription by natural key
	FindSubscription(ctx context.Context, tenantID uuid.UUID, ref ExternalRef) (*FinanceSubscription, error)
}

// ContainerRepository persists the provider-side grouping objects that scope
// sync tasks
type ContainerRepository interface {
	Save(ctx context.Context, container *Container) error
	FindByRef(ctx context.Context, tenantID uuid.UUID, ref ExternalRef) (*Container, error)
	ListByTool(ctx context.Context, tenantID uuid.UUID, tool SourceTool) ([]Container, error)
	Delete(ctx context.Context, tenantID uuid.UUID, ref ExternalRef) error
}
