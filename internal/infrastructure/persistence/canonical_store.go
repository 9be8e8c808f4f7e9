package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/persistence/models"
)

const upsertBatchSize = 100

// refConflictColumns is the natural key every canonical table shares
var refConflictColumns = []clause.Column{
	{Name: "tenant_id"}, {Name: "external_id"}, {Name: "source_tool"},
}

// updateColumnsByKind lists the columns a create-or-update upsert rewrites on
// conflict. The natural key, id and created_at stay untouched so a late
// out-of-order event cannot rewrite row identity.
var updateColumnsByKind = map[canonical.EntityKind][]string{
	canonical.KindTask:                {"container_id", "title", "description", "status", "priority", "assignee", "due_at", "attributes", "updated_at"},
	canonical.KindMessage:             {"container_id", "author", "body", "posted_at", "attributes", "updated_at"},
	canonical.KindCustomer:            {"email", "name", "attributes", "updated_at"},
	canonical.KindFinanceSubscription: {"customer_external_id", "amount", "currency", "billing_cycle", "status", "current_period_end", "attributes", "updated_at"},
	canonical.KindInvoice:             {"customer_external_id", "amount", "currency", "status", "issued_at", "attributes", "updated_at"},
	canonical.KindCommit:              {"container_id", "sha", "author_name", "author_email", "message", "committed_at", "attributes", "updated_at"},
	canonical.KindPullRequest:         {"container_id", "number", "title", "author", "status", "source_ref", "target_ref", "merged_at", "attributes", "updated_at"},
	canonical.KindBranch:              {"container_id", "name", "head_sha", "attributes", "updated_at"},
	canonical.KindContributor:         {"container_id", "login", "commits", "attributes", "updated_at"},
	canonical.KindFeedItem:            {"container_id", "title", "body", "author", "score", "status", "attributes", "updated_at"},
	canonical.KindAnalyticsEvent:      {"metric", "value", "bucket_date", "attributes", "updated_at"},
}

// GormCanonicalStore implements canonical.Store using GORM. All writes are
// keyed on (tenant_id, external_id, source_tool) via ON CONFLICT clauses so
// duplicate and out-of-order deliveries converge on a single row.
type GormCanonicalStore struct {
	db *gorm.DB
}

// NewGormCanonicalStore creates a new GormCanonicalStore
func NewGormCanonicalStore(db *gorm.DB) *GormCanonicalStore {
	return &GormCanonicalStore{db: db}
}

// toModel converts a canonical record into its persistence model
func toModel(rec canonical.Record) (any, canonical.EntityKind, error) {
	switch v := rec.(type) {
	case *canonical.Task:
		m := &models.TaskModel{}
		m.FromDomain(v)
		return m, canonical.KindTask, nil
	case *canonical.Message:
		m := &models.MessageModel{}
		m.FromDomain(v)
		return m, canonical.KindMessage, nil
	case *canonical.Customer:
		m := &models.CustomerModel{}
		m.FromDomain(v)
		return m, canonical.KindCustomer, nil
	case *canonical.FinanceSubscription:
		m := &models.FinanceSubscriptionModel{}
		m.FromDomain(v)
		return m, canonical.KindFinanceSubscription, nil
	case *canonical.Invoice:
		m := &models.InvoiceModel{}
		m.FromDomain(v)
		return m, canonical.KindInvoice, nil
	case *canonical.Commit:
		m := &models.CommitModel{}
		m.FromDomain(v)
		return m, canonical.KindCommit, nil
	case *canonical.PullRequest:
		m := &models.PullRequestModel{}
		m.FromDomain(v)
		return m, canonical.KindPullRequest, nil
	case *canonical.Branch:
		m := &models.BranchModel{}
		m.FromDomain(v)
		return m, canonical.KindBranch, nil
	case *canonical.Contributor:
		m := &models.ContributorModel{}
		m.FromDomain(v)
		return m, canonical.KindContributor, nil
	case *canonical.FeedItem:
		m := &models.FeedItemModel{}
		m.FromDomain(v)
		return m, canonical.KindFeedItem, nil
	case *canonical.AnalyticsEvent:
		m := &models.AnalyticsEventModel{}
		m.FromDomain(v)
		return m, canonical.KindAnalyticsEvent, nil
	default:
		return nil, "", fmt.Errorf("unsupported canonical record type %T", rec)
	}
}

// emptyModel returns the zero persistence model for an entity kind
func emptyModel(kind canonical.EntityKind) (any, error) {
	switch kind {
	case canonical.KindTask:
		return &models.TaskModel{}, nil
	case canonical.KindMessage:
		return &models.MessageModel{}, nil
	case canonical.KindCustomer:
		return &models.CustomerModel{}, nil
	case canonical.KindFinanceSubscription:
		return &models.FinanceSubscriptionModel{}, nil
	case canonical.KindInvoice:
		return &models.InvoiceModel{}, nil
	case canonical.KindCommit:
		return &models.CommitModel{}, nil
	case canonical.KindPullRequest:
		return &models.PullRequestModel{}, nil
	case canonical.KindBranch:
		return &models.BranchModel{}, nil
	case canonical.KindContributor:
		return &models.ContributorModel{}, nil
	case canonical.KindFeedItem:
		return &models.FeedItemModel{}, nil
	case canonical.KindAnalyticsEvent:
		return &models.AnalyticsEventModel{}, nil
	default:
		return nil, fmt.Errorf("unsupported canonical entity kind %q", kind)
	}
}

// batchBuckets groups a mixed batch into per-table slices so each table gets
// one bulk insert
type batchBuckets struct {
	tasks         []*models.TaskModel
	messages      []*models.MessageModel
	customers     []*models.CustomerModel
	subscriptions []*models.FinanceSubscriptionModel
	invoices      []*models.InvoiceModel
	commits       []*models.CommitModel
	pullRequests  []*models.PullRequestModel
	branches      []*models.BranchModel
	contributors  []*models.ContributorModel
	feedItems     []*models.FeedItemModel
	analytics     []*models.AnalyticsEventModel
}

func (b *batchBuckets) add(m any) {
	switch v := m.(type) {
	case *models.TaskModel:
		b.tasks = append(b.tasks, v)
	case *models.MessageModel:
		b.messages = append(b.messages, v)
	case *models.CustomerModel:
		b.customers = append(b.customers, v)
	case *models.FinanceSubscriptionModel:
		b.subscriptions = append(b.subscriptions, v)
	case *models.InvoiceModel:
		b.invoices = append(b.invoices, v)
	case *models.CommitModel:
		b.commits = append(b.commits, v)
	case *models.PullRequestModel:
		b.pullRequests = append(b.pullRequests, v)
	case *models.BranchModel:
		b.branches = append(b.branches, v)
	case *models.ContributorModel:
		b.contributors = append(b.contributors, v)
	case *models.FeedItemModel:
		b.feedItems = append(b.feedItems, v)
	case *models.AnalyticsEventModel:
		b.analytics = append(b.analytics, v)
	}
}

// createSkipDuplicates bulk-inserts with ON CONFLICT DO NOTHING and returns
// the number of rows actually written
func createSkipDuplicates[M any](tx *gorm.DB, rows []*M) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   refConflictColumns,
		DoNothing: true,
	}).CreateInBatches(rows, upsertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// BatchUpsert writes a sync batch with skip-duplicate semantics. Rows whose
// natural key already exists are left untouched; the return value counts the
// rows actually inserted.
func (s *GormCanonicalStore) BatchUpsert(ctx context.Context, records []canonical.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var buckets batchBuckets
	for _, rec := range records {
		m, _, err := toModel(rec)
		if err != nil {
			return 0, err
		}
		buckets.add(m)
	}

	written := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, flush := range []func(*gorm.DB) (int, error){
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.tasks) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.messages) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.customers) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.subscriptions) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.invoices) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.commits) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.pullRequests) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.branches) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.contributors) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.feedItems) },
			func(tx *gorm.DB) (int, error) { return createSkipDuplicates(tx, buckets.analytics) },
		} {
			n, err := flush(tx)
			if err != nil {
				return err
			}
			written += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Upsert writes a single record with create-or-update semantics
func (s *GormCanonicalStore) Upsert(ctx context.Context, record canonical.Record) error {
	model, kind, err := toModel(record)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   refConflictColumns,
			DoUpdates: clause.AssignmentColumns(updateColumnsByKind[kind]),
		}).
		Create(model).Error
}

// DeleteByRef deletes by natural key. Deleting an absent row is a successful
// no-op; deletion events can arrive before, after or instead of the rows
// they target.
func (s *GormCanonicalStore) DeleteByRef(ctx context.Context, tenantID uuid.UUID, kind canonical.EntityKind, ref canonical.ExternalRef) error {
	model, err := emptyModel(kind)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Delete(model, "tenant_id = ? AND external_id = ? AND source_tool = ?",
			tenantID, ref.ExternalID, ref.SourceTool).Error
}

// findByRef loads a single model row by natural key
func findByRef[M any](ctx context.Context, db *gorm.DB, tenantID uuid.UUID, ref canonical.ExternalRef) (*M, error) {
	var model M
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ? AND source_tool = ?", tenantID, ref.ExternalID, ref.SourceTool).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &model, nil
}

// FindTask loads a task by natural key
func (s *GormCanonicalStore) FindTask(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Task, error) {
	m, err := findByRef[models.TaskModel](ctx, s.db, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindMessage loads a message by natural key
func (s *GormCanonicalStore) FindMessage(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Message, error) {
	m, err := findByRef[models.MessageModel](ctx, s.db, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindFeedItem loads a feedback post by natural key
func (s *GormCanonicalStore) FindFeedItem(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.FeedItem, error) {
	m, err := findByRef[models.FeedItemModel](ctx, s.db, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindSubscription loads a subscription by natural key
func (s *GormCanonicalStore) FindSubscription(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.FinanceSubscription, error) {
	m, err := findByRef[models.FinanceSubscriptionModel](ctx, s.db, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// Ensure GormCanonicalStore implements canonical.Store
var _ canonical.Store = (*GormCanonicalStore)(nil)
