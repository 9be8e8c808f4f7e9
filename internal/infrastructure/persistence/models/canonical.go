package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pulsedeck/backend/internal/domain/canonical"
)

// refColumns is repeated on every canonical model: (tenant_id, external_id,
// source_tool) is the natural key that keeps batch sync and webhook writes
// idempotent. Each model names its own unique index so AutoMigrate and the
// SQL migrations agree.

// ContainerModel persists provider-side grouping objects
type ContainerModel struct {
	BaseModel
	TenantID   uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_containers_ref,priority:1"`
	ExternalID string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_containers_ref,priority:2"`
	SourceTool canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_containers_ref,priority:3"`
	Name       string               `gorm:"type:varchar(512);not null"`
	Attributes canonical.Attributes `gorm:"serializer:json"`
}

func (ContainerModel) TableName() string { return "containers" }

func (m *ContainerModel) ToDomain() *canonical.Container {
	return &canonical.Container{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		Name:         m.Name,
		Attributes:   m.Attributes,
	}
}

func (m *ContainerModel) FromDomain(c *canonical.Container) {
	m.BaseModel.FromDomain(c.BaseEntity)
	m.TenantID = c.TenantID
	m.ExternalID = c.ExternalID
	m.SourceTool = c.SourceTool
	m.Name = c.Name
	m.Attributes = c.Attributes
}

// TaskModel persists canonical tasks
type TaskModel struct {
	BaseModel
	TenantID    uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_tasks_ref,priority:1"`
	ExternalID  string                 `gorm:"type:varchar(255);not null;uniqueIndex:idx_tasks_ref,priority:2"`
	SourceTool  canonical.SourceTool   `gorm:"type:varchar(32);not null;uniqueIndex:idx_tasks_ref,priority:3"`
	ContainerID *uuid.UUID             `gorm:"type:uuid;index"`
	Title       string                 `gorm:"type:varchar(1024);not null"`
	Description string                 `gorm:"type:text"`
	Status      canonical.TaskStatus   `gorm:"type:varchar(16);not null;default:'open'"`
	Priority    canonical.TaskPriority `gorm:"type:varchar(16);not null;default:'medium'"`
	Assignee    string                 `gorm:"type:varchar(255)"`
	DueAt       *time.Time
	Attributes  canonical.Attributes `gorm:"serializer:json"`
}

func (TaskModel) TableName() string { return "tasks" }

func (m *TaskModel) ToDomain() *canonical.Task {
	return &canonical.Task{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		ContainerID:  m.ContainerID,
		Title:        m.Title,
		Description:  m.Description,
		Status:       m.Status,
		Priority:     m.Priority,
		Assignee:     m.Assignee,
		DueAt:        m.DueAt,
		Attributes:   m.Attributes,
	}
}

func (m *TaskModel) FromDomain(t *canonical.Task) {
	m.BaseModel.FromDomain(t.BaseEntity)
	m.TenantID = t.TenantID
	m.ExternalID = t.ExternalID
	m.SourceTool = t.SourceTool
	m.ContainerID = t.ContainerID
	m.Title = t.Title
	m.Description = t.Description
	m.Status = t.Status
	m.Priority = t.Priority
	m.Assignee = t.Assignee
	m.DueAt = t.DueAt
	m.Attributes = t.Attributes
}

// MessageModel persists canonical chat messages
type MessageModel struct {
	BaseModel
	TenantID    uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_messages_ref,priority:1"`
	ExternalID  string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_messages_ref,priority:2"`
	SourceTool  canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_messages_ref,priority:3"`
	ContainerID *uuid.UUID           `gorm:"type:uuid;index"`
	Author      string               `gorm:"type:varchar(255)"`
	Body        string               `gorm:"type:text"`
	PostedAt    time.Time
	Attributes  canonical.Attributes `gorm:"serializer:json"`
}

func (MessageModel) TableName() string { return "messages" }

func (m *MessageModel) ToDomain() *canonical.Message {
	return &canonical.Message{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		ContainerID:  m.ContainerID,
		Author:       m.Author,
		Body:         m.Body,
		PostedAt:     m.PostedAt,
		Attributes:   m.Attributes,
	}
}

func (m *MessageModel) FromDomain(msg *canonical.Message) {
	m.BaseModel.FromDomain(msg.BaseEntity)
	m.TenantID = msg.TenantID
	m.ExternalID = msg.ExternalID
	m.SourceTool = msg.SourceTool
	m.ContainerID = msg.ContainerID
	m.Author = msg.Author
	m.Body = msg.Body
	m.PostedAt = msg.PostedAt
	m.Attributes = msg.Attributes
}

// CustomerModel persists canonical billing customers
type CustomerModel struct {
	BaseModel
	TenantID   uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_customers_ref,priority:1"`
	ExternalID string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_customers_ref,priority:2"`
	SourceTool canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_customers_ref,priority:3"`
	Email      string               `gorm:"type:varchar(255);index"`
	Name       string               `gorm:"type:varchar(512)"`
	Attributes canonical.Attributes `gorm:"serializer:json"`
}

func (CustomerModel) TableName() string { return "customers" }

func (m *CustomerModel) ToDomain() *canonical.Customer {
	return &canonical.Customer{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		Email:        m.Email,
		Name:         m.Name,
		Attributes:   m.Attributes,
	}
}

func (m *CustomerModel) FromDomain(c *canonical.Customer) {
	m.BaseModel.FromDomain(c.BaseEntity)
	m.TenantID = c.TenantID
	m.ExternalID = c.ExternalID
	m.SourceTool = c.SourceTool
	m.Email = c.Email
	m.Name = c.Name
	m.Attributes = c.Attributes
}

// FinanceSubscriptionModel persists canonical subscriptions
type FinanceSubscriptionModel struct {
	BaseModel
	TenantID           uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_finance_subscriptions_ref,priority:1"`
	ExternalID         string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_finance_subscriptions_ref,priority:2"`
	SourceTool         canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_finance_subscriptions_ref,priority:3"`
	CustomerExternalID string               `gorm:"type:varchar(255);index"`
	Amount             decimal.Decimal      `gorm:"type:decimal(20,4);not null"`
	Currency           string               `gorm:"type:varchar(8)"`
	BillingCycle       string               `gorm:"type:varchar(16)"`
	Status             string               `gorm:"type:varchar(32)"`
	CurrentPeriodEnd   *time.Time
	Attributes         canonical.Attributes `gorm:"serializer:json"`
}

func (FinanceSubscriptionModel) TableName() string { return "finance_subscriptions" }

func (m *FinanceSubscriptionModel) ToDomain() *canonical.FinanceSubscription {
	return &canonical.FinanceSubscription{
		TenantEntity:       toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:        canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		CustomerExternalID: m.CustomerExternalID,
		Amount:             m.Amount,
		Currency:           m.Currency,
		BillingCycle:       m.BillingCycle,
		Status:             m.Status,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		Attributes:         m.Attributes,
	}
}

func (m *FinanceSubscriptionModel) FromDomain(s *canonical.FinanceSubscription) {
	m.BaseModel.FromDomain(s.BaseEntity)
	m.TenantID = s.TenantID
	m.ExternalID = s.ExternalID
	m.SourceTool = s.SourceTool
	m.CustomerExternalID = s.CustomerExternalID
	m.Amount = s.Amount
	m.Currency = s.Currency
	m.BillingCycle = s.BillingCycle
	m.Status = s.Status
	m.CurrentPeriodEnd = s.CurrentPeriodEnd
	m.Attributes = s.Attributes
}

// InvoiceModel persists canonical invoices
type InvoiceModel struct {
	BaseModel
	TenantID           uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_invoices_ref,priority:1"`
	ExternalID         string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_invoices_ref,priority:2"`
	SourceTool         canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_invoices_ref,priority:3"`
	CustomerExternalID string               `gorm:"type:varchar(255);index"`
	Amount             decimal.Decimal      `gorm:"type:decimal(20,4);not null"`
	Currency           string               `gorm:"type:varchar(8)"`
	Status             string               `gorm:"type:varchar(32)"`
	IssuedAt           *time.Time
	Attributes         canonical.Attributes `gorm:"serializer:json"`
}

func (InvoiceModel) TableName() string { return "invoices" }

func (m *InvoiceModel) ToDomain() *canonical.Invoice {
	return &canonical.Invoice{
		TenantEntity:       toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:        canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		CustomerExternalID: m.CustomerExternalID,
		Amount:             m.Amount,
		Currency:           m.Currency,
		Status:             m.Status,
		IssuedAt:           m.IssuedAt,
		Attributes:         m.Attributes,
	}
}

func (m *InvoiceModel) FromDomain(i *canonical.Invoice) {
	m.BaseModel.FromDomain(i.BaseEntity)
	m.TenantID = i.TenantID
	m.ExternalID = i.ExternalID
	m.SourceTool = i.SourceTool
	m.CustomerExternalID = i.CustomerExternalID
	m.Amount = i.Amount
	m.Currency = i.Currency
	m.Status = i.Status
	m.IssuedAt = i.IssuedAt
	m.Attributes = i.Attributes
}

// CommitModel persists canonical VCS commits
type CommitModel struct {
	BaseModel
	TenantID    uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_commits_ref,priority:1"`
	ExternalID  string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_commits_ref,priority:2"`
	SourceTool  canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_commits_ref,priority:3"`
	ContainerID *uuid.UUID           `gorm:"type:uuid;index"`
	SHA         string               `gorm:"column:sha;type:varchar(64);index"`
	AuthorName  string               `gorm:"type:varchar(255)"`
	AuthorEmail string               `gorm:"type:varchar(255)"`
	Message     string               `gorm:"type:text"`
	CommittedAt time.Time
	Attributes  canonical.Attributes `gorm:"serializer:json"`
}

func (CommitModel) TableName() string { return "commits" }

func (m *CommitModel) ToDomain() *canonical.Commit {
	return &canonical.Commit{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		ContainerID:  m.ContainerID,
		SHA:          m.SHA,
		AuthorName:   m.AuthorName,
		AuthorEmail:  m.AuthorEmail,
		Message:      m.Message,
		CommittedAt:  m.CommittedAt,
		Attributes:   m.Attributes,
	}
}

func (m *CommitModel) FromDomain(c *canonical.Commit) {
	m.BaseModel.FromDomain(c.BaseEntity)
	m.TenantID = c.TenantID
	m.ExternalID = c.ExternalID
	m.SourceTool = c.SourceTool
	m.ContainerID = c.ContainerID
	m.SHA = c.SHA
	m.AuthorName = c.AuthorName
	m.AuthorEmail = c.AuthorEmail
	m.Message = c.Message
	m.CommittedAt = c.CommittedAt
	m.Attributes = c.Attributes
}

// PullRequestModel persists canonical pull requests
type PullRequestModel struct {
	BaseModel
	TenantID    uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_pull_requests_ref,priority:1"`
	ExternalID  string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_pull_requests_ref,priority:2"`
	SourceTool  canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_pull_requests_ref,priority:3"`
	ContainerID *uuid.UUID           `gorm:"type:uuid;index"`
	Number      int
	Title       string               `gorm:"type:varchar(1024)"`
	Author      string               `gorm:"type:varchar(255)"`
	Status      canonical.TaskStatus `gorm:"type:varchar(16);not null;default:'open'"`
	SourceRef   string               `gorm:"type:varchar(512)"`
	TargetRef   string               `gorm:"type:varchar(512)"`
	MergedAt    *time.Time
	Attributes  canonical.Attributes `gorm:"serializer:json"`
}

func (PullRequestModel) TableName() string { return "pull_requests" }

func (m *PullRequestModel) ToDomain() *canonical.PullRequest {
	return &canonical.PullRequest{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		ContainerID:  m.ContainerID,
		Number:       m.Number,
		Title:        m.Title,
		Author:       m.Author,
		Status:       m.Status,
		SourceRef:    m.SourceRef,
		TargetRef:    m.TargetRef,
		MergedAt:     m.MergedAt,
		Attributes:   m.Attributes,
	}
}

func (m *PullRequestModel) FromDomain(p *canonical.PullRequest) {
	m.BaseModel.FromDomain(p.BaseEntity)
	m.TenantID = p.TenantID
	m.ExternalID = p.ExternalID
	m.SourceTool = p.SourceTool
	m.ContainerID = p.ContainerID
	m.Number = p.Number
	m.Title = p.Title
	m.Author = p.Author
	m.Status = p.Status
	m.SourceRef = p.SourceRef
	m.TargetRef = p.TargetRef
	m.MergedAt = p.MergedAt
	m.Attributes = p.Attributes
}

// BranchModel persists canonical VCS branches
type BranchModel struct {
	BaseModel
	TenantID    uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_branches_ref,priority:1"`
	ExternalID  string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_branches_ref,priority:2"`
	SourceTool  canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_branches_ref,priority:3"`
	ContainerID *uuid.UUID           `gorm:"type:uuid;index"`
	Name        string               `gorm:"type:varchar(512)"`
	HeadSHA     string               `gorm:"column:head_sha;type:varchar(64)"`
	Attributes  canonical.Attributes `gorm:"serializer:json"`
}

func (BranchModel) TableName() string { return "branches" }

func (m *BranchModel) ToDomain() *canonical.Branch {
	return &canonical.Branch{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		ContainerID:  m.ContainerID,
		Name:         m.Name,
		HeadSHA:      m.HeadSHA,
		Attributes:   m.Attributes,
	}
}

func (m *BranchModel) FromDomain(b *canonical.Branch) {
	m.BaseModel.FromDomain(b.BaseEntity)
	m.TenantID = b.TenantID
	m.ExternalID = b.ExternalID
	m.SourceTool = b.SourceTool
	m.ContainerID = b.ContainerID
	m.Name = b.Name
	m.HeadSHA = b.HeadSHA
	m.Attributes = b.Attributes
}

// ContributorModel persists canonical code contributors
type ContributorModel struct {
	BaseModel
	TenantID    uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_contributors_ref,priority:1"`
	ExternalID  string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_contributors_ref,priority:2"`
	SourceTool  canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_contributors_ref,priority:3"`
	ContainerID *uuid.UUID           `gorm:"type:uuid;index"`
	Login       string               `gorm:"type:varchar(255)"`
	Commits     int
	Attributes  canonical.Attributes `gorm:"serializer:json"`
}

func (ContributorModel) TableName() string { return "contributors" }

func (m *ContributorModel) ToDomain() *canonical.Contributor {
	return &canonical.Contributor{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		ContainerID:  m.ContainerID,
		Login:        m.Login,
		Commits:      m.Commits,
		Attributes:   m.Attributes,
	}
}

func (m *ContributorModel) FromDomain(c *canonical.Contributor) {
	m.BaseModel.FromDomain(c.BaseEntity)
	m.TenantID = c.TenantID
	m.ExternalID = c.ExternalID
	m.SourceTool = c.SourceTool
	m.ContainerID = c.ContainerID
	m.Login = c.Login
	m.Commits = c.Commits
	m.Attributes = c.Attributes
}

// FeedItemModel persists canonical feedback posts
type FeedItemModel struct {
	BaseModel
	TenantID    uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_feed_items_ref,priority:1"`
	ExternalID  string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_feed_items_ref,priority:2"`
	SourceTool  canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_feed_items_ref,priority:3"`
	ContainerID *uuid.UUID           `gorm:"type:uuid;index"`
	Title       string               `gorm:"type:varchar(1024)"`
	Body        string               `gorm:"type:text"`
	Author      string               `gorm:"type:varchar(255)"`
	Score       int
	Status      string               `gorm:"type:varchar(64)"`
	Attributes  canonical.Attributes `gorm:"serializer:json"`
}

func (FeedItemModel) TableName() string { return "feed_items" }

func (m *FeedItemModel) ToDomain() *canonical.FeedItem {
	return &canonical.FeedItem{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		ContainerID:  m.ContainerID,
		Title:        m.Title,
		Body:         m.Body,
		Author:       m.Author,
		Score:        m.Score,
		Status:       m.Status,
		Attributes:   m.Attributes,
	}
}

func (m *FeedItemModel) FromDomain(f *canonical.FeedItem) {
	m.BaseModel.FromDomain(f.BaseEntity)
	m.TenantID = f.TenantID
	m.ExternalID = f.ExternalID
	m.SourceTool = f.SourceTool
	m.ContainerID = f.ContainerID
	m.Title = f.Title
	m.Body = f.Body
	m.Author = f.Author
	m.Score = f.Score
	m.Status = f.Status
	m.Attributes = f.Attributes
}

// AnalyticsEventModel persists canonical analytics data points
type AnalyticsEventModel struct {
	BaseModel
	TenantID   uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_analytics_events_ref,priority:1"`
	ExternalID string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_analytics_events_ref,priority:2"`
	SourceTool canonical.SourceTool `gorm:"type:varchar(32);not null;uniqueIndex:idx_analytics_events_ref,priority:3"`
	Metric     string               `gorm:"type:varchar(64);not null"`
	Value      decimal.Decimal      `gorm:"type:decimal(20,4);not null"`
	BucketDate time.Time            `gorm:"index"`
	Attributes canonical.Attributes `gorm:"serializer:json"`
}

func (AnalyticsEventModel) TableName() string { return "analytics_events" }

func (m *AnalyticsEventModel) ToDomain() *canonical.AnalyticsEvent {
	return &canonical.AnalyticsEvent{
		TenantEntity: toTenantEntity(m.BaseModel, m.TenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: m.ExternalID, SourceTool: m.SourceTool},
		Metric:       m.Metric,
		Value:        m.Value,
		BucketDate:   m.BucketDate,
		Attributes:   m.Attributes,
	}
}

func (m *AnalyticsEventModel) FromDomain(a *canonical.AnalyticsEvent) {
	m.BaseModel.FromDomain(a.BaseEntity)
	m.TenantID = a.TenantID
	m.ExternalID = a.ExternalID
	m.SourceTool = a.SourceTool
	m.Metric = a.Metric
	m.Value = a.Value
	m.BucketDate = a.BucketDate
	m.Attributes = a.Attributes
}

// AllModels returns every persistence model for migration helpers
func AllModels() []any {
	return []any{
		&IntegrationModel{},
		&ContainerModel{},
		&TaskModel{},
		&MessageModel{},
		&CustomerModel{},
		&FinanceSubscriptionModel{},
		&InvoiceModel{},
		&CommitModel{},
		&PullRequestModel{},
		&BranchModel{},
		&ContributorModel{},
		&FeedItemModel{},
		&AnalyticsEventModel{},
	}
}
