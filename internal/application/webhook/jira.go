package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/connector"
)

// jiraWebhookPayload is the subset of the Jira webhook body the pipeline
// consumes. Issue fields mirror the REST search shape.
type jiraWebhookPayload struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Fields struct {
			Summary     string `json:"summary"`
			Description any    `json:"description"`
			Status      struct {
				Name string `json:"name"`
			} `json:"status"`
			Priority struct {
				Name string `json:"name"`
			} `json:"priority"`
			Assignee struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
			DueDate string `json:"duedate"`
			Project struct {
				ID  string `json:"id"`
				Key string `json:"key"`
			} `json:"project"`
		} `json:"fields"`
	} `json:"issue"`
	Comment struct {
		ID string `json:"id"`
	} `json:"comment"`
}

// processJira handles Atlassian webhook deliveries. Jira does not sign
// dynamically registered webhooks; authentication is the unguessable
// webhook identifier Atlassian echoes on every delivery, which also resolves
// the tenant.
func (s *Service) processJira(ctx context.Context, req Request) (*Result, error) {
	webhookID := req.Header.Get("X-Atlassian-Webhook-Identifier")
	if webhookID == "" {
		return nil, integration.ErrWebhookSignature
	}
	integ, err := s.integrations.FindByWebhookID(ctx, canonical.SourceToolJira, webhookID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, integration.ErrWebhookSignature
	}
	if err != nil {
		return nil, err
	}

	var payload jiraWebhookPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	tenantID := integ.TenantID
	switch payload.WebhookEvent {
	case "jira:issue_created", "jira:issue_updated":
		if payload.Issue.Key == "" {
			return nil, fmt.Errorf("%w: issue event without key", ErrBadPayload)
		}
		container, err := s.containers.FindByRef(ctx, tenantID, canonical.ExternalRef{
			ExternalID: payload.Issue.Fields.Project.Key,
			SourceTool: canonical.SourceToolJira,
		})
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("project %q: %w", payload.Issue.Fields.Project.Key, shared.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}

		task := s.jiraTask(tenantID, payload, container)
		if payload.WebhookEvent == "jira:issue_created" {
			if err := s.upsertSnapshot(ctx, task); err != nil {
				return nil, err
			}
			return applied(KindCreated), nil
		}
		if err := s.updateTask(ctx, tenantID, task); err != nil {
			return nil, err
		}
		return applied(KindUpdated), nil

	case "jira:issue_deleted":
		if payload.Issue.Key == "" {
			return nil, fmt.Errorf("%w: issue event without key", ErrBadPayload)
		}
		ref := canonical.ExternalRef{ExternalID: payload.Issue.Key, SourceTool: canonical.SourceToolJira}
		if err := s.deleteRecord(ctx, tenantID, canonical.KindTask, ref); err != nil {
			return nil, err
		}
		return applied(KindDeleted), nil

	case "comment_created", "comment_updated", "comment_deleted":
		ref := canonical.ExternalRef{ExternalID: payload.Issue.Key, SourceTool: canonical.SourceToolJira}
		kind, delta := commentKind(payload.WebhookEvent)
		if delta != 0 {
			if err := s.patchTaskCommentCount(ctx, tenantID, ref, delta); err != nil {
				return nil, err
			}
		}
		return applied(kind), nil

	default:
		s.logger.Debug("ignoring jira event", zap.String("event", payload.WebhookEvent))
		return ignored(KindIgnored), nil
	}
}

// jiraTask builds the canonical task from a webhook issue snapshot, matching
// the shape the batch sync produces so both write paths converge.
func (s *Service) jiraTask(tenantID uuid.UUID, payload jiraWebhookPayload, container *canonical.Container) *canonical.Task {
	fields := payload.Issue.Fields
	task := &canonical.Task{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef: canonical.ExternalRef{
			ExternalID: payload.Issue.Key,
			SourceTool: canonical.SourceToolJira,
		},
		ContainerID: &container.ID,
		Title:       fields.Summary,
		Description: connector.FlattenJiraDescription(fields.Description),
		Status:      canonical.NormalizeStatus(fields.Status.Name),
		Priority:    canonical.NormalizePriority(fields.Priority.Name),
		Assignee:    fields.Assignee.DisplayName,
		Attributes: canonical.Attributes{
			"issue_id":        payload.Issue.ID,
			"raw_status":      fields.Status.Name,
			"raw_priority":    fields.Priority.Name,
			"project_key":     fields.Project.Key,
			"webhook_sourced": true,
		},
	}
	if fields.DueDate != "" {
		if due, err := time.Parse("2006-01-02", fields.DueDate); err == nil {
			task.DueAt = &due
		}
	}
	return task
}

// commentKind maps a provider comment event onto the pipeline kind and the
// counter delta to apply
func commentKind(event string) (string, int) {
	switch event {
	case "comment_created":
		return KindCommentCreated, 1
	case "comment_deleted":
		return KindCommentDeleted, -1
	default:
		return KindCommentUpdated, 0
	}
}
