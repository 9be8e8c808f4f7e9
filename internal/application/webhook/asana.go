package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
)

type asanaEventsPayload struct {
	Events []asanaEvent `json:"events"`
}

type asanaEvent struct {
	Action   string `json:"action"`
	Resource struct {
		GID          string `json:"gid"`
		ResourceType string `json:"resource_type"`
	} `json:"resource"`
	Parent *struct {
		GID          string `json:"gid"`
		ResourceType string `json:"resource_type"`
	} `json:"parent"`
}

// processAsana handles Asana webhook deliveries. Registration is a two-step
// dance: Asana first POSTs a handshake carrying X-Hook-Secret, which must be
// stored and echoed back; every later delivery is signed with that secret in
// X-Hook-Signature.
//
// Asana events are skinny references without field data, and the pipeline
// makes no outbound provider calls, so task events write stubs or refresh
// markers that the next batch sync fills in.
func (s *Service) processAsana(ctx context.Context, req Request) (*Result, error) {
	if handshake := req.Header.Get("X-Hook-Secret"); handshake != "" {
		return s.completeAsanaHandshake(ctx, handshake)
	}

	presented := req.Header.Get("X-Hook-Signature")
	if presented == "" {
		return nil, integration.ErrWebhookSignature
	}
	integ, err := s.resolveBySignature(ctx, canonical.SourceToolAsana, webhookSecretOf, func(secret string) string {
		return hmacHex(req.Body, secret)
	}, presented)
	if err != nil {
		return nil, err
	}

	var payload asanaEventsPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	result := ignored(KindIgnored)
	for _, event := range payload.Events {
		applied, err := s.applyAsanaEvent(ctx, integ, event)
		if err != nil {
			return nil, err
		}
		if applied != nil {
			result = applied
		}
	}
	return result, nil
}

// completeAsanaHandshake stores the secret on the integration waiting for
// its webhook to activate and echoes the header back
func (s *Service) completeAsanaHandshake(ctx context.Context, secret string) (*Result, error) {
	candidates, err := s.integrations.ListByProvider(ctx, canonical.SourceToolAsana)
	if err != nil {
		return nil, err
	}
	for _, integ := range candidates {
		if integ.WebhookID == "" || integ.WebhookSecret != "" {
			continue
		}
		integ.SetWebhook(integ.WebhookID, secret)
		if err := s.integrations.Save(ctx, integ); err != nil {
			return nil, err
		}
		echo := http.Header{}
		echo.Set("X-Hook-Secret", secret)
		s.logger.Info("asana webhook handshake completed",
			zap.String("tenant_id", integ.TenantID.String()),
		)
		return &Result{Kind: KindHandshake, Applied: true, EchoHeader: echo}, nil
	}
	return nil, fmt.Errorf("no integration awaiting handshake: %w", shared.ErrNotFound)
}

func (s *Service) applyAsanaEvent(ctx context.Context, integ *integration.Integration, event asanaEvent) (*Result, error) {
	switch event.Resource.ResourceType {
	case "task":
		return s.applyAsanaTaskEvent(ctx, integ, event)
	case "story":
		// stories are comments and system activity on a parent task
		if event.Parent == nil || event.Parent.ResourceType != "task" {
			return nil, nil
		}
		ref := canonical.ExternalRef{ExternalID: event.Parent.GID, SourceTool: canonical.SourceToolAsana}
		kind, delta := asanaStoryKind(event.Action)
		if delta != 0 {
			if err := s.patchTaskCommentCount(ctx, integ.TenantID, ref, delta); err != nil {
				return nil, err
			}
		}
		return applied(kind), nil
	default:
		return nil, nil
	}
}

// applyAsanaTaskEvent reconciles a skinny task reference. An added task
// becomes a stub row under its project; a changed task is flagged for the
// next sync; deleted and removed drop the row.
func (s *Service) applyAsanaTaskEvent(ctx context.Context, integ *integration.Integration, event asanaEvent) (*Result, error) {
	ref := canonical.ExternalRef{ExternalID: event.Resource.GID, SourceTool: canonical.SourceToolAsana}

	switch event.Action {
	case "added":
		existing, err := s.store.FindTask(ctx, integ.TenantID, ref)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			// replayed add for a task the sync already filled
			return applied(KindCreated), nil
		}
		stub := &canonical.Task{
			TenantEntity: shared.NewTenantEntity(integ.TenantID),
			ExternalRef:  ref,
			Status:       canonical.TaskStatusOpen,
			Priority:     canonical.TaskPriorityMedium,
			Attributes:   canonical.Attributes{"pending_refresh": true},
		}
		if event.Parent != nil && event.Parent.ResourceType == "project" {
			container, err := s.containers.FindByRef(ctx, integ.TenantID, canonical.ExternalRef{
				ExternalID: event.Parent.GID,
				SourceTool: canonical.SourceToolAsana,
			})
			if err == nil {
				containerID := container.ID
				stub.ContainerID = &containerID
			} else if !errors.Is(err, shared.ErrNotFound) {
				return nil, err
			}
		}
		if err := s.upsertSnapshot(ctx, stub); err != nil {
			return nil, err
		}
		return applied(KindCreated), nil

	case "changed":
		task, err := s.store.FindTask(ctx, integ.TenantID, ref)
		if errors.Is(err, shared.ErrNotFound) {
			// change for an unsynced task; a stub keeps the reference
			return s.applyAsanaTaskEvent(ctx, integ, asanaEvent{
				Action:   "added",
				Resource: event.Resource,
				Parent:   event.Parent,
			})
		}
		if err != nil {
			return nil, err
		}
		if task.Attributes == nil {
			task.Attributes = canonical.Attributes{}
		}
		task.Attributes["pending_refresh"] = true
		if err := s.store.Upsert(ctx, task); err != nil {
			return nil, err
		}
		return applied(KindUpdated), nil

	case "deleted", "removed":
		if err := s.deleteRecord(ctx, integ.TenantID, canonical.KindTask, ref); err != nil {
			return nil, err
		}
		return applied(KindDeleted), nil

	default:
		return nil, nil
	}
}

func asanaStoryKind(action string) (string, int) {
	switch action {
	case "added":
		return KindCommentCreated, 1
	case "deleted", "removed":
		return KindCommentDeleted, -1
	default:
		return KindCommentUpdated, 0
	}
}
