package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
)

type cannyWebhookPayload struct {
	Type       string `json:"type"`
	ObjectType string `json:"objectType"`
	Object     struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Details string `json:"details"`
		Status  string `json:"status"`
		Score   int    `json:"score"`
		Author  *struct {
			Name string `json:"name"`
		} `json:"author"`
		Board *struct {
			ID string `json:"id"`
		} `json:"board"`
		Post *struct {
			ID string `json:"id"`
		} `json:"post"`
	} `json:"object"`
}

// processCanny handles Canny webhook deliveries. Canny signs the body with
// the workspace API key, base64-encoded in the Canny-Signature header, so
// the integration's stored key both authenticates and resolves the tenant.
func (s *Service) processCanny(ctx context.Context, req Request) (*Result, error) {
	presented := req.Header.Get("Canny-Signature")
	if presented == "" {
		return nil, integration.ErrWebhookSignature
	}
	integ, err := s.resolveBySignature(ctx, canonical.SourceToolCanny,
		func(i *integration.Integration) string { return i.APIKey },
		func(secret string) string { return hmacBase64(req.Body, secret) },
		presented,
	)
	if err != nil {
		return nil, err
	}

	var payload cannyWebhookPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch {
	case strings.HasPrefix(payload.Type, "post."):
		return s.applyCannyPost(ctx, integ, payload)
	case strings.HasPrefix(payload.Type, "comment."):
		return s.applyCannyComment(ctx, integ, payload)
	default:
		s.logger.Debug("ignoring canny event", zap.String("type", payload.Type))
		return ignored(KindIgnored), nil
	}
}

func (s *Service) applyCannyPost(ctx context.Context, integ *integration.Integration, payload cannyWebhookPayload) (*Result, error) {
	obj := payload.Object
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: post event without id", ErrBadPayload)
	}
	ref := canonical.ExternalRef{ExternalID: obj.ID, SourceTool: canonical.SourceToolCanny}

	if payload.Type == "post.deleted" {
		if err := s.deleteRecord(ctx, integ.TenantID, canonical.KindFeedItem, ref); err != nil {
			return nil, err
		}
		return applied(KindDeleted), nil
	}

	item := &canonical.FeedItem{
		TenantEntity: shared.NewTenantEntity(integ.TenantID),
		ExternalRef:  ref,
		Title:        obj.Title,
		Body:         obj.Details,
		Score:        obj.Score,
		Status:       obj.Status,
		Attributes:   canonical.Attributes{},
	}
	if obj.Author != nil {
		item.Author = obj.Author.Name
	}
	if obj.Board != nil {
		container, err := s.containers.FindByRef(ctx, integ.TenantID, canonical.ExternalRef{
			ExternalID: obj.Board.ID,
			SourceTool: canonical.SourceToolCanny,
		})
		if err == nil {
			containerID := container.ID
			item.ContainerID = &containerID
		} else if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	if payload.Type == "post.created" {
		if err := s.upsertSnapshot(ctx, item); err != nil {
			return nil, err
		}
		return applied(KindCreated), nil
	}

	// status_changed, vote changes and edits all carry the current snapshot
	if err := s.updateFeedItem(ctx, integ.TenantID, item); err != nil {
		return nil, err
	}
	return applied(KindUpdated), nil
}

func (s *Service) applyCannyComment(ctx context.Context, integ *integration.Integration, payload cannyWebhookPayload) (*Result, error) {
	if payload.Object.Post == nil || payload.Object.Post.ID == "" {
		return nil, fmt.Errorf("%w: comment event without post", ErrBadPayload)
	}
	ref := canonical.ExternalRef{ExternalID: payload.Object.Post.ID, SourceTool: canonical.SourceToolCanny}

	var kind string
	var delta int
	switch payload.Type {
	case "comment.created":
		kind, delta = KindCommentCreated, 1
	case "comment.deleted":
		kind, delta = KindCommentDeleted, -1
	default:
		kind, delta = KindCommentUpdated, 0
	}
	if delta != 0 {
		if err := s.patchFeedItemCommentCount(ctx, integ.TenantID, ref, delta); err != nil {
			return nil, err
		}
	}
	return applied(kind), nil
}
