package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/connector"
)

// slackSignatureMaxAge rejects replayed requests with stale timestamps
const slackSignatureMaxAge = 5 * time.Minute

type slackEventPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	EventID   string `json:"event_id"`
	Event     struct {
		Type      string `json:"type"`
		Subtype   string `json:"subtype"`
		User      string `json:"user"`
		Text      string `json:"text"`
		TS        string `json:"ts"`
		ThreadTS  string `json:"thread_ts"`
		Channel   string `json:"channel"`
		DeletedTS string `json:"deleted_ts"`
		Message   *struct {
			User     string `json:"user"`
			Text     string `json:"text"`
			TS       string `json:"ts"`
			ThreadTS string `json:"thread_ts"`
		} `json:"message"`
	} `json:"event"`
}

// processSlack handles Slack Events API deliveries. Slack signs with one
// app-level secret, so the signature authenticates the app and the payload's
// team_id picks the workspace integration.
func (s *Service) processSlack(ctx context.Context, req Request) (*Result, error) {
	if err := s.verifySlackSignature(req); err != nil {
		return nil, err
	}

	var payload slackEventPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch payload.Type {
	case "url_verification":
		return &Result{Kind: KindHandshake, Challenge: payload.Challenge}, nil
	case "event_callback":
	default:
		return ignored(KindIgnored), nil
	}

	if s.seenBefore(ctx, canonical.SourceToolSlack, payload.EventID) {
		return ignored(KindIgnored), nil
	}

	integ, err := s.resolveSlackTenant(ctx, payload.TeamID)
	if err != nil {
		return nil, err
	}

	if payload.Event.Type != "message" {
		s.logger.Debug("ignoring slack event", zap.String("event", payload.Event.Type))
		return ignored(KindIgnored), nil
	}
	return s.applySlackMessage(ctx, integ, payload)
}

// verifySlackSignature checks the v0 request signature: HMAC-SHA256 over
// "v0:<timestamp>:<body>" with the app signing secret.
func (s *Service) verifySlackSignature(req Request) error {
	secret := s.providers.SlackSigningSecret
	if secret == "" {
		return fmt.Errorf("%w: slack signing secret not configured", integration.ErrWebhookSignature)
	}

	tsHeader := req.Header.Get("X-Slack-Request-Timestamp")
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return integration.ErrWebhookSignature
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > slackSignatureMaxAge || age < -slackSignatureMaxAge {
		return fmt.Errorf("%w: stale timestamp", integration.ErrWebhookSignature)
	}

	base := "v0:" + tsHeader + ":" + string(req.Body)
	expected := "v0=" + hmacHex([]byte(base), secret)
	if !verifySignature(req.Header.Get("X-Slack-Signature"), expected) {
		return integration.ErrWebhookSignature
	}
	return nil
}

func (s *Service) resolveSlackTenant(ctx context.Context, teamID string) (*integration.Integration, error) {
	if teamID == "" {
		return nil, fmt.Errorf("%w: event without team_id", ErrBadPayload)
	}
	candidates, err := s.integrations.ListByProvider(ctx, canonical.SourceToolSlack)
	if err != nil {
		return nil, err
	}
	for _, integ := range candidates {
		if integ.ProviderAttributes["team_id"] == teamID {
			return integ, nil
		}
	}
	return nil, fmt.Errorf("workspace %q: %w", teamID, shared.ErrNotFound)
}

// applySlackMessage reconciles message events: new posts, edits and
// deletions. Bot and channel-membership subtypes are ignored, matching what
// the history sync skips.
func (s *Service) applySlackMessage(ctx context.Context, integ *integration.Integration, payload slackEventPayload) (*Result, error) {
	event := payload.Event
	if event.Channel == "" {
		return nil, fmt.Errorf("%w: message event without channel", ErrBadPayload)
	}

	container, err := s.containers.FindByRef(ctx, integ.TenantID, canonical.ExternalRef{
		ExternalID: event.Channel,
		SourceTool: canonical.SourceToolSlack,
	})
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("channel %q: %w", event.Channel, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	switch event.Subtype {
	case "":
		msg := s.slackMessage(integ, container, event.User, event.Text, event.TS, event.ThreadTS)
		if err := s.upsertSnapshot(ctx, msg); err != nil {
			return nil, err
		}
		return applied(KindCreated), nil

	case "message_changed":
		if event.Message == nil {
			return nil, fmt.Errorf("%w: message_changed without nested message", ErrBadPayload)
		}
		nested := event.Message
		msg := s.slackMessage(integ, container, nested.User, nested.Text, nested.TS, nested.ThreadTS)
		if err := s.updateMessage(ctx, integ.TenantID, msg); err != nil {
			return nil, err
		}
		return applied(KindUpdated), nil

	case "message_deleted":
		ref := canonical.ExternalRef{
			ExternalID: event.Channel + ":" + event.DeletedTS,
			SourceTool: canonical.SourceToolSlack,
		}
		if err := s.deleteRecord(ctx, integ.TenantID, canonical.KindMessage, ref); err != nil {
			return nil, err
		}
		return applied(KindDeleted), nil

	default:
		return ignored(KindIgnored), nil
	}
}

// slackMessage builds the canonical message the same way the history sync
// does, so both write paths land on the same natural key.
func (s *Service) slackMessage(integ *integration.Integration, container *canonical.Container, user, text, ts, threadTS string) *canonical.Message {
	containerID := container.ID
	msg := &canonical.Message{
		TenantEntity: shared.NewTenantEntity(integ.TenantID),
		ExternalRef: canonical.ExternalRef{
			ExternalID: container.ExternalID + ":" + ts,
			SourceTool: canonical.SourceToolSlack,
		},
		ContainerID: &containerID,
		Author:      user,
		Body:        text,
		PostedAt:    connector.SlackTSToTime(ts),
		Attributes:  canonical.Attributes{"ts": ts},
	}
	if threadTS != "" && threadTS != ts {
		msg.Attributes["thread_ts"] = threadTS
	}
	return msg
}
