// Package webhook ingests inbound provider events and reconciles them onto
// canonical entities.
//
// Every delivery passes the same pipeline: authenticate the request,
// resolve the tenant and container, classify the event into the closed kind
// set, and apply an idempotent mutation. The pipeline tolerates at-least-once
// and out-of-order delivery; replaying an event or seeing "updated" before
// "created" converges on the same row.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

// Event kinds the pipeline classifies deliveries into. Unknown provider
// event types are logged and ignored.
const (
	KindCreated        = "created"
	KindUpdated        = "updated"
	KindDeleted        = "deleted"
	KindCommentCreated = "comment-created"
	KindCommentUpdated = "comment-updated"
	KindCommentDeleted = "comment-deleted"
	KindHandshake      = "handshake"
	KindIgnored        = "ignored"
)

var (
	// ErrUnsupportedProvider is returned for providers without webhooks
	ErrUnsupportedProvider = errors.New("webhook: provider does not deliver webhooks")
	// ErrBadPayload is returned for structurally invalid request bodies
	ErrBadPayload = errors.New("webhook: structurally invalid payload")
)

// Request is one raw inbound delivery
type Request struct {
	Header http.Header
	Body   []byte
}

// Result describes how a delivery was handled
type Result struct {
	Kind string
	// Applied is false for benign no-ops: duplicates, unknown event
	// types, unlinked containers on lenient providers
	Applied bool
	// Challenge carries a verification token some providers expect echoed
	// in the response body (Slack url_verification)
	Challenge string
	// EchoHeader carries headers to return verbatim (Asana X-Hook-Secret
	// handshake)
	EchoHeader http.Header
}

func ignored(kind string) *Result { return &Result{Kind: kind, Applied: false} }

func applied(kind string) *Result { return &Result{Kind: kind, Applied: true} }

// Service is the webhook ingestion pipeline. One instance serves all
// providers; Process dispatches on the provider route parameter.
type Service struct {
	integrations integration.Repository
	containers   canonical.ContainerRepository
	store        canonical.Store
	dedup        integration.DeliveryDedup
	providers    config.ProvidersConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates the webhook ingestion service
func NewService(
	integrations integration.Repository,
	containers canonical.ContainerRepository,
	store canonical.Store,
	dedup integration.DeliveryDedup,
	providers config.ProvidersConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		integrations: integrations,
		containers:   containers,
		store:        store,
		dedup:        dedup,
		providers:    providers,
		logger:       logger.Named("webhook"),
		now:          time.Now,
	}
}

// Process authenticates and applies one delivery. The caller maps the error
// onto an HTTP status: ErrWebhookSignature → 401, ErrBadPayload → 400,
// shared.ErrNotFound → 404, anything else → 500.
func (s *Service) Process(ctx context.Context, provider canonical.SourceTool, req Request) (*Result, error) {
	switch provider {
	case canonical.SourceToolStripe:
		return s.processStripe(ctx, req)
	case canonical.SourceToolJira:
		return s.processJira(ctx, req)
	case canonical.SourceToolGitHub:
		return s.processGitHub(ctx, req)
	case canonical.SourceToolSlack:
		return s.processSlack(ctx, req)
	case canonical.SourceToolAsana:
		return s.processAsana(ctx, req)
	case canonical.SourceToolCanny:
		return s.processCanny(ctx, req)
	default:
		// Plausible and unknown providers have no webhook surface
		return nil, ErrUnsupportedProvider
	}
}

// seenBefore consults the best-effort delivery dedup. Correctness does not
// depend on it; a dedup failure processes the event again and the idempotent
// upsert absorbs the replay.
func (s *Service) seenBefore(ctx context.Context, provider canonical.SourceTool, deliveryID string) bool {
	if deliveryID == "" || s.dedup == nil {
		return false
	}
	fresh, err := s.dedup.Remember(ctx, provider, deliveryID, integration.DefaultDedupTTL)
	if err != nil {
		s.logger.Warn("delivery dedup unavailable", zap.Error(err))
		return false
	}
	return !fresh
}
