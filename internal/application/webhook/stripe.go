package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/connector"
)

// processStripe handles Stripe event deliveries. Signature verification uses
// the endpoint signing secret; tenant resolution matches the connected
// account id on the event against the stored integration attributes.
//
// Stripe retries aggressively on non-2xx, so events this deployment cannot
// attribute to a tenant are acknowledged as benign no-ops instead of erroring.
func (s *Service) processStripe(ctx context.Context, req Request) (*Result, error) {
	event, err := stripewebhook.ConstructEvent(req.Body, req.Header.Get("Stripe-Signature"), s.providers.StripeWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrWebhookSignature, err)
	}

	if s.seenBefore(ctx, canonical.SourceToolStripe, event.ID) {
		return ignored(KindIgnored), nil
	}

	tenantID, ok, err := s.resolveStripeTenant(ctx, event.Account)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info("stripe event for unlinked account",
			zap.String("event_id", event.ID),
			zap.String("account", event.Account),
		)
		return ignored(KindIgnored), nil
	}

	return s.applyStripeEvent(ctx, tenantID, event)
}

// resolveStripeTenant maps a Stripe account id onto a tenant. With no
// account on the event (platform-level endpoints) a sole Stripe integration
// is assumed to own the traffic.
func (s *Service) resolveStripeTenant(ctx context.Context, account string) (uuid.UUID, bool, error) {
	integrations, err := s.integrations.ListByProvider(ctx, canonical.SourceToolStripe)
	if err != nil {
		return uuid.Nil, false, err
	}

	if account != "" {
		for _, integ := range integrations {
			if integ.ProviderAttributes["account_id"] == account {
				return integ.TenantID, true, nil
			}
		}
		return uuid.Nil, false, nil
	}
	if len(integrations) == 1 {
		return integrations[0].TenantID, true, nil
	}
	return uuid.Nil, false, nil
}

// applyStripeEvent reconciles one verified event. Stripe payloads carry the
// full object, so created and updated both write the snapshot; the upsert
// converges either ordering.
func (s *Service) applyStripeEvent(ctx context.Context, tenantID uuid.UUID, event stripe.Event) (*Result, error) {
	kind := stripeEventKind(string(event.Type))

	switch {
	case strings.HasPrefix(string(event.Type), "customer.subscription."):
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		// a deleted subscription arrives with status canceled; the row is
		// kept so revenue history survives cancellation
		rec, err := connector.NormalizeStripeSubscription(&sub)
		if err != nil {
			s.logger.Warn("skipping malformed subscription event",
				zap.String("event_id", event.ID), zap.Error(err))
			return ignored(KindIgnored), nil
		}
		rec.AssignTenant(tenantID)
		if err := s.upsertSnapshot(ctx, rec); err != nil {
			return nil, err
		}
		return applied(kind), nil

	case strings.HasPrefix(string(event.Type), "customer."):
		var cust stripe.Customer
		if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if event.Type == "customer.deleted" {
			ref := canonical.ExternalRef{ExternalID: cust.ID, SourceTool: canonical.SourceToolStripe}
			if err := s.deleteRecord(ctx, tenantID, canonical.KindCustomer, ref); err != nil {
				return nil, err
			}
			return applied(KindDeleted), nil
		}
		rec := connector.NormalizeStripeCustomer(&cust)
		rec.AssignTenant(tenantID)
		if err := s.upsertSnapshot(ctx, rec); err != nil {
			return nil, err
		}
		return applied(kind), nil

	case strings.HasPrefix(string(event.Type), "invoice."):
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if event.Type == "invoice.deleted" {
			ref := canonical.ExternalRef{ExternalID: inv.ID, SourceTool: canonical.SourceToolStripe}
			if err := s.deleteRecord(ctx, tenantID, canonical.KindInvoice, ref); err != nil {
				return nil, err
			}
			return applied(KindDeleted), nil
		}
		rec := connector.NormalizeStripeInvoice(&inv)
		rec.AssignTenant(tenantID)
		if err := s.upsertSnapshot(ctx, rec); err != nil {
			return nil, err
		}
		return applied(kind), nil

	default:
		s.logger.Debug("ignoring stripe event", zap.String("type", string(event.Type)))
		return ignored(KindIgnored), nil
	}
}

func stripeEventKind(eventType string) string {
	switch {
	case strings.HasSuffix(eventType, ".created"):
		return KindCreated
	case strings.HasSuffix(eventType, ".deleted"):
		return KindDeleted
	default:
		return KindUpdated
	}
}
