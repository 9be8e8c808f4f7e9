// Package connect manages the integration lifecycle: the provider handshake,
// webhook registration, container linking and disconnect.
package connect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

// ErrAlreadyConnected is returned when a tenant connects a provider twice
var ErrAlreadyConnected = errors.New("connect: provider already connected")

// initialSyncTimeout bounds the background sync kicked off after connecting
const initialSyncTimeout = 10 * time.Minute

// ProviderSyncer triggers a batch sync for one integration. Satisfied by the
// sync orchestrator.
type ProviderSyncer interface {
	SyncProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.SyncReport, error)
}

// repoWebhookRegistrar is implemented by connectors whose webhooks attach to
// individual containers rather than the account
type repoWebhookRegistrar interface {
	RegisterRepoWebhook(ctx context.Context, creds integration.Credentials, repo, callbackURL, secret string) (string, error)
}

// Service wires the connector registry to the integration repository
type Service struct {
	integrations integration.Repository
	containers   canonical.ContainerRepository
	registry     integration.Registry
	syncer       ProviderSyncer
	app          config.AppConfig
	logger       *zap.Logger
}

// NewService creates the integration lifecycle service
func NewService(
	integrations integration.Repository,
	containers canonical.ContainerRepository,
	registry integration.Registry,
	syncer ProviderSyncer,
	app config.AppConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		integrations: integrations,
		containers:   containers,
		registry:     registry,
		syncer:       syncer,
		app:          app,
		logger:       logger.Named("connect"),
	}
}

// Connect validates the supplied credentials against the provider, persists
// the integration, registers the provider webhook when supported, and kicks
// off the first batch sync in the background.
func (s *Service) Connect(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, creds integration.Credentials) (*integration.Integration, error) {
	if _, err := s.integrations.FindByProvider(ctx, tenantID, provider); err == nil {
		return nil, ErrAlreadyConnected
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	connector, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	account, err := connector.TestConnection(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("credential validation failed: %w", err)
	}
	creds = mergeAccountAttributes(creds, account)

	integ := integration.NewIntegration(tenantID, provider, creds)
	if err := s.integrations.Save(ctx, integ); err != nil {
		return nil, err
	}

	s.registerWebhook(ctx, integ, connector, creds)

	if s.syncer != nil {
		go s.runInitialSync(tenantID, provider)
	}

	s.logger.Info("provider connected",
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider", string(provider)),
		zap.String("account", account.AccountName),
	)
	return integ, nil
}

// Reconnect replaces the credentials of an existing integration, recovering
// integrations stuck in error or disconnected state.
func (s *Service) Reconnect(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, creds integration.Credentials) (*integration.Integration, error) {
	integ, err := s.integrations.FindByProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}

	connector, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	account, err := connector.TestConnection(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("credential validation failed: %w", err)
	}

	integ.Reconnect(mergeAccountAttributes(creds, account))
	if err := s.integrations.Save(ctx, integ); err != nil {
		return nil, err
	}
	return integ, nil
}

// Disconnect tears the integration down. Provider-side webhook removal is
// best effort; the local record is deleted regardless.
func (s *Service) Disconnect(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) error {
	integ, err := s.integrations.FindByProvider(ctx, tenantID, provider)
	if err != nil {
		return err
	}

	if integ.WebhookID != "" {
		if connector, err := s.registry.Get(provider); err == nil {
			if registrar, ok := connector.(integration.WebhookRegistrar); ok {
				creds, credErr := integ.Credentials()
				if credErr == nil {
					if err := registrar.UnregisterWebhook(ctx, creds, integ.WebhookID); err != nil {
						s.logger.Warn("webhook removal failed, continuing disconnect",
							zap.String("provider", string(provider)),
							zap.Error(err),
						)
					}
				}
			}
		}
	}

	return s.integrations.Delete(ctx, tenantID, provider)
}

// ListRemoteContainers enumerates the provider-side containers available for
// linking, walking the provider's pagination to the end.
func (s *Service) ListRemoteContainers(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) ([]canonical.Container, error) {
	integ, err := s.integrations.FindByProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	connector, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	lister, ok := connector.(integration.ContainerLister)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q has no containers", integration.ErrInvalidResponse, provider)
	}
	creds, err := integ.Credentials()
	if err != nil {
		return nil, err
	}

	var all []canonical.Container
	page := integration.Page{}
	for {
		batch, next, hasMore, err := lister.ListContainers(ctx, creds, page)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if !hasMore {
			return all, nil
		}
		page = next
	}
}

// LinkContainer marks a provider container as sync-eligible for the tenant.
// For providers with per-container webhooks the hook is registered here and
// its id kept on the container for unlinking.
func (s *Service) LinkContainer(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, externalID, name string) (*canonical.Container, error) {
	integ, err := s.integrations.FindByProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}

	ref := canonical.ExternalRef{ExternalID: externalID, SourceTool: provider}
	if existing, err := s.containers.FindByRef(ctx, tenantID, ref); err == nil {
		return existing, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	container := &canonical.Container{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef:  ref,
		Name:         name,
		Attributes:   canonical.Attributes{},
	}

	connector, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if registrar, ok := connector.(repoWebhookRegistrar); ok && s.app.PublicBaseURL != "" && integ.WebhookSecret != "" {
		creds, credErr := integ.Credentials()
		if credErr == nil {
			hookID, hookErr := registrar.RegisterRepoWebhook(ctx, creds, externalID, s.callbackURL(provider), integ.WebhookSecret)
			if hookErr != nil {
				s.logger.Warn("container webhook registration failed",
					zap.String("provider", string(provider)),
					zap.String("container", externalID),
					zap.Error(hookErr),
				)
			} else {
				container.Attributes["webhook_hook_id"] = hookID
			}
		}
	}

	if err := s.containers.Save(ctx, container); err != nil {
		return nil, err
	}
	return container, nil
}

// UnlinkContainer removes a container from the sync scope. Its already
// synced records stay.
func (s *Service) UnlinkContainer(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, externalID string) error {
	return s.containers.Delete(ctx, tenantID, canonical.ExternalRef{ExternalID: externalID, SourceTool: provider})
}

// registerWebhook performs provider-side webhook registration when the
// connector supports it. Failures degrade the integration to sync-only
// rather than failing the connect.
func (s *Service) registerWebhook(ctx context.Context, integ *integration.Integration, connector integration.Connector, creds integration.Credentials) {
	registrar, ok := connector.(integration.WebhookRegistrar)
	if !ok || s.app.PublicBaseURL == "" {
		return
	}

	reg, err := registrar.RegisterWebhook(ctx, creds, s.callbackURL(integ.Provider))
	if err != nil {
		s.logger.Warn("webhook registration failed, integration is sync-only",
			zap.String("provider", string(integ.Provider)),
			zap.Error(err),
		)
		return
	}

	integ.SetWebhook(reg.ID, reg.Secret)
	if err := s.integrations.Save(ctx, integ); err != nil {
		s.logger.Error("failed to persist webhook registration", zap.Error(err))
	}
}

func (s *Service) callbackURL(provider canonical.SourceTool) string {
	return s.app.PublicBaseURL + "/webhooks/" + string(provider)
}

func (s *Service) runInitialSync(tenantID uuid.UUID, provider canonical.SourceTool) {
	ctx, cancel := context.WithTimeout(context.Background(), initialSyncTimeout)
	defer cancel()

	if _, err := s.syncer.SyncProvider(ctx, tenantID, provider); err != nil {
		s.logger.Warn("initial sync failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
	}
}

// mergeAccountAttributes folds the attributes discovered during the
// handshake (cloud id, workspace gid, team id) into the credential
// attributes so later calls can address the provider.
func mergeAccountAttributes(creds integration.Credentials, account *integration.AccountInfo) integration.Credentials {
	if account == nil || len(account.Attributes) == 0 {
		return creds
	}
	if creds.Attributes == nil {
		creds.Attributes = map[string]string{}
	}
	for key, value := range account.Attributes {
		if _, exists := creds.Attributes[key]; !exists {
			creds.Attributes[key] = value
		}
	}
	return creds
}
