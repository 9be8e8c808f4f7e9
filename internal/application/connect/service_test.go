package connect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeRepo struct {
	mu           sync.Mutex
	integrations map[string]*integration.Integration
	deletes      int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{integrations: map[string]*integration.Integration{}}
}

func repoKey(tenantID uuid.UUID, provider canonical.SourceTool) string {
	return tenantID.String() + "/" + string(provider)
}

func (r *fakeRepo) Save(ctx context.Context, i *integration.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations[repoKey(i.TenantID, i.Provider)] = i
	return nil
}

func (r *fakeRepo) FindByProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.integrations[repoKey(tenantID, provider)]; ok {
		return i, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakeRepo) FindByWebhookID(ctx context.Context, provider canonical.SourceTool, webhookID string) (*integration.Integration, error) {
	return nil, shared.ErrNotFound
}

func (r *fakeRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Integration, error) {
	return nil, nil
}

func (r *fakeRepo) ListConnected(ctx context.Context) ([]*integration.Integration, error) {
	return nil, nil
}

func (r *fakeRepo) ListByProvider(ctx context.Context, provider canonical.SourceTool) ([]*integration.Integration, error) {
	return nil, nil
}

func (r *fakeRepo) Delete(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.integrations, repoKey(tenantID, provider))
	return nil
}

type fakeContainers struct {
	mu    sync.Mutex
	saved []*canonical.Container
}

func (r *fakeContainers) Save(ctx context.Context, c *canonical.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, c)
	return nil
}

func (r *fakeContainers) FindByRef(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.saved {
		if c.TenantID == tenantID && c.ExternalRef == ref {
			return c, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeContainers) ListByTool(ctx context.Context, tenantID uuid.UUID, tool canonical.SourceTool) ([]canonical.Container, error) {
	return nil, nil
}

func (r *fakeContainers) Delete(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, c := range r.saved {
		if c.TenantID == tenantID && c.ExternalRef == ref {
			r.saved = append(r.saved[:idx], r.saved[idx+1:]...)
			return nil
		}
	}
	return nil
}

// fakeConnector is scriptable per test and optionally acts as a webhook
// registrar, repo-hook registrar and container lister
type fakeConnector struct {
	provider canonical.SourceTool

	testErr      error
	accountAttrs map[string]string

	registration    *integration.WebhookRegistration
	registerErr     error
	unregistered    []string
	repoHooks       map[string]string
	repoHookErr     error
	containerPages  [][]canonical.Container
	listedPageCalls int
}

func (c *fakeConnector) Provider() canonical.SourceTool { return c.provider }

func (c *fakeConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{integration.ResourceTasks}
}

func (c *fakeConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	if c.testErr != nil {
		return nil, c.testErr
	}
	return &integration.AccountInfo{AccountID: "acct-1", AccountName: "Acme", Attributes: c.accountAttrs}, nil
}

func (c *fakeConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	return &integration.FetchResult{}, nil
}

func (c *fakeConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return nil, integration.ErrRefreshNotSupported
}

func (c *fakeConnector) RegisterWebhook(ctx context.Context, creds integration.Credentials, callbackURL string) (*integration.WebhookRegistration, error) {
	if c.registerErr != nil {
		return nil, c.registerErr
	}
	if c.registration == nil {
		return &integration.WebhookRegistration{}, nil
	}
	return c.registration, nil
}

func (c *fakeConnector) UnregisterWebhook(ctx context.Context, creds integration.Credentials, webhookID string) error {
	c.unregistered = append(c.unregistered, webhookID)
	return nil
}

func (c *fakeConnector) RegisterRepoWebhook(ctx context.Context, creds integration.Credentials, repo, callbackURL, secret string) (string, error) {
	if c.repoHookErr != nil {
		return "", c.repoHookErr
	}
	if c.repoHooks == nil {
		c.repoHooks = map[string]string{}
	}
	id := "hook-" + repo
	c.repoHooks[repo] = callbackURL
	return id, nil
}

func (c *fakeConnector) ListContainers(ctx context.Context, creds integration.Credentials, page integration.Page) ([]canonical.Container, integration.Page, bool, error) {
	idx := c.listedPageCalls
	c.listedPageCalls++
	hasMore := idx < len(c.containerPages)-1
	next := integration.Page{}
	if hasMore {
		next = integration.Page{Token: "next"}
	}
	return c.containerPages[idx], next, hasMore, nil
}

type fakeRegistry struct {
	connectors map[canonical.SourceTool]integration.Connector
}

func (r *fakeRegistry) Get(provider canonical.SourceTool) (integration.Connector, error) {
	if c, ok := r.connectors[provider]; ok {
		return c, nil
	}
	return nil, integration.ErrConnectorNotRegistered
}

func (r *fakeRegistry) List() []integration.Connector { return nil }

type fakeSyncer struct {
	calls chan canonical.SourceTool
}

func (s *fakeSyncer) SyncProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.SyncReport, error) {
	s.calls <- provider
	return &integration.SyncReport{Provider: provider}, nil
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

type env struct {
	svc        *Service
	repo       *fakeRepo
	containers *fakeContainers
	connector  *fakeConnector
	syncer     *fakeSyncer
}

func newEnv(t *testing.T, provider canonical.SourceTool) *env {
	t.Helper()
	conn := &fakeConnector{provider: provider}
	repo := newFakeRepo()
	containers := &fakeContainers{}
	syncer := &fakeSyncer{calls: make(chan canonical.SourceTool, 4)}
	svc := NewService(repo, containers,
		&fakeRegistry{connectors: map[canonical.SourceTool]integration.Connector{provider: conn}},
		syncer,
		config.AppConfig{PublicBaseURL: "https://pulsedeck.example.com"},
		zap.NewNop(),
	)
	return &env{svc: svc, repo: repo, containers: containers, connector: conn, syncer: syncer}
}

func oauthCreds() integration.Credentials {
	return integration.Credentials{
		Kind:         integration.AuthKindOAuth2,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}
}

func waitForSync(t *testing.T, syncer *fakeSyncer) canonical.SourceTool {
	t.Helper()
	select {
	case provider := <-syncer.calls:
		return provider
	case <-time.After(2 * time.Second):
		t.Fatal("initial sync was not triggered")
		return ""
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestConnectPersistsAndRegistersWebhook(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	e.connector.accountAttrs = map[string]string{"cloud_id": "cloud-1"}
	e.connector.registration = &integration.WebhookRegistration{ID: "wh-1", Secret: ""}
	tenantID := uuid.New()

	integ, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	require.NoError(t, err)
	assert.Equal(t, integration.StatusConnected, integ.Status)
	assert.Equal(t, "wh-1", integ.WebhookID)
	assert.Equal(t, "cloud-1", integ.ProviderAttributes["cloud_id"])

	saved, err := e.repo.FindByProvider(context.Background(), tenantID, canonical.SourceToolJira)
	require.NoError(t, err)
	assert.Equal(t, "access-1", saved.AccessToken)

	assert.Equal(t, canonical.SourceToolJira, waitForSync(t, e.syncer))
}

func TestConnectRejectsDuplicate(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	tenantID := uuid.New()

	_, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	require.NoError(t, err)
	waitForSync(t, e.syncer)

	_, err = e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestConnectFailsOnBadCredentials(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	e.connector.testErr = integration.ErrAuthFailed

	_, err := e.svc.Connect(context.Background(), uuid.New(), canonical.SourceToolJira, oauthCreds())
	assert.ErrorIs(t, err, integration.ErrAuthFailed)
	assert.Empty(t, e.repo.integrations)
}

func TestConnectSurvivesWebhookRegistrationFailure(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	e.connector.registerErr = errors.New("provider 500")
	tenantID := uuid.New()

	integ, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	require.NoError(t, err)
	assert.Empty(t, integ.WebhookID)
	assert.Equal(t, integration.StatusConnected, integ.Status)
	waitForSync(t, e.syncer)
}

func TestDisconnectRemovesWebhookAndRecord(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	e.connector.registration = &integration.WebhookRegistration{ID: "wh-9"}
	tenantID := uuid.New()

	_, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	require.NoError(t, err)
	waitForSync(t, e.syncer)

	require.NoError(t, e.svc.Disconnect(context.Background(), tenantID, canonical.SourceToolJira))
	assert.Equal(t, []string{"wh-9"}, e.connector.unregistered)
	assert.Empty(t, e.repo.integrations)
}

func TestReconnectRestoresErroredIntegration(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	tenantID := uuid.New()

	integ, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	require.NoError(t, err)
	waitForSync(t, e.syncer)
	integ.MarkError()

	restored, err := e.svc.Reconnect(context.Background(), tenantID, canonical.SourceToolJira, integration.Credentials{
		Kind:        integration.AuthKindOAuth2,
		AccessToken: "access-2",
	})
	require.NoError(t, err)
	assert.Equal(t, integration.StatusConnected, restored.Status)
	assert.Equal(t, "access-2", restored.AccessToken)
}

func TestLinkContainerRegistersRepoHook(t *testing.T) {
	e := newEnv(t, canonical.SourceToolGitHub)
	e.connector.registration = &integration.WebhookRegistration{ID: "", Secret: "repo-secret"}
	tenantID := uuid.New()

	_, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolGitHub, oauthCreds())
	require.NoError(t, err)
	waitForSync(t, e.syncer)

	container, err := e.svc.LinkContainer(context.Background(), tenantID, canonical.SourceToolGitHub, "acme/api", "acme/api")
	require.NoError(t, err)
	assert.Equal(t, "hook-acme/api", container.Attributes["webhook_hook_id"])
	assert.Contains(t, e.connector.repoHooks["acme/api"], "/webhooks/github")

	// linking twice returns the existing container
	again, err := e.svc.LinkContainer(context.Background(), tenantID, canonical.SourceToolGitHub, "acme/api", "acme/api")
	require.NoError(t, err)
	assert.Equal(t, container.ID, again.ID)
	assert.Len(t, e.containers.saved, 1)
}

func TestListRemoteContainersWalksPagination(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	e.connector.containerPages = [][]canonical.Container{
		{{ExternalRef: canonical.ExternalRef{ExternalID: "PROJ", SourceTool: canonical.SourceToolJira}, Name: "PROJ"}},
		{{ExternalRef: canonical.ExternalRef{ExternalID: "OPS", SourceTool: canonical.SourceToolJira}, Name: "OPS"}},
	}
	tenantID := uuid.New()

	_, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	require.NoError(t, err)
	waitForSync(t, e.syncer)

	containers, err := e.svc.ListRemoteContainers(context.Background(), tenantID, canonical.SourceToolJira)
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, "PROJ", containers[0].ExternalID)
	assert.Equal(t, "OPS", containers[1].ExternalID)
}

func TestUnlinkContainer(t *testing.T) {
	e := newEnv(t, canonical.SourceToolJira)
	tenantID := uuid.New()

	_, err := e.svc.Connect(context.Background(), tenantID, canonical.SourceToolJira, oauthCreds())
	require.NoError(t, err)
	waitForSync(t, e.syncer)

	_, err = e.svc.LinkContainer(context.Background(), tenantID, canonical.SourceToolJira, "PROJ", "Project")
	require.NoError(t, err)
	require.Len(t, e.containers.saved, 1)

	require.NoError(t, e.svc.UnlinkContainer(context.Background(), tenantID, canonical.SourceToolJira, "PROJ"))
	assert.Empty(t, e.containers.saved)
}
