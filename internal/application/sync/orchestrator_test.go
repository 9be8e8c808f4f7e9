package syncapp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
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
// Fakes
// ---------------------------------------------------------------------------

type fakeIntegrationRepo struct {
	mu      sync.Mutex
	integ   *integration.Integration
	saves   []integration.Status
	tokens  []string
	saveErr error
}

func (r *fakeIntegrationRepo) Save(ctx context.Context, i *integration.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.integ = i
	r.saves = append(r.saves, i.Status)
	r.tokens = append(r.tokens, i.AccessToken)
	return nil
}

func (r *fakeIntegrationRepo) FindByProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.integ == nil || r.integ.TenantID != tenantID || r.integ.Provider != provider {
		return nil, shared.ErrNotFound
	}
	return r.integ, nil
}

func (r *fakeIntegrationRepo) FindByWebhookID(ctx context.Context, provider canonical.SourceTool, webhookID string) (*integration.Integration, error) {
	return nil, shared.ErrNotFound
}

func (r *fakeIntegrationRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Integration, error) {
	return nil, nil
}

func (r *fakeIntegrationRepo) ListConnected(ctx context.Context) ([]*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.integ != nil && r.integ.Status == integration.StatusConnected {
		return []*integration.Integration{r.integ}, nil
	}
	return nil, nil
}

func (r *fakeIntegrationRepo) ListByProvider(ctx context.Context, provider canonical.SourceTool) ([]*integration.Integration, error) {
	return nil, nil
}

func (r *fakeIntegrationRepo) Delete(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) error {
	return nil
}

type fakeContainerRepo struct {
	containers []canonical.Container
}

func (r *fakeContainerRepo) Save(ctx context.Context, c *canonical.Container) error { return nil }

func (r *fakeContainerRepo) FindByRef(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Container, error) {
	return nil, shared.ErrNotFound
}

func (r *fakeContainerRepo) ListByTool(ctx context.Context, tenantID uuid.UUID, tool canonical.SourceTool) ([]canonical.Container, error) {
	return r.containers, nil
}

func (r *fakeContainerRepo) Delete(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) error {
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	upserted int
}

func (s *fakeStore) BatchUpsert(ctx context.Context, records []canonical.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted += len(records)
	return len(records), nil
}

func (s *fakeStore) Upsert(ctx context.Context, record canonical.Record) error { return nil }

func (s *fakeStore) DeleteByRef(ctx context.Context, tenantID uuid.UUID, kind canonical.EntityKind, ref canonical.ExternalRef) error {
	return nil
}

func (s *fakeStore) FindTask(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Task, error) {
	return nil, shared.ErrNotFound
}

func (s *fakeStore) FindMessage(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Message, error) {
	return nil, shared.ErrNotFound
}

func (s *fakeStore) FindFeedItem(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.FeedItem, error) {
	return nil, shared.ErrNotFound
}

func (s *fakeStore) FindSubscription(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.FinanceSubscription, error) {
	return nil, shared.ErrNotFound
}

// fakeConnector scripts per-container fetch behavior
type fakeConnector struct {
	provider     canonical.SourceTool
	fetch        func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error)
	refresh      func(creds integration.Credentials) (*integration.Credentials, error)
	refreshCalls atomic.Int32
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
}

func (c *fakeConnector) Provider() canonical.SourceTool { return c.provider }

func (c *fakeConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{integration.ResourceTasks}
}

func (c *fakeConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	return &integration.AccountInfo{AccountID: "acct"}, nil
}

func (c *fakeConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	current := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxInFlight.Load()
		if current <= max || c.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return c.fetch(creds, container, page)
}

func (c *fakeConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	c.refreshCalls.Add(1)
	if c.refresh == nil {
		return nil, integration.ErrRefreshNotSupported
	}
	return c.refresh(creds)
}

type fakeRegistry struct{ connector integration.Connector }

func (r *fakeRegistry) Get(provider canonical.SourceTool) (integration.Connector, error) {
	return r.connector, nil
}

func (r *fakeRegistry) List() []integration.Connector {
	return []integration.Connector{r.connector}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func jiraContainers(tenantID uuid.UUID, n int) []canonical.Container {
	out := make([]canonical.Container, n)
	for i := range out {
		out[i] = canonical.Container{
			TenantEntity: shared.NewTenantEntity(tenantID),
			ExternalRef: canonical.ExternalRef{
				ExternalID: fmt.Sprintf("PROJ-%d", i),
				SourceTool: canonical.SourceToolJira,
			},
			Name: fmt.Sprintf("Project %d", i),
		}
	}
	return out
}

func taskRecord(n int) canonical.Record {
	return &canonical.Task{
		ExternalRef: canonical.ExternalRef{
			ExternalID: fmt.Sprintf("PROJ-%d", n),
			SourceTool: canonical.SourceToolJira,
		},
		Title:  "task",
		Status: canonical.TaskStatusOpen,
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		WorkerPoolSize:       5,
		PageSize:             50,
		MaxPagesPerContainer: 10,
		ContainerTimeout:     time.Second,
	}
}

func newTestOrchestrator(repo *fakeIntegrationRepo, containers *fakeContainerRepo, store *fakeStore, conn *fakeConnector, cfg config.SyncConfig) *Orchestrator {
	return NewOrchestrator(repo, containers, store, &fakeRegistry{connector: conn}, cfg, zap.NewNop())
}

func connectedIntegration(tenantID uuid.UUID) *integration.Integration {
	return integration.NewIntegration(tenantID, canonical.SourceToolJira, integration.Credentials{
		Kind:         integration.AuthKindOAuth2,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestOrchestrator_SyncProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("one failing container does not sink its siblings", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		store := &fakeStore{}
		conn := &fakeConnector{
			provider: canonical.SourceToolJira,
			fetch: func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
				if container.ExternalID == "PROJ-3" {
					return nil, fmt.Errorf("%w: boom", integration.ErrInvalidResponse)
				}
				return &integration.FetchResult{Records: []canonical.Record{taskRecord(1), taskRecord(2)}}, nil
			},
		}

		o := newTestOrchestrator(repo, &fakeContainerRepo{containers: jiraContainers(tenantID, 10)}, store, conn, testSyncConfig())
		report, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.NoError(t, err)

		assert.Equal(t, 9, report.SuccessCount)
		assert.Equal(t, 1, report.FailureCount)
		assert.Len(t, report.Containers, 10)
		assert.Equal(t, 18, store.upserted)

		// data failures leave the integration connected with a completed run
		assert.Equal(t, integration.StatusConnected, repo.integ.Status)
		require.NotNil(t, repo.integ.LastSyncAt)
	})

	t.Run("expired auth triggers exactly one refresh then retry", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		store := &fakeStore{}
		conn := &fakeConnector{provider: canonical.SourceToolJira}
		conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
			if creds.AccessToken == "access-1" {
				return nil, integration.ErrAuthFailed
			}
			return &integration.FetchResult{Records: []canonical.Record{taskRecord(1)}}, nil
		}
		conn.refresh = func(creds integration.Credentials) (*integration.Credentials, error) {
			return &integration.Credentials{
				Kind:         integration.AuthKindOAuth2,
				AccessToken:  "access-2",
				RefreshToken: creds.RefreshToken,
			}, nil
		}

		o := newTestOrchestrator(repo, &fakeContainerRepo{containers: jiraContainers(tenantID, 1)}, store, conn, testSyncConfig())
		report, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.NoError(t, err)

		assert.Equal(t, 1, report.SuccessCount)
		assert.Equal(t, int32(1), conn.refreshCalls.Load())
		// the rotated token reached the repository
		assert.Equal(t, "access-2", repo.integ.AccessToken)
	})

	t.Run("rejected refresh marks the integration errored", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		conn := &fakeConnector{provider: canonical.SourceToolJira}
		conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
			return nil, integration.ErrAuthFailed
		}
		conn.refresh = func(creds integration.Credentials) (*integration.Credentials, error) {
			return nil, fmt.Errorf("%w: refresh token revoked", integration.ErrAuthFailed)
		}

		o := newTestOrchestrator(repo, &fakeContainerRepo{containers: jiraContainers(tenantID, 3)}, &fakeStore{}, conn, testSyncConfig())
		_, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.Error(t, err)
		assert.ErrorIs(t, err, integration.ErrAuthFailed)
		assert.Equal(t, integration.StatusError, repo.integ.Status)
	})

	t.Run("persistent auth failure after refresh fails the container", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		conn := &fakeConnector{provider: canonical.SourceToolJira}
		conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
			return nil, integration.ErrAuthFailed
		}
		conn.refresh = func(creds integration.Credentials) (*integration.Credentials, error) {
			return &integration.Credentials{Kind: integration.AuthKindOAuth2, AccessToken: "access-2"}, nil
		}

		o := newTestOrchestrator(repo, &fakeContainerRepo{containers: jiraContainers(tenantID, 1)}, &fakeStore{}, conn, testSyncConfig())
		report, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.NoError(t, err)

		// the refresh exchange itself succeeded, so the run completes and
		// only this container is recorded as failed
		assert.Equal(t, 1, report.FailureCount)
		assert.Equal(t, integration.StatusConnected, repo.integ.Status)
	})

	t.Run("follows pagination to the end", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		store := &fakeStore{}
		conn := &fakeConnector{provider: canonical.SourceToolJira}
		conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
			switch page.Token {
			case "":
				return &integration.FetchResult{
					Records: []canonical.Record{taskRecord(1), taskRecord(2)},
					Next:    integration.Page{Token: "2"},
					HasMore: true,
				}, nil
			case "2":
				return &integration.FetchResult{Records: []canonical.Record{taskRecord(3)}, Skipped: 1}, nil
			default:
				return nil, fmt.Errorf("unexpected page %q", page.Token)
			}
		}

		o := newTestOrchestrator(repo, &fakeContainerRepo{containers: jiraContainers(tenantID, 1)}, store, conn, testSyncConfig())
		report, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.NoError(t, err)

		require.Len(t, report.Containers, 1)
		assert.Equal(t, 3, report.Containers[0].Upserted)
		assert.Equal(t, 1, report.Containers[0].Skipped)
	})

	t.Run("runaway pagination is cut off", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		conn := &fakeConnector{provider: canonical.SourceToolJira}
		conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
			return &integration.FetchResult{
				Records: []canonical.Record{taskRecord(1)},
				Next:    integration.Page{Token: "again"},
				HasMore: true,
			}, nil
		}

		cfg := testSyncConfig()
		cfg.MaxPagesPerContainer = 5
		o := newTestOrchestrator(repo, &fakeContainerRepo{containers: jiraContainers(tenantID, 1)}, &fakeStore{}, conn, cfg)
		report, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.NoError(t, err)

		require.Len(t, report.Containers, 1)
		assert.False(t, report.Containers[0].Succeeded)
		assert.Contains(t, report.Containers[0].Error, "pagination")
	})

	t.Run("concurrency stays within the pool width", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		conn := &fakeConnector{provider: canonical.SourceToolJira}
		conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
			return &integration.FetchResult{}, nil
		}

		cfg := testSyncConfig()
		cfg.WorkerPoolSize = 5
		o := newTestOrchestrator(repo, &fakeContainerRepo{containers: jiraContainers(tenantID, 40)}, &fakeStore{}, conn, cfg)
		_, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.NoError(t, err)

		assert.LessOrEqual(t, conn.maxInFlight.Load(), int32(5))
	})

	t.Run("account-level providers sync without containers", func(t *testing.T) {
		tenantID := uuid.New()
		repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
		store := &fakeStore{}
		conn := &fakeConnector{provider: canonical.SourceToolJira}
		conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
			assert.Nil(t, container)
			return &integration.FetchResult{Records: []canonical.Record{taskRecord(1)}}, nil
		}

		o := newTestOrchestrator(repo, &fakeContainerRepo{}, store, conn, testSyncConfig())
		report, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		require.NoError(t, err)
		assert.Equal(t, 1, report.SuccessCount)
		assert.Equal(t, 1, store.upserted)
	})

	t.Run("unknown integration is not found", func(t *testing.T) {
		o := newTestOrchestrator(&fakeIntegrationRepo{}, &fakeContainerRepo{}, &fakeStore{}, &fakeConnector{provider: canonical.SourceToolJira}, testSyncConfig())
		_, err := o.SyncProvider(ctx, uuid.New(), canonical.SourceToolJira)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("concurrent run is rejected", func(t *testing.T) {
		tenantID := uuid.New()
		integ := connectedIntegration(tenantID)
		require.NoError(t, integ.BeginSync())
		repo := &fakeIntegrationRepo{integ: integ}

		o := newTestOrchestrator(repo, &fakeContainerRepo{}, &fakeStore{}, &fakeConnector{provider: canonical.SourceToolJira}, testSyncConfig())
		_, err := o.SyncProvider(ctx, tenantID, canonical.SourceToolJira)
		assert.ErrorIs(t, err, ErrSyncInProgress)
	})
}

func TestOrchestrator_SyncAll(t *testing.T) {
	tenantID := uuid.New()
	repo := &fakeIntegrationRepo{integ: connectedIntegration(tenantID)}
	store := &fakeStore{}
	conn := &fakeConnector{provider: canonical.SourceToolJira}
	conn.fetch = func(creds integration.Credentials, container *canonical.Container, page integration.Page) (*integration.FetchResult, error) {
		return &integration.FetchResult{Records: []canonical.Record{taskRecord(1)}}, nil
	}

	o := newTestOrchestrator(repo, &fakeContainerRepo{}, store, conn, testSyncConfig())
	require.NoError(t, o.SyncAll(context.Background()))
	assert.Equal(t, 1, store.upserted)
	require.NotNil(t, repo.integ.LastSyncAt)
}
