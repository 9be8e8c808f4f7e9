package webhook

import (
	"context"
	"fmt"
	"net/http"
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

type fakeIntegrationRepo struct {
	mu           sync.Mutex
	integrations []*integration.Integration
	saves        int
}

func (r *fakeIntegrationRepo) Save(ctx context.Context, i *integration.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	for idx, existing := range r.integrations {
		if existing.ID == i.ID {
			r.integrations[idx] = i
			return nil
		}
	}
	r.integrations = append(r.integrations, i)
	return nil
}

func (r *fakeIntegrationRepo) FindByProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.integrations {
		if i.TenantID == tenantID && i.Provider == provider {
			return i, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeIntegrationRepo) FindByWebhookID(ctx context.Context, provider canonical.SourceTool, webhookID string) (*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.integrations {
		if i.Provider == provider && i.WebhookID == webhookID {
			return i, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeIntegrationRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.Integration
	for _, i := range r.integrations {
		if i.TenantID == tenantID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *fakeIntegrationRepo) ListConnected(ctx context.Context) ([]*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.Integration
	for _, i := range r.integrations {
		if i.Status == integration.StatusConnected {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *fakeIntegrationRepo) ListByProvider(ctx context.Context, provider canonical.SourceTool) ([]*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.Integration
	for _, i := range r.integrations {
		if i.Provider == provider {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *fakeIntegrationRepo) Delete(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, i := range r.integrations {
		if i.TenantID == tenantID && i.Provider == provider {
			r.integrations = append(r.integrations[:idx], r.integrations[idx+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

type fakeContainerRepo struct {
	mu         sync.Mutex
	containers []*canonical.Container
}

func (r *fakeContainerRepo) Save(ctx context.Context, c *canonical.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers = append(r.containers, c)
	return nil
}

func (r *fakeContainerRepo) FindByRef(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.containers {
		if c.TenantID == tenantID && c.ExternalRef == ref {
			return c, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeContainerRepo) ListByTool(ctx context.Context, tenantID uuid.UUID, tool canonical.SourceTool) ([]canonical.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []canonical.Container
	for _, c := range r.containers {
		if c.TenantID == tenantID && c.SourceTool == tool {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeContainerRepo) Delete(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) error {
	return nil
}

// fakeStore keeps records in a map keyed by the natural key, mimicking the
// upsert semantics of the real store.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]canonical.Record
	upserts int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]canonical.Record{}}
}

func storeKey(tenantID uuid.UUID, ref canonical.ExternalRef) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, ref.SourceTool, ref.ExternalID)
}

func tenantOf(rec canonical.Record) uuid.UUID {
	switch v := rec.(type) {
	case *canonical.Task:
		return v.TenantID
	case *canonical.Message:
		return v.TenantID
	case *canonical.Customer:
		return v.TenantID
	case *canonical.FinanceSubscription:
		return v.TenantID
	case *canonical.Invoice:
		return v.TenantID
	case *canonical.Commit:
		return v.TenantID
	case *canonical.PullRequest:
		return v.TenantID
	case *canonical.Branch:
		return v.TenantID
	case *canonical.Contributor:
		return v.TenantID
	case *canonical.FeedItem:
		return v.TenantID
	case *canonical.AnalyticsEvent:
		return v.TenantID
	}
	return uuid.Nil
}

func (s *fakeStore) BatchUpsert(ctx context.Context, records []canonical.Record) (int, error) {
	written := 0
	for _, rec := range records {
		s.mu.Lock()
		key := storeKey(tenantOf(rec), rec.Ref())
		if _, exists := s.records[key]; !exists {
			s.records[key] = rec
			written++
		}
		s.mu.Unlock()
	}
	return written, nil
}

func (s *fakeStore) Upsert(ctx context.Context, rec canonical.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.records[storeKey(tenantOf(rec), rec.Ref())] = rec
	return nil
}

func (s *fakeStore) DeleteByRef(ctx context.Context, tenantID uuid.UUID, kind canonical.EntityKind, ref canonical.ExternalRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.records, storeKey(tenantID, ref))
	return nil
}

func (s *fakeStore) FindTask(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.records[storeKey(tenantID, ref)].(*canonical.Task); ok {
		return task, nil
	}
	return nil, shared.ErrNotFound
}

func (s *fakeStore) FindMessage(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.records[storeKey(tenantID, ref)].(*canonical.Message); ok {
		return msg, nil
	}
	return nil, shared.ErrNotFound
}

func (s *fakeStore) FindFeedItem(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.FeedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.records[storeKey(tenantID, ref)].(*canonical.FeedItem); ok {
		return item, nil
	}
	return nil, shared.ErrNotFound
}

func (s *fakeStore) FindSubscription(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef) (*canonical.FinanceSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.records[storeKey(tenantID, ref)].(*canonical.FinanceSubscription); ok {
		return sub, nil
	}
	return nil, shared.ErrNotFound
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup { return &fakeDedup{seen: map[string]bool{}} }

func (d *fakeDedup) Remember(ctx context.Context, provider canonical.SourceTool, deliveryID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(provider) + ":" + deliveryID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *fakeDedup) Close() error { return nil }

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

type testEnv struct {
	svc          *Service
	integrations *fakeIntegrationRepo
	containers   *fakeContainerRepo
	store        *fakeStore
	dedup        *fakeDedup
}

func newTestEnv(t *testing.T, integrations ...*integration.Integration) *testEnv {
	t.Helper()
	repo := &fakeIntegrationRepo{integrations: integrations}
	containers := &fakeContainerRepo{}
	store := newFakeStore()
	dedup := newFakeDedup()
	svc := NewService(repo, containers, store, dedup, config.ProvidersConfig{
		StripeWebhookSecret: "whsec_test",
		SlackSigningSecret:  "slack-signing-secret",
	}, zap.NewNop())
	return &testEnv{svc: svc, integrations: repo, containers: containers, store: store, dedup: dedup}
}

func testIntegration(tenantID uuid.UUID, provider canonical.SourceTool) *integration.Integration {
	return &integration.Integration{
		TenantEntity: shared.NewTenantEntity(tenantID),
		Provider:     provider,
		Status:       integration.StatusConnected,
		AuthKind:     integration.AuthKindOAuth2,
		AccessToken:  "access-1",
	}
}

func (e *testEnv) addContainer(tenantID uuid.UUID, tool canonical.SourceTool, externalID, name string) *canonical.Container {
	c := &canonical.Container{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: externalID, SourceTool: tool},
		Name:         name,
	}
	e.containers.containers = append(e.containers.containers, c)
	return c
}

func headerWith(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

// ---------------------------------------------------------------------------
// dispatch
// ---------------------------------------------------------------------------

func TestProcessUnsupportedProvider(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Process(context.Background(), canonical.SourceToolPlausible, Request{Header: http.Header{}})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = env.svc.Process(context.Background(), canonical.SourceTool("linear"), Request{Header: http.Header{}})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestSeenBeforeToleratesMissingDedup(t *testing.T) {
	env := newTestEnv(t)
	env.svc.dedup = nil

	assert.False(t, env.svc.seenBefore(context.Background(), canonical.SourceToolGitHub, "delivery-1"))
	assert.False(t, env.svc.seenBefore(context.Background(), canonical.SourceToolGitHub, ""))
}

func TestVerifySignatureConstantTime(t *testing.T) {
	expected := hmacHex([]byte("payload"), "secret")
	require.True(t, verifySignature(expected, expected))
	assert.False(t, verifySignature("", expected))
	assert.False(t, verifySignature("deadbeef", expected))
}

func TestBumpCounterClampsAtZero(t *testing.T) {
	attrs := canonical.Attributes{}
	bumpCounter(attrs, "comment_count", -1)
	assert.Equal(t, 0, attrs["comment_count"])

	// JSON numbers decode as float64
	attrs["comment_count"] = float64(3)
	bumpCounter(attrs, "comment_count", 1)
	assert.Equal(t, 4, attrs["comment_count"])
}
