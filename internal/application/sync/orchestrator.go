// Package syncapp runs batch synchronization of connected integrations.
//
// A run fans out one task per linked container over a fixed-width worker
// pool. Container tasks are isolated: one container failing leaves its
// siblings running and the integration connected. Only a systemic
// credential failure aborts the run and moves the integration to error.
package syncapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

// ErrSyncInProgress is returned when a run is requested for an integration
// that is already syncing
var ErrSyncInProgress = errors.New("sync: a run is already in progress")

// Orchestrator coordinates batch sync runs
type Orchestrator struct {
	integrations integration.Repository
	containers   canonical.ContainerRepository
	store        canonical.Store
	registry     integration.Registry
	cfg          config.SyncConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(
	integrations integration.Repository,
	containers canonical.ContainerRepository,
	store canonical.Store,
	registry integration.Registry,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		integrations: integrations,
		containers:   containers,
		store:        store,
		registry:     registry,
		cfg:          cfg,
		logger:       logger.Named("sync"),
		now:          time.Now,
	}
}

// credentialSource hands out the shared credential material for one run and
// serializes the refresh exchange. Worker tasks hit the same 401 at the same
// time; only the first one refreshes, the rest reuse the new generation.
type credentialSource struct {
	mu    sync.Mutex
	creds integration.Credentials
	gen   int
	// dead is set when a refresh exchange itself was rejected; every
	// subsequent acquire fails fast instead of hammering the provider
	dead bool
}

func (s *credentialSource) current() (integration.Credentials, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return integration.Credentials{}, 0, integration.ErrAuthFailed
	}
	return s.creds, s.gen, nil
}

// refresh performs one refresh exchange unless another task already moved the
// generation forward, in which case the caller just retries with the fresh
// credentials.
func (s *credentialSource) refresh(ctx context.Context, gen int, exchange func(context.Context, integration.Credentials) (*integration.Credentials, error)) (integration.Credentials, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return integration.Credentials{}, 0, integration.ErrAuthFailed
	}
	if s.gen > gen {
		return s.creds, s.gen, nil
	}

	refreshed, err := exchange(ctx, s.creds)
	if err != nil {
		if errors.Is(err, integration.ErrAuthFailed) || errors.Is(err, integration.ErrRefreshNotSupported) {
			s.dead = true
		}
		return integration.Credentials{}, 0, err
	}

	s.creds = *refreshed
	s.gen++
	return s.creds, s.gen, nil
}

// SyncProvider runs a full batch sync for one (tenant, provider) integration
// and returns the per-container report.
func (o *Orchestrator) SyncProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.SyncReport, error) {
	integ, err := o.integrations.FindByProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	return o.syncIntegration(ctx, integ)
}

// SyncAll runs every connected integration once, sequentially. Used by the
// background scheduler; one integration failing does not stop the sweep.
func (o *Orchestrator) SyncAll(ctx context.Context) error {
	connected, err := o.integrations.ListConnected(ctx)
	if err != nil {
		return err
	}
	for _, integ := range connected {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := o.syncIntegration(ctx, integ); err != nil {
			o.logger.Warn("scheduled sync failed",
				zap.String("tenant_id", integ.TenantID.String()),
				zap.String("provider", string(integ.Provider)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (o *Orchestrator) syncIntegration(ctx context.Context, integ *integration.Integration) (*integration.SyncReport, error) {
	log := o.logger.With(
		zap.String("tenant_id", integ.TenantID.String()),
		zap.String("provider", string(integ.Provider)),
	)

	if integ.Status == integration.StatusSyncing {
		return nil, ErrSyncInProgress
	}

	connector, err := o.registry.Get(integ.Provider)
	if err != nil {
		return nil, err
	}

	if err := integ.BeginSync(); err != nil {
		return nil, fmt.Errorf("integration cannot sync in status %q: %w", integ.Status, err)
	}
	if err := o.integrations.Save(ctx, integ); err != nil {
		return nil, err
	}

	creds, err := integ.Credentials()
	if err != nil {
		return nil, o.failRun(ctx, integ, err)
	}

	// a token already known to be expired is exchanged up front rather than
	// burning every task's retry on a guaranteed 401
	if creds.Expired(o.now()) {
		refreshed, err := connector.RefreshCredentials(ctx, creds)
		if err != nil {
			return nil, o.failRun(ctx, integ, err)
		}
		creds = *refreshed
		integ.ApplyRefreshedCredentials(creds)
		if err := o.integrations.Save(ctx, integ); err != nil {
			return nil, err
		}
	}

	source := &credentialSource{creds: creds}
	exchange := func(ctx context.Context, cur integration.Credentials) (*integration.Credentials, error) {
		refreshed, err := connector.RefreshCredentials(ctx, cur)
		if err != nil {
			return nil, err
		}
		integ.ApplyRefreshedCredentials(*refreshed)
		if saveErr := o.integrations.Save(ctx, integ); saveErr != nil {
			return nil, saveErr
		}
		return refreshed, nil
	}

	report := &integration.SyncReport{
		Provider:  integ.Provider,
		StartedAt: o.now(),
	}

	tasks, err := o.buildTasks(ctx, integ)
	if err != nil {
		return nil, o.failRun(ctx, integ, err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.cfg.WorkerPoolSize)

	for _, task := range tasks {
		g.Go(func() error {
			outcome := o.runTask(ctx, integ.TenantID, connector, source, exchange, task)
			mu.Lock()
			report.Add(outcome)
			mu.Unlock()
			return nil
		})
	}
	// tasks never propagate errors; isolation over fail-fast
	_ = g.Wait()

	report.FinishedAt = o.now()

	// a dead credential source means the provider rejected the refresh
	// exchange itself; that is systemic, not a data failure
	if _, _, err := source.current(); err != nil {
		log.Error("sync aborted, credentials unrecoverable",
			zap.Int("containers_failed", report.FailureCount),
		)
		return report, o.failRun(ctx, integ, err)
	}

	integ.CompleteSync(report.FinishedAt)
	if err := o.integrations.Save(ctx, integ); err != nil {
		return report, err
	}

	log.Info("sync run finished",
		zap.Int("containers_ok", report.SuccessCount),
		zap.Int("containers_failed", report.FailureCount),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// failRun moves the integration to error state and wraps the cause
func (o *Orchestrator) failRun(ctx context.Context, integ *integration.Integration, cause error) error {
	integ.MarkError()
	if err := o.integrations.Save(ctx, integ); err != nil {
		o.logger.Error("failed to persist error state", zap.Error(err))
	}
	return fmt.Errorf("sync aborted: %w", cause)
}

// syncTask is one unit of work for the pool: a container (or the
// account-level pseudo-container) crossed with the connector's resources
type syncTask struct {
	container *canonical.Container
}

func (o *Orchestrator) buildTasks(ctx context.Context, integ *integration.Integration) ([]syncTask, error) {
	linked, err := o.containers.ListByTool(ctx, integ.TenantID, integ.Provider)
	if err != nil {
		return nil, err
	}
	if len(linked) == 0 {
		// account-level providers (Stripe, Plausible with a configured
		// site) sync without containers
		return []syncTask{{container: nil}}, nil
	}
	tasks := make([]syncTask, len(linked))
	for idx := range linked {
		tasks[idx] = syncTask{container: &linked[idx]}
	}
	return tasks, nil
}

// runTask syncs every resource of one container. Failures are recorded on
// the outcome, never propagated; sibling containers keep running.
func (o *Orchestrator) runTask(
	ctx context.Context,
	tenantID uuid.UUID,
	connector integration.Connector,
	source *credentialSource,
	exchange func(context.Context, integration.Credentials) (*integration.Credentials, error),
	task syncTask,
) integration.ContainerOutcome {
	outcome := integration.ContainerOutcome{Succeeded: true}
	if task.container != nil {
		outcome.ContainerExternalID = task.container.ExternalID
		outcome.ContainerName = task.container.Name
	}

	taskCtx := ctx
	if o.cfg.ContainerTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, o.cfg.ContainerTimeout)
		defer cancel()
	}

	for _, resource := range connector.Resources() {
		if err := o.syncResource(taskCtx, tenantID, connector, source, exchange, task.container, resource, &outcome); err != nil {
			outcome.Succeeded = false
			outcome.Error = err.Error()
			o.logger.Warn("container sync failed",
				zap.String("provider", string(connector.Provider())),
				zap.String("container", outcome.ContainerExternalID),
				zap.String("resource", string(resource)),
				zap.Error(err),
			)
			return outcome
		}
	}
	return outcome
}

func (o *Orchestrator) syncResource(
	ctx context.Context,
	tenantID uuid.UUID,
	connector integration.Connector,
	source *credentialSource,
	exchange func(context.Context, integration.Credentials) (*integration.Credentials, error),
	container *canonical.Container,
	resource integration.ResourceType,
	outcome *integration.ContainerOutcome,
) error {
	creds, gen, err := source.current()
	if err != nil {
		return err
	}

	refreshed := false
	page := integration.Page{}
	for pageCount := 0; pageCount < o.cfg.MaxPagesPerContainer; pageCount++ {
		result, err := connector.FetchResources(ctx, creds, container, resource, page)
		if errors.Is(err, integration.ErrAuthFailed) && !refreshed {
			// one refresh-and-retry per task; a second rejection is terminal
			refreshed = true
			creds, gen, err = source.refresh(ctx, gen, exchange)
			if err != nil {
				return err
			}
			result, err = connector.FetchResources(ctx, creds, container, resource, page)
		}
		if err != nil {
			return err
		}

		canonical.AssignTenant(result.Records, tenantID)
		written, err := o.store.BatchUpsert(ctx, result.Records)
		if err != nil {
			return err
		}
		outcome.Upserted += written
		outcome.Skipped += result.Skipped

		if !result.HasMore {
			return nil
		}
		page = result.Next
	}

	return fmt.Errorf("aborted after %d pages, pagination did not terminate", o.cfg.MaxPagesPerContainer)
}
