package webhook

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
)

const asanaHookSecret = "asana-hook-secret"

func asanaSignedHeader(body []byte) http.Header {
	return headerWith("X-Hook-Signature", hmacHex(body, asanaHookSecret))
}

func newAsanaEnv(t *testing.T) (*testEnv, uuid.UUID) {
	t.Helper()
	tenantID := uuid.New()
	integ := testIntegration(tenantID, canonical.SourceToolAsana)
	integ.SetWebhook("wh-asana-1", asanaHookSecret)
	env := newTestEnv(t, integ)
	env.addContainer(tenantID, canonical.SourceToolAsana, "proj-100", "Roadmap")
	return env, tenantID
}

func TestAsanaHandshakeStoresSecretAndEchoes(t *testing.T) {
	tenantID := uuid.New()
	pending := testIntegration(tenantID, canonical.SourceToolAsana)
	pending.SetWebhook("wh-asana-2", "")
	env := newTestEnv(t, pending)

	result, err := env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: headerWith("X-Hook-Secret", "fresh-secret"),
		Body:   []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, KindHandshake, result.Kind)
	assert.Equal(t, "fresh-secret", result.EchoHeader.Get("X-Hook-Secret"))
	assert.Equal(t, "fresh-secret", pending.WebhookSecret)

	// a handshake with nothing pending is rejected
	env2 := newTestEnv(t)
	_, err = env2.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: headerWith("X-Hook-Secret", "orphan"),
		Body:   []byte(`{}`),
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAsanaTaskAddedCreatesStub(t *testing.T) {
	env, tenantID := newAsanaEnv(t)

	body := []byte(`{"events":[{"action":"added","resource":{"gid":"task-1","resource_type":"task"},"parent":{"gid":"proj-100","resource_type":"project"}}]}`)
	result, err := env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: asanaSignedHeader(body),
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, KindCreated, result.Kind)

	task, err := env.store.FindTask(context.Background(), tenantID, canonical.ExternalRef{
		ExternalID: "task-1", SourceTool: canonical.SourceToolAsana,
	})
	require.NoError(t, err)
	assert.Equal(t, canonical.TaskStatusOpen, task.Status)
	assert.Equal(t, true, task.Attributes["pending_refresh"])
	require.NotNil(t, task.ContainerID)
}

func TestAsanaTaskAddedReplayKeepsSyncedRow(t *testing.T) {
	env, tenantID := newAsanaEnv(t)
	ref := canonical.ExternalRef{ExternalID: "task-2", SourceTool: canonical.SourceToolAsana}

	synced := &canonical.Task{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef:  ref,
		Title:        "Filled by sync",
		Status:       canonical.TaskStatusInProgress,
	}
	require.NoError(t, env.store.Upsert(context.Background(), synced))

	body := []byte(`{"events":[{"action":"added","resource":{"gid":"task-2","resource_type":"task"}}]}`)
	_, err := env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: asanaSignedHeader(body),
		Body:   body,
	})
	require.NoError(t, err)

	task, err := env.store.FindTask(context.Background(), tenantID, ref)
	require.NoError(t, err)
	assert.Equal(t, "Filled by sync", task.Title)
}

func TestAsanaTaskChangedFlagsForRefresh(t *testing.T) {
	env, tenantID := newAsanaEnv(t)
	ref := canonical.ExternalRef{ExternalID: "task-3", SourceTool: canonical.SourceToolAsana}

	synced := &canonical.Task{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef:  ref,
		Title:        "Known task",
		Status:       canonical.TaskStatusOpen,
	}
	require.NoError(t, env.store.Upsert(context.Background(), synced))

	body := []byte(`{"events":[{"action":"changed","resource":{"gid":"task-3","resource_type":"task"}}]}`)
	result, err := env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: asanaSignedHeader(body),
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, KindUpdated, result.Kind)

	task, err := env.store.FindTask(context.Background(), tenantID, ref)
	require.NoError(t, err)
	assert.Equal(t, "Known task", task.Title)
	assert.Equal(t, true, task.Attributes["pending_refresh"])
}

func TestAsanaTaskDeleted(t *testing.T) {
	env, tenantID := newAsanaEnv(t)
	ref := canonical.ExternalRef{ExternalID: "task-4", SourceTool: canonical.SourceToolAsana}

	require.NoError(t, env.store.Upsert(context.Background(), &canonical.Task{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef:  ref,
	}))

	body := []byte(`{"events":[{"action":"deleted","resource":{"gid":"task-4","resource_type":"task"}}]}`)
	result, err := env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: asanaSignedHeader(body),
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, KindDeleted, result.Kind)
	assert.Empty(t, env.store.records)
}

func TestAsanaStoryBumpsCommentCount(t *testing.T) {
	env, tenantID := newAsanaEnv(t)
	ref := canonical.ExternalRef{ExternalID: "task-5", SourceTool: canonical.SourceToolAsana}

	require.NoError(t, env.store.Upsert(context.Background(), &canonical.Task{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef:  ref,
		Title:        "Discussed",
	}))

	body := []byte(`{"events":[{"action":"added","resource":{"gid":"story-1","resource_type":"story"},"parent":{"gid":"task-5","resource_type":"task"}}]}`)
	result, err := env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: asanaSignedHeader(body),
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, KindCommentCreated, result.Kind)

	task, err := env.store.FindTask(context.Background(), tenantID, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attributes["comment_count"])
}

func TestAsanaRejectsBadSignature(t *testing.T) {
	env, _ := newAsanaEnv(t)

	body := []byte(`{"events":[]}`)
	_, err := env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: headerWith("X-Hook-Signature", hmacHex(body, "wrong-secret")),
		Body:   body,
	})
	assert.ErrorIs(t, err, integration.ErrWebhookSignature)

	_, err = env.svc.Process(context.Background(), canonical.SourceToolAsana, Request{
		Header: headerWith(),
		Body:   body,
	})
	assert.ErrorIs(t, err, integration.ErrWebhookSignature)
}
