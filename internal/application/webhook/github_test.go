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
)

const githubHookSecret = "gh-hook-secret"

func githubHeader(body []byte, event, delivery string) http.Header {
	return headerWith(
		"X-GitHub-Event", event,
		"X-GitHub-Delivery", delivery,
		"X-Hub-Signature-256", "sha256="+hmacHex(body, githubHookSecret),
	)
}

func newGitHubEnv(t *testing.T) (*testEnv, uuid.UUID) {
	t.Helper()
	tenantID := uuid.New()
	integ := testIntegration(tenantID, canonical.SourceToolGitHub)
	integ.SetWebhook("9001", githubHookSecret)
	env := newTestEnv(t, integ)
	env.addContainer(tenantID, canonical.SourceToolGitHub, "acme/api", "acme/api")
	return env, tenantID
}

func TestGitHubPushWritesCommitsAndBranchHead(t *testing.T) {
	env, tenantID := newGitHubEnv(t)

	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"full_name": "acme/api"},
		"commits": [
			{"id": "abc122", "message": "first", "timestamp": "2025-08-30T10:00:00Z", "author": {"name": "Dana", "email": "dana@acme.dev"}},
			{"id": "abc123", "message": "second", "timestamp": "2025-08-30T10:05:00Z", "author": {"name": "Dana", "email": "dana@acme.dev"}}
		]
	}`)

	result, err := env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(body, "push", "delivery-1"),
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, KindCreated, result.Kind)

	// two commits plus the branch head
	assert.Len(t, env.store.records, 3)

	key := storeKey(tenantID, canonical.ExternalRef{ExternalID: "acme/api:main", SourceTool: canonical.SourceToolGitHub})
	branch, ok := env.store.records[key].(*canonical.Branch)
	require.True(t, ok)
	assert.Equal(t, "abc123", branch.HeadSHA)
	assert.Equal(t, "main", branch.Name)
}

func TestGitHubPushReplayConverges(t *testing.T) {
	env, _ := newGitHubEnv(t)

	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"full_name": "acme/api"},
		"commits": [{"id": "abc123", "message": "only", "timestamp": "2025-08-30T10:00:00Z", "author": {"name": "Dana", "email": "d@acme.dev"}}]
	}`)

	_, err := env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(body, "push", "delivery-1"),
		Body:   body,
	})
	require.NoError(t, err)

	// the provider retried with the same delivery id
	result, err := env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(body, "push", "delivery-1"),
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, result.Kind)
	assert.False(t, result.Applied)
	assert.Len(t, env.store.records, 2)
}

func TestGitHubPullRequestEvent(t *testing.T) {
	env, tenantID := newGitHubEnv(t)

	body := []byte(`{
		"action": "closed",
		"repository": {"full_name": "acme/api"},
		"pull_request": {
			"id": 4242,
			"number": 17,
			"state": "closed",
			"title": "Add metrics",
			"user": {"login": "dana"},
			"head": {"ref": "feature/metrics"},
			"base": {"ref": "main"},
			"merged_at": "2025-08-30T12:00:00Z"
		}
	}`)

	result, err := env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(body, "pull_request", "delivery-2"),
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, KindUpdated, result.Kind)

	key := storeKey(tenantID, canonical.ExternalRef{ExternalID: "4242", SourceTool: canonical.SourceToolGitHub})
	pr, ok := env.store.records[key].(*canonical.PullRequest)
	require.True(t, ok)
	assert.Equal(t, 17, pr.Number)
	assert.Equal(t, canonical.TaskStatusDone, pr.Status)
	assert.Equal(t, "dana", pr.Author)
	assert.Equal(t, "feature/metrics", pr.SourceRef)
	assert.Equal(t, "main", pr.TargetRef)
}

func TestGitHubBranchCreateAndDelete(t *testing.T) {
	env, tenantID := newGitHubEnv(t)
	ref := canonical.ExternalRef{ExternalID: "acme/api:release/1.2", SourceTool: canonical.SourceToolGitHub}

	createBody := []byte(`{"ref": "release/1.2", "ref_type": "branch", "repository": {"full_name": "acme/api"}}`)
	result, err := env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(createBody, "create", "delivery-3"),
		Body:   createBody,
	})
	require.NoError(t, err)
	assert.Equal(t, KindCreated, result.Kind)
	_, ok := env.store.records[storeKey(tenantID, ref)]
	assert.True(t, ok)

	deleteBody := []byte(`{"ref": "release/1.2", "ref_type": "branch", "repository": {"full_name": "acme/api"}}`)
	result, err = env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(deleteBody, "delete", "delivery-4"),
		Body:   deleteBody,
	})
	require.NoError(t, err)
	assert.Equal(t, KindDeleted, result.Kind)
	_, ok = env.store.records[storeKey(tenantID, ref)]
	assert.False(t, ok)

	// tag events pass through untouched
	tagBody := []byte(`{"ref": "v1.2.0", "ref_type": "tag", "repository": {"full_name": "acme/api"}}`)
	result, err = env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(tagBody, "create", "delivery-5"),
		Body:   tagBody,
	})
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, result.Kind)
}

func TestGitHubRejectsBadSignature(t *testing.T) {
	env, _ := newGitHubEnv(t)

	body := []byte(`{"repository": {"full_name": "acme/api"}}`)
	_, err := env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: headerWith(
			"X-GitHub-Event", "push",
			"X-Hub-Signature-256", "sha256="+hmacHex(body, "wrong-secret"),
		),
		Body: body,
	})
	assert.ErrorIs(t, err, integration.ErrWebhookSignature)

	_, err = env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: headerWith("X-GitHub-Event", "push"),
		Body:   body,
	})
	assert.ErrorIs(t, err, integration.ErrWebhookSignature)
}

func TestGitHubSignatureResolvesTenant(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	integA := testIntegration(tenantA, canonical.SourceToolGitHub)
	integA.SetWebhook("1", "secret-a")
	integB := testIntegration(tenantB, canonical.SourceToolGitHub)
	integB.SetWebhook("2", githubHookSecret)

	env := newTestEnv(t, integA, integB)
	env.addContainer(tenantB, canonical.SourceToolGitHub, "acme/api", "acme/api")

	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "fff000",
		"repository": {"full_name": "acme/api"},
		"commits": []
	}`)
	_, err := env.svc.Process(context.Background(), canonical.SourceToolGitHub, Request{
		Header: githubHeader(body, "push", "delivery-6"),
		Body:   body,
	})
	require.NoError(t, err)

	key := storeKey(tenantB, canonical.ExternalRef{ExternalID: "acme/api:main", SourceTool: canonical.SourceToolGitHub})
	branch, ok := env.store.records[key].(*canonical.Branch)
	require.True(t, ok)
	assert.Equal(t, tenantB, branch.TenantID)
}
