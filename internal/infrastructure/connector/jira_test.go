package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

func newTestJiraConnector(baseURL string) *JiraConnector {
	c := NewJiraConnector(config.OAuthAppConfig{ClientID: "id", ClientSecret: "secret"}, zap.NewNop(), 0, 2)
	c.baseURL = baseURL
	c.client.backoff = 0
	return c
}

func jiraCreds() integration.Credentials {
	return integration.Credentials{
		Kind:        integration.AuthKindOAuth2,
		AccessToken: "tok",
		Attributes:  map[string]string{"cloud_id": "cloud-1"},
	}
}

func jiraProject(tenantID uuid.UUID) *canonical.Container {
	return &canonical.Container{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalRef:  canonical.ExternalRef{ExternalID: "PROJ", SourceTool: canonical.SourceToolJira},
		Name:         "Project",
	}
}

func TestJiraConnector_TestConnection(t *testing.T) {
	t.Run("discovers cloud id when absent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/oauth/token/accessible-resources":
				json.NewEncoder(w).Encode([]map[string]string{{"id": "cloud-9", "name": "acme"}})
			case "/ex/jira/cloud-9/rest/api/3/myself":
				json.NewEncoder(w).Encode(map[string]string{"accountId": "acct-1", "displayName": "Dana"})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))
		defer server.Close()

		c := newTestJiraConnector(server.URL)
		info, err := c.TestConnection(context.Background(), integration.Credentials{AccessToken: "tok"})
		require.NoError(t, err)
		assert.Equal(t, "acct-1", info.AccountID)
		assert.Equal(t, "cloud-9", info.Attributes["cloud_id"])
	})

	t.Run("bad token surfaces auth failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := newTestJiraConnector(server.URL)
		_, err := c.TestConnection(context.Background(), jiraCreds())
		assert.ErrorIs(t, err, integration.ErrAuthFailed)
	})
}

func TestJiraConnector_FetchResources(t *testing.T) {
	tenantID := uuid.New()

	issue := func(key, summary, status, priority string) map[string]any {
		return map[string]any{
			"id":  "1000" + key,
			"key": key,
			"fields": map[string]any{
				"summary":  summary,
				"status":   map[string]string{"name": status},
				"priority": map[string]string{"name": priority},
			},
		}
	}

	t.Run("normalizes and paginates with startAt offsets", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/ex/jira/cloud-1/rest/api/3/search", r.URL.Path)
			startAt := r.URL.Query().Get("startAt")
			switch startAt {
			case "0":
				json.NewEncoder(w).Encode(map[string]any{
					"startAt": 0, "total": 3,
					"issues": []any{
						issue("PROJ-1", "First", "In Review", "Highest"),
						issue("PROJ-2", "Second", "Done", "Low"),
					},
				})
			case "2":
				json.NewEncoder(w).Encode(map[string]any{
					"startAt": 2, "total": 3,
					"issues": []any{issue("PROJ-3", "Third", "To Do", "Medium")},
				})
			default:
				t.Errorf("unexpected startAt %q", startAt)
			}
		}))
		defer server.Close()

		c := newTestJiraConnector(server.URL)
		ctx := context.Background()

		first, err := c.FetchResources(ctx, jiraCreds(), jiraProject(tenantID), integration.ResourceTasks, integration.Page{})
		require.NoError(t, err)
		require.Len(t, first.Records, 2)
		assert.True(t, first.HasMore)
		assert.Equal(t, "2", first.Next.Token)

		task := first.Records[0].(*canonical.Task)
		assert.Equal(t, "PROJ-1", task.ExternalID)
		assert.Equal(t, canonical.TaskStatusInProgress, task.Status)
		assert.Equal(t, canonical.TaskPriorityUrgent, task.Priority)

		done := first.Records[1].(*canonical.Task)
		assert.Equal(t, canonical.TaskStatusDone, done.Status)
		assert.Equal(t, canonical.TaskPriorityLow, done.Priority)

		second, err := c.FetchResources(ctx, jiraCreds(), jiraProject(tenantID), integration.ResourceTasks, first.Next)
		require.NoError(t, err)
		require.Len(t, second.Records, 1)
		assert.False(t, second.HasMore)
	})

	t.Run("skips issues without a key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"startAt": 0, "total": 2,
				"issues": []any{
					map[string]any{"id": "9", "fields": map[string]any{"summary": "orphan"}},
					issue("PROJ-4", "Valid", "Open", ""),
				},
			})
		}))
		defer server.Close()

		c := newTestJiraConnector(server.URL)
		result, err := c.FetchResources(context.Background(), jiraCreds(), jiraProject(tenantID), integration.ResourceTasks, integration.Page{})
		require.NoError(t, err)
		assert.Len(t, result.Records, 1)
		assert.Equal(t, 1, result.Skipped)
	})

	t.Run("requires a container", func(t *testing.T) {
		c := newTestJiraConnector("http://unused")
		_, err := c.FetchResources(context.Background(), jiraCreds(), nil, integration.ResourceTasks, integration.Page{})
		assert.Error(t, err)
	})
}

func TestFlattenJiraDescription(t *testing.T) {
	t.Run("plain string passes through", func(t *testing.T) {
		assert.Equal(t, "hello", FlattenJiraDescription("hello"))
	})

	t.Run("extracts text from document format", func(t *testing.T) {
		adf := map[string]any{
			"type": "doc",
			"content": []any{
				map[string]any{
					"type": "paragraph",
					"content": []any{
						map[string]any{"type": "text", "text": "line one"},
					},
				},
				map[string]any{
					"type": "paragraph",
					"content": []any{
						map[string]any{"type": "text", "text": "line two"},
					},
				},
			},
		}
		assert.Equal(t, "line one\nline two", FlattenJiraDescription(adf))
	})

	t.Run("nil is empty", func(t *testing.T) {
		assert.Empty(t, FlattenJiraDescription(nil))
	})
}
