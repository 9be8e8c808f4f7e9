package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

const (
	asanaAPIBaseURL        = "https://app.asana.com/api/1.0"
	asanaTokenURL          = "https://app.asana.com/-/oauth_token"
	asanaAttrWorkspaceGID  = "workspace_gid"
	asanaAttrWorkspaceName = "workspace_name"
	asanaDueDateLayout     = "2006-01-02"
)

// AsanaConnector syncs tasks from Asana. Containers are Asana projects
// keyed by project gid.
type AsanaConnector struct {
	app      config.OAuthAppConfig
	client   *client
	logger   *zap.Logger
	pageSize int
	baseURL  string
	tokenURL string
}

// NewAsanaConnector creates a new Asana connector
func NewAsanaConnector(app config.OAuthAppConfig, logger *zap.Logger, retries, pageSize int) *AsanaConnector {
	log := logger.Named("asana")
	return &AsanaConnector{
		app:      app,
		client:   newClient(log, retries),
		logger:   log,
		pageSize: pageSize,
		baseURL:  asanaAPIBaseURL,
		tokenURL: asanaTokenURL,
	}
}

// Provider returns the source tool this connector handles
func (c *AsanaConnector) Provider() canonical.SourceTool {
	return canonical.SourceToolAsana
}

// Resources returns the resource types in sync order
func (c *AsanaConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{integration.ResourceTasks}
}

type asanaUserResponse struct {
	Data struct {
		GID        string `json:"gid"`
		Name       string `json:"name"`
		Workspaces []struct {
			GID  string `json:"gid"`
			Name string `json:"name"`
		} `json:"workspaces"`
	} `json:"data"`
}

// TestConnection verifies the token and discovers the default workspace
func (c *AsanaConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	var resp asanaUserResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/users/me",
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, err
	}

	attrs := map[string]string{}
	if ws := creds.Attr(asanaAttrWorkspaceGID); ws != "" {
		attrs[asanaAttrWorkspaceGID] = ws
	} else if len(resp.Data.Workspaces) > 0 {
		attrs[asanaAttrWorkspaceGID] = resp.Data.Workspaces[0].GID
		attrs[asanaAttrWorkspaceName] = resp.Data.Workspaces[0].Name
	}

	return &integration.AccountInfo{
		AccountID:   resp.Data.GID,
		AccountName: resp.Data.Name,
		Attributes:  attrs,
	}, nil
}

// RefreshCredentials exchanges the refresh token at the Asana token endpoint
func (c *AsanaConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return refreshOAuthToken(ctx, c.app, c.tokenURL, creds)
}

type asanaTasksResponse struct {
	Data     []asanaTask `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

type asanaTask struct {
	GID       string `json:"gid"`
	Name      string `json:"name"`
	Notes     string `json:"notes"`
	Completed bool   `json:"completed"`
	DueOn     string `json:"due_on"`
	Assignee  *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	NumLikes int `json:"num_likes"`
}

// FetchResources pages through the tasks of one project. The page token is
// the Asana continuation offset.
func (c *AsanaConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	if resource != integration.ResourceTasks {
		return nil, fmt.Errorf("%w: asana does not serve resource %q", integration.ErrInvalidResponse, resource)
	}
	if container == nil {
		return nil, fmt.Errorf("%w: asana task sync requires a project container", integration.ErrInvalidResponse)
	}

	query := url.Values{}
	query.Set("project", container.ExternalID)
	query.Set("limit", strconv.Itoa(c.pageSize))
	query.Set("opt_fields", "name,notes,completed,due_on,assignee.name,num_likes")
	if !page.First() {
		query.Set("offset", page.Token)
	}

	var resp asanaTasksResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/tasks",
		query:  query,
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, err
	}

	result := &integration.FetchResult{}
	for _, t := range resp.Data {
		if t.GID == "" {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, normalizeAsanaTask(t, container))
	}
	if resp.NextPage != nil && resp.NextPage.Offset != "" {
		result.Next = integration.Page{Token: resp.NextPage.Offset}
		result.HasMore = true
	}
	return result, nil
}

// normalizeAsanaTask maps an Asana task onto the canonical task. Asana has a
// boolean completion flag rather than a status field, and no native priority.
func normalizeAsanaTask(t asanaTask, container *canonical.Container) *canonical.Task {
	status := canonical.TaskStatusOpen
	if t.Completed {
		status = canonical.TaskStatusDone
	}
	task := &canonical.Task{
		ExternalRef: canonical.ExternalRef{ExternalID: t.GID, SourceTool: canonical.SourceToolAsana},
		Title:       t.Name,
		Description: t.Notes,
		Status:      status,
		Priority:    canonical.NormalizePriority(""),
		Attributes:  canonical.Attributes{"num_likes": t.NumLikes},
	}
	if container != nil {
		id := container.ID
		task.ContainerID = &id
	}
	if t.Assignee != nil {
		task.Assignee = t.Assignee.Name
	}
	if t.DueOn != "" {
		if due, err := time.Parse(asanaDueDateLayout, t.DueOn); err == nil {
			task.DueAt = &due
		}
	}
	return task
}

type asanaProjectsResponse struct {
	Data []struct {
		GID  string `json:"gid"`
		Name string `json:"name"`
	} `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

// ListContainers enumerates the projects of the linked workspace
func (c *AsanaConnector) ListContainers(ctx context.Context, creds integration.Credentials, page integration.Page) ([]canonical.Container, integration.Page, bool, error) {
	workspace := creds.Attr(asanaAttrWorkspaceGID)
	if workspace == "" {
		return nil, integration.Page{}, false, fmt.Errorf("%w: asana workspace not on record", integration.ErrMissingCredentials)
	}

	query := url.Values{}
	query.Set("workspace", workspace)
	query.Set("limit", strconv.Itoa(c.pageSize))
	if !page.First() {
		query.Set("offset", page.Token)
	}

	var resp asanaProjectsResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/projects",
		query:  query,
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, integration.Page{}, false, err
	}

	containers := make([]canonical.Container, 0, len(resp.Data))
	for _, p := range resp.Data {
		containers = append(containers, canonical.Container{
			ExternalRef: canonical.ExternalRef{ExternalID: p.GID, SourceTool: canonical.SourceToolAsana},
			Name:        p.Name,
		})
	}

	next := integration.Page{}
	hasMore := false
	if resp.NextPage != nil && resp.NextPage.Offset != "" {
		next.Token = resp.NextPage.Offset
		hasMore = true
	}
	return containers, next, hasMore, nil
}

type asanaWebhookResponse struct {
	Data struct {
		GID string `json:"gid"`
	} `json:"data"`
}

// RegisterWebhook registers a workspace-level webhook. Asana delivers the
// shared secret out of band via the X-Hook-Secret handshake on the first
// delivery, so the registration carries no secret yet.
func (c *AsanaConnector) RegisterWebhook(ctx context.Context, creds integration.Credentials, callbackURL string) (*integration.WebhookRegistration, error) {
	workspace := creds.Attr(asanaAttrWorkspaceGID)
	if workspace == "" {
		return nil, fmt.Errorf("%w: asana workspace not on record", integration.ErrMissingCredentials)
	}

	var resp asanaWebhookResponse
	err := c.client.doJSON(ctx, request{
		method: http.MethodPost,
		url:    c.baseURL + "/webhooks",
		header: bearerHeader(creds.AccessToken),
		body: map[string]any{
			"data": map[string]any{
				"resource": workspace,
				"target":   callbackURL,
			},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &integration.WebhookRegistration{ID: resp.Data.GID}, nil
}

// UnregisterWebhook removes a previously registered webhook
func (c *AsanaConnector) UnregisterWebhook(ctx context.Context, creds integration.Credentials, webhookID string) error {
	return c.client.doJSON(ctx, request{
		method: http.MethodDelete,
		url:    c.baseURL + "/webhooks/" + webhookID,
		header: bearerHeader(creds.AccessToken),
	}, nil)
}

// Interface conformance
var (
	_ integration.Connector        = (*AsanaConnector)(nil)
	_ integration.ContainerLister  = (*AsanaConnector)(nil)
	_ integration.WebhookRegistrar = (*AsanaConnector)(nil)
)
