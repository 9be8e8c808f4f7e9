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
	jiraAPIBaseURL    = "https://api.atlassian.com"
	jiraTokenURL      = "https://auth.atlassian.com/oauth/token"
	jiraAttrCloudID   = "cloud_id"
	jiraDueDateLayout = "2006-01-02"
)

// JiraConnector syncs issues from Jira Cloud via the OAuth 2.0 (3LO) API.
// Containers are Jira projects keyed by project key.
type JiraConnector struct {
	app      config.OAuthAppConfig
	client   *client
	logger   *zap.Logger
	pageSize int
	// baseURL and tokenURL are overridable for tests
	baseURL  string
	tokenURL string
}

// NewJiraConnector creates a new Jira connector
func NewJiraConnector(app config.OAuthAppConfig, logger *zap.Logger, retries, pageSize int) *JiraConnector {
	log := logger.Named("jira")
	return &JiraConnector{
		app:      app,
		client:   newClient(log, retries),
		logger:   log,
		pageSize: pageSize,
		baseURL:  jiraAPIBaseURL,
		tokenURL: jiraTokenURL,
	}
}

// Provider returns the source tool this connector handles
func (c *JiraConnector) Provider() canonical.SourceTool {
	return canonical.SourceToolJira
}

// Resources returns the resource types in sync order
func (c *JiraConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{integration.ResourceTasks}
}

// siteURL builds a cloud-scoped API url. The cloud id is discovered during
// the connect handshake and stored as a provider attribute.
func (c *JiraConnector) siteURL(creds integration.Credentials, path string) (string, error) {
	cloudID := creds.Attr(jiraAttrCloudID)
	if cloudID == "" {
		return "", fmt.Errorf("%w: jira cloud id not on record", integration.ErrMissingCredentials)
	}
	return fmt.Sprintf("%s/ex/jira/%s%s", c.baseURL, cloudID, path), nil
}

type jiraAccessibleResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type jiraMyself struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// TestConnection resolves the accessible cloud site and verifies the token
// against it. The discovered cloud id is returned for storage on the
// Integration.
func (c *JiraConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	cloudID := creds.Attr(jiraAttrCloudID)
	siteName := ""
	if cloudID == "" {
		var sites []jiraAccessibleResource
		err := c.client.doJSON(ctx, request{
			method: http.MethodGet,
			url:    c.baseURL + "/oauth/token/accessible-resources",
			header: bearerHeader(creds.AccessToken),
		}, &sites)
		if err != nil {
			return nil, err
		}
		if len(sites) == 0 {
			return nil, fmt.Errorf("%w: token grants access to no jira site", integration.ErrAuthFailed)
		}
		cloudID = sites[0].ID
		siteName = sites[0].Name
	}

	var me jiraMyself
	target := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/myself", c.baseURL, cloudID)
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    target,
		header: bearerHeader(creds.AccessToken),
	}, &me); err != nil {
		return nil, err
	}

	return &integration.AccountInfo{
		AccountID:   me.AccountID,
		AccountName: me.DisplayName,
		Attributes:  map[string]string{jiraAttrCloudID: cloudID, "site_name": siteName},
	}, nil
}

// RefreshCredentials exchanges the refresh token at the Atlassian token endpoint
func (c *JiraConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return refreshOAuthToken(ctx, c.app, c.tokenURL, creds)
}

type jiraSearchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

type jiraIssue struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields jiraIssueFields `json:"fields"`
}

type jiraIssueFields struct {
	Summary     string `json:"summary"`
	Description any    `json:"description"`
	Status      *struct {
		Name string `json:"name"`
	} `json:"status"`
	Priority *struct {
		Name string `json:"name"`
	} `json:"priority"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	DueDate string `json:"duedate"`
	Updated string `json:"updated"`
}

// FetchResources pages through the issues of one project. The page token is
// the startAt offset.
func (c *JiraConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	if resource != integration.ResourceTasks {
		return nil, fmt.Errorf("%w: jira does not serve resource %q", integration.ErrInvalidResponse, resource)
	}
	if container == nil {
		return nil, fmt.Errorf("%w: jira issue sync requires a project container", integration.ErrInvalidResponse)
	}

	startAt := 0
	if !page.First() {
		n, err := strconv.Atoi(page.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: bad page token %q", integration.ErrInvalidResponse, page.Token)
		}
		startAt = n
	}

	target, err := c.siteURL(creds, "/rest/api/3/search")
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("jql", fmt.Sprintf("project=%q ORDER BY created ASC", container.ExternalID))
	query.Set("startAt", strconv.Itoa(startAt))
	query.Set("maxResults", strconv.Itoa(c.pageSize))
	query.Set("fields", "summary,description,status,priority,assignee,duedate,updated")

	var resp jiraSearchResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    target,
		query:  query,
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, err
	}

	result := &integration.FetchResult{}
	for _, issue := range resp.Issues {
		if issue.Key == "" {
			c.logger.Warn("skipping issue without key", zap.String("id", issue.ID))
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, normalizeJiraIssue(issue, container))
	}

	next := startAt + len(resp.Issues)
	result.HasMore = next < resp.Total && len(resp.Issues) > 0
	if result.HasMore {
		result.Next = integration.Page{Token: strconv.Itoa(next)}
	}
	return result, nil
}

// normalizeJiraIssue maps a Jira issue onto the canonical task
func normalizeJiraIssue(issue jiraIssue, container *canonical.Container) *canonical.Task {
	task := &canonical.Task{
		ExternalRef: canonical.ExternalRef{ExternalID: issue.Key, SourceTool: canonical.SourceToolJira},
		Title:       issue.Fields.Summary,
		Description: FlattenJiraDescription(issue.Fields.Description),
		Status:      canonical.TaskStatusOpen,
		Priority:    canonical.NormalizePriority(""),
		Attributes:  canonical.Attributes{"issue_id": issue.ID},
	}
	if container != nil {
		id := container.ID
		task.ContainerID = &id
	}
	if issue.Fields.Status != nil {
		task.Status = canonical.NormalizeStatus(issue.Fields.Status.Name)
		task.Attributes["provider_status"] = issue.Fields.Status.Name
	}
	if issue.Fields.Priority != nil {
		task.Priority = canonical.NormalizePriority(issue.Fields.Priority.Name)
		task.Attributes["provider_priority"] = issue.Fields.Priority.Name
	}
	if issue.Fields.Assignee != nil {
		task.Assignee = issue.Fields.Assignee.DisplayName
	}
	if issue.Fields.DueDate != "" {
		if due, err := time.Parse(jiraDueDateLayout, issue.Fields.DueDate); err == nil {
			task.DueAt = &due
		}
	}
	return task
}

// FlattenJiraDescription extracts plain text from either a legacy string
// description or an Atlassian Document Format tree
func FlattenJiraDescription(desc any) string {
	switch v := desc.(type) {
	case string:
		return v
	case map[string]any:
		return flattenADFNode(v)
	default:
		return ""
	}
}

func flattenADFNode(node map[string]any) string {
	if text, ok := node["text"].(string); ok {
		return text
	}
	content, ok := node["content"].([]any)
	if !ok {
		return ""
	}
	out := ""
	for _, child := range content {
		childNode, ok := child.(map[string]any)
		if !ok {
			continue
		}
		if part := flattenADFNode(childNode); part != "" {
			if out != "" {
				out += "\n"
			}
			out += part
		}
	}
	return out
}

type jiraProjectSearchResponse struct {
	StartAt int  `json:"startAt"`
	Total   int  `json:"total"`
	IsLast  bool `json:"isLast"`
	Values  []struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"values"`
}

// ListContainers enumerates the Jira projects visible to the token
func (c *JiraConnector) ListContainers(ctx context.Context, creds integration.Credentials, page integration.Page) ([]canonical.Container, integration.Page, bool, error) {
	startAt := 0
	if !page.First() {
		n, err := strconv.Atoi(page.Token)
		if err != nil {
			return nil, integration.Page{}, false, fmt.Errorf("%w: bad page token %q", integration.ErrInvalidResponse, page.Token)
		}
		startAt = n
	}

	target, err := c.siteURL(creds, "/rest/api/3/project/search")
	if err != nil {
		return nil, integration.Page{}, false, err
	}

	query := url.Values{}
	query.Set("startAt", strconv.Itoa(startAt))
	query.Set("maxResults", strconv.Itoa(c.pageSize))

	var resp jiraProjectSearchResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    target,
		query:  query,
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, integration.Page{}, false, err
	}

	containers := make([]canonical.Container, 0, len(resp.Values))
	for _, p := range resp.Values {
		containers = append(containers, canonical.Container{
			ExternalRef: canonical.ExternalRef{ExternalID: p.Key, SourceTool: canonical.SourceToolJira},
			Name:        p.Name,
			Attributes:  canonical.Attributes{"project_id": p.ID},
		})
	}

	next := integration.Page{}
	hasMore := !resp.IsLast && len(resp.Values) > 0
	if hasMore {
		next.Token = strconv.Itoa(startAt + len(resp.Values))
	}
	return containers, next, hasMore, nil
}

type jiraWebhookRegisterResponse struct {
	WebhookRegistrationResult []struct {
		CreatedWebhookID int      `json:"createdWebhookId"`
		Errors           []string `json:"errors"`
	} `json:"webhookRegistrationResult"`
}

// RegisterWebhook registers a dynamic webhook for issue events. Jira does
// not sign deliveries; authentication rests on the stored webhook id.
func (c *JiraConnector) RegisterWebhook(ctx context.Context, creds integration.Credentials, callbackURL string) (*integration.WebhookRegistration, error) {
	target, err := c.siteURL(creds, "/rest/api/3/webhook")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"url": callbackURL,
		"webhooks": []map[string]any{
			{
				"events":           []string{"jira:issue_created", "jira:issue_updated", "jira:issue_deleted", "comment_created", "comment_updated", "comment_deleted"},
				"jqlFilter":        "project is not empty",
				"fieldIdsFilter":   []string{},
				"issuePropertyKeysFilter": []string{},
			},
		},
	}

	var resp jiraWebhookRegisterResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodPost,
		url:    target,
		header: bearerHeader(creds.AccessToken),
		body:   body,
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.WebhookRegistrationResult) == 0 {
		return nil, fmt.Errorf("%w: empty webhook registration result", integration.ErrInvalidResponse)
	}
	first := resp.WebhookRegistrationResult[0]
	if len(first.Errors) > 0 {
		return nil, fmt.Errorf("%w: webhook registration rejected: %v", integration.ErrInvalidResponse, first.Errors)
	}

	return &integration.WebhookRegistration{ID: strconv.Itoa(first.CreatedWebhookID)}, nil
}

// UnregisterWebhook removes a previously registered webhook
func (c *JiraConnector) UnregisterWebhook(ctx context.Context, creds integration.Credentials, webhookID string) error {
	target, err := c.siteURL(creds, "/rest/api/3/webhook")
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(webhookID)
	if err != nil {
		return fmt.Errorf("%w: bad webhook id %q", integration.ErrInvalidResponse, webhookID)
	}
	return c.client.doJSON(ctx, request{
		method: http.MethodDelete,
		url:    target,
		header: bearerHeader(creds.AccessToken),
		body:   map[string]any{"webhookIds": []int{id}},
	}, nil)
}

// Interface conformance
var (
	_ integration.Connector        = (*JiraConnector)(nil)
	_ integration.ContainerLister  = (*JiraConnector)(nil)
	_ integration.WebhookRegistrar = (*JiraConnector)(nil)
)
