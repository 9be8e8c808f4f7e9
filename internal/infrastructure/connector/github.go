package connector

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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
	githubAPIBaseURL = "https://api.github.com"
	githubTokenURL   = "https://github.com/login/oauth/access_token"
	githubAttrLogin  = "login"
)

// GitHubConnector syncs commits, pull requests, branches and contributors.
// Containers are repositories keyed by "owner/name".
type GitHubConnector struct {
	app      config.OAuthAppConfig
	client   *client
	logger   *zap.Logger
	pageSize int
	baseURL  string
	tokenURL string
}

// NewGitHubConnector creates a new GitHub connector
func NewGitHubConnector(app config.OAuthAppConfig, logger *zap.Logger, retries, pageSize int) *GitHubConnector {
	log := logger.Named("github")
	return &GitHubConnector{
		app:      app,
		client:   newClient(log, retries),
		logger:   log,
		pageSize: pageSize,
		baseURL:  githubAPIBaseURL,
		tokenURL: githubTokenURL,
	}
}

// Provider returns the source tool this connector handles
func (c *GitHubConnector) Provider() canonical.SourceTool {
	return canonical.SourceToolGitHub
}

// Resources returns the resource types in sync order
func (c *GitHubConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{
		integration.ResourceCommits,
		integration.ResourcePullRequests,
		integration.ResourceBranches,
		integration.ResourceContributors,
	}
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

// TestConnection verifies the token against the authenticated user endpoint
func (c *GitHubConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	var user githubUser
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/user",
		header: bearerHeader(creds.AccessToken),
	}, &user); err != nil {
		return nil, err
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	return &integration.AccountInfo{
		AccountID:   strconv.FormatInt(user.ID, 10),
		AccountName: name,
		Attributes:  map[string]string{githubAttrLogin: user.Login},
	}, nil
}

// RefreshCredentials exchanges the refresh token. GitHub App user tokens
// expire after eight hours; classic OAuth tokens never call this.
func (c *GitHubConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return refreshOAuthToken(ctx, c.app, c.tokenURL, creds)
}

// pageNumber decodes the page token; GitHub pagination is 1-based
func pageNumber(page integration.Page) (int, error) {
	if page.First() {
		return 1, nil
	}
	n, err := strconv.Atoi(page.Token)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: bad page token %q", integration.ErrInvalidResponse, page.Token)
	}
	return n, nil
}

// FetchResources pages through one repository resource. The page token is
// the 1-based page number; hasMore is inferred from a full page.
func (c *GitHubConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	if container == nil {
		return nil, fmt.Errorf("%w: github sync requires a repository container", integration.ErrInvalidResponse)
	}
	pageNum, err := pageNumber(page)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("per_page", strconv.Itoa(c.pageSize))
	query.Set("page", strconv.Itoa(pageNum))

	repo := container.ExternalID
	var (
		records []canonical.Record
		skipped int
		count   int
	)

	switch resource {
	case integration.ResourceCommits:
		var commits []githubCommit
		if err := c.get(ctx, creds, "/repos/"+repo+"/commits", query, &commits); err != nil {
			return nil, err
		}
		count = len(commits)
		for _, gc := range commits {
			if gc.SHA == "" {
				skipped++
				continue
			}
			records = append(records, normalizeGitHubCommit(gc, container))
		}
	case integration.ResourcePullRequests:
		query.Set("state", "all")
		var pulls []githubPullRequest
		if err := c.get(ctx, creds, "/repos/"+repo+"/pulls", query, &pulls); err != nil {
			return nil, err
		}
		count = len(pulls)
		for _, pr := range pulls {
			records = append(records, normalizeGitHubPullRequest(pr, container))
		}
	case integration.ResourceBranches:
		var branches []githubBranch
		if err := c.get(ctx, creds, "/repos/"+repo+"/branches", query, &branches); err != nil {
			return nil, err
		}
		count = len(branches)
		for _, b := range branches {
			records = append(records, normalizeGitHubBranch(b, container))
		}
	case integration.ResourceContributors:
		var contributors []githubContributor
		if err := c.get(ctx, creds, "/repos/"+repo+"/contributors", query, &contributors); err != nil {
			return nil, err
		}
		count = len(contributors)
		for _, gc := range contributors {
			records = append(records, normalizeGitHubContributor(gc, container))
		}
	default:
		return nil, fmt.Errorf("%w: github does not serve resource %q", integration.ErrInvalidResponse, resource)
	}

	result := &integration.FetchResult{Records: records, Skipped: skipped}
	if count == c.pageSize {
		result.Next = integration.Page{Token: strconv.Itoa(pageNum + 1)}
		result.HasMore = true
	}
	return result, nil
}

func (c *GitHubConnector) get(ctx context.Context, creds integration.Credentials, path string, query url.Values, out any) error {
	return c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + path,
		query:  query,
		header: bearerHeader(creds.AccessToken),
	}, out)
}

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name  string    `json:"name"`
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

func normalizeGitHubCommit(gc githubCommit, container *canonical.Container) *canonical.Commit {
	id := container.ID
	return &canonical.Commit{
		ExternalRef: canonical.ExternalRef{ExternalID: gc.SHA, SourceTool: canonical.SourceToolGitHub},
		ContainerID: &id,
		SHA:         gc.SHA,
		AuthorName:  gc.Commit.Author.Name,
		AuthorEmail: gc.Commit.Author.Email,
		Message:     gc.Commit.Message,
		CommittedAt: gc.Commit.Author.Date,
		Attributes:  canonical.Attributes{"repo": container.ExternalID},
	}
}

type githubPullRequest struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	State  string `json:"state"`
	Title  string `json:"title"`
	User   *struct {
		Login string `json:"login"`
	} `json:"user"`
	Head *struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base *struct {
		Ref string `json:"ref"`
	} `json:"base"`
	MergedAt *time.Time `json:"merged_at"`
	Draft    bool       `json:"draft"`
}

func normalizeGitHubPullRequest(pr githubPullRequest, container *canonical.Container) *canonical.PullRequest {
	id := container.ID
	rec := &canonical.PullRequest{
		ExternalRef: canonical.ExternalRef{ExternalID: strconv.FormatInt(pr.ID, 10), SourceTool: canonical.SourceToolGitHub},
		ContainerID: &id,
		Number:      pr.Number,
		Title:       pr.Title,
		Status:      NormalizePullRequestState(pr.State, pr.MergedAt != nil),
		MergedAt:    pr.MergedAt,
		Attributes:  canonical.Attributes{"draft": pr.Draft},
	}
	if pr.User != nil {
		rec.Author = pr.User.Login
	}
	if pr.Head != nil {
		rec.SourceRef = pr.Head.Ref
	}
	if pr.Base != nil {
		rec.TargetRef = pr.Base.Ref
	}
	return rec
}

// NormalizePullRequestState maps GitHub PR state onto the task status scale:
// merged and closed PRs are done, everything else is open work.
func NormalizePullRequestState(state string, merged bool) canonical.TaskStatus {
	if merged || state == "closed" {
		return canonical.TaskStatusDone
	}
	return canonical.TaskStatusOpen
}

type githubBranch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
	Protected bool `json:"protected"`
}

func normalizeGitHubBranch(b githubBranch, container *canonical.Container) *canonical.Branch {
	id := container.ID
	return &canonical.Branch{
		ExternalRef: canonical.ExternalRef{
			ExternalID: container.ExternalID + ":" + b.Name,
			SourceTool: canonical.SourceToolGitHub,
		},
		ContainerID: &id,
		Name:        b.Name,
		HeadSHA:     b.Commit.SHA,
		Attributes:  canonical.Attributes{"protected": b.Protected},
	}
}

type githubContributor struct {
	ID            int64  `json:"id"`
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

func normalizeGitHubContributor(gc githubContributor, container *canonical.Container) *canonical.Contributor {
	id := container.ID
	return &canonical.Contributor{
		ExternalRef: canonical.ExternalRef{
			ExternalID: container.ExternalID + ":" + strconv.FormatInt(gc.ID, 10),
			SourceTool: canonical.SourceToolGitHub,
		},
		ContainerID: &id,
		Login:       gc.Login,
		Commits:     gc.Contributions,
	}
}

type githubRepo struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Private  bool   `json:"private"`
}

// ListContainers enumerates the repositories visible to the token
func (c *GitHubConnector) ListContainers(ctx context.Context, creds integration.Credentials, page integration.Page) ([]canonical.Container, integration.Page, bool, error) {
	pageNum, err := pageNumber(page)
	if err != nil {
		return nil, integration.Page{}, false, err
	}

	query := url.Values{}
	query.Set("per_page", strconv.Itoa(c.pageSize))
	query.Set("page", strconv.Itoa(pageNum))
	query.Set("sort", "full_name")

	var repos []githubRepo
	if err := c.get(ctx, creds, "/user/repos", query, &repos); err != nil {
		return nil, integration.Page{}, false, err
	}

	containers := make([]canonical.Container, 0, len(repos))
	for _, r := range repos {
		containers = append(containers, canonical.Container{
			ExternalRef: canonical.ExternalRef{ExternalID: r.FullName, SourceTool: canonical.SourceToolGitHub},
			Name:        r.FullName,
			Attributes:  canonical.Attributes{"private": r.Private, "repo_id": r.ID},
		})
	}

	next := integration.Page{}
	hasMore := len(repos) == c.pageSize
	if hasMore {
		next.Token = strconv.Itoa(pageNum + 1)
	}
	return containers, next, hasMore, nil
}

type githubHookResponse struct {
	ID int64 `json:"id"`
}

// RegisterWebhook generates the shared HMAC secret for this integration.
// GitHub hooks live on individual repositories, so the actual provider-side
// registration happens per repository via RegisterRepoWebhook when a
// container is linked.
func (c *GitHubConnector) RegisterWebhook(ctx context.Context, creds integration.Credentials, callbackURL string) (*integration.WebhookRegistration, error) {
	secret, err := generateWebhookSecret()
	if err != nil {
		return nil, err
	}
	return &integration.WebhookRegistration{Secret: secret}, nil
}

// RegisterRepoWebhook registers a push/pull_request webhook on one repository
func (c *GitHubConnector) RegisterRepoWebhook(ctx context.Context, creds integration.Credentials, repo, callbackURL, secret string) (string, error) {
	var resp githubHookResponse
	err := c.client.doJSON(ctx, request{
		method: http.MethodPost,
		url:    c.baseURL + "/repos/" + repo + "/hooks",
		header: bearerHeader(creds.AccessToken),
		body: map[string]any{
			"name":   "web",
			"active": true,
			"events": []string{"push", "pull_request", "create", "delete"},
			"config": map[string]any{
				"url":          callbackURL,
				"content_type": "json",
				"secret":       secret,
			},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

// UnregisterWebhook is a no-op at account level; repository hooks die with
// the repository link
func (c *GitHubConnector) UnregisterWebhook(ctx context.Context, creds integration.Credentials, webhookID string) error {
	return nil
}

// generateWebhookSecret produces a random hex secret for HMAC verification
func generateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Interface conformance
var (
	_ integration.Connector        = (*GitHubConnector)(nil)
	_ integration.ContainerLister  = (*GitHubConnector)(nil)
	_ integration.WebhookRegistrar = (*GitHubConnector)(nil)
)
