package connector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
)

const cannyAPIBaseURL = "https://canny.io/api/v1"

// CannyConnector syncs feedback posts from Canny. Containers are boards
// keyed by board id. Canny takes the API key in the request body and
// paginates with a skip offset.
type CannyConnector struct {
	client   *client
	logger   *zap.Logger
	pageSize int
	baseURL  string
}

// NewCannyConnector creates a new Canny connector
func NewCannyConnector(logger *zap.Logger, retries, pageSize int) *CannyConnector {
	log := logger.Named("canny")
	return &CannyConnector{
		client:   newClient(log, retries),
		logger:   log,
		pageSize: pageSize,
		baseURL:  cannyAPIBaseURL,
	}
}

// Provider returns the source tool this connector handles
func (c *CannyConnector) Provider() canonical.SourceTool {
	return canonical.SourceToolCanny
}

// Resources returns the resource types in sync order
func (c *CannyConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{integration.ResourceFeedItems}
}

type cannyBoardsResponse struct {
	Boards []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		PostCount int    `json:"postCount"`
	} `json:"boards"`
}

// TestConnection verifies the API key by listing boards
func (c *CannyConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("%w: missing api key", integration.ErrAuthFailed)
	}

	var resp cannyBoardsResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodPost,
		url:    c.baseURL + "/boards/list",
		body:   map[string]any{"apiKey": creds.APIKey},
	}, &resp); err != nil {
		return nil, err
	}

	return &integration.AccountInfo{
		AccountID:   "canny",
		AccountName: "Canny",
		Attributes:  map[string]string{"board_count": strconv.Itoa(len(resp.Boards))},
	}, nil
}

// RefreshCredentials is not supported for API-key auth
func (c *CannyConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return nil, integration.ErrRefreshNotSupported
}

type cannyPostsResponse struct {
	Posts   []cannyPost `json:"posts"`
	HasMore bool        `json:"hasMore"`
}

type cannyPost struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Details string `json:"details"`
	Status  string `json:"status"`
	Score   int    `json:"score"`
	Author  *struct {
		Name string `json:"name"`
	} `json:"author"`
	CommentCount int `json:"commentCount"`
}

// FetchResources pages through the posts of one board. The page token is
// the skip offset.
func (c *CannyConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	if resource != integration.ResourceFeedItems {
		return nil, fmt.Errorf("%w: canny does not serve resource %q", integration.ErrInvalidResponse, resource)
	}
	if container == nil {
		return nil, fmt.Errorf("%w: canny post sync requires a board container", integration.ErrInvalidResponse)
	}

	skip := 0
	if !page.First() {
		n, err := strconv.Atoi(page.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: bad page token %q", integration.ErrInvalidResponse, page.Token)
		}
		skip = n
	}

	var resp cannyPostsResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodPost,
		url:    c.baseURL + "/posts/list",
		body: map[string]any{
			"apiKey":  creds.APIKey,
			"boardID": container.ExternalID,
			"limit":   c.pageSize,
			"skip":    skip,
		},
	}, &resp); err != nil {
		return nil, err
	}

	result := &integration.FetchResult{}
	for _, post := range resp.Posts {
		if post.ID == "" {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, normalizeCannyPost(post, container))
	}
	if resp.HasMore {
		result.Next = integration.Page{Token: strconv.Itoa(skip + len(resp.Posts))}
		result.HasMore = true
	}
	return result, nil
}

// normalizeCannyPost maps a Canny post onto the canonical feed item
func normalizeCannyPost(post cannyPost, container *canonical.Container) *canonical.FeedItem {
	id := container.ID
	rec := &canonical.FeedItem{
		ExternalRef: canonical.ExternalRef{ExternalID: post.ID, SourceTool: canonical.SourceToolCanny},
		ContainerID: &id,
		Title:       post.Title,
		Body:        post.Details,
		Score:       post.Score,
		Status:      post.Status,
		Attributes:  canonical.Attributes{"comment_count": post.CommentCount},
	}
	if post.Author != nil {
		rec.Author = post.Author.Name
	}
	return rec
}

// ListContainers enumerates the Canny boards. The full board list fits one
// page; Canny has no board pagination.
func (c *CannyConnector) ListContainers(ctx context.Context, creds integration.Credentials, page integration.Page) ([]canonical.Container, integration.Page, bool, error) {
	var resp cannyBoardsResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodPost,
		url:    c.baseURL + "/boards/list",
		body:   map[string]any{"apiKey": creds.APIKey},
	}, &resp); err != nil {
		return nil, integration.Page{}, false, err
	}

	containers := make([]canonical.Container, 0, len(resp.Boards))
	for _, b := range resp.Boards {
		containers = append(containers, canonical.Container{
			ExternalRef: canonical.ExternalRef{ExternalID: b.ID, SourceTool: canonical.SourceToolCanny},
			Name:        b.Name,
			Attributes:  canonical.Attributes{"post_count": b.PostCount},
		})
	}
	return containers, integration.Page{}, false, nil
}

// Interface conformance
var (
	_ integration.Connector       = (*CannyConnector)(nil)
	_ integration.ContainerLister = (*CannyConnector)(nil)
)
