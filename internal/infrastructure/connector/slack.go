package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

const (
	slackAPIBaseURL   = "https://slack.com/api"
	slackTokenURL     = "https://slack.com/api/oauth.v2.access"
	slackAttrTeamID   = "team_id"
	slackAttrTeamName = "team_name"
)

// SlackConnector syncs messages from Slack. Containers are channels keyed by
// channel id. Slack signals errors inside a 200 envelope, so every call
// checks the ok flag on top of HTTP status.
type SlackConnector struct {
	app      config.OAuthAppConfig
	client   *client
	logger   *zap.Logger
	pageSize int
	baseURL  string
	tokenURL string
}

// NewSlackConnector creates a new Slack connector
func NewSlackConnector(app config.OAuthAppConfig, logger *zap.Logger, retries, pageSize int) *SlackConnector {
	log := logger.Named("slack")
	return &SlackConnector{
		app:      app,
		client:   newClient(log, retries),
		logger:   log,
		pageSize: pageSize,
		baseURL:  slackAPIBaseURL,
		tokenURL: slackTokenURL,
	}
}

// Provider returns the source tool this connector handles
func (c *SlackConnector) Provider() canonical.SourceTool {
	return canonical.SourceToolSlack
}

// Resources returns the resource types in sync order
func (c *SlackConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{integration.ResourceMessages}
}

// slackEnvelope is embedded in every Slack API response
type slackEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// check maps a Slack envelope error onto the integration taxonomy
func (e slackEnvelope) check() error {
	if e.OK {
		return nil
	}
	switch e.Error {
	case "invalid_auth", "token_revoked", "token_expired", "account_inactive", "not_authed":
		return fmt.Errorf("%w: slack: %s", integration.ErrAuthFailed, e.Error)
	case "ratelimited", "rate_limited":
		return fmt.Errorf("%w: slack: %s", integration.ErrRateLimited, e.Error)
	default:
		return fmt.Errorf("%w: slack: %s", integration.ErrInvalidResponse, e.Error)
	}
}

type slackAuthTestResponse struct {
	slackEnvelope
	Team   string `json:"team"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

// TestConnection verifies the token via auth.test
func (c *SlackConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	var resp slackAuthTestResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodPost,
		url:    c.baseURL + "/auth.test",
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	return &integration.AccountInfo{
		AccountID:   resp.TeamID,
		AccountName: resp.Team,
		Attributes: map[string]string{
			slackAttrTeamID:   resp.TeamID,
			slackAttrTeamName: resp.Team,
		},
	}, nil
}

// RefreshCredentials exchanges the refresh token. Only relevant when the
// Slack app has token rotation enabled; otherwise the token never expires
// and this is never called.
func (c *SlackConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return refreshOAuthToken(ctx, c.app, c.tokenURL, creds)
}

type slackHistoryResponse struct {
	slackEnvelope
	Messages []slackMessage `json:"messages"`
	HasMore  bool           `json:"has_more"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type slackMessage struct {
	Type       string `json:"type"`
	User       string `json:"user"`
	Text       string `json:"text"`
	TS         string `json:"ts"`
	ThreadTS   string `json:"thread_ts"`
	ReplyCount int    `json:"reply_count"`
}

// FetchResources pages through a channel's history. The page token is the
// Slack continuation cursor.
func (c *SlackConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	if resource != integration.ResourceMessages {
		return nil, fmt.Errorf("%w: slack does not serve resource %q", integration.ErrInvalidResponse, resource)
	}
	if container == nil {
		return nil, fmt.Errorf("%w: slack message sync requires a channel container", integration.ErrInvalidResponse)
	}

	query := url.Values{}
	query.Set("channel", container.ExternalID)
	query.Set("limit", strconv.Itoa(c.pageSize))
	if !page.First() {
		query.Set("cursor", page.Token)
	}

	var resp slackHistoryResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/conversations.history",
		query:  query,
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	result := &integration.FetchResult{}
	for _, msg := range resp.Messages {
		if msg.TS == "" || msg.Type != "message" {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, normalizeSlackMessage(msg, container))
	}
	if resp.HasMore && resp.Metadata.NextCursor != "" {
		result.Next = integration.Page{Token: resp.Metadata.NextCursor}
		result.HasMore = true
	}
	return result, nil
}

// slackMessageExternalID builds the canonical external id for a message.
// Slack timestamps are only unique within a channel.
func slackMessageExternalID(channelID, ts string) string {
	return channelID + ":" + ts
}

// normalizeSlackMessage maps a Slack message onto the canonical record
func normalizeSlackMessage(msg slackMessage, container *canonical.Container) *canonical.Message {
	rec := &canonical.Message{
		ExternalRef: canonical.ExternalRef{
			ExternalID: slackMessageExternalID(container.ExternalID, msg.TS),
			SourceTool: canonical.SourceToolSlack,
		},
		Author:   msg.User,
		Body:     msg.Text,
		PostedAt: SlackTSToTime(msg.TS),
		Attributes: canonical.Attributes{
			"ts":          msg.TS,
			"reply_count": msg.ReplyCount,
		},
	}
	id := container.ID
	rec.ContainerID = &id
	if msg.ThreadTS != "" && msg.ThreadTS != msg.TS {
		rec.Attributes["thread_ts"] = msg.ThreadTS
	}
	return rec
}

// SlackTSToTime converts a Slack "seconds.fraction" timestamp to time.Time
func SlackTSToTime(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	secs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if len(parts) == 2 {
		if frac, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			// slack fraction is microseconds
			nanos = frac * int64(time.Microsecond)
		}
	}
	return time.Unix(secs, nanos).UTC()
}

type slackChannelsResponse struct {
	slackEnvelope
	Channels []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsMember bool   `json:"is_member"`
	} `json:"channels"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// ListContainers enumerates the public channels the bot can read
func (c *SlackConnector) ListContainers(ctx context.Context, creds integration.Credentials, page integration.Page) ([]canonical.Container, integration.Page, bool, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.pageSize))
	query.Set("exclude_archived", "true")
	if !page.First() {
		query.Set("cursor", page.Token)
	}

	var resp slackChannelsResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/conversations.list",
		query:  query,
		header: bearerHeader(creds.AccessToken),
	}, &resp); err != nil {
		return nil, integration.Page{}, false, err
	}
	if err := resp.check(); err != nil {
		return nil, integration.Page{}, false, err
	}

	containers := make([]canonical.Container, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		containers = append(containers, canonical.Container{
			ExternalRef: canonical.ExternalRef{ExternalID: ch.ID, SourceTool: canonical.SourceToolSlack},
			Name:        "#" + ch.Name,
			Attributes:  canonical.Attributes{"is_member": ch.IsMember},
		})
	}

	next := integration.Page{}
	hasMore := false
	if resp.Metadata.NextCursor != "" {
		next.Token = resp.Metadata.NextCursor
		hasMore = true
	}
	return containers, next, hasMore, nil
}

// Interface conformance. Slack event subscriptions are configured on the app
// itself, so there is no WebhookRegistrar here.
var (
	_ integration.Connector       = (*SlackConnector)(nil)
	_ integration.ContainerLister = (*SlackConnector)(nil)
)
