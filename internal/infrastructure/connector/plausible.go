package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
)

const (
	plausibleAPIBaseURL = "https://plausible.io/api/v1"
	plausibleAttrSiteID = "site_id"
	plausibleDayLayout  = "2006-01-02"
)

// PlausibleConnector pulls aggregated analytics time series. Plausible has
// no webhooks; this provider is sync-only. Containers are sites keyed by
// site domain.
type PlausibleConnector struct {
	client   *client
	logger   *zap.Logger
	pageSize int
	baseURL  string
}

// NewPlausibleConnector creates a new Plausible connector
func NewPlausibleConnector(logger *zap.Logger, retries, pageSize int) *PlausibleConnector {
	log := logger.Named("plausible")
	return &PlausibleConnector{
		client:   newClient(log, retries),
		logger:   log,
		pageSize: pageSize,
		baseURL:  plausibleAPIBaseURL,
	}
}

// Provider returns the source tool this connector handles
func (c *PlausibleConnector) Provider() canonical.SourceTool {
	return canonical.SourceToolPlausible
}

// Resources returns the resource types in sync order
func (c *PlausibleConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{integration.ResourceAnalytics}
}

type plausibleAggregateResponse struct {
	Results map[string]struct {
		Value float64 `json:"value"`
	} `json:"results"`
}

// TestConnection verifies the API key by requesting a minimal aggregate for
// the configured site
func (c *PlausibleConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	siteID := creds.Attr(plausibleAttrSiteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: plausible site id not on record", integration.ErrMissingCredentials)
	}

	query := url.Values{}
	query.Set("site_id", siteID)
	query.Set("period", "day")
	query.Set("metrics", "visitors")

	var resp plausibleAggregateResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/stats/aggregate",
		query:  query,
		header: bearerHeader(creds.APIKey),
	}, &resp); err != nil {
		return nil, err
	}

	return &integration.AccountInfo{
		AccountID:   siteID,
		AccountName: siteID,
		Attributes:  map[string]string{plausibleAttrSiteID: siteID},
	}, nil
}

// RefreshCredentials is not supported for API-key auth
func (c *PlausibleConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return nil, integration.ErrRefreshNotSupported
}

type plausibleTimeseriesResponse struct {
	Results []struct {
		Date      string  `json:"date"`
		Visitors  float64 `json:"visitors"`
		Pageviews float64 `json:"pageviews"`
	} `json:"results"`
}

// FetchResources pulls the last 30 days of daily visitors and pageviews for
// the container's site. The series is small enough to fit one page.
func (c *PlausibleConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	if resource != integration.ResourceAnalytics {
		return nil, fmt.Errorf("%w: plausible does not serve resource %q", integration.ErrInvalidResponse, resource)
	}

	siteID := creds.Attr(plausibleAttrSiteID)
	if container != nil {
		siteID = container.ExternalID
	}
	if siteID == "" {
		return nil, fmt.Errorf("%w: plausible site id not on record", integration.ErrMissingCredentials)
	}

	query := url.Values{}
	query.Set("site_id", siteID)
	query.Set("period", "30d")
	query.Set("metrics", "visitors,pageviews")

	var resp plausibleTimeseriesResponse
	if err := c.client.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/stats/timeseries",
		query:  query,
		header: bearerHeader(creds.APIKey),
	}, &resp); err != nil {
		return nil, err
	}

	result := &integration.FetchResult{}
	for _, point := range resp.Results {
		bucket, err := time.Parse(plausibleDayLayout, point.Date)
		if err != nil {
			c.logger.Warn("skipping data point with bad date", zap.String("date", point.Date))
			result.Skipped++
			continue
		}
		result.Records = append(result.Records,
			plausibleEvent(siteID, "visitors", point.Date, point.Visitors, bucket, container),
			plausibleEvent(siteID, "pageviews", point.Date, point.Pageviews, bucket, container),
		)
	}
	return result, nil
}

func plausibleEvent(siteID, metric, date string, value float64, bucket time.Time, container *canonical.Container) *canonical.AnalyticsEvent {
	return &canonical.AnalyticsEvent{
		ExternalRef: canonical.ExternalRef{
			ExternalID: fmt.Sprintf("%s:%s:%s", siteID, metric, date),
			SourceTool: canonical.SourceToolPlausible,
		},
		Metric:     metric,
		Value:      decimal.NewFromFloat(value),
		BucketDate: bucket,
		Attributes: canonical.Attributes{"site_id": siteID},
	}
}

// Ensure PlausibleConnector implements the connector port
var _ integration.Connector = (*PlausibleConnector)(nil)
