package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	stripeclient "github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
)

// StripeConnector syncs customers, subscriptions and invoices from Stripe.
// Stripe has no user-visible containers; all resources hang off a single
// account-level pseudo-container.
type StripeConnector struct {
	logger   *zap.Logger
	pageSize int
	retries  int
	// backendURL overrides the Stripe API host, used by tests
	backendURL string
}

// NewStripeConnector creates a new Stripe connector
func NewStripeConnector(logger *zap.Logger, retries, pageSize int) *StripeConnector {
	return &StripeConnector{
		logger:   logger.Named("stripe"),
		pageSize: pageSize,
		retries:  retries,
	}
}

// api builds a Stripe client bound to the integration's API key
func (c *StripeConnector) api(creds integration.Credentials) *stripeclient.API {
	sc := &stripeclient.API{}
	var backends *stripe.Backends
	if c.backendURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:           stripe.String(c.backendURL),
				LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
			}),
		}
	}
	sc.Init(creds.APIKey, backends)
	return sc
}

// Provider returns the source tool this connector handles
func (c *StripeConnector) Provider() canonical.SourceTool {
	return canonical.SourceToolStripe
}

// Resources returns the resource types in sync order
func (c *StripeConnector) Resources() []integration.ResourceType {
	return []integration.ResourceType{
		integration.ResourceCustomers,
		integration.ResourceSubscriptions,
		integration.ResourceInvoices,
	}
}

// TestConnection verifies the API key by loading the account
func (c *StripeConnector) TestConnection(ctx context.Context, creds integration.Credentials) (*integration.AccountInfo, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("%w: missing api key", integration.ErrAuthFailed)
	}

	acct, err := c.api(creds).Accounts.Get()
	if err != nil {
		return nil, mapStripeError(err)
	}

	name := ""
	if acct.Settings != nil && acct.Settings.Dashboard != nil {
		name = acct.Settings.Dashboard.DisplayName
	}
	return &integration.AccountInfo{
		AccountID:   acct.ID,
		AccountName: name,
		Attributes:  map[string]string{"account_id": acct.ID},
	}, nil
}

// RefreshCredentials is not supported for API-key auth
func (c *StripeConnector) RefreshCredentials(ctx context.Context, creds integration.Credentials) (*integration.Credentials, error) {
	return nil, integration.ErrRefreshNotSupported
}

// FetchResources fetches one page of the requested resource. The page token
// is the Stripe object id to continue after.
func (c *StripeConnector) FetchResources(ctx context.Context, creds integration.Credentials, container *canonical.Container, resource integration.ResourceType, page integration.Page) (*integration.FetchResult, error) {
	api := c.api(creds)
	switch resource {
	case integration.ResourceCustomers:
		return c.fetchCustomers(ctx, api, page)
	case integration.ResourceSubscriptions:
		return c.fetchSubscriptions(ctx, api, page)
	case integration.ResourceInvoices:
		return c.fetchInvoices(ctx, api, page)
	default:
		return nil, fmt.Errorf("%w: stripe does not serve resource %q", integration.ErrInvalidResponse, resource)
	}
}

func (c *StripeConnector) listParams(ctx context.Context, page integration.Page) stripe.ListParams {
	params := stripe.ListParams{
		Context: ctx,
		Limit:   stripe.Int64(int64(c.pageSize)),
		Single:  true,
	}
	if !page.First() {
		params.StartingAfter = stripe.String(page.Token)
	}
	return params
}

func (c *StripeConnector) fetchCustomers(ctx context.Context, api *stripeclient.API, page integration.Page) (*integration.FetchResult, error) {
	params := &stripe.CustomerListParams{ListParams: c.listParams(ctx, page)}

	result := &integration.FetchResult{}
	iter := api.Customers.List(params)
	for iter.Next() {
		cust := iter.Customer()
		result.Records = append(result.Records, NormalizeStripeCustomer(cust))
		result.Next = integration.Page{Token: cust.ID}
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	result.HasMore = iter.Meta().HasMore
	return result, nil
}

func (c *StripeConnector) fetchSubscriptions(ctx context.Context, api *stripeclient.API, page integration.Page) (*integration.FetchResult, error) {
	params := &stripe.SubscriptionListParams{ListParams: c.listParams(ctx, page)}
	params.Status = stripe.String("all")

	result := &integration.FetchResult{}
	iter := api.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		rec, err := NormalizeStripeSubscription(sub)
		if err != nil {
			c.logger.Warn("skipping malformed subscription", zap.String("id", sub.ID), zap.Error(err))
			result.Skipped++
		} else {
			result.Records = append(result.Records, rec)
		}
		result.Next = integration.Page{Token: sub.ID}
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	result.HasMore = iter.Meta().HasMore
	return result, nil
}

func (c *StripeConnector) fetchInvoices(ctx context.Context, api *stripeclient.API, page integration.Page) (*integration.FetchResult, error) {
	params := &stripe.InvoiceListParams{ListParams: c.listParams(ctx, page)}

	result := &integration.FetchResult{}
	iter := api.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		result.Records = append(result.Records, NormalizeStripeInvoice(inv))
		result.Next = integration.Page{Token: inv.ID}
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	result.HasMore = iter.Meta().HasMore
	return result, nil
}

// NormalizeStripeCustomer maps a Stripe customer onto the canonical record
func NormalizeStripeCustomer(cust *stripe.Customer) *canonical.Customer {
	return &canonical.Customer{
		ExternalRef: canonical.ExternalRef{ExternalID: cust.ID, SourceTool: canonical.SourceToolStripe},
		Email:       cust.Email,
		Name:        cust.Name,
		Attributes: canonical.Attributes{
			"created":  cust.Created,
			"livemode": cust.Livemode,
		},
	}
}

// NormalizeStripeSubscription maps a Stripe subscription onto the canonical
// record, converting minor-unit amounts to decimal major units
func NormalizeStripeSubscription(sub *stripe.Subscription) (*canonical.FinanceSubscription, error) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, errors.New("subscription has no items")
	}
	price := sub.Items.Data[0].Price
	if price == nil {
		return nil, errors.New("subscription item has no price")
	}

	rec := &canonical.FinanceSubscription{
		ExternalRef: canonical.ExternalRef{ExternalID: sub.ID, SourceTool: canonical.SourceToolStripe},
		Amount:      minorUnitsToDecimal(price.UnitAmount),
		Currency:    string(price.Currency),
		Status:      string(sub.Status),
		Attributes: canonical.Attributes{
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
		},
	}
	if sub.Customer != nil {
		rec.CustomerExternalID = sub.Customer.ID
	}
	if price.Recurring != nil {
		rec.BillingCycle = string(price.Recurring.Interval)
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		rec.CurrentPeriodEnd = &end
	}
	return rec, nil
}

// NormalizeStripeInvoice maps a Stripe invoice onto the canonical record
func NormalizeStripeInvoice(inv *stripe.Invoice) *canonical.Invoice {
	rec := &canonical.Invoice{
		ExternalRef: canonical.ExternalRef{ExternalID: inv.ID, SourceTool: canonical.SourceToolStripe},
		Amount:      minorUnitsToDecimal(inv.AmountDue),
		Currency:    string(inv.Currency),
		Status:      string(inv.Status),
		Attributes: canonical.Attributes{
			"number":      inv.Number,
			"amount_paid": inv.AmountPaid,
		},
	}
	if inv.Customer != nil {
		rec.CustomerExternalID = inv.Customer.ID
	}
	if inv.Created > 0 {
		issued := time.Unix(inv.Created, 0).UTC()
		rec.IssuedAt = &issued
	}
	return rec
}

// minorUnitsToDecimal converts provider minor units (1200 cents) to decimal
// major units (12.00)
func minorUnitsToDecimal(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// mapStripeError translates stripe-go errors into the integration taxonomy
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", integration.ErrAuthFailed, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", integration.ErrRateLimited, err)
		}
		if stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", integration.ErrTransient, err)
		}
		return fmt.Errorf("%w: %v", integration.ErrInvalidResponse, err)
	}
	return fmt.Errorf("%w: %v", integration.ErrTransient, err)
}

// Ensure StripeConnector implements the connector port
var _ integration.Connector = (*StripeConnector)(nil)
