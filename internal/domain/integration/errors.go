package integration

import "errors"

var (
	// ErrAuthFailed indicates invalid or expired credentials. The orchestrator
	// attempts exactly one refresh-and-retry before treating this as terminal.
	ErrAuthFailed = errors.New("integration: provider authentication failed")
	// ErrRateLimited indicates the provider throttled us and the internal
	// retry budget is exhausted
	ErrRateLimited = errors.New("integration: provider rate limited")
	// ErrTransient indicates a network-level failure that may succeed on retry
	ErrTransient = errors.New("integration: transient provider error")
	// ErrInvalidResponse indicates the provider returned an unparseable payload
	ErrInvalidResponse = errors.New("integration: invalid provider response")
	// ErrRefreshNotSupported is returned by api_key connectors
	ErrRefreshNotSupported = errors.New("integration: credential refresh not supported")
	// ErrConnectorNotRegistered indicates no connector handles the provider
	ErrConnectorNotRegistered = errors.New("integration: connector not registered")
	// ErrIntegrationErrored indicates the Integration is in error state and
	// must be explicitly reconnected before it can serve credentials again
	ErrIntegrationErrored = errors.New("integration: integration is in error state")
	// ErrMissingCredentials indicates credential material required by the
	// provider is absent
	ErrMissingCredentials = errors.New("integration: required credential material missing")
	// ErrWebhookSignature indicates an inbound webhook failed authentication
	ErrWebhookSignature = errors.New("integration: webhook signature verification failed")
)
