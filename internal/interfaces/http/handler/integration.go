package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	connectapp "github.com/pulsedeck/backend/internal/application/connect"
	syncapp "github.com/pulsedeck/backend/internal/application/sync"
	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/interfaces/http/dto"
)

// ConnectService is the slice of the connect application service the
// handler depends on
type ConnectService interface {
	Connect(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, creds integration.Credentials) (*integration.Integration, error)
	Reconnect(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, creds integration.Credentials) (*integration.Integration, error)
	Disconnect(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) error
	ListRemoteContainers(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) ([]canonical.Container, error)
	LinkContainer(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, externalID, name string) (*canonical.Container, error)
	UnlinkContainer(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool, externalID string) error
}

// SyncService triggers on-demand sync runs
type SyncService interface {
	SyncProvider(ctx context.Context, tenantID uuid.UUID, provider canonical.SourceTool) (*integration.SyncReport, error)
}

// IntegrationHandler handles integration lifecycle API endpoints
type IntegrationHandler struct {
	BaseHandler
	connect      ConnectService
	sync         SyncService
	integrations integration.Repository
	containers   canonical.ContainerRepository
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(
	connect ConnectService,
	sync SyncService,
	integrations integration.Repository,
	containers canonical.ContainerRepository,
) *IntegrationHandler {
	return &IntegrationHandler{
		connect:      connect,
		sync:         sync,
		integrations: integrations,
		containers:   containers,
	}
}

// RegisterRoutes registers integration routes on the API group
func (h *IntegrationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/integrations")
	g.GET("", h.List)
	g.POST("", h.Connect)
	g.POST("/:provider/reconnect", h.Reconnect)
	g.DELETE("/:provider", h.Disconnect)
	g.POST("/:provider/sync", h.TriggerSync)
	g.GET("/:provider/containers", h.ListLinkedContainers)
	g.GET("/:provider/containers/remote", h.ListRemoteContainers)
	g.POST("/:provider/containers", h.LinkContainer)
	g.DELETE("/:provider/containers", h.UnlinkContainer)
}

// provider parses and validates the :provider route parameter
func (h *IntegrationHandler) provider(c *gin.Context) (canonical.SourceTool, bool) {
	tool := canonical.SourceTool(c.Param("provider"))
	if !tool.IsValid() {
		h.NotFound(c, "Unknown provider")
		return "", false
	}
	return tool, true
}

// List returns all integrations of the tenant
func (h *IntegrationHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	items, err := h.integrations.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.InternalError(c, "Failed to list integrations")
		return
	}

	resp := make([]dto.IntegrationResponse, 0, len(items))
	for i := range items {
		resp = append(resp, dto.NewIntegrationResponse(items[i]))
	}
	h.Success(c, resp)
}

// Connect stores provider credentials and establishes the integration
func (h *IntegrationHandler) Connect(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req dto.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	integ, err := h.connect.Connect(c.Request.Context(), tenantID, canonical.SourceTool(req.Provider), req.Credentials())
	if err != nil {
		h.connectError(c, err)
		return
	}
	h.Created(c, dto.NewIntegrationResponse(integ))
}

// Reconnect replaces the credentials of an errored integration
func (h *IntegrationHandler) Reconnect(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	tool, ok := h.provider(c)
	if !ok {
		return
	}

	var req dto.ReconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	integ, err := h.connect.Reconnect(c.Request.Context(), tenantID, tool, req.Credentials())
	if err != nil {
		h.connectError(c, err)
		return
	}
	h.Success(c, dto.NewIntegrationResponse(integ))
}

// Disconnect tears down the integration and its provider-side webhook
func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	tool, ok := h.provider(c)
	if !ok {
		return
	}

	if err := h.connect.Disconnect(c.Request.Context(), tenantID, tool); err != nil {
		h.connectError(c, err)
		return
	}
	h.NoContent(c)
}

// TriggerSync starts a synchronous sync run and returns its report
func (h *IntegrationHandler) TriggerSync(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	tool, ok := h.provider(c)
	if !ok {
		return
	}

	report, err := h.sync.SyncProvider(c.Request.Context(), tenantID, tool)
	if err != nil {
		switch {
		case errors.Is(err, syncapp.ErrSyncInProgress):
			h.Conflict(c, "A sync run is already in progress")
		case errors.Is(err, shared.ErrNotFound):
			h.NotFound(c, "Provider is not connected")
		case errors.Is(err, integration.ErrAuthFailed):
			h.BadGateway(c, "Provider rejected the stored credentials")
		default:
			h.InternalError(c, "Sync run failed")
		}
		return
	}
	h.Success(c, dto.NewSyncReportResponse(report))
}

// ListLinkedContainers returns the containers linked for syncing
func (h *IntegrationHandler) ListLinkedContainers(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	tool, ok := h.provider(c)
	if !ok {
		return
	}

	items, err := h.containers.ListByTool(c.Request.Context(), tenantID, tool)
	if err != nil {
		h.InternalError(c, "Failed to list containers")
		return
	}

	resp := make([]dto.ContainerResponse, 0, len(items))
	for i := range items {
		resp = append(resp, dto.NewContainerResponse(&items[i]))
	}
	h.Success(c, resp)
}

// ListRemoteContainers lists the containers visible on the provider side
func (h *IntegrationHandler) ListRemoteContainers(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	tool, ok := h.provider(c)
	if !ok {
		return
	}

	items, err := h.connect.ListRemoteContainers(c.Request.Context(), tenantID, tool)
	if err != nil {
		h.connectError(c, err)
		return
	}

	resp := make([]dto.ContainerResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, dto.NewRemoteContainerResponse(item))
	}
	h.Success(c, resp)
}

// LinkContainer links a remote container so syncs and webhooks cover it
func (h *IntegrationHandler) LinkContainer(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	tool, ok := h.provider(c)
	if !ok {
		return
	}

	var req dto.LinkContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	container, err := h.connect.LinkContainer(c.Request.Context(), tenantID, tool, req.ExternalID, req.Name)
	if err != nil {
		h.connectError(c, err)
		return
	}
	h.Created(c, dto.NewContainerResponse(container))
}

// UnlinkContainer removes a container from the sync scope. The external id
// rides in the query string because provider ids may contain slashes.
func (h *IntegrationHandler) UnlinkContainer(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	tool, ok := h.provider(c)
	if !ok {
		return
	}

	externalID := c.Query("external_id")
	if externalID == "" {
		h.BadRequest(c, "external_id query parameter is required")
		return
	}

	if err := h.connect.UnlinkContainer(c.Request.Context(), tenantID, tool, externalID); err != nil {
		h.connectError(c, err)
		return
	}
	h.NoContent(c)
}

// connectError maps connect-layer errors onto HTTP responses
func (h *IntegrationHandler) connectError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, connectapp.ErrAlreadyConnected):
		h.Conflict(c, "Provider is already connected")
	case errors.Is(err, shared.ErrNotFound):
		h.NotFound(c, "Not found")
	case errors.Is(err, integration.ErrAuthFailed):
		h.BadRequest(c, "Provider rejected the supplied credentials")
	case errors.Is(err, integration.ErrRateLimited):
		h.BadGateway(c, "Provider is rate limiting requests")
	default:
		h.InternalError(c, "Request failed")
	}
}
