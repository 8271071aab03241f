package handler

import (
	"net/http"
	"runtime"
	"time"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SystemHandler handles system-related API endpoints
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	service   *ledgerapp.LedgerService
	dbCheck   func() error
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version string, service *ledgerapp.LedgerService) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		service:   service,
		startTime: time.Now(),
	}
}

// WithDatabaseCheck makes Health ping the database and answer 503 when the
// ping fails
func (h *SystemHandler) WithDatabaseCheck(ping func() error) *SystemHandler {
	h.dbCheck = ping
	return h
}

// RegisterRoutes registers the system routes on rg
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
	rg.GET("/system/info", h.GetSystemInfo)
	rg.GET("/system/ping", h.Ping)
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// HealthResponse reports the in-memory ledger state
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Entities int    `json:"entities"`
	Caches   int    `json:"caches"`
}

// Health reports liveness together with the store and registry sizes
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if h.service != nil {
		resp.Entities = h.service.Engine().Store().Len()
		resp.Caches = len(h.service.Synchronizer().Names())
	}
	if h.dbCheck != nil {
		if err := h.dbCheck(); err != nil {
			logger.GetGinLogger(c).Warn("Health check failed", zap.Error(err))
			resp.Status = "unhealthy"
			resp.Database = "error"
			c.JSON(http.StatusServiceUnavailable, dto.NewSuccessResponse(resp))
			return
		}
		resp.Database = "ok"
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// GetSystemInfo returns basic system information including version and uptime
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping is a simple check that the API is responsive
func (h *SystemHandler) Ping(c *gin.Context) {
	response := PingResponse{
		Message:   "pong",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(response))
}
