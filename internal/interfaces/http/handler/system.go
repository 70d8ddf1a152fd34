package handler

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// SystemHandler serves the health endpoint
type SystemHandler struct {
	BaseHandler
	startTime time.Time
	route     string
}

// NewSystemHandler creates a new SystemHandler. route is the configured
// store route, reported so operators can tell a simulated sidecar apart.
func NewSystemHandler(route string) *SystemHandler {
	return &SystemHandler{startTime: time.Now(), route: route}
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Route     string `json:"store_route"`
	Uptime    string `json:"uptime"`
}

// Health handles GET /healthz
func (h *SystemHandler) Health(c *gin.Context) {
	h.Success(c, HealthResponse{
		Status:    "ok",
		Version:   Version,
		GoVersion: runtime.Version(),
		Route:     h.route,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}
