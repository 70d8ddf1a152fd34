package handler

import (
	"context"

	"github.com/entitlesync/engine/internal/infrastructure/scheduler"
	"github.com/entitlesync/engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// SyncService runs the background sync jobs on demand
type SyncService interface {
	RunAll(ctx context.Context) map[scheduler.JobName]error
	States() []scheduler.JobState
}

// SyncHandler exposes manual sync and job status
type SyncHandler struct {
	BaseHandler
	sync  SyncService
	guard []gin.HandlerFunc
}

// NewSyncHandler creates a new SyncHandler. guard runs in front of the
// manual trigger, typically a rate limit.
func NewSyncHandler(sync SyncService, guard ...gin.HandlerFunc) *SyncHandler {
	return &SyncHandler{sync: sync, guard: guard}
}

// RunSync handles POST /sync. Every job runs even if an earlier one fails.
func (h *SyncHandler) RunSync(c *gin.Context) {
	results := h.sync.RunAll(c.Request.Context())

	out := make([]dto.SyncJobResult, 0, len(results))
	for _, state := range h.sync.States() {
		err, ran := results[state.Name]
		if !ran {
			continue
		}
		r := dto.SyncJobResult{Job: string(state.Name), OK: err == nil}
		if err != nil {
			r.Error = err.Error()
		}
		out = append(out, r)
	}
	h.Success(c, out)
}

// Status handles GET /sync
func (h *SyncHandler) Status(c *gin.Context) {
	h.Success(c, h.sync.States())
}

// RegisterRoutes mounts the sync endpoints
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/sync")
	g.GET("", h.Status)
	handlers := append(append([]gin.HandlerFunc{}, h.guard...), h.RunSync)
	g.POST("", handlers...)
}
