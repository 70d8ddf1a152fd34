package middleware

import (
	"context"
	"slices"
	"strings"

	"github.com/entitlesync/engine/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

const (
	ProfilingLabelRoute      = "route"
	ProfilingLabelMethod     = "method"
	ProfilingLabelController = "controller"
)

// ProfilingConfig controls which requests get pprof labels
type ProfilingConfig struct {
	Enabled   bool
	SkipPaths []string
}

// DefaultProfilingConfig labels every request except health probes
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{Enabled: true, SkipPaths: []string{"/healthz"}}
}

// Profiling runs the rest of the chain under pprof labels naming the matched
// route, so CPU samples of purchase and sync endpoints can be told apart.
func Profiling(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}
	skip := slices.Clone(cfg.SkipPaths)

	return func(c *gin.Context) {
		if slices.Contains(skip, c.Request.URL.Path) {
			c.Next()
			return
		}
		telemetry.WithProfilingLabels(c.Request.Context(), profilingLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func profilingLabels(c *gin.Context) map[string]string {
	labels := map[string]string{ProfilingLabelMethod: c.Request.Method}
	if route := c.FullPath(); route != "" {
		labels[ProfilingLabelRoute] = route
		if controller := controllerFromRoute(route); controller != "" {
			labels[ProfilingLabelController] = controller
		}
	}
	return labels
}

// controllerFromRoute picks the resource name out of a route pattern:
// "/v1/customers/:app_user_id" is "customers".
func controllerFromRoute(route string) string {
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) > 0 && isAPIVersion(segments[0]) {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" || strings.ContainsAny(segments[0][:1], ":*") {
		return ""
	}
	return segments[0]
}

func isAPIVersion(segment string) bool {
	digits := strings.TrimPrefix(strings.ToLower(segment), "v")
	return digits != segment && digits != "" && strings.Trim(digits, "0123456789") == ""
}
