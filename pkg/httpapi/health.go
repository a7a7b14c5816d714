package httpapi

import (
	"context"
	"os"
	"runtime"

	"github.com/gin-gonic/gin"
	gopsmem "github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// handleHealth runs every registered component check and folds in process
// resource stats, so an operator can tell "unhealthy because of S3" apart
// from "unhealthy because the box is out of memory" at a glance.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(200, gin.H{"status": "healthy"})
		return
	}

	resp := s.deps.Health.Check(c.Request.Context(), "control-plane", s.deps.Version, false, 0)
	resp.Components = append(resp.Components, processStats(c.Request.Context()))

	status := 200
	if resp.Status == "unhealthy" {
		status = 503
	}
	c.JSON(status, resp)
}

func processStats(ctx context.Context) *ComponentHealth {
	details := map[string]any{
		"goroutines": runtime.NumGoroutine(),
	}

	if vm, err := gopsmem.VirtualMemoryWithContext(ctx); err == nil {
		details["mem_used_percent"] = vm.UsedPercent
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			details["process_cpu_percent"] = pct
		}
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			details["process_rss_bytes"] = mi.RSS
		}
	}

	return &ComponentHealth{
		Name:    "process",
		Status:  "healthy",
		Details: details,
	}
}
