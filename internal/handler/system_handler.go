package handler

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
)

// SystemHandler reports gateway health and runtime figures.
type SystemHandler struct {
	sessionService *service.ExamSessionService
	storeKind      string
	startTime      time.Time
	log            zerolog.Logger
}

func NewSystemHandler(sessionService *service.ExamSessionService, storeKind string, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		sessionService: sessionService,
		storeKind:      storeKind,
		startTime:      time.Now(),
		log:            log.With().Str("component", "system_handler").Logger(),
	}
}

type systemHealth struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`

	SnapshotStore  string `json:"snapshot_store"`
	ActiveSessions int    `json:"active_sessions"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	response.Success(c, http.StatusOK, systemHealth{
		Status:         "ok",
		Uptime:         formatDuration(time.Since(h.startTime)),
		SnapshotStore:  h.storeKind,
		ActiveSessions: h.sessionService.ActiveSessions(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAlloc:      ms.HeapAlloc,
		NumGC:          ms.NumGC,
		GoVersion:      runtime.Version(),
	})
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
