package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/podscribe/internal/ingest"
	"github.com/snarg/podscribe/internal/transcribe"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	engine    transcribe.Engine
	sched     *ingest.Scheduler
	version   string
	startTime time.Time
}

func NewHealthHandler(engine transcribe.Engine, sched *ingest.Scheduler, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		sched:     sched,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"

	// The engine passed its readiness probe at startup or the process
	// would not be running.
	checks["engine"] = "ok"

	if h.sched != nil {
		if h.sched.Cycles() > 0 {
			checks["scheduler"] = "ok"
		} else {
			checks["scheduler"] = "starting"
		}
	} else {
		checks["scheduler"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
