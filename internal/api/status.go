package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/podscribe/internal/config"
	"github.com/snarg/podscribe/internal/ingest"
	"github.com/snarg/podscribe/internal/state"
	"github.com/snarg/podscribe/internal/transcribe"
)

type StatusResponse struct {
	Engine            string     `json:"engine"`
	Model             string     `json:"model"`
	Feeds             int        `json:"feeds"`
	ImportDir         string     `json:"import_dir,omitempty"`
	OutputDir         string     `json:"output_dir"`
	KeepAudio         bool       `json:"keep_audio"`
	KnownEpisodes     int        `json:"known_episodes"`
	EpisodesProcessed int64      `json:"episodes_processed"`
	EpisodesSkipped   int64      `json:"episodes_skipped"`
	EpisodesFailed    int64      `json:"episodes_failed"`
	Cycles            int64      `json:"cycles"`
	LastCycle         *time.Time `json:"last_cycle,omitempty"`
	UptimeSeconds     int64      `json:"uptime_seconds"`
}

type StatusHandler struct {
	cfg       *config.Config
	engine    transcribe.Engine
	pipeline  *ingest.Pipeline
	sched     *ingest.Scheduler
	store     *state.Store
	startTime time.Time
}

func NewStatusHandler(cfg *config.Config, engine transcribe.Engine, pipeline *ingest.Pipeline, sched *ingest.Scheduler, store *state.Store, startTime time.Time) *StatusHandler {
	return &StatusHandler{
		cfg:       cfg,
		engine:    engine,
		pipeline:  pipeline,
		sched:     sched,
		store:     store,
		startTime: startTime,
	}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	done, skipped, failed := h.pipeline.Counts()

	resp := StatusResponse{
		Engine:            h.engine.Name(),
		Model:             h.engine.Model(),
		Feeds:             len(h.cfg.Feeds),
		ImportDir:         h.cfg.ImportDir,
		OutputDir:         h.cfg.OutputDir,
		KeepAudio:         h.cfg.KeepAudio,
		KnownEpisodes:     h.store.Len(),
		EpisodesProcessed: done,
		EpisodesSkipped:   skipped,
		EpisodesFailed:    failed,
		Cycles:            h.sched.Cycles(),
		UptimeSeconds:     int64(time.Since(h.startTime).Seconds()),
	}
	if last := h.sched.LastCycle(); !last.IsZero() {
		resp.LastCycle = &last
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
