package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/config"
	"github.com/snarg/podscribe/internal/feed"
	"github.com/snarg/podscribe/internal/metrics"
)

// Scheduler drives repeated poll cycles: the import folder first, then each
// feed in turn, with an import check interleaved after every successfully
// processed feed episode so a large feed backlog does not starve imports.
type Scheduler struct {
	cfg      *config.Config
	pipeline *Pipeline
	fetcher  *feed.Fetcher
	scanner  *Scanner
	wake     <-chan struct{}
	log      zerolog.Logger

	cycles    atomic.Int64
	lastCycle atomic.Value // time.Time
}

// NewScheduler wires the outer loop. wake may be nil when no import watcher
// is running.
func NewScheduler(cfg *config.Config, pipeline *Pipeline, fetcher *feed.Fetcher, scanner *Scanner, wake <-chan struct{}, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		fetcher:  fetcher,
		scanner:  scanner,
		wake:     wake,
		log:      log,
	}
}

// Cycles returns the number of completed poll cycles.
func (s *Scheduler) Cycles() int64 { return s.cycles.Load() }

// LastCycle returns when the most recent cycle finished, zero before the
// first one completes.
func (s *Scheduler) LastCycle() time.Time {
	t, _ := s.lastCycle.Load().(time.Time)
	return t
}

// Run loops until ctx is cancelled. Cancellation is honored between items
// and before each sleep; the in-flight item finishes or aborts cleanly.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.CheckInterval
	if len(s.cfg.Feeds) == 0 && s.cfg.ImportDir != "" {
		interval = s.cfg.ImportInterval
		s.log.Info().Dur("interval", interval).Msg("import-only mode, using import check interval")
	}

	for {
		s.runCycle(ctx)
		s.cycles.Add(1)
		s.lastCycle.Store(time.Now())

		if !s.sleep(ctx, interval) {
			s.log.Info().Msg("scheduler stopping")
			return
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.scanImports(ctx)

	if len(s.cfg.Feeds) == 0 {
		return
	}

	s.log.Info().Int("feeds", len(s.cfg.Feeds)).Msg("starting feed check cycle")
	for _, url := range s.cfg.Feeds {
		if ctx.Err() != nil {
			return
		}
		s.pollFeed(ctx, url)
	}
	s.log.Info().Msg("feed check cycle complete")
}

// pollFeed processes one feed. A feed failure never aborts the cycle for
// other feeds.
func (s *Scheduler) pollFeed(ctx context.Context, url string) {
	log := s.log.With().Str("feed", url).Logger()

	parsed, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		metrics.FeedFetchErrorsTotal.Inc()
		log.Error().Err(err).Msg("feed unavailable, will retry next cycle")
		return
	}

	// Entries are processed in the order the feed returns them.
	for _, item := range parsed.Items {
		if ctx.Err() != nil {
			return
		}

		ep, err := feed.Resolve(item)
		if err != nil {
			log.Debug().Err(err).Str("id", ep.ID).Str("title", ep.Title).Msg("unusable entry, skipping")
			continue
		}

		res := s.pipeline.Process(ctx, Candidate{
			ID:        ep.ID,
			Title:     ep.Title,
			AudioURL:  ep.AudioURL,
			Published: ep.Published,
			Stem:      ep.Stem,
			Source:    SourceFeed,
		})

		// Interleave an import check after each completed episode.
		if res.Status == StatusDone {
			s.scanImports(ctx)
		}
	}
}

func (s *Scheduler) scanImports(ctx context.Context) {
	if s.scanner == nil {
		return
	}
	for _, c := range s.scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		s.pipeline.Process(ctx, c)
	}
}

// sleep waits out the interval, serving watcher wake-ups with an immediate
// import scan. Returns false when ctx is cancelled.
func (s *Scheduler) sleep(ctx context.Context, interval time.Duration) bool {
	s.log.Info().Dur("interval", interval).Msg("sleeping until next cycle")

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-s.wakeCh():
			s.log.Debug().Msg("import watcher wake-up")
			s.scanImports(ctx)
		}
	}
}

// wakeCh returns a never-ready channel when no watcher is wired.
func (s *Scheduler) wakeCh() <-chan struct{} {
	if s.wake == nil {
		return nil
	}
	return s.wake
}
