package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/config"
	"github.com/snarg/podscribe/internal/metrics"
	"github.com/snarg/podscribe/internal/notify"
	"github.com/snarg/podscribe/internal/state"
	"github.com/snarg/podscribe/internal/textutil"
	"github.com/snarg/podscribe/internal/transcribe"
)

// processingSubdir is where import files live while being transcribed. On
// failure they are moved back to the import root, never deleted.
const processingSubdir = ".processing_tmp"

// tempPrefix marks in-flight downloads so a startup sweep can identify them.
const tempPrefix = "_temp_"

// Pipeline runs the per-item state machine. It is strictly sequential: one
// item is taken through commit or abort before the next begins, because the
// transcription engine is the scarce resource.
type Pipeline struct {
	cfg        *config.Config
	store      *state.Store
	engine     transcribe.Engine
	notifier   notify.Notifier
	downloader *Downloader
	log        zerolog.Logger

	now func() time.Time // test seam

	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// NewPipeline wires the state machine to its collaborators.
func NewPipeline(cfg *config.Config, store *state.Store, engine transcribe.Engine, notifier notify.Notifier, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		notifier:   notifier,
		downloader: NewDownloader(log),
		log:        log,
		now:        time.Now,
	}
}

// TranscriptPath is the deterministic final path for an item's transcript.
func (p *Pipeline) TranscriptPath(stem string) string {
	return filepath.Join(p.cfg.TranscriptsDir(), stem+".txt")
}

// Counts returns (processed, skipped, failed) totals for this process.
func (p *Pipeline) Counts() (int64, int64, int64) {
	return p.processed.Load(), p.skipped.Load(), p.failed.Load()
}

// Process takes one candidate through the full state machine. Skips and
// aborts never affect other items; only StatusDone leaves durable state.
func (p *Pipeline) Process(ctx context.Context, c Candidate) Result {
	log := p.log.With().
		Str("id", c.ID).
		Str("title", c.Title).
		Str("source", string(c.Source)).
		Logger()

	res := p.run(ctx, log, c)
	switch res.Status {
	case StatusDone:
		p.processed.Add(1)
		metrics.EpisodesProcessedTotal.WithLabelValues(string(c.Source)).Inc()
		log.Info().Msg("episode processed")
	case StatusSkipped:
		p.skipped.Add(1)
		metrics.EpisodesSkippedTotal.WithLabelValues(res.Reason).Inc()
		log.Debug().Str("reason", res.Reason).Msg("episode skipped")
	case StatusFailed:
		p.failed.Add(1)
		metrics.EpisodesFailedTotal.WithLabelValues(res.Reason).Inc()
		log.Warn().Str("stage", res.Reason).Msg("episode aborted, will retry if still eligible")
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, log zerolog.Logger, c Candidate) Result {
	// Freshness filter. Import items carry no dates and always pass.
	if c.Published != nil {
		cutoff := p.now().UTC().AddDate(0, 0, -p.cfg.LookbackDays)
		if c.Published.Before(cutoff) {
			return Result{StatusSkipped, "stale"}
		}
	} else if c.Source == SourceFeed && p.cfg.ImportDir == "" {
		// Podcast-only mode skips undated entries.
		return Result{StatusSkipped, "undated"}
	}

	// Duplicate filter.
	if p.store.Seen(c.ID) {
		p.discardDuplicateImport(log, c)
		return Result{StatusSkipped, "already_processed"}
	}

	// Existing-output filter: a transcript at the final path is evidence of
	// completion; heal the missed record and skip.
	finalPath := p.TranscriptPath(c.Stem)
	if _, err := os.Stat(finalPath); err == nil {
		log.Warn().Str("path", finalPath).Msg("transcript already exists, marking processed")
		if err := p.store.Record(c.ID); err != nil {
			log.Error().Err(err).Msg("failed to record healed identity")
		}
		p.discardDuplicateImport(log, c)
		return Result{StatusSkipped, "transcript_exists"}
	}

	// Acquire audio.
	audioPath, err := p.acquire(ctx, log, c)
	if err != nil {
		log.Error().Err(err).Msg("acquisition failed")
		return Result{StatusFailed, "acquire"}
	}

	// Transcribe to a temp path, then atomically rename into place.
	if err := p.transcribeTo(ctx, log, audioPath, finalPath); err != nil {
		log.Error().Err(err).Msg("transcription failed")
		p.unwindAudio(log, c, audioPath)
		return Result{StatusFailed, "transcribe"}
	}

	// Finalize audio. Failures here are logged but the item is complete:
	// the transcript is already at its final path.
	p.finalizeAudio(log, c, audioPath)

	// Best-effort notification.
	p.notifier.Send(ctx, finalPath, c.Title)

	// Commit. Only this makes the item permanently done.
	if err := p.store.Record(c.ID); err != nil {
		// Transcript exists, so a future pass heals the record.
		log.Error().Err(err).Msg("failed to record processed identity")
	}
	return Result{StatusDone, ""}
}

// acquire obtains a local audio file for the candidate: feed items are
// downloaded to a temp path, import items are moved into the processing
// subfolder. Any failure aborts the item with no state recorded.
func (p *Pipeline) acquire(ctx context.Context, log zerolog.Logger, c Candidate) (string, error) {
	switch c.Source {
	case SourceFeed:
		dir := p.cfg.DownloadTempDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create download dir: %w", err)
		}
		dest := filepath.Join(dir, tempPrefix+c.Stem+audioExt(c.AudioURL))
		if err := p.downloader.Download(ctx, c.AudioURL, dest); err != nil {
			return "", err
		}
		return dest, nil

	case SourceImport:
		dir := filepath.Join(p.cfg.ImportDir, processingSubdir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create processing dir: %w", err)
		}
		dest := filepath.Join(dir, filepath.Base(c.LocalPath))
		if err := os.Rename(c.LocalPath, dest); err != nil {
			return "", fmt.Errorf("move import file: %w", err)
		}
		return dest, nil

	default:
		return "", fmt.Errorf("candidate has unknown source %q", c.Source)
	}
}

// transcribeTo runs the engine and writes the transcript to final via a
// .processing sibling that is renamed into place on success. On failure the
// temp remnant is removed and final is never created.
func (p *Pipeline) transcribeTo(ctx context.Context, log zerolog.Logger, audioPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("create transcripts dir: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
	defer cancel()

	start := p.now()
	segments, err := p.engine.Transcribe(tctx, audioPath)
	metrics.TranscribeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	tempPath := finalPath + ".processing"
	if err := writeTranscript(tempPath, segments, p.cfg.DebugLogging, log); err != nil {
		if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Error().Err(rmErr).Str("path", tempPath).Msg("failed to remove temp transcript")
		}
		return err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		if rmErr := os.Remove(tempPath); rmErr != nil {
			log.Error().Err(rmErr).Str("path", tempPath).Msg("failed to remove temp transcript")
		}
		return fmt.Errorf("finalize transcript: %w", err)
	}

	log.Info().Int("segments", len(segments)).Str("path", finalPath).Msg("transcript written")
	return nil
}

// writeTranscript renders one line per segment: [start --> end] text.
func writeTranscript(path string, segments []transcribe.Segment, debug bool, log zerolog.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}

	for i, seg := range segments {
		line := fmt.Sprintf("[%s --> %s] %s\n",
			textutil.FormatTimestamp(seg.Start),
			textutil.FormatTimestamp(seg.End),
			strings.TrimSpace(seg.Text))
		if _, err := f.WriteString(line); err != nil {
			f.Close()
			return fmt.Errorf("write transcript: %w", err)
		}
		if debug {
			log.Debug().Int("segment", i+1).Str("line", strings.TrimRight(line, "\n")).Msg("segment")
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	return nil
}

// unwindAudio handles the acquired audio after a transcription failure:
// downloaded audio is deleted so the next cycle re-fetches it, imported
// audio is returned to the import root for a later retry.
func (p *Pipeline) unwindAudio(log zerolog.Logger, c Candidate, audioPath string) {
	switch c.Source {
	case SourceFeed:
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", audioPath).Msg("failed to remove temp audio")
		}
	case SourceImport:
		back := filepath.Join(p.cfg.ImportDir, filepath.Base(audioPath))
		if err := os.Rename(audioPath, back); err != nil {
			log.Error().Err(err).Str("path", audioPath).Msg("failed to return import file to root")
		}
	}
}

// finalizeAudio disposes of the source audio after successful transcription.
// Keep-audio applies to feed downloads; imported audio is always removed,
// its owner having handed it over for processing.
func (p *Pipeline) finalizeAudio(log zerolog.Logger, c Candidate, audioPath string) {
	if c.Source == SourceFeed && p.cfg.KeepAudio {
		dest := filepath.Join(p.cfg.AudioKeepDir(), c.Stem+filepath.Ext(audioPath))
		if err := os.MkdirAll(p.cfg.AudioKeepDir(), 0o755); err != nil {
			log.Error().Err(err).Msg("failed to create audio keep dir")
			return
		}
		if err := os.Rename(audioPath, dest); err != nil {
			log.Error().Err(err).Str("path", audioPath).Msg("failed to move kept audio")
		} else {
			log.Info().Str("path", dest).Msg("audio kept")
		}
		return
	}

	if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("path", audioPath).Msg("failed to delete audio")
	}
}

// discardDuplicateImport removes an import-root file whose identity is
// already done, so it does not linger in the watched folder forever.
func (p *Pipeline) discardDuplicateImport(log zerolog.Logger, c Candidate) {
	if c.Source != SourceImport || c.LocalPath == "" {
		return
	}
	if err := os.Remove(c.LocalPath); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("path", c.LocalPath).Msg("failed to remove already-processed import file")
	}
}

// audioExt picks a filename extension for a download URL, defaulting to
// .mp3 when the URL path has no recognizable audio extension.
func audioExt(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := strings.ToLower(filepath.Ext(trimmed))
	switch ext {
	case ".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".opus":
		return ext
	}
	return ".mp3"
}
