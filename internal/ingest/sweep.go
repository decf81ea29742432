package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/config"
)

// SweepTemp removes artifacts stranded by a crash: partial downloads
// (_temp_* files), half-written transcripts (*.processing), and import
// files stuck in the processing subfolder, which are returned to the import
// root. Only these well-known temp name patterns are touched.
func SweepTemp(cfg *config.Config, log zerolog.Logger) {
	for _, dir := range []string{cfg.OutputDir, cfg.AudioKeepDir()} {
		sweepPattern(dir, func(name string) bool {
			return strings.HasPrefix(name, tempPrefix)
		}, log)
	}

	sweepPattern(cfg.TranscriptsDir(), func(name string) bool {
		return strings.HasSuffix(name, ".processing")
	}, log)

	if cfg.ImportDir != "" {
		restoreStranded(cfg.ImportDir, log)
	}
}

func sweepPattern(dir string, match func(string) bool, log zerolog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to sweep temp file")
		} else {
			log.Info().Str("path", path).Msg("swept stale temp file")
		}
	}
}

// restoreStranded moves files left in the processing subfolder by a crash
// back to the import root so the next scan retries them.
func restoreStranded(importDir string, log zerolog.Logger) {
	procDir := filepath.Join(importDir, processingSubdir)
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(procDir, e.Name())
		dst := filepath.Join(importDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			log.Error().Err(err).Str("path", src).Msg("failed to restore stranded import file")
		} else {
			log.Info().Str("path", dst).Msg("restored stranded import file")
		}
	}
}
