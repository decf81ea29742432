package ingest

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/feed"
	"github.com/snarg/podscribe/internal/textutil"
)

// Scanner discovers audio files dropped into the import folder. Imported
// items have no publication date; their identity is the sanitized file stem.
type Scanner struct {
	dir string
	log zerolog.Logger
}

// NewScanner creates a scanner over the import directory.
func NewScanner(dir string, log zerolog.Logger) *Scanner {
	return &Scanner{dir: dir, log: log}
}

// Scan lists candidate files currently in the import root, in directory
// iteration order. The files are not moved here; acquisition inside the
// pipeline claims each one, so a file that fails to move simply stays for
// the next scan.
func (s *Scanner) Scan() []Candidate {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("dir", s.dir).Msg("cannot read import directory")
		}
		return nil
	}

	var out []Candidate
	for _, e := range entries {
		if e.IsDir() || !feed.IsAudioFile(e.Name()) {
			continue
		}

		title := stemOf(e.Name())
		stem := textutil.SanitizeFilename(title)
		if stem == "" {
			s.log.Debug().Str("file", e.Name()).Msg("import file sanitizes to empty stem, skipping")
			continue
		}

		out = append(out, Candidate{
			ID:        stem,
			Title:     title,
			LocalPath: filepath.Join(s.dir, e.Name()),
			Stem:      stem,
			Source:    SourceImport,
		})
	}
	return out
}

// stemOf strips the final extension from a filename.
func stemOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}
