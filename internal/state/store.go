// Package state persists the set of fully processed item identities. The
// durable form is an append-only text file with one identity per line; the
// file is read once at startup and the in-memory set is canonical afterwards.
package state

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Store tracks processed item identities. Record is only ever called from
// the single pipeline worker, but the HTTP status surface reads the set from
// handler goroutines, so the map is guarded.
type Store struct {
	path string
	log  zerolog.Logger

	mu   sync.RWMutex
	seen map[string]struct{}
}

// Open loads the processed-set log at path. A missing file starts an empty
// set; a read error is logged and also starts empty rather than blocking
// startup, since the worst case is reprocessing work that is skipped at the
// existing-transcript check anyway.
func Open(path string, log zerolog.Logger) *Store {
	s := &Store{
		path: path,
		seen: make(map[string]struct{}),
		log:  log,
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("no processed-episodes log, starting fresh")
		} else {
			log.Error().Err(err).Str("path", path).Msg("failed to read processed-episodes log, starting empty")
		}
		return s
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if id := sc.Text(); id != "" {
			s.seen[id] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("error scanning processed-episodes log")
	}

	log.Info().Int("count", len(s.seen)).Str("path", path).Msg("loaded processed episodes")
	return s
}

// Seen reports whether identity has been committed.
func (s *Store) Seen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of committed identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Record durably commits identity and adds it to the in-memory set. The
// append is a single write call so a crash cannot leave a torn line.
// Recording an identity twice is harmless; the in-memory set deduplicates.
func (s *Store) Record(id string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(id + "\n")); err != nil {
		return fmt.Errorf("append state: %w", err)
	}

	s.mu.Lock()
	s.seen[id] = struct{}{}
	s.mu.Unlock()
	return nil
}
