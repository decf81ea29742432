package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenMissingFile(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nope.log"), zerolog.Nop())
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
	if s.Seen("anything") {
		t.Error("Seen on empty store returned true")
	}
}

func TestRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", ".processed_episodes.log")

	s := Open(path, zerolog.Nop())
	for _, id := range []string{"guid-1", "guid-2", "guid-1"} {
		if err := s.Record(id); err != nil {
			t.Fatalf("Record(%q): %v", id, err)
		}
	}

	if !s.Seen("guid-1") || !s.Seen("guid-2") {
		t.Error("recorded identities not visible in memory")
	}

	// A fresh load must see the same set across restart, duplicate lines
	// collapsing into one entry.
	s2 := Open(path, zerolog.Nop())
	if s2.Len() != 2 {
		t.Fatalf("reloaded Len = %d, want 2", s2.Len())
	}
	if !s2.Seen("guid-1") || !s2.Seen("guid-2") {
		t.Error("reloaded store missing identities")
	}
}

func TestFileFormatIsOneIdentityPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.log")

	s := Open(path, zerolog.Nop())
	if err := s.Record("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("b"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a\nb\n" {
		t.Errorf("file contents = %q, want %q", data, "a\nb\n")
	}
}

// The pipeline worker commits identities while HTTP status handlers call
// Len and Seen from their own goroutines; run both sides together so the
// race detector can catch an unguarded map.
func TestConcurrentRecordAndRead(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "state.log"), zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := s.Record(fmt.Sprintf("guid-%d", i)); err != nil {
				t.Errorf("Record: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Len()
			s.Seen(fmt.Sprintf("guid-%d", i))
		}
	}()
	wg.Wait()

	if s.Len() != 200 {
		t.Fatalf("Len = %d, want 200", s.Len())
	}
}

func TestOpenSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.log")
	if err := os.WriteFile(path, []byte("a\n\nb\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Open(path, zerolog.Nop())
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}
