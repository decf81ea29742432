package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/config"
	"github.com/snarg/podscribe/internal/notify"
	"github.com/snarg/podscribe/internal/state"
	"github.com/snarg/podscribe/internal/transcribe"
)

type fakeEngine struct {
	segments []transcribe.Segment
	err      error
	calls    int
}

func (f *fakeEngine) Load(context.Context) error { return nil }
func (f *fakeEngine) Name() string               { return "fake" }
func (f *fakeEngine) Model() string              { return "fake-model" }

func (f *fakeEngine) Transcribe(ctx context.Context, audioPath string) ([]transcribe.Segment, error) {
	f.calls++
	if _, err := os.Stat(audioPath); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.segments, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		OutputDir:         t.TempDir(),
		LookbackDays:      7,
		TranscribeTimeout: 10 * time.Second,
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, eng transcribe.Engine) (*Pipeline, *state.Store) {
	t.Helper()
	store := state.Open(cfg.StateFile(), zerolog.Nop())
	p := NewPipeline(cfg, store, eng, notify.New("", zerolog.Nop()), zerolog.Nop())
	return p, store
}

func audioServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("fake-mp3-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func yesterday() *time.Time {
	t := time.Now().UTC().Add(-24 * time.Hour)
	return &t
}

func TestProcessFeedItemEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	eng := &fakeEngine{segments: []transcribe.Segment{
		{Start: 0, End: 1.5, Text: " hello there "},
		{Start: 1.5, End: 3, Text: "general"},
	}}
	p, store := newTestPipeline(t, cfg, eng)
	srv := audioServer(t)

	c := Candidate{
		ID:        "guid-1",
		Title:     "Episode One",
		AudioURL:  srv.URL + "/ep1.mp3",
		Published: yesterday(),
		Stem:      "Episode_One",
		Source:    SourceFeed,
	}

	res := p.Process(context.Background(), c)
	if res.Status != StatusDone {
		t.Fatalf("status = %v (%s), want done", res.Status, res.Reason)
	}

	data, err := os.ReadFile(p.TranscriptPath("Episode_One"))
	if err != nil {
		t.Fatalf("transcript missing: %v", err)
	}
	want := "[00:00:00.000 --> 00:00:01.500] hello there\n[00:00:01.500 --> 00:00:03.000] general\n"
	if string(data) != want {
		t.Errorf("transcript = %q, want %q", data, want)
	}

	if !store.Seen("guid-1") {
		t.Error("identity not committed")
	}

	// Temp audio must be gone (not keeping audio).
	if _, err := os.Stat(filepath.Join(cfg.DownloadTempDir(), "_temp_Episode_One.mp3")); !os.IsNotExist(err) {
		t.Error("temp audio not deleted after success")
	}

	// Second pass: permanently skipped, engine not invoked again.
	res = p.Process(context.Background(), c)
	if res.Status != StatusSkipped || res.Reason != "already_processed" {
		t.Fatalf("second pass = %v (%s), want skip already_processed", res.Status, res.Reason)
	}
	if eng.calls != 1 {
		t.Errorf("engine calls = %d, want 1", eng.calls)
	}
}

func TestProcessSkipsStaleItems(t *testing.T) {
	cfg := testConfig(t)
	eng := &fakeEngine{}
	p, _ := newTestPipeline(t, cfg, eng)

	old := time.Now().UTC().AddDate(0, 0, -30)
	res := p.Process(context.Background(), Candidate{
		ID:        "old-guid",
		Title:     "Ancient",
		AudioURL:  "https://example.invalid/old.mp3",
		Published: &old,
		Stem:      "Ancient",
		Source:    SourceFeed,
	})

	if res.Status != StatusSkipped || res.Reason != "stale" {
		t.Fatalf("res = %v (%s), want skip stale", res.Status, res.Reason)
	}
	if eng.calls != 0 {
		t.Error("stale item reached the engine")
	}
}

func TestProcessUndatedFeedItems(t *testing.T) {
	t.Run("podcast-only mode skips", func(t *testing.T) {
		cfg := testConfig(t)
		p, _ := newTestPipeline(t, cfg, &fakeEngine{})

		res := p.Process(context.Background(), Candidate{
			ID: "nodate", Title: "No Date", AudioURL: "https://example.invalid/x.mp3",
			Stem: "No_Date", Source: SourceFeed,
		})
		if res.Status != StatusSkipped || res.Reason != "undated" {
			t.Fatalf("res = %v (%s), want skip undated", res.Status, res.Reason)
		}
	})

	t.Run("passes when import dir also configured", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ImportDir = t.TempDir()
		eng := &fakeEngine{segments: []transcribe.Segment{{Start: 0, End: 1, Text: "hi"}}}
		p, _ := newTestPipeline(t, cfg, eng)
		srv := audioServer(t)

		res := p.Process(context.Background(), Candidate{
			ID: "nodate", Title: "No Date", AudioURL: srv.URL + "/x.mp3",
			Stem: "No_Date", Source: SourceFeed,
		})
		if res.Status != StatusDone {
			t.Fatalf("res = %v (%s), want done", res.Status, res.Reason)
		}
	})
}

func TestProcessExistingTranscriptHealsRecord(t *testing.T) {
	cfg := testConfig(t)
	eng := &fakeEngine{}
	p, store := newTestPipeline(t, cfg, eng)

	if err := os.MkdirAll(cfg.TranscriptsDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.TranscriptPath("Episode_Two"), []byte("old transcript\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := p.Process(context.Background(), Candidate{
		ID: "guid-2", Title: "Episode Two", AudioURL: "https://example.invalid/2.mp3",
		Published: yesterday(), Stem: "Episode_Two", Source: SourceFeed,
	})

	if res.Status != StatusSkipped || res.Reason != "transcript_exists" {
		t.Fatalf("res = %v (%s), want skip transcript_exists", res.Status, res.Reason)
	}
	if !store.Seen("guid-2") {
		t.Error("identity not healed into processed set")
	}
	if eng.calls != 0 {
		t.Error("existing transcript still reached the engine")
	}
}

func TestProcessDownloadFailureIsRetryable(t *testing.T) {
	cfg := testConfig(t)
	p, store := newTestPipeline(t, cfg, &fakeEngine{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	res := p.Process(context.Background(), Candidate{
		ID: "guid-3", Title: "Flaky", AudioURL: srv.URL + "/3.mp3",
		Published: yesterday(), Stem: "Flaky", Source: SourceFeed,
	})

	if res.Status != StatusFailed || res.Reason != "acquire" {
		t.Fatalf("res = %v (%s), want failed acquire", res.Status, res.Reason)
	}
	if store.Seen("guid-3") {
		t.Error("failed item must not be recorded")
	}
	if _, err := os.Stat(filepath.Join(cfg.DownloadTempDir(), "_temp_Flaky.mp3")); !os.IsNotExist(err) {
		t.Error("partial download left behind")
	}
}

func TestProcessTranscribeFailureFeedItem(t *testing.T) {
	cfg := testConfig(t)
	eng := &fakeEngine{err: errors.New("engine exploded")}
	p, store := newTestPipeline(t, cfg, eng)
	srv := audioServer(t)

	res := p.Process(context.Background(), Candidate{
		ID: "guid-4", Title: "Broken", AudioURL: srv.URL + "/4.mp3",
		Published: yesterday(), Stem: "Broken", Source: SourceFeed,
	})

	if res.Status != StatusFailed || res.Reason != "transcribe" {
		t.Fatalf("res = %v (%s), want failed transcribe", res.Status, res.Reason)
	}
	if store.Seen("guid-4") {
		t.Error("failed item must not be recorded")
	}
	if _, err := os.Stat(p.TranscriptPath("Broken")); !os.IsNotExist(err) {
		t.Error("transcript must not exist after failure")
	}
	if _, err := os.Stat(p.TranscriptPath("Broken") + ".processing"); !os.IsNotExist(err) {
		t.Error("temp transcript remnant left behind")
	}
	if _, err := os.Stat(filepath.Join(cfg.DownloadTempDir(), "_temp_Broken.mp3")); !os.IsNotExist(err) {
		t.Error("temp audio left behind after transcription failure")
	}
}

func TestProcessTranscribeFailureRestoresImportFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImportDir = t.TempDir()
	eng := &fakeEngine{err: errors.New("engine exploded")}
	p, store := newTestPipeline(t, cfg, eng)

	src := filepath.Join(cfg.ImportDir, "interview.mp3")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := p.Process(context.Background(), Candidate{
		ID: "interview", Title: "interview", LocalPath: src,
		Stem: "interview", Source: SourceImport,
	})

	if res.Status != StatusFailed {
		t.Fatalf("res = %v (%s), want failed", res.Status, res.Reason)
	}
	// Audio restored to the import root, not stuck in processing temp.
	if _, err := os.Stat(src); err != nil {
		t.Errorf("import file not restored to root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.ImportDir, processingSubdir, "interview.mp3")); !os.IsNotExist(err) {
		t.Error("import file stuck in processing subfolder")
	}
	if _, err := os.Stat(p.TranscriptPath("interview")); !os.IsNotExist(err) {
		t.Error("transcript must not exist")
	}
	if store.Seen("interview") {
		t.Error("failed import must not be recorded")
	}
}

func TestProcessImportItemSuccessDeletesAudio(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImportDir = t.TempDir()
	eng := &fakeEngine{segments: []transcribe.Segment{{Start: 0, End: 2, Text: "imported"}}}
	p, store := newTestPipeline(t, cfg, eng)

	src := filepath.Join(cfg.ImportDir, "talk.mp3")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := p.Process(context.Background(), Candidate{
		ID: "talk", Title: "talk", LocalPath: src,
		Stem: "talk", Source: SourceImport,
	})

	if res.Status != StatusDone {
		t.Fatalf("res = %v (%s), want done", res.Status, res.Reason)
	}
	if !store.Seen("talk") {
		t.Error("import identity not committed")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("import file still in root after success")
	}
	if _, err := os.Stat(filepath.Join(cfg.ImportDir, processingSubdir, "talk.mp3")); !os.IsNotExist(err) {
		t.Error("import file still in processing subfolder after success")
	}
}

func TestProcessKeepAudioMovesDownload(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepAudioRaw = "true"
	cfg.KeepAudio = true
	eng := &fakeEngine{segments: []transcribe.Segment{{Start: 0, End: 1, Text: "kept"}}}
	p, _ := newTestPipeline(t, cfg, eng)
	srv := audioServer(t)

	res := p.Process(context.Background(), Candidate{
		ID: "guid-k", Title: "Keeper", AudioURL: srv.URL + "/k.mp3",
		Published: yesterday(), Stem: "Keeper", Source: SourceFeed,
	})

	if res.Status != StatusDone {
		t.Fatalf("res = %v (%s), want done", res.Status, res.Reason)
	}
	kept := filepath.Join(cfg.AudioKeepDir(), "Keeper.mp3")
	data, err := os.ReadFile(kept)
	if err != nil {
		t.Fatalf("kept audio missing: %v", err)
	}
	if string(data) != "fake-mp3-bytes" {
		t.Errorf("kept audio corrupted: %q", data)
	}
}

func TestProcessDuplicateImportFileIsDiscarded(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImportDir = t.TempDir()
	p, store := newTestPipeline(t, cfg, &fakeEngine{})

	if err := store.Record("rerun"); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(cfg.ImportDir, "rerun.mp3")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := p.Process(context.Background(), Candidate{
		ID: "rerun", Title: "rerun", LocalPath: src,
		Stem: "rerun", Source: SourceImport,
	})

	if res.Status != StatusSkipped || res.Reason != "already_processed" {
		t.Fatalf("res = %v (%s), want skip already_processed", res.Status, res.Reason)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("already-processed import file not removed from root")
	}
}

func TestAudioExt(t *testing.T) {
	for url, want := range map[string]string{
		"https://cdn.example/ep.mp3":           ".mp3",
		"https://cdn.example/ep.M4A?sig=abc":   ".m4a",
		"https://cdn.example/ep":               ".mp3",
		"https://cdn.example/ep.php?f=x.wav":   ".mp3",
		"https://cdn.example/show.opus#frag":   ".opus",
	} {
		if got := audioExt(url); got != want {
			t.Errorf("audioExt(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestTranscriptLinesTrimSegmentText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.txt")
	segs := []transcribe.Segment{{Start: 0, End: 0.5, Text: "  padded  "}}
	if err := writeTranscript(path, segs, false, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "] padded\n") {
		t.Errorf("line = %q, want trimmed text", data)
	}
}
