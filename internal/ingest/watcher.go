package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/feed"
)

// debounceDelay coalesces rapid Create+Write events on the same file and
// gives the writer time to finish before a scan picks the file up.
const debounceDelay = 2 * time.Second

// Watcher turns filesystem events in the import root into wake-up nudges
// for the scheduler. Polling remains the correctness mechanism; the watcher
// only shortens the wait after a file is dropped in.
type Watcher struct {
	dir  string
	wake chan struct{}
	log  zerolog.Logger

	watcher *fsnotify.Watcher

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// NewWatcher creates a watcher for the import directory.
func NewWatcher(dir string, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:            dir,
		wake:           make(chan struct{}, 1),
		log:            log,
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Wake is signalled (coalesced) when a new audio file appears.
func (w *Watcher) Wake() <-chan struct{} { return w.wake }

// Start begins watching. A watcher that cannot start is not fatal; the
// scheduler's polling covers for it.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	w.log.Info().Str("dir", w.dir).Msg("import watcher started")
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Ignore our own processing subfolder and non-audio files.
			if strings.Contains(event.Name, processingSubdir) || !feed.IsAudioFile(event.Name) {
				continue
			}
			w.scheduleWake(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleWake debounces per path, then signals the wake channel.
func (w *Watcher) scheduleWake(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(debounceDelay)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(debounceDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case w.wake <- struct{}{}:
		default:
		}
	})
}
