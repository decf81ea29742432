package feed

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/snarg/podscribe/internal/textutil"
)

// Resolution failures. Entries that fail resolution reappear identically on
// every poll, so callers skip them without recording state.
var (
	ErrNoIdentity = errors.New("entry has no id, guid, or link")
	ErrNoAudio    = errors.New("entry has no audio enclosure or audio link")
)

// audioExts are the audio file extensions accepted from enclosure-less entry
// links and from the import folder.
var audioExts = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
	".opus": true,
}

// IsAudioFile reports whether name carries a supported audio extension.
func IsAudioFile(name string) bool {
	return audioExts[strings.ToLower(path.Ext(name))]
}

// Episode is the resolved form of one feed entry.
type Episode struct {
	ID        string
	Title     string
	AudioURL  string
	Stem      string     // sanitized output filename stem
	Published *time.Time // UTC; nil when the entry carries no parsable date
}

// Resolve extracts a stable identity, audio URL, display title, output stem,
// and publication time from a raw feed entry. On ErrNoAudio the returned
// Episode still carries identity, title, and date so the caller can log the
// skip cleanly.
func Resolve(item *gofeed.Item) (Episode, error) {
	ep := Episode{
		ID:        firstNonEmpty(item.GUID, item.Link),
		Title:     item.Title,
		Published: publishedTime(item),
	}
	if ep.ID == "" {
		return ep, ErrNoIdentity
	}

	if ep.Title == "" {
		ep.Title = "episode_" + ep.ID
	}
	ep.Stem = textutil.SanitizeFilename(ep.Title)
	if ep.Stem == "" {
		ep.Stem = textutil.SanitizeFilename(ep.ID)
	}

	ep.AudioURL = audioURL(item)
	if ep.AudioURL == "" {
		return ep, ErrNoAudio
	}
	return ep, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// publishedTime prefers the structured parsed time, then attempts the common
// RFC1123 date-string layouts. All parse failures yield nil: a missing date
// is a valid state that only affects freshness filtering.
func publishedTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.Published == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, item.Published); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// audioURL picks the first enclosure whose declared type is audio, falling
// back to the entry link when it points at a supported audio file.
func audioURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "audio") && enc.URL != "" {
			return enc.URL
		}
	}
	if item.Link != "" && IsAudioFile(item.Link) {
		return item.Link
	}
	return ""
}
