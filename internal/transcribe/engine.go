// Package transcribe defines the speech-to-text engine capability and its
// two HTTP-backed implementations: a local OpenAI-compatible faster-whisper
// server (the fast batch engine) and the hosted OpenAI API (the reference
// engine).
package transcribe

import (
	"context"
	"fmt"

	"github.com/snarg/podscribe/internal/config"
)

// Segment is one timed span of transcribed speech.
type Segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// Engine is the interface for speech-to-text backends. Load is called once
// at startup and its failure is fatal; Transcribe returns segments ordered
// by start time.
type Engine interface {
	Load(ctx context.Context) error
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
	Name() string
	Model() string
}

// New constructs the engine selected by cfg.Engine. An unknown engine name
// is a startup error, not a per-call runtime branch.
func New(cfg *config.Config) (Engine, error) {
	switch cfg.Engine {
	case config.EngineWhisper:
		return NewWhisperEngine(cfg.WhisperURL, cfg.Model, cfg.Device, cfg.ComputeType, cfg.TranscribeTimeout), nil
	case config.EngineOpenAI:
		return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.Model, cfg.TranscribeTimeout), nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", cfg.Engine)
	}
}

// verboseResponse is the verbose_json body shared by both OpenAI-compatible
// backends.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// segments converts the wire response into ordered Segments. When a backend
// returns text without segment timestamps, the whole text is synthesized
// into a single segment spanning the reported duration.
func (r *verboseResponse) segments() []Segment {
	if len(r.Segments) == 0 {
		if r.Text == "" {
			return nil
		}
		return []Segment{{Start: 0, End: r.Duration, Text: r.Text}}
	}
	out := make([]Segment, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = Segment{Start: s.Start, End: s.End, Text: s.Text}
	}
	return out
}
