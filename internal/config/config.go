// Package config loads the environment-sourced configuration surface.
// Priority: environment variables > .env file > struct defaults. Numeric
// values are parsed leniently: an invalid value warns and falls back to its
// default instead of failing startup.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Engine names accepted for TRANSCRIPTION_ENGINE.
const (
	EngineWhisper = "whisper" // local OpenAI-compatible faster-whisper server
	EngineOpenAI  = "openai"  // hosted reference API
)

type Config struct {
	Engine      string `env:"TRANSCRIPTION_ENGINE" envDefault:"whisper"`
	Model       string `env:"WHISPER_MODEL" envDefault:"base"`
	Device      string `env:"DEVICE" envDefault:"cpu"`
	ComputeType string `env:"COMPUTE_TYPE" envDefault:"default"`

	WhisperURL   string `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	FeedsRaw             string `env:"PODCAST_FEEDS"`
	CheckIntervalRaw     string `env:"CHECK_INTERVAL_SECONDS" envDefault:"3600"`
	LookbackDaysRaw      string `env:"LOOKBACK_DAYS" envDefault:"7"`
	KeepAudioRaw         string `env:"KEEP_MP3" envDefault:"false"`
	ImportDir            string `env:"IMPORT_DIR"`
	ImportIntervalRaw    string `env:"IMPORT_CHECK_INTERVAL_SECONDS" envDefault:"60"`
	TranscribeTimeoutRaw string `env:"TRANSCRIBE_TIMEOUT_SECONDS" envDefault:"1800"`

	OutputDir  string `env:"OUTPUT_DIR" envDefault:"/out"`
	WebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	DebugLoggingRaw string `env:"DEBUG_LOGGING" envDefault:"false"`
	HTTPAddr        string `env:"HTTP_ADDR" envDefault:":8080"`

	// Normalized fields, populated by Load.
	Feeds             []string      `env:"-"`
	CheckInterval     time.Duration `env:"-"`
	LookbackDays      int           `env:"-"`
	KeepAudio         bool          `env:"-"`
	ImportInterval    time.Duration `env:"-"`
	TranscribeTimeout time.Duration `env:"-"`
	DebugLogging      bool          `env:"-"`
}

// Load reads configuration from an optional .env file and the environment,
// then normalizes raw values. It only fails on a broken environment parse,
// never on bad numeric values.
func Load(log zerolog.Logger) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	cfg.normalize(log)
	return cfg, nil
}

func (c *Config) normalize(log zerolog.Logger) {
	for _, u := range strings.Split(c.FeedsRaw, ";") {
		if u = strings.TrimSpace(u); u != "" {
			c.Feeds = append(c.Feeds, u)
		}
	}

	c.CheckInterval = time.Duration(intOr(log, "CHECK_INTERVAL_SECONDS", c.CheckIntervalRaw, 3600)) * time.Second
	c.LookbackDays = intOr(log, "LOOKBACK_DAYS", c.LookbackDaysRaw, 7)
	c.ImportInterval = time.Duration(intOr(log, "IMPORT_CHECK_INTERVAL_SECONDS", c.ImportIntervalRaw, 60)) * time.Second
	c.TranscribeTimeout = time.Duration(intOr(log, "TRANSCRIBE_TIMEOUT_SECONDS", c.TranscribeTimeoutRaw, 1800)) * time.Second

	c.KeepAudio = strings.EqualFold(strings.TrimSpace(c.KeepAudioRaw), "true")
	c.DebugLogging = strings.EqualFold(strings.TrimSpace(c.DebugLoggingRaw), "true")
}

// intOr parses raw as a positive integer, warning and returning def when it
// is invalid or non-positive.
func intOr(log zerolog.Logger, name, raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		log.Warn().Str("var", name).Str("value", raw).Int("default", def).Msg("invalid numeric value, using default")
		return def
	}
	return n
}

// HasSources reports whether at least one producer is configured. Starting
// with neither is a fatal configuration error.
func (c *Config) HasSources() bool {
	return len(c.Feeds) > 0 || c.ImportDir != ""
}

// TranscriptsDir is the directory that holds finished transcript artifacts.
func (c *Config) TranscriptsDir() string { return filepath.Join(c.OutputDir, "transcripts") }

// AudioKeepDir is where source audio is kept after successful transcription
// when KEEP_MP3 is enabled. It also hosts download temp files in that mode.
func (c *Config) AudioKeepDir() string { return filepath.Join(c.OutputDir, "mp3") }

// StateFile is the append-only processed-episodes log.
func (c *Config) StateFile() string { return filepath.Join(c.OutputDir, ".processed_episodes.log") }

// DownloadTempDir is where in-flight downloads are staged: next to the kept
// audio when keeping, otherwise under the output root.
func (c *Config) DownloadTempDir() string {
	if c.KeepAudio {
		return c.AudioKeepDir()
	}
	return c.OutputDir
}
