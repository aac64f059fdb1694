// Package config provides the configuration schema and loader for the
// Streamwatch transcription pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms"
// or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Streamwatch.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Keywords KeywordsConfig `yaml:"keywords"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// UploadDir is where uploaded video files are stored.
	UploadDir string `yaml:"upload_dir"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the raw PCM stream extracted from the source and the
// external tools producing it.
type AudioConfig struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the PCM channel count. 1 = mono.
	Channels int `yaml:"channels"`

	// ChunkSize is the audio frame size in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// SpeedFactor paces frame production relative to real time. 0 disables
	// pacing entirely.
	SpeedFactor float64 `yaml:"speed_factor"`

	// FFmpegPath is the decoder executable.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// YTDLPPath is the hosted-live URL resolver executable.
	YTDLPPath string `yaml:"ytdlp_path"`
}

// SessionConfig tunes the transcription session state machine.
type SessionConfig struct {
	// MaxReconnectAttempts bounds how often a dropped connection is rebuilt.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ReconnectBaseDelay is the backoff delay before the first reconnect
	// attempt; it doubles per attempt.
	ReconnectBaseDelay Duration `yaml:"reconnect_base_delay"`

	// IdleTimeout bounds the wait for trailing results after end-of-audio.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// KeepAliveInterval is how often keepalives are sent while paused.
	KeepAliveInterval Duration `yaml:"keepalive_interval"`

	// PausePollInterval bounds pause/resume reaction latency.
	PausePollInterval Duration `yaml:"pause_poll_interval"`
}

// DeepgramConfig configures the recognition service connection.
type DeepgramConfig struct {
	// APIKey authenticates against the service. Falls back to the
	// DEEPGRAM_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the service URL. Leave empty for the default.
	Endpoint string `yaml:"endpoint"`

	// Model selects the recognition model.
	Model string `yaml:"model"`

	// Language is the recognition language tag.
	Language string `yaml:"language"`

	// Endpointing is the silence window after which the service finalises an
	// utterance. 0 disables endpointing.
	Endpointing Duration `yaml:"endpointing"`
}

// KeywordsConfig holds the watch list and matching thresholds.
type KeywordsConfig struct {
	// Watch is the list of keywords and phrases to alert on.
	Watch []string `yaml:"watch"`

	// FuzzyThreshold is the minimum similarity for non-phonetic fuzzy hits.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// PhoneticThreshold is the minimum similarity for phonetically matching
	// hits.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
}

// AlertsConfig configures alert delivery.
type AlertsConfig struct {
	// QueueSize bounds the undelivered alert backlog.
	QueueSize int `yaml:"queue_size"`

	// Webhook, when set, posts every alert to a Discord channel webhook.
	Webhook *WebhookConfig `yaml:"webhook"`
}

// WebhookConfig identifies a Discord channel webhook.
type WebhookConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// Default returns the configuration used when a field (or the whole file) is
// absent: 16kHz mono PCM in 4000-byte frames at real-time pacing, five
// reconnect attempts starting at a one second delay.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			UploadDir:  "uploads",
		},
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			ChunkSize:   4000,
			SpeedFactor: 1.0,
			FFmpegPath:  "ffmpeg",
			YTDLPPath:   "yt-dlp",
		},
		Session: SessionConfig{
			MaxReconnectAttempts: 5,
			ReconnectBaseDelay:   Duration(time.Second),
			IdleTimeout:          Duration(10 * time.Second),
			KeepAliveInterval:    Duration(5 * time.Second),
			PausePollInterval:    Duration(50 * time.Millisecond),
		},
		Deepgram: DeepgramConfig{
			Model:       "nova-3",
			Language:    "en",
			Endpointing: Duration(300 * time.Millisecond),
		},
		Keywords: KeywordsConfig{
			FuzzyThreshold:    0.85,
			PhoneticThreshold: 0.70,
		},
		Alerts: AlertsConfig{
			QueueSize: 64,
		},
	}
}
