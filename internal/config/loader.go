package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// envAPIKey is the environment fallback for deepgram.api_key.
const envAPIKey = "DEEPGRAM_API_KEY"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults, applies
// environment fallbacks and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if cfg.Deepgram.APIKey == "" {
		cfg.Deepgram.APIKey = os.Getenv(envAPIKey)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size %d must be positive", cfg.Audio.ChunkSize))
	}
	if cfg.Audio.SpeedFactor < 0 {
		errs = append(errs, fmt.Errorf("audio.speed_factor %.2f must not be negative (0 disables pacing)", cfg.Audio.SpeedFactor))
	}

	if cfg.Session.MaxReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("session.max_reconnect_attempts %d must be positive", cfg.Session.MaxReconnectAttempts))
	}
	if cfg.Session.ReconnectBaseDelay <= 0 {
		errs = append(errs, errors.New("session.reconnect_base_delay must be positive"))
	}
	if cfg.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if cfg.Session.PausePollInterval <= 0 {
		errs = append(errs, errors.New("session.pause_poll_interval must be positive"))
	}

	if cfg.Deepgram.APIKey == "" {
		errs = append(errs, fmt.Errorf("deepgram.api_key is required (or set %s)", envAPIKey))
	}

	if t := cfg.Keywords.FuzzyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("keywords.fuzzy_threshold %.2f is out of range [0, 1]", t))
	}
	if t := cfg.Keywords.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("keywords.phonetic_threshold %.2f is out of range [0, 1]", t))
	}

	if cfg.Alerts.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("alerts.queue_size %d must be positive", cfg.Alerts.QueueSize))
	}
	if wh := cfg.Alerts.Webhook; wh != nil && (wh.ID == "" || wh.Token == "") {
		errs = append(errs, errors.New("alerts.webhook requires both id and token"))
	}

	return errors.Join(errs...)
}
