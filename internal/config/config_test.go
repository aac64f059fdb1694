package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/streamwatch/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  upload_dir: /var/lib/streamwatch/uploads

audio:
  sample_rate: 8000
  channels: 1
  chunk_size: 2000
  speed_factor: 2.0

session:
  max_reconnect_attempts: 3
  reconnect_base_delay: 500ms
  idle_timeout: 4s
  keepalive_interval: 2s
  pause_poll_interval: 25ms

deepgram:
  api_key: dg-test-key
  model: nova-2
  language: de
  endpointing: 500ms

keywords:
  watch: [fire, "breaking news"]
  fuzzy_threshold: 0.9

alerts:
  queue_size: 16
  webhook:
    id: "123"
    token: "abc"
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Audio.ChunkSize != 2000 {
		t.Errorf("audio = %+v, want 8000Hz / 2000B chunks", cfg.Audio)
	}
	if cfg.Audio.SpeedFactor != 2.0 {
		t.Errorf("speed_factor = %v, want 2.0", cfg.Audio.SpeedFactor)
	}
	if cfg.Session.MaxReconnectAttempts != 3 {
		t.Errorf("max_reconnect_attempts = %d, want 3", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Session.ReconnectBaseDelay.Std() != 500*time.Millisecond {
		t.Errorf("reconnect_base_delay = %v, want 500ms", cfg.Session.ReconnectBaseDelay.Std())
	}
	if cfg.Deepgram.Model != "nova-2" || cfg.Deepgram.Language != "de" {
		t.Errorf("deepgram = %+v, want nova-2 / de", cfg.Deepgram)
	}
	if len(cfg.Keywords.Watch) != 2 || cfg.Keywords.Watch[1] != "breaking news" {
		t.Errorf("keywords.watch = %v", cfg.Keywords.Watch)
	}
	if cfg.Alerts.Webhook == nil || cfg.Alerts.Webhook.ID != "123" {
		t.Errorf("alerts.webhook = %+v, want id 123", cfg.Alerts.Webhook)
	}
}

func TestLoadFromReader_DefaultsApply(t *testing.T) {
	t.Parallel()
	// A minimal file only needs the credential; everything else defaults.
	cfg, err := config.LoadFromReader(strings.NewReader("deepgram:\n  api_key: dg-test\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.ChunkSize != 4000 {
		t.Errorf("audio defaults = %+v, want 16kHz mono 4000B", cfg.Audio)
	}
	if cfg.Audio.SpeedFactor != 1.0 {
		t.Errorf("speed_factor default = %v, want 1.0", cfg.Audio.SpeedFactor)
	}
	if cfg.Session.MaxReconnectAttempts != 5 {
		t.Errorf("max_reconnect_attempts default = %d, want 5", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Session.ReconnectBaseDelay.Std() != time.Second {
		t.Errorf("reconnect_base_delay default = %v, want 1s", cfg.Session.ReconnectBaseDelay.Std())
	}
	if cfg.Session.PausePollInterval.Std() != 50*time.Millisecond {
		t.Errorf("pause_poll_interval default = %v, want 50ms", cfg.Session.PausePollInterval.Std())
	}
	if cfg.Deepgram.Model != "nova-3" {
		t.Errorf("deepgram.model default = %q, want nova-3", cfg.Deepgram.Model)
	}
	if cfg.Keywords.FuzzyThreshold != 0.85 || cfg.Keywords.PhoneticThreshold != 0.70 {
		t.Errorf("threshold defaults = %+v", cfg.Keywords)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
deepgram:
  api_key: dg-test
  modle: nova-3
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestDuration_UnmarshalRejectsBareNumbers(t *testing.T) {
	t.Parallel()
	yaml := `
deepgram:
  api_key: dg-test
session:
  idle_timeout: 10
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for a unit-less duration, got nil")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("\"verbose\" should be invalid")
	}
}
