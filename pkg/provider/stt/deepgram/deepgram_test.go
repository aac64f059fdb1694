package deepgram

import (
	"net/url"
	"testing"
	"time"

	"github.com/MrWong99/streamwatch/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "word_timestamps", "true", q.Get("word_timestamps"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
}

func TestBuildURL_CustomOptions(t *testing.T) {
	p, err := New("key",
		WithModel("base"),
		WithLanguage("de-DE"),
		WithEndpointing(500*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 48000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "endpointing", "500", q.Get("endpointing"))
}

func TestBuildURL_LanguageOverridenByCfg(t *testing.T) {
	// cfg.Language should take precedence over the provider-level default.
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_EndpointingDisabled(t *testing.T) {
	p, err := New("key", WithEndpointing(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if _, ok := u.Query()["endpointing"]; ok {
		t.Error("expected no 'endpointing' param when disabled")
	}
}

// ---- JSON parsing tests ----

func TestParseMessage_FinalResult(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 4.0,
		"channel": {
			"alternatives": [{
				"transcript": "Hello world",
				"words": [
					{"word": "Hello", "start": 4.1, "end": 4.5},
					{"word": "world", "start": 4.6, "end": 5.0}
				]
			}]
		}
	}`)

	msg := parseMessage(raw)
	if msg.Kind != stt.KindResult {
		t.Fatalf("expected KindResult, got %v", msg.Kind)
	}

	tr := msg.Result
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "Hello world", tr.Text)
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(tr.Words))
	}
	assertEqual(t, "word[0]", "Hello", tr.Words[0].Word)

	// Start must come from the first word, not the result-level offset.
	startSecs := 4.1
	want := time.Duration(startSecs * float64(time.Second))
	if tr.Start != want {
		t.Errorf("expected start %v, got %v", want, tr.Start)
	}
}

func TestParseMessage_InterimWithoutWords(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"start": 2.5,
		"channel": {
			"alternatives": [{"transcript": "Hello", "words": []}]
		}
	}`)

	msg := parseMessage(raw)
	if msg.Kind != stt.KindResult {
		t.Fatalf("expected KindResult, got %v", msg.Kind)
	}
	if msg.Result.IsFinal {
		t.Error("expected IsFinal=false for interim result")
	}
	assertEqual(t, "text", "Hello", msg.Result.Text)

	// No words: the result-level offset is used.
	want := time.Duration(2.5 * float64(time.Second))
	if msg.Result.Start != want {
		t.Errorf("expected start %v, got %v", want, msg.Result.Start)
	}
}

func TestParseMessage_Metadata(t *testing.T) {
	msg := parseMessage([]byte(`{"type":"Metadata","request_id":"abc"}`))
	if msg.Kind != stt.KindMetadata {
		t.Errorf("expected KindMetadata, got %v", msg.Kind)
	}
	if msg.Result != nil {
		t.Error("expected nil Result for Metadata message")
	}
}

func TestParseMessage_SkippedMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"SpeechStarted","timestamp":1.0}`},
		{"empty alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{"empty transcript", `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`},
		{"invalid json", `{invalid`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := parseMessage([]byte(tc.raw))
			if msg.Kind != stt.KindOther {
				t.Errorf("expected KindOther, got %v", msg.Kind)
			}
		})
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", defaultEndpoint, p.endpoint)
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
