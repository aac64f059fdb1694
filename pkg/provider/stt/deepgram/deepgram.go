// Package deepgram implements the stt.Provider interface against the Deepgram
// streaming WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/streamwatch/pkg/provider/stt"
	"github.com/MrWong99/streamwatch/pkg/types"
	"github.com/coder/websocket"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en"
	defaultEndpointing = 300 * time.Millisecond
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithEndpoint overrides the streaming endpoint URL. Used by tests to point
// the provider at a local WebSocket server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpointing sets the speech endpointing silence window. Zero disables
// the query parameter and uses the service default.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) {
		p.endpointing = d
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	endpointing time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		endpointing: defaultEndpointing,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Dial opens a streaming connection to Deepgram. The API key is supplied in
// the handshake headers; audio format and recognition options are carried as
// query parameters.
func (p *Provider) Dial(ctx context.Context, cfg stt.StreamConfig) (stt.Conn, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	// Results payloads with word lists can exceed the default read limit.
	ws.SetReadLimit(1 << 20)

	return &conn{ws: ws}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("word_timestamps", "true")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- connection ----

// deepgramResponse is the JSON structure of an inbound Deepgram message.
// Only the fields needed to classify the message and extract a Results
// payload are declared; everything else is ignored.
type deepgramResponse struct {
	Type    string  `json:"type"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word  string  `json:"word"`
				Start float64 `json:"start"`
				End   float64 `json:"end"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// conn is a live Deepgram streaming connection. It implements stt.Conn.
type conn struct {
	ws *websocket.Conn
}

// SendAudio forwards one PCM frame as a binary WebSocket message.
func (c *conn) SendAudio(ctx context.Context, frame []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

// SendControl sends a {"type": ...} JSON control message.
func (c *conn) SendControl(ctx context.Context, kind stt.ControlKind) error {
	msg, err := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: string(kind)})
	if err != nil {
		return fmt.Errorf("deepgram: marshal control: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("deepgram: send %s: %w", kind, err)
	}
	return nil
}

// Receive reads and parses the next service message. Protocol-level anomalies
// (unknown types, malformed JSON, empty transcripts) come back as KindOther;
// an error means the connection itself failed.
func (c *conn) Receive(ctx context.Context) (stt.Message, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return stt.Message{}, fmt.Errorf("deepgram: receive: %w", err)
	}
	return parseMessage(data), nil
}

// Close terminates the connection. Safe to call more than once.
func (c *conn) Close() error {
	_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// parseMessage classifies a raw Deepgram message. Malformed payloads are
// logged and mapped to KindOther so the caller can skip them.
func parseMessage(data []byte) stt.Message {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Debug("deepgram: skipping malformed message", "err", err)
		return stt.Message{Kind: stt.KindOther}
	}

	switch resp.Type {
	case "Metadata":
		return stt.Message{Kind: stt.KindMetadata}
	case "Results":
	default:
		return stt.Message{Kind: stt.KindOther}
	}

	if len(resp.Channel.Alternatives) == 0 {
		return stt.Message{Kind: stt.KindOther}
	}
	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return stt.Message{Kind: stt.KindOther}
	}

	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:  w.Word,
			Start: seconds(w.Start),
			End:   seconds(w.End),
		})
	}

	// Prefer the first word's offset; fall back to the result-level offset.
	start := seconds(resp.Start)
	if len(words) > 0 {
		start = words[0].Start
	}

	return stt.Message{
		Kind: stt.KindResult,
		Result: &types.Transcript{
			Text:    alt.Transcript,
			IsFinal: resp.IsFinal,
			Start:   start,
			Words:   words,
		},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
