// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// behind a duplex, message-framed connection. The central abstraction is Conn:
// one dialled connection accepts raw PCM audio frames and control messages,
// and yields parsed service messages in arrival order. A Conn is owned by
// exactly one connection attempt of a transcription session and is never
// shared across reconnects; each attempt dials a fresh one.
//
// The session state machine that drives a Conn (send / receive / keepalive,
// reconnect with backoff) lives in internal/session; this package only
// specifies the wire-level surface so that test code can substitute a mock
// connection.
package stt

import (
	"context"

	"github.com/MrWong99/streamwatch/pkg/types"
)

// StreamConfig describes the audio format and recognition options for a new
// streaming connection. All fields must be compatible with what the underlying
// provider supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string
}

// ControlKind selects the control message sent by SendControl.
type ControlKind string

const (
	// ControlKeepAlive is a lightweight no-op message that prevents the
	// service from timing out an idle connection (e.g., during a pause).
	ControlKeepAlive ControlKind = "KeepAlive"

	// ControlCloseStream signals end-of-audio so the service flushes any
	// pending recognition results.
	ControlCloseStream ControlKind = "CloseStream"
)

// MessageKind classifies an inbound service message.
type MessageKind int

const (
	// KindOther marks messages that carry nothing actionable: unknown types,
	// malformed payloads, and results with empty transcript text. Callers
	// skip these; they are never an error.
	KindOther MessageKind = iota

	// KindResult marks a well-formed recognition result with non-empty text.
	KindResult

	// KindMetadata marks the service's stream metadata message, sent as the
	// final acknowledgment after end-of-audio.
	KindMetadata
)

// Message is one parsed inbound service message. Result is non-nil exactly
// when Kind is KindResult.
type Message struct {
	Kind   MessageKind
	Result *types.Transcript
}

// Conn is a live duplex connection to the recognition service.
//
// Send and Receive may be used concurrently with each other, but each side is
// single-caller: at most one goroutine sends and one receives at a time.
// After Close, all methods return errors.
type Conn interface {
	// SendAudio forwards one frame of raw PCM audio bytes as a binary
	// message. Frames must be sent in production order.
	SendAudio(ctx context.Context, frame []byte) error

	// SendControl sends a JSON control message of the given kind.
	SendControl(ctx context.Context, kind ControlKind) error

	// Receive blocks until the next service message arrives and returns it
	// parsed. Unknown or malformed messages are returned as KindOther, never
	// as an error; an error return always means the connection is unusable.
	Receive(ctx context.Context) (Message, error)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use; a provider may dial many
// connections over its lifetime (one per reconnect attempt).
type Provider interface {
	// Dial opens a new connection to the recognition service, including the
	// authentication credential in the handshake. The returned Conn is ready
	// to accept audio immediately. The caller owns the Conn and must call
	// Close when done.
	Dial(ctx context.Context, cfg StreamConfig) (Conn, error)
}
