// Package types defines the shared types used across all streamwatch packages.
//
// These types form the lingua franca between the audio source reader, the
// transcription session, the recognition provider, and the keyword/alert
// layer. They are intentionally minimal: each package defines its own domain
// types, but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Transcript represents a single speech-to-text result from the recognition
// service. Both interim and final results use this type. A Transcript is
// immutable once constructed and is delivered to the result callback exactly
// once, in service emission order.
type Transcript struct {
	// Text is the transcribed speech content. Always non-empty for results
	// delivered to a callback; empty-text results are filtered at the
	// provider layer.
	Text string

	// IsFinal indicates whether this result is authoritative (final) or a
	// provisional interim guess that may still change.
	IsFinal bool

	// Start is the offset of the utterance from the beginning of the audio
	// stream. When word-level detail is available this is the start of the
	// first word, otherwise the result-level offset reported by the service.
	Start time.Duration

	// Words contains per-word detail when the service reports it. May be nil.
	Words []WordDetail
}

// WordDetail holds per-word metadata from recognition services that support
// word-level timestamps.
type WordDetail struct {
	Word  string
	Start time.Duration
	End   time.Duration
}

// ResultCallback receives accepted transcript results from a running
// transcription session. It is invoked sequentially, never concurrently with
// itself, and must not block the session loop for long; heavy processing
// should be handed off asynchronously by the consumer.
type ResultCallback func(Transcript)

// KeywordMatch records a single keyword hit against a transcript text.
type KeywordMatch struct {
	// Keyword is the user-supplied keyword that matched.
	Keyword string

	// Type describes how the keyword matched.
	Type MatchType

	// Score is the match similarity in [0.0, 1.0]. Exact matches score 1.0.
	Score float64
}

// MatchType describes how a keyword matched a transcript.
type MatchType string

const (
	// MatchExact means the keyword appeared verbatim (case-insensitive).
	MatchExact MatchType = "exact"

	// MatchFuzzy means the keyword matched by string similarity only.
	MatchFuzzy MatchType = "fuzzy"
)
