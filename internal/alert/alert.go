// Package alert turns keyword matches into operator-visible notifications.
//
// An [Alert] is the immutable record of one keyword hit inside one transcript
// result. Delivery is fanned out to [Notifier] implementations by a
// [Dispatcher], which decouples notification I/O from the transcription
// callback so a slow delivery channel can never stall the result loop.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/streamwatch/pkg/types"
)

// Alert is one keyword hit inside one transcript result.
type Alert struct {
	// Keyword is the watch-list entry that matched.
	Keyword string

	// Match is how the keyword matched (exact or fuzzy).
	Match types.MatchType

	// Score is the match similarity in [0, 1]; 1 for exact matches.
	Score float64

	// Timestamp is the utterance's start offset into the stream.
	Timestamp time.Duration

	// Context is the transcript text the keyword was found in.
	Context string
}

// String renders the alert as a single human-readable line.
func (a Alert) String() string {
	return fmt.Sprintf("ALERT | Time: %s | Keyword: %q | Context: %q",
		FormatTimestamp(a.Timestamp), a.Keyword, a.Context)
}

// FormatTimestamp renders a stream offset as HH:MM:SS. Sub-second precision
// is truncated; negative offsets are clamped to zero.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Notifier delivers one alert to one destination.
type Notifier interface {
	// Name identifies the notifier in logs and metrics.
	Name() string

	// Notify delivers the alert. Errors are reported per delivery; they never
	// stop the dispatcher.
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the structured log. It is the default
// destination and never fails.
type LogNotifier struct {
	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Name implements [Notifier].
func (n *LogNotifier) Name() string { return "log" }

// Notify implements [Notifier].
func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(ctx, slog.LevelWarn, "keyword alert",
		slog.String("keyword", a.Keyword),
		slog.String("match", string(a.Match)),
		slog.Float64("score", a.Score),
		slog.String("time", FormatTimestamp(a.Timestamp)),
		slog.String("context", a.Context),
	)
	return nil
}
