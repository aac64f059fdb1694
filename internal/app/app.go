// Package app wires the streamwatch subsystems into a runnable pipeline.
//
// A Pipeline glues the audio source reader, the transcription session, the
// keyword monitor and the alert dispatcher together behind one Run call. The
// CLI runs a single pipeline to completion; the web server runs one pipeline
// per control connection through a [Manager].
//
// For testing, inject fakes via functional options (WithFrameSource,
// WithNotifiers, etc.). When an option is not provided, Run creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/streamwatch/internal/alert"
	"github.com/MrWong99/streamwatch/internal/config"
	"github.com/MrWong99/streamwatch/internal/control"
	"github.com/MrWong99/streamwatch/internal/keyword"
	"github.com/MrWong99/streamwatch/internal/observe"
	"github.com/MrWong99/streamwatch/internal/session"
	"github.com/MrWong99/streamwatch/internal/source"
	"github.com/MrWong99/streamwatch/pkg/provider/stt"
	"github.com/MrWong99/streamwatch/pkg/types"
)

// Pipeline runs transcription over one audio source and raises keyword
// alerts from the results. A Pipeline is not reusable; create one per run.
type Pipeline struct {
	cfg      *config.Config
	provider stt.Provider

	matcher    atomic.Pointer[keyword.Matcher]
	notifiers  []alert.Notifier
	dispatcher *alert.Dispatcher
	pause      *control.Pause
	metrics    *observe.Metrics
	sink       types.ResultCallback
	frames     session.FrameSource

	sess atomic.Pointer[session.Session]
}

// Option is a functional option for NewPipeline. Use these to inject test
// doubles or to attach sinks.
type Option func(*Pipeline)

// WithNotifiers sets the alert notifiers. Without it alerts go to a
// [alert.LogNotifier] only.
func WithNotifiers(notifiers ...alert.Notifier) Option {
	return func(p *Pipeline) { p.notifiers = notifiers }
}

// WithTranscriptSink attaches a callback that receives every accepted
// transcript result, interim and final alike.
func WithTranscriptSink(sink types.ResultCallback) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithMetrics attaches metric instruments to the session and dispatcher.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithFrameSource injects a frame source instead of launching a decoder
// process from the source descriptor.
func WithFrameSource(src session.FrameSource) Option {
	return func(p *Pipeline) { p.frames = src }
}

// NewPipeline creates a Pipeline that transcribes through provider and
// matches results against the configured keyword watch list.
func NewPipeline(cfg *config.Config, provider stt.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		provider: provider,
		pause:    &control.Pause{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.matcher.Store(keyword.New(cfg.Keywords.Watch,
		keyword.WithFuzzyThreshold(cfg.Keywords.FuzzyThreshold),
		keyword.WithPhoneticThreshold(cfg.Keywords.PhoneticThreshold),
	))

	if len(p.notifiers) == 0 {
		p.notifiers = []alert.Notifier{&alert.LogNotifier{}}
	}
	dispatchOpts := []alert.DispatcherOption{alert.WithQueueSize(cfg.Alerts.QueueSize)}
	if p.metrics != nil {
		dispatchOpts = append(dispatchOpts, alert.WithMetrics(p.metrics))
	}
	p.dispatcher = alert.NewDispatcher(p.notifiers, dispatchOpts...)

	return p
}

// Run executes the pipeline to completion: it launches the audio source,
// streams frames through a transcription session, and matches every final
// result against the keyword watch list. Run blocks until the source is
// exhausted, the run fails for good, or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, src string) error {
	frames := p.frames
	if frames == nil {
		frames = source.NewReader(src, source.Options{
			FFmpegPath:        p.cfg.Audio.FFmpegPath,
			Resolver:          &source.YTDLPResolver{Path: p.cfg.Audio.YTDLPPath},
			SampleRate:        p.cfg.Audio.SampleRate,
			Channels:          p.cfg.Audio.Channels,
			ChunkSize:         p.cfg.Audio.ChunkSize,
			SpeedFactor:       p.cfg.Audio.SpeedFactor,
			Pause:             p.pause,
			PausePollInterval: p.cfg.Session.PausePollInterval.Std(),
			Metrics:           p.metrics,
		})
	}

	sessOpts := []session.Option{session.WithPause(p.pause)}
	if p.metrics != nil {
		sessOpts = append(sessOpts, session.WithMetrics(p.metrics))
	}
	sess := session.New(p.provider, session.Config{
		Stream: stt.StreamConfig{
			SampleRate: p.cfg.Audio.SampleRate,
			Channels:   p.cfg.Audio.Channels,
			Language:   p.cfg.Deepgram.Language,
		},
		MaxAttempts:       p.cfg.Session.MaxReconnectAttempts,
		BaseDelay:         p.cfg.Session.ReconnectBaseDelay.Std(),
		IdleTimeout:       p.cfg.Session.IdleTimeout.Std(),
		KeepAliveInterval: p.cfg.Session.KeepAliveInterval.Std(),
	}, sessOpts...)
	p.sess.Store(sess)

	p.dispatcher.Start(ctx)
	defer p.dispatcher.Stop()

	slog.Info("pipeline starting",
		"source", src,
		"kind", source.Classify(src),
		"keywords", len(p.matcher.Load().Keywords()),
	)

	err := sess.Run(ctx, frames, p.onResult)
	if err != nil {
		return fmt.Errorf("app: pipeline run: %w", err)
	}
	return nil
}

// onResult is the session result callback. It forwards every result to the
// transcript sink and matches final results against the watch list.
func (p *Pipeline) onResult(tr types.Transcript) {
	if p.sink != nil {
		p.sink(tr)
	}

	slog.Debug("transcript", "text", tr.Text, "final", tr.IsFinal, "start", tr.Start)

	if !tr.IsFinal {
		return
	}

	for _, m := range p.matcher.Load().Check(tr.Text) {
		p.dispatcher.Dispatch(alert.Alert{
			Keyword:   m.Keyword,
			Match:     m.Type,
			Score:     m.Score,
			Timestamp: tr.Start,
			Context:   tr.Text,
		})
	}
}

// Pause suspends audio intake. The decoder keeps running but no frames are
// consumed or sent until Resume.
func (p *Pipeline) Pause() {
	p.pause.Set()
	slog.Info("pipeline paused")
}

// Resume lifts a pause.
func (p *Pipeline) Resume() {
	p.pause.Clear()
	slog.Info("pipeline resumed")
}

// Paused reports whether the pipeline is currently paused.
func (p *Pipeline) Paused() bool { return p.pause.Paused() }

// State returns the current session phase, or [session.StateIdle] before Run.
func (p *Pipeline) State() session.State {
	if s := p.sess.Load(); s != nil {
		return s.State()
	}
	return session.StateIdle
}

// SetKeywords replaces the keyword watch list on a running pipeline. The
// configured thresholds are kept. Safe to call concurrently with Run.
func (p *Pipeline) SetKeywords(words []string) {
	p.matcher.Store(keyword.New(words,
		keyword.WithFuzzyThreshold(p.cfg.Keywords.FuzzyThreshold),
		keyword.WithPhoneticThreshold(p.cfg.Keywords.PhoneticThreshold),
	))
	slog.Info("keyword watch list updated", "keywords", len(words))
}

// Keywords returns the active keyword watch list.
func (p *Pipeline) Keywords() []string {
	return p.matcher.Load().Keywords()
}
