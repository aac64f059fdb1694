// Package session drives one live transcription run: it feeds paced audio
// frames from a source into a streaming recognition connection, delivers
// results to a callback, and transparently rebuilds the connection with
// exponential backoff when it drops mid-stream.
//
// The audio source is started exactly once per run and survives every
// reconnect, so frames already transcribed are never replayed and the frame a
// reconnect interrupted is retained and resent on the next connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamwatch/internal/control"
	"github.com/MrWong99/streamwatch/internal/observe"
	"github.com/MrWong99/streamwatch/pkg/provider/stt"
	"github.com/MrWong99/streamwatch/pkg/types"
)

// Defaults applied by New for zero Config fields.
const (
	defaultMaxAttempts       = 5
	defaultBaseDelay         = time.Second
	defaultIdleTimeout       = 10 * time.Second
	defaultKeepAliveInterval = 5 * time.Second
)

// State is the externally visible phase of a run.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateFinished     State = "finished"
	StateFailed       State = "failed"
)

// Config tunes a Session. The zero value is usable; New fills in defaults.
type Config struct {
	// Stream describes the audio format announced to the recognition service.
	Stream stt.StreamConfig

	// MaxAttempts is how many reconnect attempts are made after a connection
	// failure before the run fails for good.
	MaxAttempts int

	// BaseDelay is the backoff delay before the first reconnect attempt. The
	// delay doubles with every further attempt.
	BaseDelay time.Duration

	// IdleTimeout bounds how long the run waits for trailing results after
	// the end-of-audio control message has been sent.
	IdleTimeout time.Duration

	// KeepAliveInterval is how often a keepalive control message is sent
	// while the run is paused, so the service does not drop the idle
	// connection.
	KeepAliveInterval time.Duration
}

// FrameSource is the paced audio frame sequence driving a run. It is
// implemented by [github.com/MrWong99/streamwatch/internal/source.Reader].
type FrameSource interface {
	// Start launches frame production. Called exactly once per run.
	Start(ctx context.Context) error

	// Next returns the next frame in order, or io.EOF when the source is
	// exhausted. Any other error is fatal for the run.
	Next(ctx context.Context) ([]byte, error)

	// Exited reports whether the underlying producer has terminated.
	Exited() bool

	// Stop terminates frame production. Safe to call more than once.
	Stop()
}

// Option configures optional Session collaborators.
type Option func(*Session)

// WithPause attaches a shared pause flag. While set, frame production is
// suspended and keepalive messages hold the connection open.
func WithPause(p *control.Pause) Option {
	return func(s *Session) { s.pause = p }
}

// WithMetrics attaches metric instruments. Without it the session records
// nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session runs transcription over one audio source. A Session is not
// reusable; create one per run.
type Session struct {
	provider stt.Provider
	cfg      Config
	pause    *control.Pause
	metrics  *observe.Metrics

	// sleep is swapped out in tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
}

// New creates a Session that dials connections through provider.
func New(provider stt.Provider, cfg Config, opts ...Option) *Session {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	s := &Session{
		provider: provider,
		cfg:      cfg,
		sleep:    sleepCtx,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current run phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	slog.Debug("session state", "state", st)
}

// fatalError marks a run error that must not trigger a reconnect.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// runState is the per-run state shared by the streaming activities and kept
// across reconnects.
type runState struct {
	src FrameSource
	cb  types.ResultCallback

	// pending is a frame fetched from the source but not yet acknowledged as
	// sent. It survives a connection drop and is resent first on the next
	// connection, so no audio is lost or duplicated.
	pending []byte

	// audioDone is closed once the source is exhausted and the end-of-audio
	// control message has been handed to a connection.
	audioDone chan struct{}
	doneOnce  sync.Once
}

func (r *runState) markAudioDone() {
	r.doneOnce.Do(func() { close(r.audioDone) })
}

func (r *runState) isAudioDone() bool {
	select {
	case <-r.audioDone:
		return true
	default:
		return false
	}
}

// Run transcribes src to completion, invoking cb sequentially for every
// recognition result. It blocks until the run finishes cleanly, fails fatally
// or ctx is cancelled. The source is always stopped before Run returns.
func (s *Session) Run(ctx context.Context, src FrameSource, cb types.ResultCallback) error {
	if err := src.Start(ctx); err != nil {
		s.setState(StateFailed)
		return err
	}
	defer src.Stop()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
		defer s.metrics.ActiveSessions.Add(ctx, -1)
		start := time.Now()
		defer func() {
			s.metrics.SessionDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	run := &runState{src: src, cb: cb, audioDone: make(chan struct{})}
	var lastErr error

	for attempt := 0; ; {
		s.setState(StateConnecting)
		conn, err := s.provider.Dial(ctx, s.cfg.Stream)
		if err != nil {
			lastErr = fmt.Errorf("session: dial: %w", err)
		} else {
			s.setState(StateStreaming)
			err = s.stream(ctx, conn, run)
			conn.Close()
			if err == nil {
				s.setState(StateFinished)
				return nil
			}
			if ctx.Err() != nil {
				s.setState(StateFinished)
				return ctx.Err()
			}
			var fatal *fatalError
			if errors.As(err, &fatal) {
				s.setState(StateFailed)
				return fatal.err
			}
			lastErr = err
		}

		if src.Exited() {
			// The decoder already finished; there is no more audio that
			// would justify rebuilding the connection.
			slog.Warn("connection lost after audio source ended, finishing run", "error", lastErr)
			s.setState(StateFinished)
			return nil
		}

		attempt++
		if attempt > s.cfg.MaxAttempts {
			s.setState(StateFailed)
			return fmt.Errorf("session: giving up after %d reconnect attempts: %w", s.cfg.MaxAttempts, lastErr)
		}

		delay := s.cfg.BaseDelay << (attempt - 1)
		slog.Warn("connection lost, reconnecting",
			"attempt", attempt,
			"max_attempts", s.cfg.MaxAttempts,
			"delay", delay,
			"error", lastErr)
		s.setState(StateReconnecting)
		if s.metrics != nil {
			s.metrics.Reconnects.Add(ctx, 1)
		}
		if err := s.sleep(ctx, delay); err != nil {
			s.setState(StateFinished)
			return err
		}
	}
}

// stream runs the send, receive and keepalive activities over one connection
// until the run completes or the connection fails. A nil return means the run
// is finished for good.
func (s *Session) stream(ctx context.Context, conn stt.Conn, run *runState) error {
	g, gctx := errgroup.WithContext(ctx)

	// Closed when the receive activity ends; releases the keepalive ticker
	// on clean completion, where the group context is never cancelled.
	recvDone := make(chan struct{})

	g.Go(func() error { return s.sendAudio(gctx, conn, run) })
	g.Go(func() error {
		defer close(recvDone)
		return s.receiveResults(gctx, conn, run)
	})
	g.Go(func() error { return s.keepAlive(gctx, conn, run, recvDone) })

	return g.Wait()
}

// sendAudio pumps frames from the source into the connection. On source
// exhaustion it sends the end-of-audio control message and returns. A frame
// whose send fails stays pending and is resent on the next connection.
func (s *Session) sendAudio(ctx context.Context, conn stt.Conn, run *runState) error {
	for {
		frame := run.pending
		if frame == nil {
			f, err := run.src.Next(ctx)
			switch {
			case errors.Is(err, io.EOF):
				run.markAudioDone()
				if err := conn.SendControl(ctx, stt.ControlCloseStream); err != nil {
					return fmt.Errorf("session: send end-of-audio: %w", err)
				}
				slog.Debug("audio source exhausted, end-of-audio sent")
				return nil
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return err
			case err != nil:
				return &fatalError{fmt.Errorf("session: audio source: %w", err)}
			}
			frame = f
			run.pending = frame
		}

		if err := conn.SendAudio(ctx, frame); err != nil {
			return fmt.Errorf("session: send frame: %w", err)
		}
		run.pending = nil
		if s.metrics != nil {
			s.metrics.RecordFrameSent(ctx, len(frame))
		}
	}
}

// receiveResults reads recognition messages and delivers transcripts to the
// callback in arrival order. After end-of-audio it returns nil on the
// service's stream-summary message, or when no message arrives within the
// idle timeout.
func (s *Session) receiveResults(ctx context.Context, conn stt.Conn, run *runState) error {
	for {
		rctx, cancel := s.receiveCtx(ctx, run.audioDone)
		msg, err := conn.Receive(rctx)
		cancel()
		if err != nil {
			idle := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
			if run.isAudioDone() && ctx.Err() == nil && idle {
				slog.Debug("no trailing results within idle timeout, finishing")
				return nil
			}
			return fmt.Errorf("session: receive: %w", err)
		}

		switch msg.Kind {
		case stt.KindResult:
			if s.metrics != nil {
				s.metrics.RecordResult(ctx, msg.Result.IsFinal)
			}
			run.cb(*msg.Result)
		case stt.KindMetadata:
			if run.isAudioDone() {
				slog.Debug("stream summary received, finishing")
				return nil
			}
		}
	}
}

// receiveCtx bounds one Receive call by the idle timeout, measured from
// end-of-audio. Before end-of-audio the returned context only mirrors ctx,
// with a watcher that arms the timeout should end-of-audio happen while the
// receive is already blocked.
func (s *Session) receiveCtx(ctx context.Context, audioDone <-chan struct{}) (context.Context, context.CancelFunc) {
	select {
	case <-audioDone:
		return context.WithTimeout(ctx, s.cfg.IdleTimeout)
	default:
	}
	rctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-rctx.Done():
			return
		case <-audioDone:
		}
		t := time.NewTimer(s.cfg.IdleTimeout)
		defer t.Stop()
		select {
		case <-rctx.Done():
		case <-t.C:
			cancel()
		}
	}()
	return rctx, cancel
}

// keepAlive holds the connection open while the run is paused. It ticks at
// the configured interval and sends a keepalive control message only when the
// pause flag is set; it stops once audio is done or the receive activity
// ends.
func (s *Session) keepAlive(ctx context.Context, conn stt.Conn, run *runState, recvDone <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-recvDone:
			return nil
		case <-run.audioDone:
			return nil
		case <-ticker.C:
			if run.isAudioDone() {
				return nil
			}
			if s.pause == nil || !s.pause.Paused() {
				continue
			}
			if err := conn.SendControl(ctx, stt.ControlKeepAlive); err != nil {
				return fmt.Errorf("session: send keepalive: %w", err)
			}
			slog.Debug("keepalive sent while paused")
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
