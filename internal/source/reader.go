package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/streamwatch/internal/control"
	"github.com/MrWong99/streamwatch/internal/observe"
)

// Defaults applied by NewReader for zero Options fields.
const (
	defaultChunkSize    = 4000 // ~125ms of 16kHz 16-bit mono audio
	defaultPausePoll    = 50 * time.Millisecond
	defaultStallRetries = 5
	defaultStallDelay   = 200 * time.Millisecond
	defaultFrameBuffer  = 256
	defaultStopTimeout  = 3 * time.Second
	diagnosticRingSize  = 32
)

// Options configures a Reader. The zero value plus SampleRate/Channels is
// usable; NewReader fills in defaults for everything else.
type Options struct {
	// FFmpegPath is the decoder executable. Defaults to "ffmpeg".
	FFmpegPath string

	// Resolver resolves hosted-live URLs. Defaults to a YTDLPResolver.
	Resolver Resolver

	// SampleRate and Channels describe the raw PCM output format.
	SampleRate int
	Channels   int

	// ChunkSize is the fixed frame size in bytes.
	ChunkSize int

	// SpeedFactor paces frame production: frames are emitted no faster than
	// real-time playback divided by this factor. 0 disables pacing entirely
	// (unbounded throughput for batch analysis).
	SpeedFactor float64

	// Pause, when non-nil, is polled before each frame read; while set, the
	// reader suspends without consuming decoder output.
	Pause *control.Pause

	// PausePollInterval is how often the pause flag is re-checked while set.
	// This bounds the latency of both pause and resume.
	PausePollInterval time.Duration

	// StallRetries and StallDelay bound how long a zero-byte read with a
	// still-running decoder is tolerated before it becomes a fatal error.
	StallRetries int
	StallDelay   time.Duration

	// FrameBuffer is the capacity of the internal frame channel. Together
	// with the OS pipe buffer it bounds the in-memory audio backlog during a
	// network outage: once full, the decoder blocks instead of growing the
	// queue.
	FrameBuffer int

	// StopTimeout is how long Stop waits after the graceful termination
	// signal before the decoder is force-killed.
	StopTimeout time.Duration

	// Metrics, when non-nil, receives a frame read latency observation per
	// Next call.
	Metrics *observe.Metrics
}

// Reader owns one external decoder process and exposes its output as an
// order-preserving sequence of fixed-size PCM frames. Frames are never
// reordered, dropped, or duplicated; the sequence ends only at end-of-stream
// or a fatal read error.
//
// A Reader is started once and survives any number of downstream network
// reconnects: consuming position is kept by the internal channel, so frames
// already read are never produced again.
type Reader struct {
	src  string
	opts Options

	cancel context.CancelFunc
	cmd    *exec.Cmd

	frames  chan []byte
	readErr chan error
	exited  chan struct{}
	waitErr error // written before exited is closed

	diag     *diagRing
	produced atomic.Int64
	stopOnce sync.Once
}

// NewReader creates a Reader for the given source descriptor. Call Start to
// launch the decoder, then Next repeatedly until io.EOF.
func NewReader(src string, opts Options) *Reader {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Resolver == nil {
		opts.Resolver = &YTDLPResolver{}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.PausePollInterval <= 0 {
		opts.PausePollInterval = defaultPausePoll
	}
	if opts.StallRetries <= 0 {
		opts.StallRetries = defaultStallRetries
	}
	if opts.StallDelay <= 0 {
		opts.StallDelay = defaultStallDelay
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = defaultFrameBuffer
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &Reader{
		src:     src,
		opts:    opts,
		frames:  make(chan []byte, opts.FrameBuffer),
		readErr: make(chan error, 1),
		exited:  make(chan struct{}),
		diag:    newDiagRing(diagnosticRingSize),
	}
}

// Start resolves the source and launches the decoder. The decoder emits raw
// PCM only (no container, no video) and does no pacing of its own. Its
// diagnostic stream is drained continuously for the lifetime of the process.
func (r *Reader) Start(ctx context.Context) error {
	args, err := BuildArgs(ctx, r.src, r.opts.Resolver, r.opts.SampleRate, r.opts.Channels)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cmd := exec.CommandContext(runCtx, r.opts.FFmpegPath, args...)
	// Graceful termination first; WaitDelay force-kills stragglers.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.opts.StopTimeout

	outR, outW, err := os.Pipe()
	if err != nil {
		cancel()
		return fmt.Errorf("source: stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		cancel()
		outR.Close()
		outW.Close()
		return fmt.Errorf("source: stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	slog.Debug("starting decoder", "path", r.opts.FFmpegPath, "kind", Classify(r.src), "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		cancel()
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return fmt.Errorf("source: start decoder: %w", err)
	}
	r.cmd = cmd

	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	go r.drainDiagnostics(errR)
	go func() {
		r.waitErr = cmd.Wait()
		close(r.exited)
	}()
	go r.pump(runCtx, outR)

	return nil
}

// Next returns the next frame in strict read order. It honours the pause flag
// (polling without consuming decoder output), applies pacing per SpeedFactor,
// and returns io.EOF when the source is exhausted. All blocking is
// interruptible through ctx.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	for r.opts.Pause != nil && r.opts.Pause.Paused() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.opts.PausePollInterval):
		}
	}

	start := time.Now()
	var frame []byte
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-r.readErr:
		return nil, err
	case f, ok := <-r.frames:
		if !ok {
			// A fatal read error closes the frame channel too; prefer it.
			select {
			case err := <-r.readErr:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		frame = f
	}

	if d := r.paceDelay(len(frame), time.Since(start)); d > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordFrameRead(ctx, time.Since(start))
	}
	return frame, nil
}

// paceDelay computes how much longer to sleep so that a frame of n bytes is
// not emitted faster than its real-time playback duration divided by the
// speed factor.
func (r *Reader) paceDelay(n int, elapsed time.Duration) time.Duration {
	if r.opts.SpeedFactor <= 0 {
		return 0
	}
	bytesPerSecond := float64(r.opts.SampleRate * r.opts.Channels * 2)
	if bytesPerSecond <= 0 {
		return 0
	}
	playback := time.Duration(float64(n) / bytesPerSecond * float64(time.Second))
	return time.Duration(float64(playback)/r.opts.SpeedFactor) - elapsed
}

// Exited reports whether the decoder process has terminated.
func (r *Reader) Exited() bool {
	select {
	case <-r.exited:
		return true
	default:
		return false
	}
}

// Diagnostics returns the most recent decoder log output, for error context.
func (r *Reader) Diagnostics() string {
	return r.diag.Tail()
}

// Stop terminates the decoder: graceful signal, bounded wait, then force-kill
// via the command's WaitDelay. Safe to call more than once; only the first
// call acts.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		select {
		case <-r.exited:
		case <-time.After(r.opts.StopTimeout + time.Second):
			slog.Warn("decoder did not exit within stop timeout", "source", r.src)
		}
	})
}

// pump reads fixed-size frames from the decoder output until end-of-stream,
// a fatal error, or cancellation. It always closes the frame channel on exit.
func (r *Reader) pump(ctx context.Context, out io.ReadCloser) {
	defer close(r.frames)
	defer out.Close()

	for {
		if !r.waitWhilePaused(ctx) {
			return
		}
		buf := make([]byte, r.opts.ChunkSize)
		n, err := io.ReadFull(out, buf)
		switch {
		case err == nil:
			if !r.send(ctx, buf) {
				return
			}
		case errors.Is(err, io.ErrUnexpectedEOF):
			// Final short frame before end-of-stream.
			if !r.send(ctx, buf[:n]) {
				return
			}
			r.finish(ctx)
			return
		case errors.Is(err, io.EOF):
			r.finish(ctx)
			return
		default:
			r.fail(fmt.Errorf("source: read decoder output: %w", err))
			return
		}
	}
}

// waitWhilePaused blocks while the pause flag is set, leaving the decoder
// output untouched so that pausing freezes the read position rather than
// buffering ahead. Returns false when ctx is cancelled.
func (r *Reader) waitWhilePaused(ctx context.Context) bool {
	for r.opts.Pause != nil && r.opts.Pause.Paused() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.opts.PausePollInterval):
		}
	}
	return true
}

// send queues a frame, blocking until there is room or ctx is cancelled.
// Blocking here is what bounds the audio backlog during a network outage.
func (r *Reader) send(ctx context.Context, frame []byte) bool {
	select {
	case r.frames <- frame:
		r.produced.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

// finish handles a zero-byte read: if the decoder has exited this is normal
// end-of-stream, unless it never produced output at all (launch failure). A
// decoder that closed its output while still running is given a bounded
// number of retries before the stall becomes fatal.
func (r *Reader) finish(ctx context.Context) {
	for i := 0; i <= r.opts.StallRetries; i++ {
		select {
		case <-r.exited:
			if r.produced.Load() == 0 && r.waitErr != nil {
				r.fail(fmt.Errorf("source: decoder exited before producing output: %w: %s",
					r.waitErr, r.diag.Tail()))
				return
			}
			if r.waitErr != nil {
				slog.Warn("decoder exited with error after end of stream",
					"err", r.waitErr, "diagnostics", r.diag.Tail())
			}
			return
		case <-ctx.Done():
			return
		case <-time.After(r.opts.StallDelay):
		}
	}
	r.fail(fmt.Errorf("source: decoder output stalled after %d retries: %s",
		r.opts.StallRetries, r.diag.Tail()))
}

func (r *Reader) fail(err error) {
	select {
	case r.readErr <- err:
	default:
	}
}

// drainDiagnostics continuously consumes the decoder's diagnostic stream so
// an unread pipe can never fill up and stall the decoder's primary output.
func (r *Reader) drainDiagnostics(errOut io.ReadCloser) {
	defer errOut.Close()
	sc := bufio.NewScanner(errOut)
	for sc.Scan() {
		line := sc.Text()
		r.diag.Add(line)
		slog.Debug("decoder", "line", line)
	}
}

// diagRing is a bounded ring of recent diagnostic lines.
type diagRing struct {
	mu    sync.Mutex
	lines []string
	size  int
	pos   int
	full  bool
}

func newDiagRing(size int) *diagRing {
	return &diagRing{lines: make([]string, size), size: size}
}

func (d *diagRing) Add(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines[d.pos] = line
	d.pos = (d.pos + 1) % d.size
	if d.pos == 0 {
		d.full = true
	}
}

// Tail returns the retained lines, oldest first, joined by newlines.
func (d *diagRing) Tail() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	if d.full {
		out = append(out, d.lines[d.pos:]...)
	}
	out = append(out, d.lines[:d.pos]...)
	return strings.Join(out, "\n")
}
