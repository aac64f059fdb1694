package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/streamwatch/internal/control"
	"github.com/MrWong99/streamwatch/internal/observe"
)

// pumpFrom builds a Reader whose frame pump is fed from data instead of a
// real decoder process. markExited simulates the decoder process ending with
// the given wait error before the pump hits end-of-stream.
func pumpFrom(t *testing.T, data []byte, opts Options, exitErr error, markExited bool) *Reader {
	t.Helper()
	r := NewReader("test-source", opts)
	if markExited {
		r.waitErr = exitErr
		close(r.exited)
	}
	go r.pump(context.Background(), io.NopCloser(bytes.NewReader(data)))
	return r
}

func TestReader_FrameOrderAndEOF(t *testing.T) {
	// 10 bytes with chunk size 4: two full frames and a short final frame.
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	r := pumpFrom(t, data, Options{ChunkSize: 4, SampleRate: 16000, Channels: 1}, nil, true)

	ctx := context.Background()
	var got []byte
	for {
		frame, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, frame...)
	}

	if !bytes.Equal(got, data) {
		t.Errorf("concatenated frames = %v, want %v", got, data)
	}
}

func TestReader_PauseSuspendsProduction(t *testing.T) {
	pause := &control.Pause{}
	pause.Set()

	data := bytes.Repeat([]byte{1}, 8)
	r := pumpFrom(t, data, Options{
		ChunkSize:         4,
		SampleRate:        16000,
		Channels:          1,
		Pause:             pause,
		PausePollInterval: 5 * time.Millisecond,
	}, nil, true)

	type result struct {
		frame []byte
		err   error
	}
	results := make(chan result, 1)
	go func() {
		f, err := r.Next(context.Background())
		results <- result{f, err}
	}()

	// While paused, Next must not deliver anything.
	select {
	case res := <-results:
		t.Fatalf("Next returned while paused: %v %v", res.frame, res.err)
	case <-time.After(50 * time.Millisecond):
	}

	pause.Clear()

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("Next after resume: %v", res.err)
		}
		if !bytes.Equal(res.frame, data[:4]) {
			t.Errorf("first frame after resume = %v, want %v", res.frame, data[:4])
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after pause was cleared")
	}
}

// countingReader tracks how many bytes have been consumed from the wrapped
// stream.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) Close() error { return nil }

func TestReader_PauseLeavesDecoderOutputUnread(t *testing.T) {
	pause := &control.Pause{}
	pause.Set()

	data := bytes.Repeat([]byte{1}, 36)
	cr := &countingReader{r: bytes.NewReader(data)}
	r := NewReader("test-source", Options{
		ChunkSize:         4,
		SampleRate:        16000,
		Channels:          1,
		Pause:             pause,
		PausePollInterval: 5 * time.Millisecond,
	})
	close(r.exited)
	go r.pump(context.Background(), cr)

	// While paused, the pump must not buffer ahead: nothing consumed from
	// the decoder stream, no frames produced, even with no consumer calling
	// Next.
	time.Sleep(50 * time.Millisecond)
	if got := cr.n.Load(); got != 0 {
		t.Errorf("decoder output consumed while paused: %d bytes", got)
	}
	if got := r.produced.Load(); got != 0 {
		t.Errorf("frames produced while paused: %d", got)
	}

	pause.Clear()

	ctx := context.Background()
	var total int
	for {
		frame, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next after resume: %v", err)
		}
		total += len(frame)
	}
	if total != len(data) {
		t.Errorf("read %d bytes after resume, want %d", total, len(data))
	}
}

func TestReader_PauseRemainsCancellable(t *testing.T) {
	pause := &control.Pause{}
	pause.Set()

	r := NewReader("test-source", Options{
		ChunkSize:         4,
		Pause:             pause,
		PausePollInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := r.Next(ctx)
		errs <- err
	}()

	cancel()
	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("paused Next did not react to cancellation")
	}
}

func TestReader_LaunchFailure(t *testing.T) {
	// Decoder exits with an error before producing any output: fatal, with
	// the captured diagnostics in the error.
	r := NewReader("test-source", Options{ChunkSize: 4, StallDelay: time.Millisecond})
	r.diag.Add("file.mp4: No such file or directory")
	r.waitErr = errors.New("exit status 1")
	close(r.exited)
	go r.pump(context.Background(), io.NopCloser(bytes.NewReader(nil)))

	_, err := r.Next(context.Background())
	if err == nil {
		t.Fatal("expected launch failure error")
	}
	if !strings.Contains(err.Error(), "No such file or directory") {
		t.Errorf("error should carry decoder diagnostics, got %v", err)
	}
}

func TestReader_EmptyCleanExitIsEOF(t *testing.T) {
	// Exit status 0 with no output is an empty source, not a launch failure.
	r := pumpFrom(t, nil, Options{ChunkSize: 4, StallDelay: time.Millisecond}, nil, true)

	_, err := r.Next(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_StallIsFatal(t *testing.T) {
	// Output closed while the process is still running: bounded retries,
	// then a fatal stall error.
	r := pumpFrom(t, []byte{1, 2, 3, 4}, Options{
		ChunkSize:    4,
		StallRetries: 2,
		StallDelay:   2 * time.Millisecond,
	}, nil, false) // process never marked as exited

	ctx := context.Background()
	if _, err := r.Next(ctx); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	_, err := r.Next(ctx)
	if err == nil {
		t.Fatal("expected stall error")
	}
	if !strings.Contains(err.Error(), "stalled") {
		t.Errorf("expected stall error, got %v", err)
	}
}

func TestReader_StopBeforeStart(t *testing.T) {
	r := NewReader("test-source", Options{})
	r.Stop() // must not panic without a started process
}

func TestReader_NextRecordsReadLatency(t *testing.T) {
	sdkReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkReader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	data := bytes.Repeat([]byte{1}, 8)
	r := pumpFrom(t, data, Options{
		ChunkSize:  4,
		SampleRate: 16000,
		Channels:   1,
		Metrics:    m,
	}, nil, true)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := r.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := sdkReader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "streamwatch.frame.read.duration" {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatal("metric is not a histogram")
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("recorded %d frame reads, want 2", got)
			}
			return
		}
	}
	t.Fatal("frame read duration metric not recorded")
}

// ---- pacing tests ----

func TestPaceDelay(t *testing.T) {
	r := NewReader("x", Options{SampleRate: 16000, Channels: 1, SpeedFactor: 1})

	// 4000 bytes of 16kHz 16-bit mono is 125ms of audio.
	if d := r.paceDelay(4000, 0); d != 125*time.Millisecond {
		t.Errorf("speed 1.0: want 125ms, got %v", d)
	}

	r.opts.SpeedFactor = 2
	if d := r.paceDelay(4000, 0); d != 62500*time.Microsecond {
		t.Errorf("speed 2.0: want 62.5ms, got %v", d)
	}

	// Elapsed processing time is subtracted.
	r.opts.SpeedFactor = 1
	if d := r.paceDelay(4000, 100*time.Millisecond); d != 25*time.Millisecond {
		t.Errorf("with elapsed: want 25ms, got %v", d)
	}

	// Speed factor 0 disables pacing.
	r.opts.SpeedFactor = 0
	if d := r.paceDelay(4000, 0); d != 0 {
		t.Errorf("speed 0: want no delay, got %v", d)
	}
}

func TestReader_PacingSlowsDelivery(t *testing.T) {
	// Two 1600-byte frames at 16kHz mono are 50ms of audio each.
	data := bytes.Repeat([]byte{1}, 3200)
	r := pumpFrom(t, data, Options{
		ChunkSize:   1600,
		SampleRate:  16000,
		Channels:    1,
		SpeedFactor: 1,
	}, nil, true)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := r.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("two 50ms frames delivered in %v; pacing not applied", elapsed)
	}
}

// ---- diagnostics ring ----

func TestDiagRing(t *testing.T) {
	d := newDiagRing(3)
	if d.Tail() != "" {
		t.Errorf("empty ring Tail = %q", d.Tail())
	}

	d.Add("a")
	d.Add("b")
	if got := d.Tail(); got != "a\nb" {
		t.Errorf("Tail = %q, want %q", got, "a\nb")
	}

	d.Add("c")
	d.Add("d") // evicts "a"
	if got := d.Tail(); got != "b\nc\nd" {
		t.Errorf("Tail after wrap = %q, want %q", got, "b\nc\nd")
	}
}
