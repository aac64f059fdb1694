// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to script a sequence of Dial outcomes (one per reconnect
// attempt) and Conn to feed controlled service messages while recording every
// audio frame and control message the caller sends.
//
// Example:
//
//	conn := mock.NewConn()
//	conn.InboundCh <- mock.ReceiveStep{Msg: stt.Message{Kind: stt.KindMetadata}}
//	p := &mock.Provider{Steps: []mock.DialStep{{Conn: conn}}}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/streamwatch/pkg/provider/stt"
)

// ErrDropped simulates a connection-level failure (socket closed mid-stream).
var ErrDropped = errors.New("mock: connection dropped")

// ErrNoMoreConns is returned by Dial once the scripted steps are exhausted.
var ErrNoMoreConns = errors.New("mock: no more scripted connections")

// DialStep scripts the outcome of a single Provider.Dial call.
type DialStep struct {
	// Conn is returned when Err is nil.
	Conn stt.Conn

	// Err, if non-nil, is returned instead of a connection.
	Err error
}

// DialCall records a single invocation of Provider.Dial.
type DialCall struct {
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider. Each Dial call consumes
// the next DialStep; when the script runs out, Dial returns ErrNoMoreConns.
type Provider struct {
	mu sync.Mutex

	// Steps are consumed in order, one per Dial call.
	Steps []DialStep

	// DialCalls records every call to Dial.
	DialCalls []DialCall
}

// Dial records the call and pops the next scripted step.
func (p *Provider) Dial(_ context.Context, cfg stt.StreamConfig) (stt.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DialCalls = append(p.DialCalls, DialCall{Cfg: cfg})
	if len(p.Steps) == 0 {
		return nil, ErrNoMoreConns
	}
	step := p.Steps[0]
	p.Steps = p.Steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Conn, nil
}

// DialCount returns the number of Dial calls so far. Thread-safe.
func (p *Provider) DialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DialCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// ReceiveStep is one scripted outcome of a Conn.Receive call.
type ReceiveStep struct {
	Msg stt.Message
	Err error
}

// Conn is a mock implementation of stt.Conn.
//
// Tests feed inbound service messages through InboundCh; closing the channel
// makes subsequent Receive calls return ErrDropped (a dead socket). Sent
// frames and control messages are recorded in order.
type Conn struct {
	mu sync.Mutex

	// InboundCh delivers scripted Receive outcomes. Caller-owned.
	InboundCh chan ReceiveStep

	// FailSendAt, when > 0, makes the FailSendAt-th SendAudio call (1-based)
	// return ErrDropped without recording the frame. Subsequent calls fail too.
	FailSendAt int

	// SendControlErr, if non-nil, is returned by every SendControl call.
	SendControlErr error

	// Frames records every successfully sent audio frame, in order.
	Frames [][]byte

	// Controls records every control message sent, in order.
	Controls []stt.ControlKind

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewConn returns a Conn with a buffered inbound channel ready for scripting.
func NewConn() *Conn {
	return &Conn{InboundCh: make(chan ReceiveStep, 16)}
}

// SendAudio records the frame, or fails once the scripted failure point is
// reached.
func (c *Conn) SendAudio(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSendAt > 0 && len(c.Frames)+1 >= c.FailSendAt {
		return ErrDropped
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.Frames = append(c.Frames, cp)
	return nil
}

// SendControl records the control message and returns SendControlErr.
func (c *Conn) SendControl(_ context.Context, kind stt.ControlKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendControlErr != nil {
		return c.SendControlErr
	}
	c.Controls = append(c.Controls, kind)
	return nil
}

// Receive returns the next scripted step, blocking until one is available,
// the channel is closed (ErrDropped), or ctx is cancelled.
func (c *Conn) Receive(ctx context.Context) (stt.Message, error) {
	select {
	case step, ok := <-c.InboundCh:
		if !ok {
			return stt.Message{}, ErrDropped
		}
		return step.Msg, step.Err
	case <-ctx.Done():
		return stt.Message{}, ctx.Err()
	}
}

// Close records the call.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return nil
}

// FrameCount returns the number of successfully sent frames. Thread-safe.
func (c *Conn) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

// SentControls returns a copy of the recorded control messages. Thread-safe.
func (c *Conn) SentControls() []stt.ControlKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stt.ControlKind, len(c.Controls))
	copy(out, c.Controls)
	return out
}

// SentFrames returns a copy of the recorded frames. Thread-safe.
func (c *Conn) SentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.Frames))
	copy(out, c.Frames)
	return out
}

// Ensure Conn implements stt.Conn at compile time.
var _ stt.Conn = (*Conn)(nil)
