// Package control holds the cooperative control inputs shared between an
// external controller (CLI signal handler, web socket) and a running
// transcription pipeline.
package control

import "sync/atomic"

// Pause is a shared boolean flag that suspends frame production while set.
//
// The flag is cooperative: the audio source reader polls it before each frame
// read and suspends until it is cleared. Set and Clear are safe to call from
// any goroutine; only one external writer is expected at a time.
type Pause struct {
	paused atomic.Bool
}

// Set engages the pause. Takes effect within one pause-check interval.
func (p *Pause) Set() { p.paused.Store(true) }

// Clear releases the pause.
func (p *Pause) Clear() { p.paused.Store(false) }

// Paused reports whether the pause is currently engaged.
func (p *Pause) Paused() bool { return p.paused.Load() }
