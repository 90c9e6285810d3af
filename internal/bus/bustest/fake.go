// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bustest provides a scripted bus.Device for tests.
package bustest

import (
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/inertial_backend/internal/bus"
)

// Write records one register write.
type Write struct {
	Reg, Value byte
}

// Fake is a register-file device whose reads can be scripted frame by frame
// and whose periodic callback is fired by hand.
type Fake struct {
	mu       sync.Mutex
	regs     [256]byte
	frames   map[byte][][]byte
	errs     []error
	writes   []Write
	reads    int
	callback func()
	interval time.Duration
	stopped  bool
	closed   bool
	events   []string
}

// New returns an empty fake device.
func New() *Fake {
	return &Fake{frames: make(map[byte][][]byte)}
}

func (f *Fake) String() string { return "fake" }

// SetRegister sets the value returned for reg when no frame is queued.
func (f *Fake) SetRegister(reg, value byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg] = value
}

// QueueFrame makes the next read starting at reg return frame.
func (f *Fake) QueueFrame(reg byte, frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[reg] = append(f.frames[reg], append([]byte(nil), frame...))
}

// QueueError makes the next read fail with err.
func (f *Fake) QueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *Fake) ReadRegisters(reg byte, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return bus.ErrClosed
	}
	f.reads++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	if q := f.frames[reg]; len(q) > 0 {
		frame := q[0]
		f.frames[reg] = q[1:]
		if len(frame) != len(buf) {
			return fmt.Errorf("bustest: frame of %d bytes for a %d byte read", len(frame), len(buf))
		}
		copy(buf, frame)
		return nil
	}
	for i := range buf {
		buf[i] = f.regs[(int(reg)+i)&0xFF]
	}
	return nil
}

func (f *Fake) WriteRegister(reg, value byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return bus.ErrClosed
	}
	f.writes = append(f.writes, Write{Reg: reg, Value: value})
	f.regs[reg] = value
	return nil
}

func (f *Fake) RegisterPeriodicCallback(interval time.Duration, fn func()) (bus.Periodic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, bus.ErrClosed
	}
	f.callback = fn
	f.interval = interval
	f.stopped = false
	f.events = append(f.events, "register")
	return periodic{f}, nil
}

type periodic struct{ f *Fake }

func (p periodic) Stop() error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	p.f.stopped = true
	p.f.callback = nil
	p.f.events = append(p.f.events, "stop")
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.events = append(f.events, "close")
	return nil
}

// Fire runs the registered periodic callback once, synchronously. It
// reports false if no callback is registered.
func (f *Fake) Fire() bool {
	f.mu.Lock()
	fn := f.callback
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Interval returns the interval of the registered callback.
func (f *Fake) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// Writes returns every register write so far.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Reads returns the number of read transactions attempted.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Events returns the lifecycle calls in order: "register", "stop", "close".
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}
