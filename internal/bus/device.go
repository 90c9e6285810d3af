// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus provides the serial bus devices an IMU backend samples from:
// periph.io I2C and SPI, a UART register bridge, and a simulated device.
package bus

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("bus: device closed")
	// ErrCorrupt is returned when a transaction completed but its payload
	// failed the transport's own integrity check.
	ErrCorrupt = errors.New("bus: corrupt transaction")
	// ErrTimeout is returned when the device did not answer in time.
	ErrTimeout = errors.New("bus: transaction timeout")
)

// Device is a register-addressed sensor on a serial bus. Transactions are
// synchronous and bounded by the transport's own timeout.
type Device interface {
	// ReadRegisters fills buf starting at register reg.
	ReadRegisters(reg byte, buf []byte) error
	// WriteRegister writes a single register.
	WriteRegister(reg, value byte) error
	// RegisterPeriodicCallback runs fn every interval until the returned
	// Periodic is stopped.
	RegisterPeriodicCallback(interval time.Duration, fn func()) (Periodic, error)
	// Close releases the device.
	Close() error
	// String names the device for logs.
	String() string
}

// Handle carries exclusive ownership of a Device. Ownership moves out with
// Take, after which the handle is empty.
type Handle struct {
	mu  sync.Mutex
	dev Device
}

// NewHandle wraps dev. A nil dev produces an empty handle, modelling a device
// that failed enumeration upstream.
func NewHandle(dev Device) *Handle {
	return &Handle{dev: dev}
}

// Empty reports whether the handle holds no device. A nil handle is empty.
func (h *Handle) Empty() bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev == nil
}

// Peek returns the device without transferring ownership, for identity
// checks before a probe commits.
func (h *Handle) Peek() Device {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev
}

// Take moves the device out of the handle.
func (h *Handle) Take() Device {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.dev
	h.dev = nil
	return d
}

// Close releases a device still held by the handle, if any.
func (h *Handle) Close() error {
	if d := h.Take(); d != nil {
		return d.Close()
	}
	return nil
}
