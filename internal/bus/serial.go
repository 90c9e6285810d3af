// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// UART register bridge framing. A request is
//
//	0xA5 'R' reg n        read n registers from reg
//	0xA5 'W' reg value    write one register
//
// and every answer is 0x5A, the payload (n bytes for a read, the written
// value for a write) and the XOR of the payload bytes.
const (
	bridgeRequest  = 0xA5
	bridgeResponse = 0x5A
	bridgeRead     = 'R'
	bridgeWrite    = 'W'

	maxBridgeRead = 255
)

// SerialDevice talks to a sensor behind a UART-to-register bridge.
type SerialDevice struct {
	*Scheduler

	name    string
	timeout time.Duration

	mu     sync.Mutex
	port   io.ReadWriteCloser
	closed bool
	frame  []byte
}

// OpenSerial opens a serial port with jacobsa/go-serial and wraps it as a
// bridge device.
func OpenSerial(portName string, baud uint, timeout time.Duration, sched *Scheduler) (*SerialDevice, error) {
	if timeout <= 0 {
		timeout = 20 * time.Millisecond
	}
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: uint(timeout / time.Millisecond),
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", portName, err)
	}
	return NewSerial(port, "serial:"+portName, timeout, sched), nil
}

// NewSerial wraps an already open port.
func NewSerial(port io.ReadWriteCloser, name string, timeout time.Duration, sched *Scheduler) *SerialDevice {
	if sched == nil {
		sched = NewScheduler(nil)
	}
	return &SerialDevice{
		Scheduler: sched,
		name:      name,
		timeout:   timeout,
		port:      port,
	}
}

func (d *SerialDevice) String() string { return d.name }

func (d *SerialDevice) ReadRegisters(reg byte, buf []byte) error {
	if len(buf) > maxBridgeRead {
		return fmt.Errorf("%s: read of %d bytes exceeds bridge limit", d.name, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.transact([]byte{bridgeRequest, bridgeRead, reg, byte(len(buf))}, buf); err != nil {
		return fmt.Errorf("%s read 0x%02X: %w", d.name, reg, err)
	}
	return nil
}

func (d *SerialDevice) WriteRegister(reg, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	var echo [1]byte
	if err := d.transact([]byte{bridgeRequest, bridgeWrite, reg, value}, echo[:]); err != nil {
		return fmt.Errorf("%s write 0x%02X: %w", d.name, reg, err)
	}
	if echo[0] != value {
		return fmt.Errorf("%s write 0x%02X: echoed 0x%02X: %w", d.name, reg, echo[0], ErrCorrupt)
	}
	return nil
}

// transact sends req and reads a response frame whose payload lands in out.
func (d *SerialDevice) transact(req, out []byte) error {
	if _, err := d.port.Write(req); err != nil {
		return err
	}
	n := len(out) + 2
	if cap(d.frame) < n {
		d.frame = make([]byte, n)
	}
	frame := d.frame[:n]
	if err := d.readFull(frame); err != nil {
		return err
	}
	if frame[0] != bridgeResponse {
		return fmt.Errorf("bad response marker 0x%02X: %w", frame[0], ErrCorrupt)
	}
	payload := frame[1 : n-1]
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	if sum != frame[n-1] {
		return fmt.Errorf("checksum 0x%02X, want 0x%02X: %w", frame[n-1], sum, ErrCorrupt)
	}
	copy(out, payload)
	return nil
}

// readFull reads len(buf) bytes, giving up after timeout without progress.
func (d *SerialDevice) readFull(buf []byte) error {
	got := 0
	deadline := time.Now().Add(d.timeout)
	for got < len(buf) {
		n, err := d.port.Read(buf[got:])
		got += n
		// Some drivers report an expired inter-character timer as EOF.
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n > 0 {
			deadline = time.Now().Add(d.timeout)
			continue
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return nil
}

func (d *SerialDevice) RegisterPeriodicCallback(interval time.Duration, fn func()) (Periodic, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return d.Register(interval, fn)
}

func (d *SerialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.port.Close()
}
