// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	hostOnce    sync.Once
	hostInitErr error
)

// initHost loads the periph.io host drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInitErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostInitErr
}

// spiReadFlag is set on the register address for SPI reads.
const spiReadFlag = 0x80

// txDevice adapts a periph.io conn.Conn to Device. Register writes are sent
// as [reg, value]; reads as [reg|readFlag] followed by len(buf) bytes.
type txDevice struct {
	*Scheduler

	name     string
	readFlag byte
	duplex   bool // SPI clocks the register byte and the payload in one Tx

	mu     sync.Mutex
	conn   conn.Conn
	closer func() error
	closed bool
	rx     []byte
	tx     []byte
}

// OpenI2C opens the named I2C bus (e.g. "1") and binds the device at addr.
func OpenI2C(busName string, addr uint16, sched *Scheduler) (Device, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", busName, err)
	}
	if sched == nil {
		sched = NewScheduler(nil)
	}
	return &txDevice{
		Scheduler: sched,
		name:      fmt.Sprintf("i2c:%s@0x%02X", busName, addr),
		conn:      &i2c.Dev{Bus: b, Addr: addr},
		closer:    b.Close,
	}, nil
}

// OpenSPI opens the named SPI port (e.g. "/dev/spidev0.0") in mode 3.
func OpenSPI(portName string, speed physic.Frequency, sched *Scheduler) (Device, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	p, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("spi open %q: %w", portName, err)
	}
	if speed == 0 {
		speed = physic.MegaHertz
	}
	c, err := p.Connect(speed, spi.Mode3, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("spi connect %q: %w", portName, err)
	}
	if sched == nil {
		sched = NewScheduler(nil)
	}
	return &txDevice{
		Scheduler: sched,
		name:      "spi:" + portName,
		readFlag:  spiReadFlag,
		duplex:    true,
		conn:      c,
		closer:    p.Close,
	}, nil
}

func (d *txDevice) String() string { return d.name }

func (d *txDevice) ReadRegisters(reg byte, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if !d.duplex {
		if err := d.conn.Tx([]byte{reg | d.readFlag}, buf); err != nil {
			return fmt.Errorf("%s read 0x%02X: %w", d.name, reg, err)
		}
		return nil
	}

	n := len(buf) + 1
	if cap(d.tx) < n {
		d.tx = make([]byte, n)
		d.rx = make([]byte, n)
	}
	tx, rx := d.tx[:n], d.rx[:n]
	clear(tx)
	tx[0] = reg | d.readFlag
	if err := d.conn.Tx(tx, rx); err != nil {
		return fmt.Errorf("%s read 0x%02X: %w", d.name, reg, err)
	}
	copy(buf, rx[1:])
	return nil
}

func (d *txDevice) WriteRegister(reg, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	w := []byte{reg, value}
	var r []byte
	if d.duplex {
		r = make([]byte, len(w))
	}
	if err := d.conn.Tx(w, r); err != nil {
		return fmt.Errorf("%s write 0x%02X: %w", d.name, reg, err)
	}
	return nil
}

func (d *txDevice) RegisterPeriodicCallback(interval time.Duration, fn func()) (Periodic, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return d.Register(interval, fn)
}

func (d *txDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.closer != nil {
		return d.closer()
	}
	return nil
}
