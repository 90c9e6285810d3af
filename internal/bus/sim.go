// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Simulated emulates the register file of an MPU-9250 class chip whose
// accel/gyro output registers follow a smooth synthetic motion: roll and
// pitch oscillate while the board slowly yaws. Useful for running the full
// pipeline without hardware.
type Simulated struct {
	*Scheduler

	mu     sync.Mutex
	regs   [128]byte
	start  time.Time
	closed bool
}

const (
	simWhoAmI    = 0x75
	simWhoAmIVal = 0x71
	simDataStart = 0x3B
	simAccelLSB  = 4096.0 // ±8g
	simGyroLSB   = 16.4   // ±2000°/s, LSB per °/s
)

// NewSimulated returns a simulated device driven by sched's clock.
func NewSimulated(sched *Scheduler) *Simulated {
	if sched == nil {
		sched = NewScheduler(nil)
	}
	s := &Simulated{Scheduler: sched, start: sched.Clock().Now()}
	s.regs[simWhoAmI] = simWhoAmIVal
	return s
}

func (s *Simulated) String() string { return "sim:mpu9250" }

func (s *Simulated) ReadRegisters(reg byte, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.refresh()
	for i := range buf {
		buf[i] = s.regs[(int(reg)+i)&0x7F]
	}
	return nil
}

func (s *Simulated) WriteRegister(reg, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if reg&0x7F == simWhoAmI {
		return nil
	}
	s.regs[reg&0x7F] = value
	return nil
}

// refresh writes the current synthetic motion into the output registers.
func (s *Simulated) refresh() {
	t := s.Clock().Since(s.start).Seconds()

	roll := 20 * math.Sin(t) * math.Pi / 180
	pitch := 15 * math.Cos(t*0.7) * math.Pi / 180
	rollRate := 20 * math.Cos(t)
	pitchRate := -15 * 0.7 * math.Sin(t*0.7)
	yawRate := 30.0

	// Gravity seen by a level-mounted sensor at the given roll/pitch.
	ax := -math.Sin(pitch)
	ay := math.Sin(roll) * math.Cos(pitch)
	az := math.Cos(roll) * math.Cos(pitch)

	vals := [7]float64{
		ax * simAccelLSB, ay * simAccelLSB, az * simAccelLSB,
		0, // 21 °C
		rollRate * simGyroLSB, pitchRate * simGyroLSB, yawRate * simGyroLSB,
	}
	for i, v := range vals {
		binary.BigEndian.PutUint16(s.regs[simDataStart+2*i:], uint16(int16(math.Round(v))))
	}
}

func (s *Simulated) RegisterPeriodicCallback(interval time.Duration, fn func()) (Periodic, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.Register(interval, fn)
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
