// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frontend is the shared sink backends publish into: one slot per
// logical IMU instance, created once at startup and passed explicitly.
package frontend

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoSuchInstance is returned for an instance index outside the table.
	ErrNoSuchInstance = errors.New("frontend: no such instance")
	// ErrSlotClaimed is returned when a second writer asks for a slot.
	ErrSlotClaimed = errors.New("frontend: slot already claimed")
)

// Sample is one published, corrected and filtered reading. Published samples
// are immutable; readers may keep them.
type Sample struct {
	Instance  int       `json:"instance"`
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Accel     r3.Vector `json:"accel"` // m/s², body frame
	Gyro      r3.Vector `json:"gyro"`  // rad/s, body frame
	TempC     float64   `json:"temp_c"`
	Count     int       `json:"count"` // raw frames folded into this sample
	FSync     bool      `json:"fsync"`
	Healthy   bool      `json:"healthy"`
	Vibration r3.Vector `json:"vibration"` // per-axis accel std-dev over the recent window
}

// vibrationWindow is the number of published samples the vibration level
// is computed over.
const vibrationWindow = 32

// Slot holds the latest sample of one instance. Exactly one backend writes
// it; any number of goroutines may read it.
type Slot struct {
	instance int
	claimed  atomic.Bool
	latest   atomic.Pointer[Sample]
	seq      uint64

	// Writer-side history for the vibration level.
	hist [3][]float64
	next int
	full bool
}

// Instance returns the slot's instance index.
func (s *Slot) Instance() int { return s.instance }

// Publish stores a new sample. It stamps the instance, sequence number and
// vibration level; the caller's copy is not modified. Writer only.
func (s *Slot) Publish(sm Sample) {
	s.seq++
	sm.Instance = s.instance
	sm.Seq = s.seq
	sm.Vibration = s.vibration(sm.Accel)
	s.latest.Store(&sm)
}

// SetHealthy flips the health flag of the latest sample without touching
// its values. A slot that never published stays empty. Writer only.
func (s *Slot) SetHealthy(healthy bool) {
	cur := s.latest.Load()
	if cur == nil || cur.Healthy == healthy {
		return
	}
	next := *cur
	next.Healthy = healthy
	s.latest.Store(&next)
}

// Latest returns the most recent sample, or false if nothing was published.
func (s *Slot) Latest() (Sample, bool) {
	p := s.latest.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}

func (s *Slot) vibration(a r3.Vector) r3.Vector {
	vals := [3]float64{a.X, a.Y, a.Z}
	for i := range s.hist {
		if s.hist[i] == nil {
			s.hist[i] = make([]float64, vibrationWindow)
		}
		s.hist[i][s.next] = vals[i]
	}
	s.next = (s.next + 1) % vibrationWindow
	if s.next == 0 {
		s.full = true
	}
	n := s.next
	if s.full {
		n = vibrationWindow
	}
	if n < 2 {
		return r3.Vector{}
	}
	return r3.Vector{
		X: stat.StdDev(s.hist[0][:n], nil),
		Y: stat.StdDev(s.hist[1][:n], nil),
		Z: stat.StdDev(s.hist[2][:n], nil),
	}
}

// Frontend is the fixed table of publish slots.
type Frontend struct {
	slots []*Slot

	mu       sync.Mutex
	watchers []chan struct{}
}

// New creates a frontend with n instance slots.
func New(n int) *Frontend {
	f := &Frontend{slots: make([]*Slot, n)}
	for i := range f.slots {
		f.slots[i] = &Slot{instance: i}
	}
	return f
}

// Len returns the number of instance slots.
func (f *Frontend) Len() int { return len(f.slots) }

// Claim hands the slot of instance i to its single writer.
func (f *Frontend) Claim(i int) (*Slot, error) {
	if i < 0 || i >= len(f.slots) {
		return nil, fmt.Errorf("claim instance %d of %d: %w", i, len(f.slots), ErrNoSuchInstance)
	}
	s := f.slots[i]
	if !s.claimed.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("claim instance %d: %w", i, ErrSlotClaimed)
	}
	return s, nil
}

// Release gives the slot of instance i back so another backend can claim it.
func (f *Frontend) Release(s *Slot) {
	if s != nil {
		s.claimed.Store(false)
	}
}

// Latest returns the latest sample of instance i.
func (f *Frontend) Latest(i int) (Sample, bool) {
	if i < 0 || i >= len(f.slots) {
		return Sample{}, false
	}
	return f.slots[i].Latest()
}

// Snapshot returns the latest sample of every instance that has published.
func (f *Frontend) Snapshot() []Sample {
	out := make([]Sample, 0, len(f.slots))
	for _, s := range f.slots {
		if sm, ok := s.Latest(); ok {
			out = append(out, sm)
		}
	}
	return out
}

// Fused averages the latest samples of every healthy instance. Degraded
// instances are left out; false means no healthy instance has data.
func (f *Frontend) Fused() (Sample, bool) {
	var (
		out Sample
		n   int
	)
	for _, s := range f.slots {
		sm, ok := s.Latest()
		if !ok || !sm.Healthy {
			continue
		}
		out.Accel = out.Accel.Add(sm.Accel)
		out.Gyro = out.Gyro.Add(sm.Gyro)
		out.Vibration = out.Vibration.Add(sm.Vibration)
		out.TempC += sm.TempC
		out.Count += sm.Count
		out.FSync = out.FSync || sm.FSync
		if sm.Time.After(out.Time) {
			out.Time = sm.Time
		}
		n++
	}
	if n == 0 {
		return Sample{}, false
	}
	k := 1 / float64(n)
	out.Instance = -1
	out.Accel = out.Accel.Mul(k)
	out.Gyro = out.Gyro.Mul(k)
	out.Vibration = out.Vibration.Mul(k)
	out.TempC *= k
	out.Healthy = true
	return out, true
}

// HealthyCount returns the number of instances whose latest sample is healthy.
func (f *Frontend) HealthyCount() int {
	n := 0
	for _, s := range f.slots {
		if sm, ok := s.Latest(); ok && sm.Healthy {
			n++
		}
	}
	return n
}
