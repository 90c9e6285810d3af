// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package accumulator rate-matches raw IMU frames produced at the sensor's
// native rate to the consumer's publish cadence.
//
// The producer (bus sampling goroutine) and the consumer (Update) share a
// bounded single-producer/single-consumer ring. Neither side ever takes a
// lock: the producer only advances tail, the consumer only advances head.
package accumulator

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_backend/internal/imu"
)

// Policy decides how pending frames are folded at drain time.
type Policy int

const (
	// Sum averages every pending frame.
	Sum Policy = iota
	// Latest keeps only the most recent frame.
	Latest
)

func (p Policy) String() string {
	if p == Latest {
		return "latest"
	}
	return "sum"
}

// ParsePolicy accepts "sum" or "latest".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum", "mean", "":
		return Sum, nil
	case "latest", "decimate":
		return Latest, nil
	}
	return Sum, fmt.Errorf("unknown accumulate policy %q", s)
}

// Window is everything folded in since the previous drain.
type Window struct {
	AccelSum [3]int64
	GyroSum  [3]int64
	TempSum  int64
	Last     imu.RawSample
	Count    int
	FSync    bool
}

// Mean returns the accel and gyro values for the window under the given
// policy. It must not be called on an empty window.
func (w Window) Mean(p Policy) (accel, gyro r3.Vector) {
	if p == Latest {
		return vec16(w.Last.Accel), vec16(w.Last.Gyro)
	}
	n := float64(w.Count)
	return r3.Vector{X: float64(w.AccelSum[0]) / n, Y: float64(w.AccelSum[1]) / n, Z: float64(w.AccelSum[2]) / n},
		r3.Vector{X: float64(w.GyroSum[0]) / n, Y: float64(w.GyroSum[1]) / n, Z: float64(w.GyroSum[2]) / n}
}

// Temperature returns the window's temperature reading in raw units.
func (w Window) Temperature(p Policy) float64 {
	if p == Latest || w.Count == 0 {
		return float64(w.Last.Temp)
	}
	return float64(w.TempSum) / float64(w.Count)
}

func vec16(v [3]int16) r3.Vector {
	return r3.Vector{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

// Accumulator is a bounded SPSC ring of raw frames plus a fold policy fixed
// at construction.
type Accumulator struct {
	policy Policy
	buf    []imu.RawSample
	mask   uint64

	head atomic.Uint64 // next slot to read, written by the consumer only
	tail atomic.Uint64 // next slot to write, written by the producer only

	overflows atomic.Uint64
}

// New returns an accumulator able to hold at least capacity frames between
// two drains. The capacity is rounded up to a power of two.
func New(policy Policy, capacity int) *Accumulator {
	size := 2
	for size < capacity {
		size <<= 1
	}
	return &Accumulator{
		policy: policy,
		buf:    make([]imu.RawSample, size),
		mask:   uint64(size - 1),
	}
}

// CapacityFor sizes a ring for frames arriving at sampleHz and drained at
// publishHz, with headroom for a late consumer.
func CapacityFor(sampleHz, publishHz float64) int {
	if publishHz <= 0 || sampleHz <= publishHz {
		return 8
	}
	perPublish := int(sampleHz/publishHz) + 1
	return perPublish * 4
}

// Policy returns the fold policy.
func (a *Accumulator) Policy() Policy { return a.policy }

// Capacity returns the maximum number of pending frames.
func (a *Accumulator) Capacity() int { return len(a.buf) }

// Add pushes one frame. It never blocks; when the ring is full the frame is
// dropped, counted, and false is returned. Producer side only.
func (a *Accumulator) Add(s imu.RawSample) bool {
	t := a.tail.Load()
	if t-a.head.Load() >= uint64(len(a.buf)) {
		a.overflows.Add(1)
		return false
	}
	a.buf[t&a.mask] = s
	a.tail.Store(t + 1)
	return true
}

// Pending returns the number of frames waiting to be drained.
func (a *Accumulator) Pending() int {
	return int(a.tail.Load() - a.head.Load())
}

// Drain folds every pending frame into a Window and empties the ring.
// Consumer side only.
func (a *Accumulator) Drain() Window {
	var w Window
	h := a.head.Load()
	t := a.tail.Load()
	for i := h; i < t; i++ {
		s := a.buf[i&a.mask]
		for axis := 0; axis < 3; axis++ {
			w.AccelSum[axis] += int64(s.Accel[axis])
			w.GyroSum[axis] += int64(s.Gyro[axis])
		}
		w.TempSum += int64(s.Temp)
		w.FSync = w.FSync || s.FSync
		w.Last = s
		w.Count++
	}
	a.head.Store(t)
	return w
}

// Overflows returns the number of frames dropped because the ring was full.
func (a *Accumulator) Overflows() uint64 { return a.overflows.Load() }
