// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import "github.com/golang/geo/r3"

// Vector filters the three axes of a channel independently.
type Vector struct {
	Kind     Kind
	CutoffHz float64
	axes     [3]Scalar
}

// NewVector returns a three-axis filter.
func NewVector(kind Kind, sampleHz, cutoffHz float64) *Vector {
	v := &Vector{Kind: kind, CutoffHz: cutoffHz}
	for i := range v.axes {
		v.axes[i] = New(kind, sampleHz, cutoffHz)
	}
	return v
}

func (v *Vector) Apply(in r3.Vector) r3.Vector {
	return r3.Vector{
		X: v.axes[0].Apply(in.X),
		Y: v.axes[1].Apply(in.Y),
		Z: v.axes[2].Apply(in.Z),
	}
}

func (v *Vector) SetSampleRate(hz float64) {
	for _, a := range v.axes {
		a.SetSampleRate(hz)
	}
}

func (v *Vector) Reset() {
	for _, a := range v.axes {
		a.Reset()
	}
}

// Chain is the accel + gyro filter pair of one backend. It is owned by the
// consumer side and is not safe for concurrent use.
type Chain struct {
	Accel *Vector
	Gyro  *Vector

	sampleHz float64
}

// ChainConfig describes both channels of a Chain.
type ChainConfig struct {
	AccelKind     Kind
	AccelCutoffHz float64
	GyroKind      Kind
	GyroCutoffHz  float64
}

// NewChain builds the filter pair for an initial input rate.
func NewChain(cfg ChainConfig, sampleHz float64) *Chain {
	return &Chain{
		Accel:    NewVector(cfg.AccelKind, sampleHz, cfg.AccelCutoffHz),
		Gyro:     NewVector(cfg.GyroKind, sampleHz, cfg.GyroCutoffHz),
		sampleHz: sampleHz,
	}
}

// SampleRate returns the input rate the coefficients are derived for.
func (c *Chain) SampleRate() float64 { return c.sampleHz }

// SetSampleRate re-parameterises both channels if hz differs from the
// current input rate. It reports whether anything changed.
func (c *Chain) SetSampleRate(hz float64) bool {
	if hz == c.sampleHz || hz <= 0 {
		return false
	}
	c.sampleHz = hz
	c.Accel.SetSampleRate(hz)
	c.Gyro.SetSampleRate(hz)
	return true
}

// Apply filters one accel/gyro pair.
func (c *Chain) Apply(accel, gyro r3.Vector) (r3.Vector, r3.Vector) {
	return c.Accel.Apply(accel), c.Gyro.Apply(gyro)
}
