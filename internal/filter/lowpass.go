// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter implements the low-pass stages applied to published IMU
// samples. Coefficients depend on the ratio of cutoff to input rate, so every
// filter can be re-parameterised in place when the input rate changes without
// losing its state.
package filter

import (
	"fmt"
	"math"
	"strings"
)

// Kind selects the filter applied to one channel.
type Kind int

const (
	None Kind = iota
	SinglePole
	TwoPole
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case SinglePole:
		return "1p"
	case TwoPole:
		return "2p"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts "none", "1p" or "2p".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "":
		return None, nil
	case "1p", "single":
		return SinglePole, nil
	case "2p", "two", "biquad":
		return TwoPole, nil
	}
	return None, fmt.Errorf("unknown filter kind %q", s)
}

// Scalar is a single-channel low-pass filter.
type Scalar interface {
	// Apply feeds one input and returns the filtered output.
	Apply(x float64) float64
	// SetSampleRate re-derives the coefficients for a new input rate,
	// keeping the filter's internal state.
	SetSampleRate(hz float64)
	// Reset clears the internal state; the next input passes through.
	Reset()
}

// active reports whether cutoff describes a real low-pass at the given input
// rate. A cutoff at or above Nyquist, or a non-positive one, is a pass-through.
func active(sampleHz, cutoffHz float64) bool {
	return sampleHz > 0 && cutoffHz > 0 && cutoffHz < sampleHz/2
}

// LowPass1p is a first-order RC low-pass filter.
type LowPass1p struct {
	cutoffHz float64
	sampleHz float64
	alpha    float64
	enabled  bool

	out         float64
	initialised bool
}

// NewLowPass1p returns a single-pole filter for the given input rate and cutoff.
func NewLowPass1p(sampleHz, cutoffHz float64) *LowPass1p {
	f := &LowPass1p{cutoffHz: cutoffHz}
	f.SetSampleRate(sampleHz)
	return f
}

func (f *LowPass1p) SetSampleRate(hz float64) {
	f.sampleHz = hz
	f.enabled = active(hz, f.cutoffHz)
	if !f.enabled {
		f.alpha = 1
		return
	}
	dt := 1 / hz
	rc := 1 / (2 * math.Pi * f.cutoffHz)
	f.alpha = dt / (dt + rc)
}

func (f *LowPass1p) Apply(x float64) float64 {
	if !f.enabled || !f.initialised {
		f.out = x
		f.initialised = true
		return x
	}
	f.out += (x - f.out) * f.alpha
	return f.out
}

func (f *LowPass1p) Reset() {
	f.out = 0
	f.initialised = false
}

// Alpha exposes the current smoothing factor.
func (f *LowPass1p) Alpha() float64 { return f.alpha }

// LowPass2p is a second-order Butterworth low-pass filter in direct form II.
type LowPass2p struct {
	cutoffHz float64
	sampleHz float64
	enabled  bool

	b0, b1, b2 float64
	a1, a2     float64

	d1, d2      float64
	initialised bool
}

// NewLowPass2p returns a two-pole filter for the given input rate and cutoff.
func NewLowPass2p(sampleHz, cutoffHz float64) *LowPass2p {
	f := &LowPass2p{cutoffHz: cutoffHz}
	f.SetSampleRate(sampleHz)
	return f
}

// SetSampleRate re-derives the coefficients. The delay line is rescaled by
// the ratio of old to new DC gain so the output stays continuous.
func (f *LowPass2p) SetSampleRate(hz float64) {
	oldGain := f.b0 + f.b1 + f.b2
	wasEnabled := f.enabled

	f.sampleHz = hz
	f.enabled = active(hz, f.cutoffHz)
	if !f.enabled {
		f.initialised = false
		return
	}
	ohm := math.Tan(math.Pi * f.cutoffHz / hz)
	k := 2 * math.Cos(math.Pi/4)
	c := 1 + k*ohm + ohm*ohm

	f.b0 = ohm * ohm / c
	f.b1 = 2 * f.b0
	f.b2 = f.b0
	f.a1 = 2 * (ohm*ohm - 1) / c
	f.a2 = (1 - k*ohm + ohm*ohm) / c

	if !f.initialised {
		return
	}
	if !wasEnabled || oldGain == 0 {
		f.initialised = false
		return
	}
	scale := oldGain / (f.b0 + f.b1 + f.b2)
	f.d1 *= scale
	f.d2 *= scale
}

func (f *LowPass2p) Apply(x float64) float64 {
	if !f.enabled {
		return x
	}
	if !f.initialised {
		// Seed the delay line so a constant input passes straight through.
		d := x / (f.b0 + f.b1 + f.b2)
		f.d1, f.d2 = d, d
		f.initialised = true
	}
	d0 := x - f.d1*f.a1 - f.d2*f.a2
	out := d0*f.b0 + f.d1*f.b1 + f.d2*f.b2
	f.d2 = f.d1
	f.d1 = d0
	return out
}

func (f *LowPass2p) Reset() {
	f.d1, f.d2 = 0, 0
	f.initialised = false
}

// Coefficients returns b0, b1, b2, a1, a2.
func (f *LowPass2p) Coefficients() [5]float64 {
	return [5]float64{f.b0, f.b1, f.b2, f.a1, f.a2}
}

type passThrough struct{}

func (passThrough) Apply(x float64) float64 { return x }
func (passThrough) SetSampleRate(float64)   {}
func (passThrough) Reset()                  {}

// New builds a scalar filter of the given kind.
func New(kind Kind, sampleHz, cutoffHz float64) Scalar {
	switch kind {
	case SinglePole:
		return NewLowPass1p(sampleHz, cutoffHz)
	case TwoPole:
		return NewLowPass2p(sampleHz, cutoffHz)
	}
	return passThrough{}
}
