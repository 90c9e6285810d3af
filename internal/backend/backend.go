// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package backend bridges a bus-attached accelerometer/gyroscope to a
// frontend slot. Chip variants supply identity checks and frame decoding;
// everything else (sampling, health, correction, filtering, publishing)
// lives in Core.
package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_backend/internal/accumulator"
	"github.com/relabs-tech/inertial_backend/internal/filter"
	"github.com/relabs-tech/inertial_backend/internal/imu"
	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

var (
	// ErrNotFound means the bus handle was empty or the device on it is not
	// the probed variant. The device, if any, stays in the handle.
	ErrNotFound = errors.New("backend: device not found")
	// ErrStopped is returned when starting a backend that was already stopped.
	ErrStopped = errors.New("backend: stopped")
	// ErrStuckBus marks a frame of all 0x00 or all 0xFF bytes.
	ErrStuckBus = errors.New("backend: stuck bus frame")
	// ErrOutOfRange marks a frame with an axis beyond the configured limit.
	ErrOutOfRange = errors.New("backend: sample out of range")
)

const (
	DefaultSampleRateHz     = 1000
	DefaultFailureThreshold = 10
)

// Backend is what the application drives, whatever the chip.
type Backend interface {
	// Start registers the periodic sampling routine on the bus.
	Start() error
	// Update publishes everything sampled since the previous call. It
	// returns false when nothing new was published.
	Update() bool
	// Stop unregisters the sampling routine, then closes the device.
	Stop() error

	Calibration() orientation.Calibration
	SetCalibration(cal orientation.Calibration) error
	SetPublishRate(hz float64) error

	Health() Health
	State() State
	Stats() Stats
	Instance() int
	Name() string
}

// Health is orthogonal to State while sampling.
type Health int32

const (
	Healthy Health = iota
	Degraded
)

func (h Health) String() string {
	if h == Degraded {
		return "degraded"
	}
	return "healthy"
}

// State is the backend lifecycle: Probed, then Sampling, then Stopped.
type State int32

const (
	Probed State = iota
	Sampling
	Stopped
)

func (s State) String() string {
	switch s {
	case Probed:
		return "probed"
	case Sampling:
		return "sampling"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats are cumulative counters since probe.
type Stats struct {
	Published           uint64 `json:"published"`
	TransactionFailures uint64 `json:"transaction_failures"`
	CorruptSamples      uint64 `json:"corrupt_samples"`
	SkippedPublishes    uint64 `json:"skipped_publishes"`
	Overflows           uint64 `json:"overflows"`
	AccelClipped        uint64 `json:"accel_clipped"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Decoder turns one fixed-width register burst into a RawSample.
type Decoder interface {
	// Register is the first register of the burst.
	Register() byte
	// Size is the burst length in bytes.
	Size() int
	Decode(frame []byte) (imu.RawSample, error)
}

// Sensitivity is a variant's nominal conversion from LSB to SI units.
type Sensitivity struct {
	Accel      float64 // m/s² per LSB
	Gyro       float64 // rad/s per LSB
	TempScale  float64 // °C per LSB
	TempOffset float64 // °C at raw zero
	// ClipLimit is the raw accel count treated as full scale.
	ClipLimit int16
}

// Config is the immutable per-instance configuration handed to a probe.
type Config struct {
	Name     string
	Rotation orientation.Rotation

	// Accel scale/offset. A zero scale axis means the variant's nominal
	// sensitivity for that axis.
	Scale  r3.Vector
	Offset r3.Vector

	GyroScale  r3.Vector
	GyroOffset r3.Vector

	AccelFilter   filter.Kind
	AccelCutoffHz float64
	GyroFilter    filter.Kind
	GyroCutoffHz  float64

	SampleRateHz  float64
	PublishRateHz float64
	Policy        accumulator.Policy

	// FailureThreshold consecutive failed samples mark the backend Degraded.
	FailureThreshold int
	// AccelLimit and GyroLimit reject frames with any raw axis beyond them.
	// Zero disables the check.
	AccelLimit int
	GyroLimit  int

	ExtSync bool

	// Clock stamps published samples; nil means the wall clock.
	Clock clock.Clock
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.SampleRateHz == 0 {
		c.SampleRateHz = DefaultSampleRateHz
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Validate checks a config after defaults were applied.
func (c Config) Validate() error {
	if !c.Rotation.Valid() {
		return fmt.Errorf("invalid rotation %d", int(c.Rotation))
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("sample rate must be positive, got %v", c.SampleRateHz)
	}
	if c.PublishRateHz < 0 {
		return fmt.Errorf("publish rate must not be negative, got %v", c.PublishRateHz)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.AccelLimit < 0 || c.GyroLimit < 0 {
		return fmt.Errorf("raw limits must not be negative")
	}
	return nil
}

// Calibration resolves the configured scale/offset against the variant's
// nominal sensitivity.
func (c Config) Calibration(nominal Sensitivity) orientation.Calibration {
	return orientation.Calibration{
		AccelScale:  orNominal(c.Scale, nominal.Accel),
		AccelOffset: c.Offset,
		GyroScale:   orNominal(c.GyroScale, nominal.Gyro),
		GyroOffset:  c.GyroOffset,
	}
}

func orNominal(v r3.Vector, nominal float64) r3.Vector {
	if v.X == 0 {
		v.X = nominal
	}
	if v.Y == 0 {
		v.Y = nominal
	}
	if v.Z == 0 {
		v.Z = nominal
	}
	return v
}

// SampleInterval is the bus polling period for the configured rate.
func (c Config) SampleInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.SampleRateHz)
}

// filterRate is the input rate of the filter chain: one filter step per
// publish, or per sample when the publish rate is not known.
func (c Config) filterRate() float64 {
	if c.PublishRateHz > 0 {
		return c.PublishRateHz
	}
	return c.SampleRateHz
}

// IsNotFound reports whether err means "no such device here, try the next
// candidate".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
