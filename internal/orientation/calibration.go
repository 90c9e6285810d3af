// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Calibration holds per-axis scale and offset for both channels, expressed
// in the sensor frame. Values are never mutated in place; a new Calibration
// replaces the old one as a whole.
type Calibration struct {
	AccelScale  r3.Vector `json:"accel_scale"`
	AccelOffset r3.Vector `json:"accel_offset"`
	GyroScale   r3.Vector `json:"gyro_scale"`
	GyroOffset  r3.Vector `json:"gyro_offset"`
}

// Identity returns a calibration that leaves samples untouched.
func Identity() Calibration {
	one := r3.Vector{X: 1, Y: 1, Z: 1}
	return Calibration{AccelScale: one, GyroScale: one}
}

// Validate rejects calibrations with a zero scale on any axis.
func (c Calibration) Validate() error {
	for name, s := range map[string]r3.Vector{"accel": c.AccelScale, "gyro": c.GyroScale} {
		if s.X == 0 || s.Y == 0 || s.Z == 0 {
			return fmt.Errorf("%s scale has a zero axis: %v", name, s)
		}
	}
	return nil
}

// Accel applies scale and offset to a mean accelerometer reading.
func (c Calibration) Accel(v r3.Vector) r3.Vector {
	return correct(v, c.AccelScale, c.AccelOffset)
}

// Gyro applies scale and offset to a mean gyroscope reading.
func (c Calibration) Gyro(v r3.Vector) r3.Vector {
	return correct(v, c.GyroScale, c.GyroOffset)
}

func correct(v, scale, offset r3.Vector) r3.Vector {
	return r3.Vector{
		X: v.X*scale.X + offset.X,
		Y: v.Y*scale.Y + offset.Y,
		Z: v.Z*scale.Z + offset.Z,
	}
}

// AccelBody runs the fixed correction order for the accelerometer: scale and
// offset in the sensor frame first, then rotation into the body frame.
func (c Calibration) AccelBody(v r3.Vector, r Rotation) r3.Vector {
	return r.Apply(c.Accel(v))
}

// GyroBody is AccelBody for the gyroscope channel.
func (c Calibration) GyroBody(v r3.Vector, r Rotation) r3.Vector {
	return r.Apply(c.Gyro(v))
}
