// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// Axis indexes into the per-channel arrays of a RawSample.
const (
	X = 0
	Y = 1
	Z = 2
)

// RawSample represents a single decoded accel+gyro frame, in sensor LSB units,
// exactly as read off the bus. It lives for one sampling cycle only.
type RawSample struct {
	Accel [3]int16 `json:"accel"`
	Gyro  [3]int16 `json:"gyro"`
	Temp  int16    `json:"temp"`

	// FSync is the external frame-sync bit (LSB of accel Z on chips that embed it).
	FSync bool `json:"fsync"`
}

// Clipped reports whether any accel axis sits at or beyond limit counts.
func (s RawSample) Clipped(limit int16) bool {
	for _, v := range s.Accel {
		if v >= limit || v <= -limit {
			return true
		}
	}
	return false
}

// Within reports whether every accel axis is within accelLimit and every gyro
// axis within gyroLimit counts. A zero limit disables that channel's check.
func (s RawSample) Within(accelLimit, gyroLimit int) bool {
	if accelLimit > 0 {
		for _, v := range s.Accel {
			if abs(int(v)) > accelLimit {
				return false
			}
		}
	}
	if gyroLimit > 0 {
		for _, v := range s.Gyro {
			if abs(int(v)) > gyroLimit {
				return false
			}
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
