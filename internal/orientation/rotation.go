// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r3"
)

// Rotation is a fixed sensor-to-body mounting rotation. All supported values
// are 90°-class rotations or axis reflections, so they reduce to a signed
// permutation of the axes and need no matrix at runtime.
type Rotation int

const (
	RotationNone Rotation = iota
	RotationYaw90
	RotationYaw180
	RotationYaw270
	RotationRoll180
	RotationRoll180Yaw90
	RotationPitch180
	RotationRoll180Yaw270
	RotationRoll90
	RotationRoll90Yaw90
	RotationRoll270
	RotationRoll270Yaw90
	RotationPitch90
	RotationPitch270
	RotationMirrorX
	RotationMirrorY
	RotationMirrorZ
)

// permutation describes out[i] = sign[i] * in[axis[i]].
type permutation struct {
	name string
	axis [3]int
	sign [3]float64
}

var rotations = [...]permutation{
	RotationNone:          {"none", [3]int{0, 1, 2}, [3]float64{1, 1, 1}},
	RotationYaw90:         {"yaw_90", [3]int{1, 0, 2}, [3]float64{-1, 1, 1}},
	RotationYaw180:        {"yaw_180", [3]int{0, 1, 2}, [3]float64{-1, -1, 1}},
	RotationYaw270:        {"yaw_270", [3]int{1, 0, 2}, [3]float64{1, -1, 1}},
	RotationRoll180:       {"roll_180", [3]int{0, 1, 2}, [3]float64{1, -1, -1}},
	RotationRoll180Yaw90:  {"roll_180_yaw_90", [3]int{1, 0, 2}, [3]float64{1, 1, -1}},
	RotationPitch180:      {"pitch_180", [3]int{0, 1, 2}, [3]float64{-1, 1, -1}},
	RotationRoll180Yaw270: {"roll_180_yaw_270", [3]int{1, 0, 2}, [3]float64{-1, -1, -1}},
	RotationRoll90:        {"roll_90", [3]int{0, 2, 1}, [3]float64{1, -1, 1}},
	RotationRoll90Yaw90:   {"roll_90_yaw_90", [3]int{2, 0, 1}, [3]float64{1, 1, 1}},
	RotationRoll270:       {"roll_270", [3]int{0, 2, 1}, [3]float64{1, 1, -1}},
	RotationRoll270Yaw90:  {"roll_270_yaw_90", [3]int{2, 0, 1}, [3]float64{-1, 1, -1}},
	RotationPitch90:       {"pitch_90", [3]int{2, 1, 0}, [3]float64{1, 1, -1}},
	RotationPitch270:      {"pitch_270", [3]int{2, 1, 0}, [3]float64{-1, 1, 1}},
	RotationMirrorX:       {"mirror_x", [3]int{0, 1, 2}, [3]float64{-1, 1, 1}},
	RotationMirrorY:       {"mirror_y", [3]int{0, 1, 2}, [3]float64{1, -1, 1}},
	RotationMirrorZ:       {"mirror_z", [3]int{0, 1, 2}, [3]float64{1, 1, -1}},
}

// Rotations returns every supported rotation, in declaration order.
func Rotations() []Rotation {
	out := make([]Rotation, len(rotations))
	for i := range rotations {
		out[i] = Rotation(i)
	}
	return out
}

// Valid reports whether r is one of the supported rotations.
func (r Rotation) Valid() bool {
	return r >= 0 && int(r) < len(rotations)
}

func (r Rotation) String() string {
	if !r.Valid() {
		return fmt.Sprintf("rotation(%d)", int(r))
	}
	return rotations[r].name
}

// ParseRotation maps a name such as "yaw_90" or "Roll_180" to a Rotation.
func ParseRotation(name string) (Rotation, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, p := range rotations {
		if p.name == name {
			return Rotation(i), nil
		}
	}
	return RotationNone, fmt.Errorf("unknown rotation %q", name)
}

// Apply rotates v from the sensor frame into the body frame.
func (r Rotation) Apply(v r3.Vector) r3.Vector {
	p := rotations[r]
	in := [3]float64{v.X, v.Y, v.Z}
	return r3.Vector{
		X: p.sign[0] * in[p.axis[0]],
		Y: p.sign[1] * in[p.axis[1]],
		Z: p.sign[2] * in[p.axis[2]],
	}
}

// Invert rotates v from the body frame back into the sensor frame, so that
// r.Invert(r.Apply(v)) == v.
func (r Rotation) Invert(v r3.Vector) r3.Vector {
	p := rotations[r]
	in := [3]float64{v.X, v.Y, v.Z}
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[p.axis[i]] = p.sign[i] * in[i]
	}
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}
