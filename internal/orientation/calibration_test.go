package orientation

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestCalibration_Identity(t *testing.T) {
	t.Parallel()

	v := r3.Vector{X: 100, Y: -3, Z: 7}
	c := Identity()
	assert.NoError(t, c.Validate())
	assert.Equal(t, v, c.Accel(v))
	assert.Equal(t, v, c.Gyro(v))
}

func TestCalibration_ScaleThenOffset(t *testing.T) {
	t.Parallel()

	c := Calibration{
		AccelScale:  r3.Vector{X: 2, Y: 0.5, Z: -1},
		AccelOffset: r3.Vector{X: 1, Y: 0, Z: 10},
		GyroScale:   r3.Vector{X: 1, Y: 1, Z: 1},
		GyroOffset:  r3.Vector{X: -0.5, Y: 0.25, Z: 0},
	}
	assert.Equal(t, r3.Vector{X: 21, Y: 5, Z: 5}, c.Accel(r3.Vector{X: 10, Y: 10, Z: 5}))
	assert.Equal(t, r3.Vector{X: 0.5, Y: 1.25, Z: 3}, c.Gyro(r3.Vector{X: 1, Y: 1, Z: 3}))
}

func TestCalibration_OrderMatters(t *testing.T) {
	t.Parallel()

	c := Identity()
	c.AccelOffset = r3.Vector{X: 0.3, Y: 0.2, Z: 0}
	raw := r3.Vector{X: 1, Y: 2, Z: 3}

	for _, r := range []Rotation{RotationYaw90, RotationRoll90, RotationPitch270} {
		calibratedFirst := c.AccelBody(raw, r)
		rotatedFirst := c.Accel(r.Apply(raw))
		assert.NotEqual(t, rotatedFirst, calibratedFirst, r.String())
		assert.Equal(t, r.Apply(c.Accel(raw)), calibratedFirst, r.String())
	}

	// yaw 90: the sensor X offset lands on body Y.
	assert.Equal(t, r3.Vector{X: -2.2, Y: 1.3, Z: 3}, c.AccelBody(raw, RotationYaw90))
}

func TestCalibration_Validate(t *testing.T) {
	t.Parallel()

	c := Identity()
	c.GyroScale.Y = 0
	assert.Error(t, c.Validate())

	c = Identity()
	c.AccelScale.Z = 0
	assert.Error(t, c.Validate())
}

func TestPoseFromAccel(t *testing.T) {
	t.Parallel()

	level := PoseFromAccel(r3.Vector{Z: 9.80665})
	assert.InDelta(t, 0, level.Roll, 1e-9)
	assert.InDelta(t, 0, level.Pitch, 1e-9)

	rolled := PoseFromAccel(r3.Vector{Y: 1, Z: 1})
	assert.InDelta(t, 45, rolled.Roll, 1e-9)

	nose := PoseFromAccel(r3.Vector{X: -1, Z: 0})
	assert.InDelta(t, 90, nose.Pitch, 1e-9)
}
