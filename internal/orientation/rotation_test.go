package orientation

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	unitX = r3.Vector{X: 1}
	unitY = r3.Vector{Y: 1}
	unitZ = r3.Vector{Z: 1}
)

func TestRotation_UnitVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rot     Rotation
		x, y, z r3.Vector // images of unitX, unitY, unitZ
	}{
		{RotationNone, unitX, unitY, unitZ},
		{RotationYaw90, unitY, unitX.Mul(-1), unitZ},
		{RotationYaw180, unitX.Mul(-1), unitY.Mul(-1), unitZ},
		{RotationYaw270, unitY.Mul(-1), unitX, unitZ},
		{RotationRoll180, unitX, unitY.Mul(-1), unitZ.Mul(-1)},
		{RotationRoll180Yaw90, unitY, unitX, unitZ.Mul(-1)},
		{RotationPitch180, unitX.Mul(-1), unitY, unitZ.Mul(-1)},
		{RotationRoll180Yaw270, unitY.Mul(-1), unitX.Mul(-1), unitZ.Mul(-1)},
		{RotationRoll90, unitX, unitZ, unitY.Mul(-1)},
		{RotationRoll90Yaw90, unitY, unitZ, unitX},
		{RotationRoll270, unitX, unitZ.Mul(-1), unitY},
		{RotationRoll270Yaw90, unitY, unitZ.Mul(-1), unitX.Mul(-1)},
		{RotationPitch90, unitZ.Mul(-1), unitY, unitX},
		{RotationPitch270, unitZ, unitY, unitX.Mul(-1)},
		{RotationMirrorX, unitX.Mul(-1), unitY, unitZ},
		{RotationMirrorY, unitX, unitY.Mul(-1), unitZ},
		{RotationMirrorZ, unitX, unitY, unitZ.Mul(-1)},
	}
	require.Len(t, tests, len(Rotations()), "every rotation needs a case")

	for _, tt := range tests {
		t.Run(tt.rot.String(), func(t *testing.T) {
			assert.Equal(t, tt.x, tt.rot.Apply(unitX), "x axis")
			assert.Equal(t, tt.y, tt.rot.Apply(unitY), "y axis")
			assert.Equal(t, tt.z, tt.rot.Apply(unitZ), "z axis")
		})
	}
}

func TestRotation_InvertRoundTrip(t *testing.T) {
	t.Parallel()

	v := r3.Vector{X: 0.25, Y: -9.80665, Z: 3.5}
	approx := cmpopts.EquateApprox(0, 1e-12)

	for _, r := range Rotations() {
		got := r.Invert(r.Apply(v))
		if diff := cmp.Diff(v, got, approx); diff != "" {
			t.Errorf("%s: round trip mismatch (-want +got):\n%s", r, diff)
		}
		got = r.Apply(r.Invert(v))
		if diff := cmp.Diff(v, got, approx); diff != "" {
			t.Errorf("%s: reverse round trip mismatch (-want +got):\n%s", r, diff)
		}
	}
}

func TestRotation_PreservesLength(t *testing.T) {
	t.Parallel()

	v := r3.Vector{X: 1, Y: 2, Z: 3}
	for _, r := range Rotations() {
		assert.InDelta(t, v.Norm(), r.Apply(v).Norm(), 1e-12, r.String())
	}
}

func TestParseRotation(t *testing.T) {
	t.Parallel()

	for _, r := range Rotations() {
		got, err := ParseRotation(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	got, err := ParseRotation("  Roll_180 ")
	require.NoError(t, err)
	assert.Equal(t, RotationRoll180, got)

	_, err = ParseRotation("yaw_45")
	assert.Error(t, err)

	assert.False(t, Rotation(-1).Valid())
	assert.False(t, Rotation(len(rotations)).Valid())
	assert.Equal(t, "rotation(99)", Rotation(99).String())
}
