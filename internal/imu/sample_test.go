package imu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawSample_Within(t *testing.T) {
	t.Parallel()

	s := RawSample{Accel: [3]int16{100, -200, 4096}, Gyro: [3]int16{-30000, 5, 0}}

	assert.True(t, s.Within(0, 0), "zero limits disable the check")
	assert.True(t, s.Within(4096, 30000))
	assert.False(t, s.Within(4095, 0), "accel Z over limit")
	assert.False(t, s.Within(0, 29999), "gyro X under negative limit")
}

func TestRawSample_Clipped(t *testing.T) {
	t.Parallel()

	assert.False(t, RawSample{Accel: [3]int16{32000, 0, 0}}.Clipped(32767))
	assert.True(t, RawSample{Accel: [3]int16{0, 32767, 0}}.Clipped(32767))
	assert.True(t, RawSample{Accel: [3]int16{0, 0, -32768}}.Clipped(32767))
}
