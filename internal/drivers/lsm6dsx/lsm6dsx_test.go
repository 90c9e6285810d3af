package lsm6dsx

import (
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/inertial_backend/internal/backend"
	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/bus/bustest"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
)

func TestMain(m *testing.M) {
	resetDelay = 0
	os.Exit(m.Run())
}

func TestProbe_Identity(t *testing.T) {
	t.Parallel()

	fe := frontend.New(1)
	slot, _ := fe.Claim(0)

	mpu := bustest.New()
	mpu.SetRegister(0x75, 0x71)
	h := bus.NewHandle(mpu)
	_, err := Probe(h, slot, backend.Config{})
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.False(t, h.Empty())

	dev := bustest.New()
	dev.SetRegister(regWhoAmI, 0x6C)
	_, err = Probe(bus.NewHandle(dev), slot, backend.Config{ExtSync: true})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, backend.ErrNotFound)

	h = bus.NewHandle(dev)
	b, err := Probe(h, slot, backend.Config{SampleRateHz: 400})
	require.NoError(t, err)
	assert.True(t, h.Empty())
	assert.Equal(t, "lsm6dso", b.(*Backend).Chip())
	assert.Equal(t, []bustest.Write{
		{Reg: regCtrl3C, Value: ctrl3Reset},
		{Reg: regCtrl3C, Value: ctrl3BDUInc},
		{Reg: regCtrl1XL, Value: 0x6<<4 | accelFS8g},
		{Reg: regCtrl2G, Value: 0x6<<4 | gyroFS2000},
	}, dev.Writes())
}

func TestODRCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(0x1), odrCode(1))
	assert.Equal(t, byte(0x4), odrCode(104))
	assert.Equal(t, byte(0x8), odrCode(1000))
	assert.Equal(t, byte(0xA), odrCode(10000))
}

func TestBackend_DecodesLittleEndian(t *testing.T) {
	t.Parallel()

	fe := frontend.New(1)
	slot, _ := fe.Claim(0)
	dev := bustest.New()
	dev.SetRegister(regWhoAmI, 0x6A)
	b, err := Probe(bus.NewHandle(dev), slot, backend.Config{SampleRateHz: 833, PublishRateHz: 100, Clock: clock.NewMock()})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	raw := make([]byte, frameSize)
	binary.LittleEndian.PutUint16(raw[0:], uint16(int16(512)))  // +2 °C
	binary.LittleEndian.PutUint16(raw[2:], uint16(int16(1000))) // gyro X
	accelZ := int16(-4098)
	binary.LittleEndian.PutUint16(raw[12:], uint16(accelZ)) // accel Z
	dev.QueueFrame(regOutTemp, raw)
	require.True(t, dev.Fire())
	require.True(t, b.Update())

	got, _ := fe.Latest(0)
	assert.InDelta(t, 27, got.TempC, 1e-9)
	assert.InDelta(t, 70*math.Pi/180, got.Gyro.X, 1e-9)
	assert.InDelta(t, -4098*0.244e-3*9.80665, got.Accel.Z, 1e-9)
	assert.Zero(t, got.Accel.X)
}
