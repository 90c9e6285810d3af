package invensense

import (
	"encoding/binary"
	"math"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
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

func claim(t *testing.T) (*frontend.Frontend, *frontend.Slot) {
	t.Helper()
	fe := frontend.New(1)
	slot, err := fe.Claim(0)
	require.NoError(t, err)
	return fe, slot
}

func TestProbe_EmptyHandle(t *testing.T) {
	t.Parallel()

	_, slot := claim(t)
	_, err := Probe(bus.NewHandle(nil), slot, backend.Config{})
	assert.ErrorIs(t, err, backend.ErrNotFound)
	_, err = Probe(nil, slot, backend.Config{})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestProbe_WrongIdentityLeavesDevice(t *testing.T) {
	t.Parallel()

	_, slot := claim(t)
	dev := bustest.New()
	dev.SetRegister(regWhoAmI, 0x6A)
	h := bus.NewHandle(dev)

	_, err := Probe(h, slot, backend.Config{})
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.Same(t, dev, h.Peek(), "device stays with the caller")
	assert.Empty(t, dev.Writes(), "nothing written to a foreign chip")

	dev.QueueError(bus.ErrTimeout)
	_, err = Probe(h, slot, backend.Config{})
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.ErrorIs(t, err, bus.ErrTimeout)
	assert.False(t, h.Empty())
}

func TestProbe_ConfiguresAndTakesOwnership(t *testing.T) {
	t.Parallel()

	for id, chip := range chips {
		t.Run(chip, func(t *testing.T) {
			_, slot := claim(t)
			dev := bustest.New()
			dev.SetRegister(regWhoAmI, id)
			h := bus.NewHandle(dev)

			b, err := Probe(h, slot, backend.Config{SampleRateHz: 500, ExtSync: true})
			require.NoError(t, err)
			assert.True(t, h.Empty(), "backend owns the device")
			assert.Equal(t, chip, b.(*Backend).Chip())
			assert.Equal(t, "imu0 "+chip, b.Name())
			assert.Equal(t, backend.Probed, b.State())

			assert.Equal(t, []bustest.Write{
				{Reg: regPwrMgmt1, Value: pwrReset},
				{Reg: regPwrMgmt1, Value: pwrClkPLL},
				{Reg: regConfig, Value: dlpf184Hz | extSyncAccZ},
				{Reg: regSmplrtDiv, Value: 1},
				{Reg: regGyroConfig, Value: gyroFS2000},
				{Reg: regAccelConfig, Value: accelFS8g},
			}, dev.Writes())
		})
	}
}

func TestSampleDivider(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(0), sampleDivider(1000))
	assert.Equal(t, byte(0), sampleDivider(8000))
	assert.Equal(t, byte(1), sampleDivider(500))
	assert.Equal(t, byte(9), sampleDivider(100))
	assert.Equal(t, byte(255), sampleDivider(1))
}

func frame(accel [3]int16, temp int16, gyro [3]int16) []byte {
	b := make([]byte, frameSize)
	for i := 0; i < 3; i++ {
		binary.BigEndian.PutUint16(b[2*i:], uint16(accel[i]))
		binary.BigEndian.PutUint16(b[8+2*i:], uint16(gyro[i]))
	}
	binary.BigEndian.PutUint16(b[6:], uint16(temp))
	return b
}

func TestDecode_LayoutAndFrameSync(t *testing.T) {
	t.Parallel()

	raw := frame([3]int16{-1, 2, 4097}, -334, [3]int16{16, -32768, 7})

	s, err := decoder{}.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, [3]int16{-1, 2, 4097}, s.Accel)
	assert.Equal(t, [3]int16{16, -32768, 7}, s.Gyro)
	assert.Equal(t, int16(-334), s.Temp)
	assert.False(t, s.FSync)

	s, err = decoder{extSync: true}.Decode(raw)
	require.NoError(t, err)
	assert.True(t, s.FSync)
	assert.Equal(t, int16(4096), s.Accel[2], "sync bit is cleared from the sample")

	_, err = decoder{}.Decode(raw[:10])
	assert.Error(t, err)
}

func TestBackend_PublishesSIUnits(t *testing.T) {
	t.Parallel()

	fe, slot := claim(t)
	dev := bustest.New()
	dev.SetRegister(regWhoAmI, 0x71)
	b, err := Probe(bus.NewHandle(dev), slot, backend.Config{
		SampleRateHz:  1000,
		PublishRateHz: 250,
		ExtSync:       true,
		Clock:         clock.NewMock(),
	})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	dev.QueueFrame(regAccelXoutH, frame([3]int16{0, 0, 4096 | 1}, 0, [3]int16{164, 0, 0}))
	dev.QueueFrame(regAccelXoutH, frame([3]int16{0, 0, 4096}, 0, [3]int16{164, 0, 0}))
	require.True(t, dev.Fire())
	require.True(t, dev.Fire())
	require.True(t, b.Update())

	got, ok := fe.Latest(0)
	require.True(t, ok)
	assert.InDelta(t, 9.80665, got.Accel.Z, 1e-9)
	assert.InDelta(t, 10*math.Pi/180, got.Gyro.X, 1e-9)
	assert.InDelta(t, 21, got.TempC, 1e-9)
	assert.True(t, got.FSync)
	assert.Equal(t, 2, got.Count)

	require.NoError(t, b.Stop())
	assert.True(t, dev.Closed())
}

func TestBackend_SimulatedDevice(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	fe, slot := claim(t)
	b, err := Probe(bus.NewHandle(bus.NewSimulated(bus.NewScheduler(mock))), slot, backend.Config{
		SampleRateHz:  100,
		PublishRateHz: 10,
		Clock:         mock,
	})
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer b.Stop()

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Millisecond)
		return b.Update()
	}, time.Second, time.Millisecond)

	got, _ := fe.Latest(0)
	assert.InDelta(t, 9.80665, got.Accel.Norm(), 0.05)
	assert.True(t, got.Healthy)
	assert.NotEqual(t, r3.Vector{}, got.Gyro)
}
