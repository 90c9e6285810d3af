package backend

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/inertial_backend/internal/accumulator"
	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/bus/bustest"
	"github.com/relabs-tech/inertial_backend/internal/filter"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
	"github.com/relabs-tech/inertial_backend/internal/imu"
	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

const testDataReg = 0x3B

// testDecoder reads accel, gyro and temp as big-endian int16s.
type testDecoder struct{}

func (testDecoder) Register() byte { return testDataReg }
func (testDecoder) Size() int      { return 14 }

func (testDecoder) Decode(b []byte) (imu.RawSample, error) {
	var s imu.RawSample
	for i := 0; i < 3; i++ {
		s.Accel[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
		s.Gyro[i] = int16(binary.BigEndian.Uint16(b[6+2*i:]))
	}
	s.Temp = int16(binary.BigEndian.Uint16(b[12:]))
	return s, nil
}

func frame(accel, gyro [3]int16, temp int16) []byte {
	b := make([]byte, 14)
	for i := 0; i < 3; i++ {
		binary.BigEndian.PutUint16(b[2*i:], uint16(accel[i]))
		binary.BigEndian.PutUint16(b[6+2*i:], uint16(gyro[i]))
	}
	binary.BigEndian.PutUint16(b[12:], uint16(temp))
	return b
}

var unitSensitivity = Sensitivity{Accel: 1, Gyro: 1, TempScale: 1}

// passThroughConfig publishes below twice the accel cutoff, so the
// two-pole filter is a pass-through and outputs are exact.
func passThroughConfig(mock *clock.Mock) Config {
	return Config{
		Scale:         r3.Vector{X: 1, Y: 1, Z: 1},
		GyroScale:     r3.Vector{X: 1, Y: 1, Z: 1},
		AccelFilter:   filter.TwoPole,
		AccelCutoffHz: 1000,
		GyroFilter:    filter.SinglePole,
		SampleRateHz:  1000,
		PublishRateHz: 333,
		Policy:        accumulator.Sum,
		Clock:         mock,
	}
}

func newTestCore(t *testing.T, cfg Config) (*Core, *bustest.Fake, *frontend.Frontend) {
	t.Helper()
	fe := frontend.New(1)
	slot, err := fe.Claim(0)
	require.NoError(t, err)
	dev := bustest.New()
	c, err := NewCore("test", dev, testDecoder{}, slot, cfg, unitSensitivity)
	require.NoError(t, err)
	return c, dev, fe
}

func TestUpdate_EndToEnd(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	c, dev, fe := newTestCore(t, passThroughConfig(mock))
	assert.Equal(t, "imu0 test", c.Name())
	assert.Equal(t, Probed, c.State())
	assert.False(t, c.Update(), "not sampling yet")

	require.NoError(t, c.Start())
	assert.Equal(t, Sampling, c.State())
	assert.Equal(t, time.Millisecond, dev.Interval())

	for i := 0; i < 3; i++ {
		dev.QueueFrame(testDataReg, frame([3]int16{100, 0, 0}, [3]int16{0, 0, 0}, 0))
		require.True(t, dev.Fire())
	}

	require.True(t, c.Update())
	got, ok := fe.Latest(0)
	require.True(t, ok)
	assert.Equal(t, r3.Vector{X: 100}, got.Accel)
	assert.Equal(t, r3.Vector{}, got.Gyro)
	assert.Equal(t, 3, got.Count)
	assert.True(t, got.Healthy)
	assert.Equal(t, mock.Now(), got.Time)
	assert.Equal(t, uint64(1), c.Stats().Published)
}

func TestUpdate_SkipKeepsPreviousValue(t *testing.T) {
	t.Parallel()

	c, dev, fe := newTestCore(t, passThroughConfig(clock.NewMock()))
	require.NoError(t, c.Start())
	dev.QueueFrame(testDataReg, frame([3]int16{7, 8, 9}, [3]int16{1, 2, 3}, 0))
	dev.Fire()
	require.True(t, c.Update())
	before, _ := fe.Latest(0)

	assert.False(t, c.Update())
	after, ok := fe.Latest(0)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(1), c.Stats().SkippedPublishes)
}

func TestSample_FailureEscalation(t *testing.T) {
	t.Parallel()

	const k = 3
	cfg := passThroughConfig(clock.NewMock())
	cfg.FailureThreshold = k
	c, dev, fe := newTestCore(t, cfg)
	require.NoError(t, c.Start())
	good := frame([3]int16{1, 0, 0}, [3]int16{}, 0)

	for i := 0; i < k-1; i++ {
		dev.QueueError(bus.ErrTimeout)
		dev.Fire()
	}
	assert.Equal(t, Healthy, c.Health(), "k-1 failures stay healthy")
	assert.Equal(t, k-1, c.Stats().ConsecutiveFailures)

	dev.QueueFrame(testDataReg, good)
	dev.Fire()
	assert.Zero(t, c.Stats().ConsecutiveFailures, "a success resets the counter")
	require.True(t, c.Update())

	// Mixed failure kinds count toward the same threshold.
	dev.QueueError(errors.New("nack"))
	dev.QueueFrame(testDataReg, make([]byte, 14))
	dev.Fire()
	dev.Fire()
	assert.Equal(t, Healthy, c.Health())
	dev.QueueFrame(testDataReg, bytesOf(0xFF, 14))
	dev.Fire()
	assert.Equal(t, Degraded, c.Health(), "k consecutive failures degrade")

	st := c.Stats()
	assert.Equal(t, uint64(k), st.TransactionFailures)
	assert.Equal(t, uint64(2), st.CorruptSamples)

	assert.False(t, c.Update())
	latest, ok := fe.Latest(0)
	require.True(t, ok)
	assert.False(t, latest.Healthy)
	assert.Equal(t, r3.Vector{X: 1}, latest.Accel, "degraded keeps the last values")

	dev.QueueFrame(testDataReg, good)
	dev.Fire()
	assert.Equal(t, Healthy, c.Health(), "one success recovers")
	require.True(t, c.Update())
	latest, _ = fe.Latest(0)
	assert.True(t, latest.Healthy)
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestSample_LimitsAndClipping(t *testing.T) {
	t.Parallel()

	cfg := passThroughConfig(clock.NewMock())
	cfg.GyroLimit = 1000
	fe := frontend.New(1)
	slot, _ := fe.Claim(0)
	dev := bustest.New()
	sens := unitSensitivity
	sens.ClipLimit = math.MaxInt16
	c, err := NewCore("test", dev, testDecoder{}, slot, cfg, sens)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	dev.QueueFrame(testDataReg, frame([3]int16{math.MaxInt16, 0, 0}, [3]int16{}, 0))
	dev.QueueFrame(testDataReg, frame([3]int16{1, 0, 0}, [3]int16{0, 1001, 0}, 0))
	dev.Fire()
	dev.Fire()

	st := c.Stats()
	assert.Equal(t, uint64(1), st.AccelClipped)
	assert.Equal(t, uint64(1), st.CorruptSamples)
	require.True(t, c.Update())
	got, _ := fe.Latest(0)
	assert.Equal(t, 1, got.Count, "out of range frame is dropped")
}

func TestSample_OverflowCounted(t *testing.T) {
	t.Parallel()

	cfg := passThroughConfig(clock.NewMock())
	cfg.PublishRateHz = 0
	c, dev, _ := newTestCore(t, cfg)
	require.NoError(t, c.Start())
	dev.SetRegister(testDataReg, 1)

	for i := 0; i < 9; i++ {
		dev.Fire()
	}
	assert.Equal(t, uint64(1), c.Stats().Overflows)
	assert.Equal(t, Healthy, c.Health(), "overflow is not a bus failure")
}

func TestSetPublishRate_ReparameterisesFilters(t *testing.T) {
	t.Parallel()

	cfg := passThroughConfig(clock.NewMock())
	cfg.AccelCutoffHz = 10
	cfg.PublishRateHz = 100
	c, dev, fe := newTestCore(t, cfg)
	require.NoError(t, c.Start())
	assert.Equal(t, 100.0, c.FilterRate())

	assert.Error(t, c.SetPublishRate(0))
	assert.Error(t, c.SetPublishRate(math.NaN()))
	require.NoError(t, c.SetPublishRate(400))
	assert.Equal(t, 100.0, c.FilterRate(), "applied by the consumer on its next update")

	publish := func(x int16) float64 {
		dev.QueueFrame(testDataReg, frame([3]int16{x, 0, 0}, [3]int16{}, 0))
		dev.Fire()
		require.True(t, c.Update())
		s, _ := fe.Latest(0)
		return s.Accel.X
	}
	assert.InDelta(t, 0, publish(0), 1e-12)
	assert.Equal(t, 400.0, c.FilterRate())
	step := publish(100)

	// The same step through a fresh 100 Hz chain moves further per sample.
	ref := filter.NewLowPass2p(100, 10)
	ref.Apply(0)
	assert.Greater(t, ref.Apply(100), step)
	assert.Greater(t, step, 0.0)
}

func TestSetCalibration_SwapsWholeValue(t *testing.T) {
	t.Parallel()

	cfg := passThroughConfig(clock.NewMock())
	cfg.Rotation = orientation.RotationYaw90
	c, dev, fe := newTestCore(t, cfg)
	require.NoError(t, c.Start())

	assert.Error(t, c.SetCalibration(orientation.Calibration{}))
	cal := orientation.Identity()
	cal.AccelScale = r3.Vector{X: 2, Y: 2, Z: 2}
	cal.AccelOffset = r3.Vector{X: 1}
	require.NoError(t, c.SetCalibration(cal))
	assert.Equal(t, cal, c.Calibration())

	dev.QueueFrame(testDataReg, frame([3]int16{10, 0, 0}, [3]int16{}, 0))
	dev.Fire()
	require.True(t, c.Update())
	got, _ := fe.Latest(0)
	// (10*2+1, 0, 0) in the sensor frame, then yaw 90.
	assert.Equal(t, r3.Vector{Y: 21}, got.Accel)
}

func TestConfig_NominalScale(t *testing.T) {
	t.Parallel()

	fe := frontend.New(1)
	slot, _ := fe.Claim(0)
	c, err := NewCore("test", bustest.New(), testDecoder{}, slot, Config{
		Scale:  r3.Vector{Y: 3},
		Offset: r3.Vector{Z: -0.5},
		Clock:  clock.NewMock(),
	}, Sensitivity{Accel: 0.01, Gyro: 0.001})
	require.NoError(t, err)

	cal := c.Calibration()
	assert.Equal(t, r3.Vector{X: 0.01, Y: 3, Z: 0.01}, cal.AccelScale)
	assert.Equal(t, r3.Vector{Z: -0.5}, cal.AccelOffset)
	assert.Equal(t, r3.Vector{X: 0.001, Y: 0.001, Z: 0.001}, cal.GyroScale)
	assert.Equal(t, float64(DefaultSampleRateHz), c.Config().SampleRateHz)
	assert.Equal(t, DefaultFailureThreshold, c.Config().FailureThreshold)
}

func TestNewCore_RejectsBadInput(t *testing.T) {
	t.Parallel()

	fe := frontend.New(1)
	slot, _ := fe.Claim(0)
	_, err := NewCore("test", nil, testDecoder{}, slot, Config{}, unitSensitivity)
	assert.Error(t, err)
	_, err = NewCore("test", bustest.New(), testDecoder{}, nil, Config{}, unitSensitivity)
	assert.Error(t, err)
	_, err = NewCore("test", bustest.New(), testDecoder{}, slot, Config{Rotation: orientation.Rotation(99)}, unitSensitivity)
	assert.Error(t, err)
	_, err = NewCore("test", bustest.New(), testDecoder{}, slot, Config{PublishRateHz: -1}, unitSensitivity)
	assert.Error(t, err)
}

func TestStop_TeardownOrder(t *testing.T) {
	t.Parallel()

	c, dev, fe := newTestCore(t, passThroughConfig(clock.NewMock()))
	require.NoError(t, c.Start())
	require.NoError(t, c.Start(), "start is idempotent while sampling")
	dev.QueueFrame(testDataReg, frame([3]int16{1, 0, 0}, [3]int16{}, 0))
	dev.Fire()
	require.True(t, c.Update())

	require.NoError(t, c.Stop())
	assert.Equal(t, []string{"register", "stop", "close"}, dev.Events())
	assert.Equal(t, Stopped, c.State())
	assert.False(t, dev.Fire(), "no callback after stop")
	assert.False(t, c.Update())

	got, _ := fe.Latest(0)
	assert.False(t, got.Healthy)

	require.NoError(t, c.Stop())
	assert.ErrorIs(t, c.Start(), ErrStopped)
	assert.Equal(t, []string{"register", "stop", "close"}, dev.Events())
}

func TestStop_WithoutStartClosesDevice(t *testing.T) {
	t.Parallel()

	c, dev, fe := newTestCore(t, passThroughConfig(clock.NewMock()))
	require.NoError(t, c.Stop())
	assert.Equal(t, []string{"close"}, dev.Events())
	assert.True(t, dev.Closed())
	_, ok := fe.Latest(0)
	assert.False(t, ok, "stopping never publishes zero values")
}

func TestFused_ExcludesDegradedBackend(t *testing.T) {
	t.Parallel()

	fe := frontend.New(2)
	cfg := passThroughConfig(clock.NewMock())
	cfg.FailureThreshold = 1
	var (
		cores []*Core
		devs  []*bustest.Fake
	)
	for i := 0; i < 2; i++ {
		slot, err := fe.Claim(i)
		require.NoError(t, err)
		dev := bustest.New()
		c, err := NewCore("test", dev, testDecoder{}, slot, cfg, unitSensitivity)
		require.NoError(t, err)
		require.NoError(t, c.Start())
		dev.QueueFrame(testDataReg, frame([3]int16{int16(10 * (i + 1)), 0, 0}, [3]int16{}, 0))
		dev.Fire()
		require.True(t, c.Update())
		cores = append(cores, c)
		devs = append(devs, dev)
	}
	fused, ok := fe.Fused()
	require.True(t, ok)
	assert.Equal(t, r3.Vector{X: 15}, fused.Accel)

	devs[1].QueueError(bus.ErrTimeout)
	devs[1].Fire()
	require.Equal(t, Degraded, cores[1].Health())
	assert.False(t, cores[1].Update())

	fused, ok = fe.Fused()
	require.True(t, ok)
	assert.Equal(t, r3.Vector{X: 10}, fused.Accel)
}
