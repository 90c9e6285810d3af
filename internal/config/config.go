// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_backend/internal/accumulator"
	"github.com/relabs-tech/inertial_backend/internal/backend"
	"github.com/relabs-tech/inertial_backend/internal/filter"
	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

// Bus types an IMU instance can sit on.
const (
	BusSPI    = "spi"
	BusI2C    = "i2c"
	BusSerial = "serial"
	BusSim    = "sim"
)

// MaxIMUs bounds the IMU_<n>_ instance index.
const MaxIMUs = 8

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDBackend string
	MQTTClientIDConsole string

	// Topics. Per-instance samples go to TopicIMUPrefix/<n>.
	TopicIMUPrefix string
	TopicIMUFused  string
	TopicPoseFused string

	// Timing
	PublishRateHz      float64
	ConsoleLogInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Health and plausibility, shared by every instance
	IMUFailureThreshold int
	IMUAccelLimit       int // raw counts, 0 disables
	IMUGyroLimit        int // raw counts, 0 disables

	// UART register bridge
	SerialBaudRate int

	// IMUs indexed by instance number.
	IMUs []IMUConfig
}

// IMUConfig is one IMU_<n>_* block.
type IMUConfig struct {
	Driver string // "auto", "invensense", "lsm6dsx"
	Bus    string // spi, i2c, serial, sim
	Device string // SPI port, I2C bus, or serial port name
	Addr   uint16 // I2C address

	Rotation    orientation.Rotation
	AccelScale  r3.Vector
	AccelOffset r3.Vector
	GyroScale   r3.Vector
	GyroOffset  r3.Vector

	AccelFilter   filter.Kind
	AccelCutoffHz float64
	GyroFilter    filter.Kind
	GyroCutoffHz  float64

	SampleRateHz float64
	Accumulate   accumulator.Policy
	ExtSync      bool

	set                           bool
	accelFilterSet, gyroFilterSet bool
}

// Package-level singleton, written once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		MQTTClientIDBackend: "inertial-backend",
		MQTTClientIDConsole: "inertial-console",
		TopicIMUPrefix:      "inertial/imu",
		TopicIMUFused:       "inertial/imu/fused",
		TopicPoseFused:      "inertial/pose/fused",
		ConsoleLogInterval:  1000,
		WebServerPort:       8080,
		IMUFailureThreshold: backend.DefaultFailureThreshold,
		SerialBaudRate:      115200,
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_BACKEND":
		c.MQTTClientIDBackend = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_IMU_PREFIX":
		c.TopicIMUPrefix = strings.TrimSuffix(value, "/")
	case "TOPIC_IMU_FUSED":
		c.TopicIMUFused = value
	case "TOPIC_POSE_FUSED":
		c.TopicPoseFused = value

	// Timing
	case "PUBLISH_RATE_HZ":
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PUBLISH_RATE_HZ %q: %w", value, err)
		}
		if rate <= 0 {
			return fmt.Errorf("PUBLISH_RATE_HZ must be positive, got %v", rate)
		}
		c.PublishRateHz = rate
	case "CONSOLE_LOG_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CONSOLE_LOG_INTERVAL %q: %w", value, err)
		}
		c.ConsoleLogInterval = interval

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Health
	case "IMU_FAILURE_THRESHOLD":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_FAILURE_THRESHOLD %q: %w", value, err)
		}
		if n < 1 {
			return fmt.Errorf("IMU_FAILURE_THRESHOLD must be at least 1, got %d", n)
		}
		c.IMUFailureThreshold = n
	case "IMU_ACCEL_LIMIT":
		n, err := parseLimit(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_LIMIT %q: %w", value, err)
		}
		c.IMUAccelLimit = n
	case "IMU_GYRO_LIMIT":
		n, err := parseLimit(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_LIMIT %q: %w", value, err)
		}
		c.IMUGyroLimit = n

	// UART bridge
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate

	default:
		if n, field, ok := instanceKey(key); ok {
			return c.setIMUValue(n, field, value)
		}
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseLimit(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 32768 {
		return 0, fmt.Errorf("must be 0-32768")
	}
	return n, nil
}

// instanceKey splits IMU_<n>_<FIELD>.
func instanceKey(key string) (int, string, bool) {
	rest, ok := strings.CutPrefix(key, "IMU_")
	if !ok {
		return 0, "", false
	}
	idx, field, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, "", false
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return 0, "", false
	}
	return n, field, true
}

func (c *Config) setIMUValue(n int, field, value string) error {
	if n < 0 || n >= MaxIMUs {
		return fmt.Errorf("IMU instance %d out of range 0-%d", n, MaxIMUs-1)
	}
	for len(c.IMUs) <= n {
		c.IMUs = append(c.IMUs, IMUConfig{Driver: "auto", SampleRateHz: backend.DefaultSampleRateHz})
	}
	imu := &c.IMUs[n]
	imu.set = true
	key := fmt.Sprintf("IMU_%d_%s", n, field)

	var err error
	switch field {
	case "DRIVER":
		imu.Driver = strings.ToLower(value)
	case "BUS":
		imu.Bus = strings.ToLower(value)
	case "DEVICE":
		imu.Device = value
	case "ADDR":
		var addr uint64
		addr, err = strconv.ParseUint(value, 0, 16)
		imu.Addr = uint16(addr)
	case "ROTATION":
		imu.Rotation, err = orientation.ParseRotation(value)
	case "ACCEL_SCALE":
		imu.AccelScale, err = parseVector(value)
	case "ACCEL_OFFSET":
		imu.AccelOffset, err = parseVector(value)
	case "GYRO_SCALE":
		imu.GyroScale, err = parseVector(value)
	case "GYRO_OFFSET":
		imu.GyroOffset, err = parseVector(value)
	case "ACCEL_CUTOFF_HZ":
		imu.AccelCutoffHz, err = strconv.ParseFloat(value, 64)
	case "GYRO_CUTOFF_HZ":
		imu.GyroCutoffHz, err = strconv.ParseFloat(value, 64)
	case "ACCEL_FILTER":
		imu.AccelFilter, err = filter.ParseKind(value)
		imu.accelFilterSet = true
	case "GYRO_FILTER":
		imu.GyroFilter, err = filter.ParseKind(value)
		imu.gyroFilterSet = true
	case "SAMPLE_RATE_HZ":
		imu.SampleRateHz, err = strconv.ParseFloat(value, 64)
		if err == nil && imu.SampleRateHz <= 0 {
			err = fmt.Errorf("must be positive")
		}
	case "ACCUMULATE":
		imu.Accumulate, err = accumulator.ParsePolicy(value)
	case "EXT_SYNC":
		imu.ExtSync, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return nil
}

// parseVector reads "x,y,z". A single value applies to all three axes.
func parseVector(value string) (r3.Vector, error) {
	parts := strings.Split(value, ",")
	if len(parts) == 1 {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return r3.Vector{}, err
		}
		return r3.Vector{X: v, Y: v, Z: v}, nil
	}
	if len(parts) != 3 {
		return r3.Vector{}, fmt.Errorf("want x,y,z")
	}
	var xyz [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vector{}, err
		}
		xyz[i] = v
	}
	return r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.PublishRateHz == 0 {
		return fmt.Errorf("PUBLISH_RATE_HZ is required")
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be positive")
	}
	if len(c.IMUs) == 0 {
		return fmt.Errorf("at least one IMU_<n>_BUS is required")
	}
	for n := range c.IMUs {
		imu := &c.IMUs[n]
		if !imu.set {
			return fmt.Errorf("IMU_%d is missing; instances must be numbered from 0 without gaps", n)
		}
		switch imu.Bus {
		case BusSPI, BusI2C, BusSerial:
			if imu.Device == "" {
				return fmt.Errorf("IMU_%d_DEVICE is required for bus %q", n, imu.Bus)
			}
		case BusSim:
		case "":
			return fmt.Errorf("IMU_%d_BUS is required", n)
		default:
			return fmt.Errorf("IMU_%d_BUS must be spi, i2c, serial or sim, got %q", n, imu.Bus)
		}
		if imu.Bus == BusI2C && imu.Addr == 0 {
			return fmt.Errorf("IMU_%d_ADDR is required for bus i2c", n)
		}
		if imu.AccelCutoffHz < 0 || imu.GyroCutoffHz < 0 {
			return fmt.Errorf("IMU_%d cutoff frequencies must not be negative", n)
		}
		// A cutoff alone selects the two-pole filter.
		if imu.AccelCutoffHz > 0 && !imu.accelFilterSet {
			imu.AccelFilter = filter.TwoPole
		}
		if imu.GyroCutoffHz > 0 && !imu.gyroFilterSet {
			imu.GyroFilter = filter.TwoPole
		}
	}
	return nil
}

// IMUTopic returns the per-instance sample topic.
func (c *Config) IMUTopic(n int) string {
	return fmt.Sprintf("%s/%d", c.TopicIMUPrefix, n)
}

// Backend builds the backend configuration of instance n.
func (c *Config) Backend(n int) backend.Config {
	imu := c.IMUs[n]
	return backend.Config{
		Rotation:         imu.Rotation,
		Scale:            imu.AccelScale,
		Offset:           imu.AccelOffset,
		GyroScale:        imu.GyroScale,
		GyroOffset:       imu.GyroOffset,
		AccelFilter:      imu.AccelFilter,
		AccelCutoffHz:    imu.AccelCutoffHz,
		GyroFilter:       imu.GyroFilter,
		GyroCutoffHz:     imu.GyroCutoffHz,
		SampleRateHz:     imu.SampleRateHz,
		PublishRateHz:    c.PublishRateHz,
		Policy:           imu.Accumulate,
		FailureThreshold: c.IMUFailureThreshold,
		AccelLimit:       c.IMUAccelLimit,
		GyroLimit:        c.IMUGyroLimit,
		ExtSync:          imu.ExtSync,
	}
}

// InitGlobal initializes the global configuration from file. Only the first
// call loads anything.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
