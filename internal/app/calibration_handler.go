// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

const defaultBiasSamples = 100

// CalibrationHandler serves /ws/calibration: read, replace, or estimate
// the calibration of a running backend.
type CalibrationHandler struct {
	Rig  *Rig
	Poll time.Duration // how often new samples are looked for
}

// CalibrationRequest is one client message.
type CalibrationRequest struct {
	Action      string                   `json:"action"` // get, set, gyro_bias, cancel
	IMU         int                      `json:"imu"`
	Calibration *orientation.Calibration `json:"calibration,omitempty"`
	Samples     int                      `json:"samples,omitempty"`
}

// CalibrationResponse is one server message.
type CalibrationResponse struct {
	Type        string                   `json:"type"` // calibration, progress, complete, error
	IMU         int                      `json:"imu"`
	Calibration *orientation.Calibration `json:"calibration,omitempty"`
	Progress    float64                  `json:"progress,omitempty"`
	Stats       map[string]float64       `json:"stats,omitempty"`
	Message     string                   `json:"message,omitempty"`
}

// ServeHTTP handles the WebSocket connection for calibration.
func (h *CalibrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req CalibrationRequest
		if err := conn.ReadJSON(&req); err != nil {
			log.Printf("calibration: websocket read error: %v", err)
			return
		}
		if req.Action == "cancel" {
			log.Printf("calibration: cancelled by user")
			return
		}

		send := func(resp CalibrationResponse) error {
			resp.IMU = req.IMU
			return conn.WriteJSON(resp)
		}
		if err := h.handle(req, send); err != nil {
			if werr := send(CalibrationResponse{Type: "error", Message: err.Error()}); werr != nil {
				return
			}
		}
	}
}

func (h *CalibrationHandler) handle(req CalibrationRequest, send func(CalibrationResponse) error) error {
	b, bc, ok := h.Rig.Backend(req.IMU)
	if !ok {
		return fmt.Errorf("IMU %d not available", req.IMU)
	}

	switch req.Action {
	case "get":
		cal := b.Calibration()
		return send(CalibrationResponse{Type: "calibration", Calibration: &cal})

	case "set":
		if req.Calibration == nil {
			return fmt.Errorf("set: calibration missing")
		}
		if err := b.SetCalibration(*req.Calibration); err != nil {
			return err
		}
		log.Printf("calibration: %s updated from websocket", b.Name())
		return send(CalibrationResponse{Type: "complete", Calibration: req.Calibration})

	case "gyro_bias":
		n := req.Samples
		if n <= 0 {
			n = defaultBiasSamples
		}
		n = max(n, 2) // std-dev needs two
		gyro, err := h.collectGyro(req.IMU, n, send)
		if err != nil {
			return err
		}
		mean := r3.Vector{X: stat.Mean(gyro[0], nil), Y: stat.Mean(gyro[1], nil), Z: stat.Mean(gyro[2], nil)}

		// Samples are in the body frame; the offset lives in the sensor frame.
		cal := b.Calibration()
		cal.GyroOffset = cal.GyroOffset.Sub(bc.Rotation.Invert(mean))
		if err := b.SetCalibration(cal); err != nil {
			return err
		}
		log.Printf("calibration: %s gyro bias %.5f %.5f %.5f rad/s", b.Name(), mean.X, mean.Y, mean.Z)
		return send(CalibrationResponse{
			Type:        "complete",
			Calibration: &cal,
			Stats: map[string]float64{
				"bias_x":   mean.X,
				"bias_y":   mean.Y,
				"bias_z":   mean.Z,
				"stddev_x": stat.StdDev(gyro[0], nil),
				"stddev_y": stat.StdDev(gyro[1], nil),
				"stddev_z": stat.StdDev(gyro[2], nil),
				"samples":  float64(n),
			},
		})
	}
	return fmt.Errorf("unknown action %q", req.Action)
}

// collectGyro gathers n distinct published gyro readings of instance i.
func (h *CalibrationHandler) collectGyro(i, n int, send func(CalibrationResponse) error) ([3][]float64, error) {
	var out [3][]float64
	var lastSeq uint64
	stalls := 0
	poll := h.Poll
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for len(out[0]) < n {
		<-ticker.C
		s, ok := h.Rig.Frontend.Latest(i)
		if !ok || s.Seq == lastSeq {
			stalls++
			if stalls > 10*n {
				return out, fmt.Errorf("IMU %d stopped publishing", i)
			}
			continue
		}
		if !s.Healthy {
			return out, fmt.Errorf("IMU %d is degraded", i)
		}
		lastSeq = s.Seq
		out[0] = append(out[0], s.Gyro.X)
		out[1] = append(out[1], s.Gyro.Y)
		out[2] = append(out[2], s.Gyro.Z)

		if k := len(out[0]); k%10 == 0 {
			if err := send(CalibrationResponse{Type: "progress", Progress: 100 * float64(k) / float64(n)}); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}
