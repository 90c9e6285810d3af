// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/inertial_backend/internal/backend"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// BackendStatus is one entry of /api/stats.
type BackendStatus struct {
	Instance int           `json:"instance"`
	Name     string        `json:"name"`
	Health   string        `json:"health"`
	State    string        `json:"state"`
	Stats    backend.Stats `json:"stats"`
}

// StreamFrame is what /ws/stream pushes on every tick.
type StreamFrame struct {
	IMUs  []frontend.Sample `json:"imus"`
	Fused *frontend.Sample  `json:"fused,omitempty"`
	Pose  *orientation.Pose `json:"pose,omitempty"`
}

// PublishRateMessage is the body of /api/publish_rate.
type PublishRateMessage struct {
	RateHz float64 `json:"rate_hz"`
}

// NewWebHandler serves the JSON API, the live stream and the calibration
// websocket for a running rig. streamInterval paces /ws/stream.
func NewWebHandler(rig *Rig, streamInterval time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/imu", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rig.Frontend.Snapshot())
	})

	mux.HandleFunc("GET /api/imu/{n}", func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.PathValue("n"))
		if err != nil {
			http.Error(w, "bad instance", http.StatusBadRequest)
			return
		}
		s, ok := rig.Frontend.Latest(n)
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, s)
	})

	mux.HandleFunc("GET /api/imu/fused", func(w http.ResponseWriter, r *http.Request) {
		s, ok := rig.Frontend.Fused()
		if !ok {
			http.Error(w, "no healthy IMU", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, s)
	})

	mux.HandleFunc("GET /api/pose/fused", func(w http.ResponseWriter, r *http.Request) {
		s, ok := rig.Frontend.Fused()
		if !ok {
			http.Error(w, "no healthy IMU", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, orientation.PoseFromAccel(s.Accel))
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		out := make([]BackendStatus, 0, len(rig.Backends))
		for _, b := range rig.Backends {
			out = append(out, BackendStatus{
				Instance: b.Instance(),
				Name:     b.Name(),
				Health:   b.Health().String(),
				State:    b.State().String(),
				Stats:    b.Stats(),
			})
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("GET /api/publish_rate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, PublishRateMessage{RateHz: rig.PublishRate()})
	})

	mux.HandleFunc("POST /api/publish_rate", func(w http.ResponseWriter, r *http.Request) {
		var req PublishRateMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		if err := rig.SetPublishRate(req.RateHz); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, PublishRateMessage{RateHz: rig.PublishRate()})
	})

	mux.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
		streamSamples(w, r, rig.Frontend, streamInterval)
	})
	mux.Handle("/ws/calibration", &CalibrationHandler{Rig: rig, Poll: streamInterval})

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func streamSamples(w http.ResponseWriter, r *http.Request, fe *frontend.Frontend, interval time.Duration) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// The read loop only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}
		frame := StreamFrame{IMUs: fe.Snapshot()}
		if fused, ok := fe.Fused(); ok {
			pose := orientation.PoseFromAccel(fused.Accel)
			frame.Fused, frame.Pose = &fused, &pose
		}
		if err := conn.WriteJSON(frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("stream: websocket write error: %v", err)
			}
			return
		}
	}
}
