// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/config"
)

// RunIMUBackend probes the configured IMUs and publishes their samples at
// PUBLISH_RATE_HZ until SIGINT/SIGTERM.
func RunIMUBackend() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}

	sched := bus.NewScheduler(nil)
	rig, err := NewRig(cfg, sched, OpenDevice)
	if err != nil {
		return err
	}
	log.Printf("imu backend: %d of %d IMUs running", len(rig.Backends), len(cfg.IMUs))

	client, err := ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDBackend)
	if err != nil {
		return multierr.Append(err, rig.Stop())
	}
	defer client.Disconnect(250)
	log.Println("connected to MQTT, starting publish loop")

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: NewWebHandler(rig, max(rig.PublishInterval(), 20*time.Millisecond)),
	}
	go func() {
		log.Printf("web server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("web server error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := PublishLoop(ctx, rig, NewPublisher(MQTTSink{Client: client}, cfg),
		time.Duration(cfg.ConsoleLogInterval)*time.Millisecond)

	log.Println("imu backend: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return multierr.Combine(runErr, srv.Shutdown(shutdownCtx), rig.Stop())
}

// PublishLoop is the consumer side: it updates every backend once per
// publish tick at the rig's publish rate, forwards what changed, and logs
// counters every logInterval. It returns when ctx is done.
func PublishLoop(ctx context.Context, rig *Rig, pub *Publisher, logInterval time.Duration) error {
	ticker := time.NewTicker(rig.PublishInterval())
	defer ticker.Stop()
	logTicker := time.NewTicker(logInterval)
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-logTicker.C:
			rig.LogStats()
		case <-rig.rateChanged:
			ticker.Reset(rig.PublishInterval())
		case <-ticker.C:
			rig.Update()
			if err := pub.Publish(rig.Frontend); err != nil {
				log.Printf("imu backend: %v", err)
			}
		}
	}
}
