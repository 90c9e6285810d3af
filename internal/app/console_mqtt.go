// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_backend/internal/config"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
)

// FormatSample renders one sample as a console line.
func FormatSample(tag string, s frontend.Sample) string {
	state := "ok"
	if !s.Healthy {
		state = "DEGRADED"
	}
	return fmt.Sprintf(
		"[%-5s] ax=%7.3f ay=%7.3f az=%7.3f  gx=%7.3f gy=%7.3f gz=%7.3f  T=%5.1f n=%d vib=%.3f %s",
		tag, s.Accel.X, s.Accel.Y, s.Accel.Z, s.Gyro.X, s.Gyro.Y, s.Gyro.Z, s.TempC, s.Count, s.Vibration.Norm(), state,
	)
}

func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}

	client, err := ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Per-instance samples
	imuTopic := cfg.TopicIMUPrefix + "/+"
	imuToken := client.Subscribe(imuTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s frontend.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: imu unmarshal error: %v", err)
			return
		}
		fmt.Println(FormatSample(fmt.Sprintf("IMU%d", s.Instance), s))
	})
	imuToken.Wait()
	if imuToken.Error() != nil {
		return imuToken.Error()
	}
	log.Printf("console: subscribed to %s", imuTopic)

	// Subscribe to fused samples
	fusedToken := client.Subscribe(cfg.TopicIMUFused, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s frontend.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: fused unmarshal error: %v", err)
			return
		}
		fmt.Println(FormatSample("FUSE", s))
	})
	fusedToken.Wait()
	if fusedToken.Error() != nil {
		return fusedToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicIMUFused)

	// Subscribe to fused orientation
	poseToken := client.Subscribe(cfg.TopicPoseFused, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p PoseMessage
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: pose unmarshal error: %v", err)
			return
		}
		state := "ok"
		if !p.Healthy {
			state = "DEGRADED"
		}

		fmt.Printf(
			"[POSE ] ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f %s\n",
			p.Roll, p.Pitch, p.Yaw, state,
		)
	})
	poseToken.Wait()
	if poseToken.Error() != nil {
		return poseToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicPoseFused)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
