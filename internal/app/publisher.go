// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_backend/internal/config"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

// Sink sends one retained message.
type Sink interface {
	Send(topic string, payload []byte) error
}

// MQTTSink publishes through a connected paho client.
type MQTTSink struct {
	Client mqtt.Client
}

func (s MQTTSink) Send(topic string, payload []byte) error {
	if token := s.Client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// ConnectMQTT connects to the configured broker.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return client, nil
}

// PoseMessage is the payload of the fused pose topic. Healthy is false
// once no healthy instance is left; the angles then hold the last pose.
type PoseMessage struct {
	orientation.Pose
	Healthy bool `json:"healthy"`
}

type sentState struct {
	seq     uint64
	healthy bool
}

// Publisher fans frontend samples out to the configured topics. Topics are
// retained, so a health change is sent even when no new values exist.
// Not safe for concurrent use.
type Publisher struct {
	sink Sink
	cfg  *config.Config

	sent       map[int]sentState
	fused      frontend.Sample
	fusedValid bool
}

func NewPublisher(sink Sink, cfg *config.Config) *Publisher {
	return &Publisher{sink: sink, cfg: cfg, sent: make(map[int]sentState)}
}

// Publish sends every instance whose sample or health changed since the
// last call, then the fused sample and the tilt pose derived from it. When
// the last healthy instance goes away, the fused and pose topics are
// re-sent once with healthy=false.
func (p *Publisher) Publish(fe *frontend.Frontend) error {
	changed := false
	for _, s := range fe.Snapshot() {
		st := sentState{seq: s.Seq, healthy: s.Healthy}
		if last, ok := p.sent[s.Instance]; ok && last == st {
			continue
		}
		if err := p.send(p.cfg.IMUTopic(s.Instance), s); err != nil {
			return err
		}
		p.sent[s.Instance] = st
		changed = true
	}

	fused, ok := fe.Fused()
	switch {
	case ok && changed:
		if err := p.send(p.cfg.TopicIMUFused, fused); err != nil {
			return err
		}
		if err := p.send(p.cfg.TopicPoseFused, PoseMessage{orientation.PoseFromAccel(fused.Accel), true}); err != nil {
			return err
		}
		p.fused, p.fusedValid = fused, true
	case !ok && p.fusedValid:
		last := p.fused
		last.Healthy = false
		if err := p.send(p.cfg.TopicIMUFused, last); err != nil {
			return err
		}
		if err := p.send(p.cfg.TopicPoseFused, PoseMessage{orientation.PoseFromAccel(last.Accel), false}); err != nil {
			return err
		}
		p.fusedValid = false
	}
	return nil
}

func (p *Publisher) send(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal error (%s): %w", topic, err)
	}
	if err := p.sink.Send(topic, payload); err != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", topic, err)
	}
	return nil
}
