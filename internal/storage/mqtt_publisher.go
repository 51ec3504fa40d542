package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"serial-logger/internal/config"
	"serial-logger/pkg/protocol"
)

var ErrPublishTimeout = errors.New("mqtt publish not acknowledged in time")

// MQTTPublisher sends every recorded event as JSON to one topic.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	log     *logrus.Logger
}

// ConnectMQTT connects to the configured broker and returns a publisher.
func ConnectMQTT(cfg config.MQTTConfig, log *logrus.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, token.Error())
	}

	log.Infof("MQTT connected: %s (topic %s)", cfg.Broker, cfg.Topic)

	return NewMQTTPublisher(client, cfg.Topic, cfg.QoS, cfg.PublishTimeout, log), nil
}

func NewMQTTPublisher(client mqtt.Client, topic string, qos byte, timeout time.Duration, log *logrus.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: timeout,
		log:     log,
	}
}

func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// Publish waits for the broker acknowledgement up to the configured timeout
// or until ctx is done.
func (p *MQTTPublisher) Publish(ctx context.Context, e *protocol.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)

	var timeout <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-token.Done():
	case <-timeout:
		return fmt.Errorf("publish to %s: %w", p.topic, ErrPublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages 250ms to drain.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
