// Package events publishes fiscal action events to an MQTT broker so other
// systems can follow device lifecycles without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/config"
	"github.com/CaioWing/Fiscus/internal/domain"
)

const disconnectQuiesce = 250 // milliseconds

// broker is the part of pahomqtt.Client the publisher needs.
type broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Publisher sends one message per fiscal action to
// {prefix}/companies/{companyID}/devices/{deviceID}/events.
type Publisher struct {
	broker  broker
	client  pahomqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	log     *slog.Logger
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTTConfig, log *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newPublisher(client, cfg, log)
	p.client = client
	return p, nil
}

func newPublisher(b broker, cfg config.MQTTConfig, log *slog.Logger) *Publisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		broker:  b,
		prefix:  cfg.TopicPrefix,
		qos:     byte(cfg.QoS),
		timeout: timeout,
		log:     log,
	}
}

// Topic returns the event topic for one device.
func Topic(prefix string, companyID, deviceID uuid.UUID) string {
	topic := fmt.Sprintf("companies/%s/devices/%s/events", companyID, deviceID)
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

// ObserveAction publishes e as JSON. Messages are not retained.
func (p *Publisher) ObserveAction(ctx context.Context, e domain.ActionEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := Topic(p.prefix, e.CompanyID, e.DeviceID)
	token := p.broker.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, letting in-flight messages drain.
func (p *Publisher) Close() {
	if p.client == nil {
		return
	}
	p.client.Disconnect(disconnectQuiesce)
	p.log.Info("mqtt disconnected")
}
