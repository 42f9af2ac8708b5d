// Package mqtt publishes changes to an MQTT broker on
// <prefix>/<schema>/<table>/<op> topics.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/pgcrud/pkg/events"
	"go.uber.org/zap"
)

var errNotConnected = errors.New("MQTT client not connected")

// Sink publishes to MQTT.
type Sink struct {
	client mqtt.Client
	logger *zap.Logger
	Config Config
}

// NewSink wraps an existing client.
func NewSink(client mqtt.Client, config Config, logger *zap.Logger) *Sink {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: client, Config: config, logger: logger}
}

func (s *Sink) Connect(_ context.Context, config map[string]any, logger *zap.Logger) error {
	if err := events.DecodeConfig(config, &s.Config); err != nil {
		return err
	}
	s.Config.setDefaults()
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	opts, err := s.Config.pahoOptions()
	if err != nil {
		return err
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(s.Config.ConnectTimeout) {
		return fmt.Errorf("broker connection timeout after %s", s.Config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker connection error: %w", err)
	}
	s.logger.Info("connected to MQTT broker", zap.Strings("servers", s.Config.Servers))
	return nil
}

func (s *Sink) Publish(ctx context.Context, c events.Change) error {
	if s.client == nil {
		return errNotConnected
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	topic := s.Config.Topic(c.Schema, c.Table, string(c.Op))
	token := s.client.Publish(topic, s.Config.QoS, s.Config.Retained, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	s.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

func (s *Sink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

func init() {
	events.RegisterSink(events.SinkMQTT, func() events.Sink { return &Sink{} })
}
