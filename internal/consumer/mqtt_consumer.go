// Package consumer feeds sensor payloads published over MQTT into the
// ingestion pipeline.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ripeness-monitor/internal/models"
	"ripeness-monitor/internal/parser"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Ingester accepts one raw payload
type Ingester interface {
	Ingest(ctx context.Context, payload parser.Payload) (*models.Reading, error)
}

// Config describes the broker connection
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// MQTTConsumer subscribes to the sensor topic
type MQTTConsumer struct {
	config   Config
	client   mqtt.Client
	ingester Ingester
	logger   *zap.Logger
}

// NewMQTTConsumer creates a consumer; Start connects and subscribes
func NewMQTTConsumer(cfg Config, ingester Ingester, logger *zap.Logger) *MQTTConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTConsumer{config: cfg, ingester: ingester, logger: logger}
}

// Start connects to the broker, subscribes and blocks until ctx is done
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if c.config.Topic == "" {
		return errors.New("mqtt topic not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
	}
	if c.config.Password != "" {
		opts.SetPassword(c.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			c.logger.Error("failed to handle mqtt message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}
	if token := c.client.Subscribe(c.config.Topic, c.config.QoS, handler); token.Wait() && token.Error() != nil {
		c.client.Disconnect(250)
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.config.Topic, token.Error())
	}

	c.logger.Info("MQTT consumer started",
		zap.String("broker", c.config.Broker),
		zap.String("topic", c.config.Topic),
	)

	<-ctx.Done()
	return c.Stop()
}

// Stop unsubscribes and disconnects
func (c *MQTTConsumer) Stop() error {
	if c.client == nil || !c.client.IsConnected() {
		return nil
	}
	if token := c.client.Unsubscribe(c.config.Topic); token.Wait() && token.Error() != nil {
		c.logger.Error("failed to unsubscribe", zap.Error(token.Error()))
	}
	c.client.Disconnect(250)
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// HandleMessage ingests a JSON object or an array of objects. Rejected
// payloads are logged and do not stop the rest of the batch.
func (c *MQTTConsumer) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	c.logger.Debug("received mqtt message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	payloads, err := decode(payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	var failed int
	for _, p := range payloads {
		r, err := c.ingester.Ingest(ctx, p)
		if err != nil {
			failed++
			c.logger.Warn("failed to ingest mqtt payload", zap.String("topic", topic), zap.Error(err))
			continue
		}
		c.logger.Debug("ingested mqtt payload", zap.String("id", r.ID), zap.String("state", string(r.DerivedState)))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d payloads rejected", failed, len(payloads))
	}
	return nil
}

func decode(data []byte) ([]parser.Payload, error) {
	data = bytes.TrimSpace(data)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if len(data) > 0 && data[0] == '[' {
		var batch []parser.Payload
		if err := dec.Decode(&batch); err != nil {
			return nil, err
		}
		return batch, nil
	}

	var single parser.Payload
	if err := dec.Decode(&single); err != nil {
		return nil, err
	}
	return []parser.Payload{single}, nil
}
