package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"wearwatch/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQOptions configures the broker connection and bindings
type RabbitMQOptions struct {
	URL      string
	Exchange string
	Queue    string
	// Topics are MQTT topics relayed through amq.topic, mapped to implied events
	Topics map[string]string
}

// RabbitMQSource consumes readings published directly to the exchange or
// relayed from MQTT by the broker's MQTT plugin
type RabbitMQSource struct {
	opts    RabbitMQOptions
	base    Schema
	schemas map[string]Schema
	logger  *zap.Logger
}

func NewRabbitMQSource(opts RabbitMQOptions, schema Schema, logger *zap.Logger) *RabbitMQSource {
	base := schema.WithSource("rabbitmq")
	schemas := make(map[string]Schema, len(opts.Topics))
	for topic, event := range opts.Topics {
		s := base
		switch models.EventFlag(event) {
		case models.EventFall, models.EventHelp:
			s = base.WithImpliedEvent(models.EventFlag(event))
		}
		schemas[routingKeyForTopic(topic)] = s
	}
	return &RabbitMQSource{opts: opts, base: base, schemas: schemas, logger: logger}
}

// routingKeyForTopic converts an MQTT topic to the amq.topic routing key
// the MQTT plugin publishes under
func routingKeyForTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

func (r *RabbitMQSource) Name() string { return "rabbitmq" }

// schemaFor picks the schema for a delivery's routing key
func (r *RabbitMQSource) schemaFor(routingKey string) Schema {
	if s, ok := r.schemas[routingKey]; ok {
		return s
	}
	return r.base
}

// Run consumes until ctx is cancelled, reconnecting whenever the
// connection drops
func (r *RabbitMQSource) Run(ctx context.Context, sink Sink) error {
	for {
		err := r.consumeOnce(ctx, sink)
		if ctx.Err() != nil {
			r.logger.Info("Stopping RabbitMQ consumer")
			return nil
		}
		if err != nil {
			r.logger.Error("RabbitMQ consumer failed", zap.Error(err))
			sink.ReportSourceFailure(r.Name(), err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
			r.logger.Info("Attempting to reconnect to RabbitMQ...")
		}
	}
}

func (r *RabbitMQSource) consumeOnce(ctx context.Context, sink Sink) error {
	conn, ch, err := r.connect()
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.logger.Error("Error closing connection", zap.Error(err))
		}
	}()

	msgs, err := ch.Consume(
		r.opts.Queue, // queue
		"wearwatch",  // consumer tag
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	sink.ReportSourceSuccess(r.Name())
	r.logger.Info("Started consuming messages from RabbitMQ", zap.String("queue", r.opts.Queue))

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil

		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return fmt.Errorf("connection lost: %w", amqpErr)

		case msg, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			if err := r.processMessage(ctx, sink, msg); err != nil {
				r.logger.Error("Failed to process message",
					zap.Error(err),
					zap.String("routing_key", msg.RoutingKey))
				// requeue unless the engine is gone for good
				_ = msg.Nack(false, !errors.Is(err, ErrEngineStopped))
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (r *RabbitMQSource) processMessage(ctx context.Context, sink Sink, msg amqp.Delivery) error {
	r.logger.Debug("Received message from RabbitMQ",
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("bytes", len(msg.Body)))
	return sink.Emit(ctx, msg.Body, r.schemaFor(msg.RoutingKey))
}

// connect dials with retry and declares the exchange, queue and bindings
func (r *RabbitMQSource) connect() (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.opts.URL)
		if err == nil {
			break
		}
		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := r.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	r.logger.Info("Connected to RabbitMQ successfully")
	return conn, ch, nil
}

func (r *RabbitMQSource) declare(ch *amqp.Channel) error {
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := ch.ExchangeDeclare(r.opts.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := ch.QueueDeclare(r.opts.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, r.opts.Queue, r.opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	keys := make([]string, 0, len(r.schemas))
	for key := range r.schemas {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := ch.QueueBind(queue.Name, key, "amq.topic", false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
		}
		r.logger.Info("Queue bound to MQTT exchange",
			zap.String("queue", queue.Name),
			zap.String("routing_key", key))
	}
	return nil
}
