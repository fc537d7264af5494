package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig holds the broker connection and routing configuration for
// the AMQP sink.
type AMQPConfig struct {
	URL          string
	Exchange     string
	ExchangeType string
	RoutingKey   string

	// ConnectRetries and ConnectRetryDelay control the initial dial.
	ConnectRetries    int
	ConnectRetryDelay time.Duration
}

// AMQPSink publishes events to a RabbitMQ exchange as persistent JSON
// messages.
type AMQPSink struct {
	config  AMQPConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewAMQPSink dials the broker, declares the exchange, and returns a
// ready sink. The exchange type defaults to "topic".
func NewAMQPSink(cfg AMQPConfig, logger *slog.Logger) (*AMQPSink, error) {
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = "topic"
	}
	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.ConnectRetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		logger.Info("connecting to AMQP broker",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", retries),
		)
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		logger.Error("AMQP connect failed",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < retries {
			time.Sleep(delay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("notify: connect AMQP after %d attempts: %w", retries, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify: open AMQP channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		cfg.Exchange,     // name
		cfg.ExchangeType, // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("notify: declare exchange: %w", err)
	}

	logger.Info("AMQP sink initialized",
		slog.String("exchange", cfg.Exchange),
		slog.String("routing_key", cfg.RoutingKey),
	)

	return &AMQPSink{
		config:  cfg,
		conn:    conn,
		channel: channel,
		logger:  logger,
	}, nil
}

// Deliver implements Sink.
func (s *AMQPSink) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	err = s.channel.PublishWithContext(
		ctx,
		s.config.Exchange,   // exchange
		s.config.RoutingKey, // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
		},
	)
	if err != nil {
		return fmt.Errorf("notify: publish event: %w", err)
	}

	s.logger.Debug("event published",
		slog.String("job_id", ev.JobID),
		slog.String("status", string(ev.Status)),
	)
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Error("failed to close AMQP channel", slog.Any("error", err))
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return fmt.Errorf("notify: close AMQP connection: %w", err)
		}
	}
	return nil
}
