package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPublishRetries = 3
	defaultPublishDelay   = 100 * time.Millisecond
	defaultBackoffMult    = 2.0
)

var errNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URI returns the broker address; an empty vhost means the default one.
func (c *Config) URI() amqp.URI {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}
}

// publishBackoff is the pause after the given failed attempt (0-based)
func (c *Config) publishBackoff(attempt int) time.Duration {
	base := c.PublishRetryDelay
	if base <= 0 {
		base = defaultPublishDelay
	}
	mult := c.PublishBackoffMult
	if mult <= 0 {
		mult = defaultBackoffMult
	}
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
}

func (c *Config) publishRetries() int {
	if c.PublishRetries <= 0 {
		return defaultPublishRetries
	}
	return c.PublishRetries
}

// Client owns one connection and one channel in publisher-confirm mode.
// The run queue is declared and bound on connect.
type Client struct {
	config *Config
	logger *slog.Logger

	// mu serializes publishes so confirmations map to their message
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient dials the broker, retrying RetryAttempts times
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	uri := c.config.URI()
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := max(c.config.RetryAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.conn, err = amqp.DialConfig(uri.String(), amqpConfig)
		if err == nil {
			break
		}
		c.logger.Warn("RabbitMQ dial failed",
			slog.String("host", uri.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)
		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	if c.channel, err = c.conn.Channel(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}
	if err := c.channel.Confirm(false); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if err := c.declareTopology(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.logger.Info("Connected to RabbitMQ",
		slog.String("host", uri.Host),
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)
	return nil
}

func (c *Client) declareTopology() error {
	cfg := c.config
	if err := c.channel.ExchangeDeclare(cfg.ExchangeName, cfg.ExchangeType,
		cfg.ExchangeDurable, cfg.ExchangeAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := c.channel.QueueDeclare(cfg.QueueName,
		cfg.QueueDurable, cfg.QueueAutoDelete, cfg.QueueExclusive, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := c.channel.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// IsConnected reports whether both the connection and the channel are open
func (c *Client) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// SetQos limits the unacknowledged deliveries per consumer
func (c *Client) SetQos(prefetchCount int) error {
	if !c.IsConnected() {
		return errNotConnected
	}
	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// Consume delivers queue messages with manual acknowledgement
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, errNotConnected
	}

	deliveries, err := c.channel.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Consuming RabbitMQ queue",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

// publishOnce publishes a persistent message and waits for the broker ack
func (c *Client) publishOnce(ctx context.Context, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(ctx,
		c.config.ExchangeName,
		c.config.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker nacked message")
	}
	return nil
}

// PublishWithRetry publishes body and waits for the broker to confirm it,
// retrying with exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if !c.IsConnected() {
		return errNotConnected
	}

	retries := c.config.publishRetries()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		lastErr = c.publishOnce(ctx, body, contentType)
		if lastErr == nil {
			c.logger.Debug("Message published",
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}
		if attempt == retries {
			break
		}

		delay := c.config.publishBackoff(attempt)
		c.logger.Warn("Publish failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", delay),
			slog.Any("error", lastErr),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, lastErr)
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}
