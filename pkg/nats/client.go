package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Client wraps a NATS JetStream connection for router telemetry and feeds
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	config *Config

	mu   sync.Mutex
	subs []*Subscription
}

// Config holds NATS configuration
type Config struct {
	URL      string
	ClientID string
	Stream   StreamConfig
}

// StreamConfig defines the JetStream stream
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxMsgs  int64
}

// DefaultConfig returns a client config for url with the router stream
func DefaultConfig(url, stream string) *Config {
	if stream == "" {
		stream = DefaultStream
	}
	return &Config{
		URL:      url,
		ClientID: "sor-router",
		Stream: StreamConfig{
			Name:     stream,
			Subjects: StreamSubjects(),
			MaxAge:   24 * time.Hour,
			MaxMsgs:  1_000_000,
		},
	}
}

// NewClient connects and makes sure the stream exists
func NewClient(config *Config, logger *logrus.Entry) (*Client, error) {
	if logger == nil {
		logger = logrus.WithField("component", "nats-client")
	}

	opts := []nats.Option{
		nats.Name(config.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Error("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.WithError(err).Error("NATS error")
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		conn:   conn,
		js:     js,
		logger: logger,
		config: config,
	}

	if err := client.ensureStream(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize stream: %w", err)
	}

	return client, nil
}

func (c *Client) ensureStream() error {
	sc := c.config.Stream
	config := &nats.StreamConfig{
		Name:      sc.Name,
		Subjects:  sc.Subjects,
		Retention: nats.LimitsPolicy,
		MaxAge:    sc.MaxAge,
		MaxMsgs:   sc.MaxMsgs,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	_, err := c.js.StreamInfo(sc.Name)
	switch {
	case err == nil:
		if _, err := c.js.UpdateStream(config); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", sc.Name, err)
		}
		c.logger.WithField("stream", sc.Name).Info("Updated stream")
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := c.js.AddStream(config); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
		}
		c.logger.WithField("stream", sc.Name).Info("Created stream")
	default:
		return fmt.Errorf("failed to look up stream %s: %w", sc.Name, err)
	}
	return nil
}

// Close unsubscribes and closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			c.logger.WithError(err).Warn("Unsubscribe failed")
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Ping reports whether the connection is usable
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// PublishDecision publishes a routing decision on the symbol's decision subject
func (c *Client) PublishDecision(ctx context.Context, symbol string, decision interface{}) error {
	return c.publish(ctx, DecisionSubject(symbol), decision)
}

// PublishVenueMetrics publishes a metric push for a venue
func (c *Client) PublishVenueMetrics(ctx context.Context, msg VenueMetricsMessage) error {
	return c.publish(ctx, VenueMetricsSubject(msg.VenueID), msg)
}

// PublishPerformanceSample publishes an execution sample for an algorithm
func (c *Client) PublishPerformanceSample(ctx context.Context, msg PerformanceSampleMessage) error {
	return c.publish(ctx, PerformanceSubject(msg.AlgorithmID), msg)
}

func (c *Client) publish(ctx context.Context, subject string, data interface{}) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := c.js.Publish(subject, msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.logger.WithField("subject", subject).Debug("Published")
	return nil
}

// SubscribeVenueMetrics consumes metric pushes for every venue
func (c *Client) SubscribeVenueMetrics(handler MessageHandler) (*Subscription, error) {
	return c.subscribe(SubjectVenueMetrics+".*", handler)
}

// SubscribePerformance consumes execution samples for every algorithm
func (c *Client) SubscribePerformance(handler MessageHandler) (*Subscription, error) {
	return c.subscribe(SubjectAlgorithmPerformance+".*", handler)
}

// subscribe creates a durable push consumer. Handler errors are logged and the
// message is still acked so a malformed push is not redelivered forever.
func (c *Client) subscribe(subject string, handler MessageHandler) (*Subscription, error) {
	sub, err := c.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(msg.Subject, msg.Data); err != nil {
			c.logger.WithField("subject", msg.Subject).WithError(err).Error("Handler error")
		}
		msg.Ack()
	}, nats.Durable(DurableName(c.config.ClientID, subject)), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.logger.WithField("subject", subject).Info("Subscribed")

	s := &Subscription{sub: sub, logger: c.logger.WithField("subject", subject)}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s, nil
}

// MessageHandler processes incoming messages
type MessageHandler func(subject string, data []byte) error

// Subscription wraps a NATS subscription
type Subscription struct {
	sub    *nats.Subscription
	logger *logrus.Entry
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	s.logger.Info("Unsubscribed")
	return nil
}
