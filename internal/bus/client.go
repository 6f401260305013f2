package bus

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// Config is the connection configuration for a Client, sourced from
// environment variables by cmd/presenced (MQTT_BROKER_URL,
// MQTT_CLIENT_ID, MQTT_USERNAME, MQTT_PASSWORD), matching the
// teacher's HA_URL/HA_TOKEN env-var convention.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// Handler is called for every inbound message on a subscribed topic.
type Handler func(topic string, payload []byte)

// Client wraps an autopaho connection manager with the subscription
// set and rate limiter this service needs. Subscriptions registered
// before Start are re-established automatically on every reconnect.
type Client struct {
	cfg    Config
	logger *zap.Logger

	topics  []string
	handler Handler

	limiter *rateLimiter
	cm      *autopaho.ConnectionManager
}

// NewClient creates a Client; call Subscribe to register topics, then
// Start to connect.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Subscribe registers topics to subscribe to on every (re-)connect and
// the handler invoked for messages on them. Must be called before
// Start.
func (c *Client) Subscribe(topics []string, handler Handler) {
	c.topics = topics
	c.handler = handler
}

// Start connects to the broker and blocks until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse broker url: %w", err)
	}

	c.limiter = newRateLimiter(500, time.Second, c.logger)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected", zap.String("broker", c.cfg.BrokerURL))
			if len(c.topics) == 0 {
				return
			}
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			subs := make([]paho.SubscribeOptions, 0, len(c.topics))
			for _, topic := range c.topics {
				subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: 0})
			}
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{Subscriptions: subs}); err != nil {
				c.logger.Error("mqtt subscribe failed", zap.Error(err))
			}
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
		},
	}

	if c.handler != nil {
		go c.limiter.start(ctx)
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm

	if c.handler != nil {
		cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
			if !c.limiter.allow() {
				return true, nil
			}
			c.handler(pr.Packet.Topic, pr.Packet.Payload)
			return true, nil
		})
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("mqtt initial connection: %w", err)
	}

	<-ctx.Done()
	return nil
}

// Publish sends payload to topic. Used both for outbound switch
// commands and init-sequence publishes.
func (c *Client) Publish(ctx context.Context, topic, payload string) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: []byte(payload),
		QoS:     0,
	})
	return err
}

// AwaitConnection blocks until the initial broker connection succeeds
// or ctx expires. Intended to be called from a goroutine separate from
// the one running Start, after Start has been launched in the
// background.
func (c *Client) AwaitConnection(ctx context.Context) error {
	for c.cm == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return c.cm.AwaitConnection(ctx)
}

// Stop disconnects from the broker.
func (c *Client) Stop(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	return c.cm.Disconnect(ctx)
}

// rateLimiter drops inbound messages past a per-interval threshold,
// grounded on nugget-thane-ai-agent's messageRateLimiter but logging
// via zap to match this service's ambient logging choice.
type rateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *zap.Logger
}

func newRateLimiter(limit int64, interval time.Duration, logger *zap.Logger) *rateLimiter {
	return &rateLimiter{limit: limit, interval: interval, logger: logger}
}

func (r *rateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			received := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.logger.Warn("mqtt messages dropped by rate limiter",
					zap.Int64("received", received),
					zap.Int64("dropped", dropped),
					zap.Int64("limit", r.limit),
				)
			}
		}
	}
}

func (r *rateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
