package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	r := newRateLimiter(3, time.Second, zaptest.NewLogger(t))
	assert.True(t, r.allow())
	assert.True(t, r.allow())
	assert.True(t, r.allow())
	assert.False(t, r.allow(), "fourth message within the interval should be dropped")
}

func TestRateLimiterResetsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRateLimiter(1, 10*time.Millisecond, zaptest.NewLogger(t))
	go r.start(ctx)

	assert.True(t, r.allow())
	assert.False(t, r.allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, r.allow(), "limiter should reset after the interval elapses")
}

func TestNewClientDoesNotConnect(t *testing.T) {
	c := NewClient(Config{BrokerURL: "tcp://localhost:1883", ClientID: "test"}, zaptest.NewLogger(t))
	assert.Nil(t, c.cm)
}

func TestPublishBeforeStartReturnsError(t *testing.T) {
	c := NewClient(Config{BrokerURL: "tcp://localhost:1883"}, zaptest.NewLogger(t))
	err := c.Publish(context.Background(), "topic", "payload")
	assert.Error(t, err)
}
