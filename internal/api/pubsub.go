package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const defaultQueueSize = 1024

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type PublisherConfig struct {
	Redis     Redis
	Prefix    string
	QueueSize int
	Metrics   prometheus.Registerer
}

// Publisher relays room notifications to the Redis channel <prefix>:room:<roomID>, so
// processes other than the one owning the room can follow it. Enqueue never blocks;
// messages are published in order by Run.
type Publisher struct {
	redis  Redis
	prefix string
	queue  chan roomMessage
	m      *metrics
}

type roomMessage struct {
	roomID string
	data   []byte
}

func NewPublisher(c PublisherConfig) *Publisher {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	return &Publisher{
		redis:  c.Redis,
		prefix: c.Prefix,
		queue:  make(chan roomMessage, c.QueueSize),
		m:      newPublisherMetrics(c.Metrics),
	}
}

func (p *Publisher) Enqueue(ctx context.Context, roomID string, data []byte) {
	select {
	case p.queue <- roomMessage{roomID: roomID, data: data}:
	default:
		slog.WarnContext(ctx, "pubsub: queue full, dropping notification", "room", roomID)
		p.m.dropped.WithLabelValues(dropQueueFull).Inc()
	}
}

// Run publishes queued notifications until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.queue:
			if err := p.redis.Publish(ctx, p.Channel(msg.roomID), msg.data).Err(); err != nil {
				slog.ErrorContext(ctx, "pubsub: publish failed", "room", msg.roomID, "error", err)
				p.m.dropped.WithLabelValues(dropPublish).Inc()
			}
		}
	}
}

// Channel returns the pubsub channel of a room.
func (p *Publisher) Channel(roomID string) string {
	return fmt.Sprintf("%s:room:%s", p.prefix, roomID)
}
