// Package queue provides Publisher implementations for the downstream
// trigger queue.
package queue

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// streamPrefix namespaces the redis streams used as downstream queues.
const streamPrefix = "fanin-queue:"

// RedisPublisher publishes downstream messages to a redis stream, one
// stream per queue name. Consumers read with consumer groups so each
// message is delivered to one downstream worker.
type RedisPublisher struct {
	cli    *redis.Client
	prefix string
}

// NewRedisPublisher creates a publisher on an existing redis client.
func NewRedisPublisher(cli *redis.Client) *RedisPublisher {
	return &RedisPublisher{cli: cli, prefix: streamPrefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, queue string, payload []byte) error {
	err := p.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: p.prefix + queue,
		Values: map[string]interface{}{"message": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("fanin: publish to %s: %w", queue, err)
	}
	return nil
}
