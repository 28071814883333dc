package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the connection used by the Redis backends
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		// let cancelled contexts interrupt blocking pops
		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// New returns a queue and its dead letter queue. A nil client selects the
// in-memory backend; otherwise both are stored in Redis under config.QueueName.
func New(client *redis.Client, config *Config) (Queue, DeadLetterQueue) {
	if config == nil {
		config = DefaultConfig("default")
	}
	if client == nil {
		return NewMemoryQueue(config), NewMemoryDeadLetterQueue()
	}
	return NewRedisQueue(client, config), NewRedisDeadLetterQueue(client, config)
}
