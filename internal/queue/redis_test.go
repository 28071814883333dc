package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type usageItem struct {
	ID    int    `json:"id"`
	Model string `json:"model"`
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	mr, client := newTestRedis(t)
	q := NewRedisQueue(client, DefaultConfig("usage"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, usageItem{ID: i, Model: "m"}))
	}

	stored, err := mr.List("queue:usage")
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, length)

	items, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var first usageItem
	require.NoError(t, json.Unmarshal(items[0].(json.RawMessage), &first))
	assert.Equal(t, usageItem{ID: 0, Model: "m"}, first)

	items, err = q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 1)

	length, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestRedisQueue_DequeueWithTimeoutEmpty(t *testing.T) {
	_, client := newTestRedis(t)
	q := NewRedisQueue(client, DefaultConfig("empty"))

	items, err := q.DequeueWithTimeout(context.Background(), 5, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestRedisQueue_SurvivesNewConsumer(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	producer := NewRedisQueue(client, DefaultConfig("durable"))
	require.NoError(t, producer.Enqueue(ctx, usageItem{ID: 7}))
	require.NoError(t, producer.Close())

	other, err := NewRedisClient(RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer other.Close()

	consumer := NewRedisQueue(other, DefaultConfig("durable"))
	items, err := consumer.DequeueWithTimeout(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRedisQueue_Unmarshalable(t *testing.T) {
	_, client := newTestRedis(t)
	q := NewRedisQueue(client, nil)

	err := q.Enqueue(context.Background(), make(chan int))
	assert.Error(t, err)
}

func TestRedisDeadLetterQueue(t *testing.T) {
	mr, client := newTestRedis(t)
	dlq := NewRedisDeadLetterQueue(client, DefaultConfig("usage"))
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, usageItem{ID: 1}, errors.New("insert failed")))
	time.Sleep(time.Millisecond)
	require.NoError(t, dlq.Add(ctx, usageItem{ID: 2}, errors.New("insert failed again")))

	keys, err := mr.HKeys("dlq:usage")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "insert failed", items[0].Error)
	assert.Equal(t, float64(1), items[0].Item.(map[string]interface{})["id"])

	limited, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, items[0].ID), ErrItemNotFound)

	items, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "insert failed again", items[0].Error)
}

func TestNew_SelectsBackend(t *testing.T) {
	q, dlq := New(nil, nil)
	assert.IsType(t, &MemoryQueue{}, q)
	assert.IsType(t, &MemoryDeadLetterQueue{}, dlq)
	q.Close()

	_, client := newTestRedis(t)
	q, dlq = New(client, DefaultConfig("usage"))
	assert.IsType(t, &RedisQueue{}, q)
	assert.IsType(t, &RedisDeadLetterQueue{}, dlq)
}
