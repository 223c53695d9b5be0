package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coverdesk/authcore/internal/ids"
)

// DefaultKey is the Redis list the notification worker consumes with
// BRPOP.
const DefaultKey = "authcore:notifications"

type envelope struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Job
}

// Redis pushes jobs onto a Redis list. Jobs are JSON envelopes with an
// id and enqueue timestamp wrapped around the caller's Job.
type Redis struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

// NewRedis builds a queue over client. An empty key selects DefaultKey.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key, now: time.Now}
}

// Enqueue serializes the job and LPUSHes it. The worker side pops from
// the opposite end, giving FIFO delivery.
func (q *Redis) Enqueue(ctx context.Context, job Job) (string, error) {
	env := envelope{
		ID:         ids.New(),
		EnqueuedAt: q.now().UTC(),
		Job:        job,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return env.ID, nil
}
