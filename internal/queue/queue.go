// Package queue implements the distributed job queue on Redis Streams.
// Delayed jobs wait in a sorted set scored by their not-before time; the
// planner promotes due entries into the stream, where a consumer group
// provides dequeue-with-lease semantics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// Config tunes the queue keys and consumer behaviour.
type Config struct {
	// Stream is the Redis Stream key ready jobs are delivered on.
	Stream string
	// Group is the consumer group name workers share.
	Group string
	// Block is how long Dequeue blocks waiting for a job.
	Block time.Duration
	// LockPrefix namespaces the per-source serialization locks.
	LockPrefix string
}

// RedisQueue implements ports.JobQueue over a single Redis instance.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.JobQueue = (*RedisQueue)(nil)

// New wires a queue over an existing Redis client.
func New(client *redis.Client, cfg Config, logger *slog.Logger) *RedisQueue {
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = cfg.Stream + ":lock:"
	}
	return &RedisQueue{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (q *RedisQueue) delayedKey() string {
	return q.cfg.Stream + ":delayed"
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue schedules a job to become visible at notBefore.
func (q *RedisQueue) Enqueue(ctx context.Context, job domain.Job, notBefore time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	return nil
}

// Promote moves every delayed job due at now into the delivery stream and
// returns how many it moved.
func (q *RedisQueue) Promote(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("range delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.Stream,
			Values: map[string]interface{}{"job": member},
		}).Err()
		if err != nil {
			return promoted, fmt.Errorf("promote job: %w", err)
		}
		if err := q.client.ZRem(ctx, q.delayedKey(), member).Err(); err != nil {
			return promoted, fmt.Errorf("remove promoted job: %w", err)
		}
		promoted++
	}

	return promoted, nil
}

// Dequeue leases the next ready job for the named consumer. It returns a
// nil lease when nothing is due within the blocking window.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string) (*domain.Lease, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    1,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read group: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	raw, _ := msg.Values["job"].(string)

	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison entry; drop it rather than wedge the consumer.
		q.logger.Error("dropping undecodable queue entry", "message_id", msg.ID, "error", err)
		if ackErr := q.ack(ctx, msg.ID); ackErr != nil {
			return nil, ackErr
		}
		return nil, nil
	}

	return &domain.Lease{MessageID: msg.ID, Job: job}, nil
}

// Ack marks a leased job done and removes it from the stream.
func (q *RedisQueue) Ack(ctx context.Context, lease *domain.Lease) error {
	return q.ack(ctx, lease.MessageID)
}

func (q *RedisQueue) ack(ctx context.Context, messageID string) error {
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, messageID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", messageID, err)
	}
	if err := q.client.XDel(ctx, q.cfg.Stream, messageID).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", messageID, err)
	}
	return nil
}

// Nack re-schedules the leased job after retryAfter with its attempt count
// incremented, then releases the lease.
func (q *RedisQueue) Nack(ctx context.Context, lease *domain.Lease, retryAfter time.Duration) error {
	job := lease.Job
	job.Attempt++

	if err := q.Enqueue(ctx, job, q.now().Add(retryAfter)); err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}

	return q.ack(ctx, lease.MessageID)
}

// releaseScript deletes a lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLock takes the serialization lock for key on behalf of owner.
// It reports false when another owner holds it.
func (q *RedisQueue) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := q.client.SetNX(ctx, q.cfg.LockPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock drops the lock if owner still holds it.
func (q *RedisQueue) ReleaseLock(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, q.client, []string{q.cfg.LockPrefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
