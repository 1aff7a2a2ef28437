package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BatchRetention is how long a batch hash survives after its last write.
// Polling an expired batch reports it as unknown.
const BatchRetention = 7 * 24 * time.Hour

// Client provides instance-scoped Redis operations for flock.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace of this client.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get returns the durable value stored under name, or def when it is unset.
func (c *Client) Get(ctx context.Context, name, def string) (string, error) {
	value, err := c.rdb.Get(ctx, StateKey(c.instanceName, name)).Result()
	if errors.Is(err, redis.Nil) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return value, nil
}

// Set stores a durable value under name.
func (c *Client) Set(ctx context.Context, name, value string) error {
	if err := c.rdb.Set(ctx, StateKey(c.instanceName, name), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Delete removes the durable value stored under name.
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, StateKey(c.instanceName, name)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// CreateBatch writes a new batch, records it in the batch history and
// publishes a started event.
func (c *Client) CreateBatch(ctx context.Context, b *Batch) error {
	if err := c.UpdateBatch(ctx, b); err != nil {
		return err
	}

	z := redis.Z{Score: float64(b.CreatedAtMs), Member: b.ID}
	if err := c.rdb.ZAdd(ctx, BatchHistoryKey(c.instanceName), z).Err(); err != nil {
		return fmt.Errorf("failed to record batch history: %w", err)
	}

	return c.PublishBatchEvent(ctx, &BatchEvent{
		BatchID:     b.ID,
		Type:        BatchEventStarted,
		Message:     fmt.Sprintf("%s %s", b.Action, b.Target),
		TimestampMs: b.CreatedAtMs,
	})
}

// UpdateBatch replaces a batch hash (full HSET replacement) and refreshes its
// retention.
func (c *Client) UpdateBatch(ctx context.Context, b *Batch) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	hash, err := BatchToHash(b)
	if err != nil {
		return fmt.Errorf("failed to serialize batch: %w", err)
	}

	key := BatchKey(c.instanceName, b.ID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, hash)
	pipe.Expire(ctx, key, BatchRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write batch to Redis: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
// Returns (nil, redis.Nil) if the batch doesn't exist.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	hashData, err := c.rdb.HGetAll(ctx, BatchKey(c.instanceName, batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	b, err := HashToBatch(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize batch: %w", err)
	}
	return b, nil
}

// RecentBatches returns up to limit batch IDs, newest first. IDs of batches
// that have already expired are skipped.
func (c *Client) RecentBatches(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	historyKey := BatchHistoryKey(c.instanceName)
	ids, err := c.rdb.ZRevRange(ctx, historyKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch history: %w", err)
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		exists, err := c.rdb.Exists(ctx, BatchKey(c.instanceName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check batch existence: %w", err)
		}
		if exists == 0 {
			c.rdb.ZRem(ctx, historyKey, id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// ScanBatches returns the IDs of recorded batches starting with prefix.
func (c *Client) ScanBatches(ctx context.Context, prefix string) ([]string, error) {
	ids, err := c.rdb.ZRange(ctx, BatchHistoryKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch history: %w", err)
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

// GetMigrationMeta retrieves migration metadata.
// Returns (nil, redis.Nil) if nothing has been recorded yet.
func (c *Client) GetMigrationMeta(ctx context.Context, migrationID string) (*MigrationMeta, error) {
	hashData, err := c.rdb.HGetAll(ctx, MigrationKey(c.instanceName, migrationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read migration metadata from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToMigrationMeta(hashData), nil
}

// SetMigrationMeta replaces the metadata of a migration.
func (c *Client) SetMigrationMeta(ctx context.Context, m *MigrationMeta) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid migration metadata: %w", err)
	}
	key := MigrationKey(c.instanceName, m.MigrationID)
	if err := c.rdb.HSet(ctx, key, MigrationMetaToHash(m)).Err(); err != nil {
		return fmt.Errorf("failed to write migration metadata to Redis: %w", err)
	}
	return nil
}

// DeleteMigrationMeta forgets everything recorded for a migration.
func (c *Client) DeleteMigrationMeta(ctx context.Context, migrationID string) error {
	if err := c.rdb.Del(ctx, MigrationKey(c.instanceName, migrationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete migration metadata: %w", err)
	}
	return nil
}

// PublishBatchEvent publishes an event on the batch events channel.
func (c *Client) PublishBatchEvent(ctx context.Context, e *BatchEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal batch event: %w", err)
	}
	if err := c.rdb.Publish(ctx, BatchEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish batch event: %w", err)
	}
	return nil
}

// BatchSubscription represents an active Pub/Sub subscription to batch events.
// Caller must call Close() when done to clean up resources.
type BatchSubscription struct {
	events <-chan *BatchEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of batch events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *BatchSubscription) Events() <-chan *BatchEvent {
	return s.events
}

// Errors returns the channel of subscription errors. Undecodable messages are
// reported here and skipped.
func (s *BatchSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *BatchSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeBatchEvents subscribes to batch events for this instance.
// Delivery is at-most-once; events are buffered (size 10).
func (c *Client) SubscribeBatchEvents(ctx context.Context) (*BatchSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, BatchEventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event published right
	// after this call is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to batch events: %w", err)
	}

	eventsChan := make(chan *BatchEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event BatchEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal batch event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &BatchSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
