package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ChangeKind names an ACL mutation.
type ChangeKind string

const (
	ChangeGranted      ChangeKind = "granted"
	ChangeUpdated      ChangeKind = "updated"
	ChangeRevoked      ChangeKind = "revoked"
	ChangeBootstrapped ChangeKind = "bootstrapped"
)

// AccessChange describes one committed ACL mutation.
type AccessChange struct {
	Kind         ChangeKind   `json:"kind"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	UserID       string       `json:"user_id"`
	Actions      ActionSet    `json:"actions"`
	ActorID      string       `json:"actor_id"`
	At           time.Time    `json:"at"`
}

// ChangeNotifier publishes committed ACL mutations to downstream consumers.
type ChangeNotifier interface {
	Notify(ctx context.Context, change AccessChange) error
}

// DefaultChangeQueue is the Redis list ACL changes are pushed to.
const DefaultChangeQueue = "resource_access:queue"

// RedisNotifier pushes JSON-encoded changes onto a Redis list.
type RedisNotifier struct {
	Redis *redis.Client
	Queue string
}

// NewRedisNotifier creates a notifier; an empty queue uses DefaultChangeQueue
func NewRedisNotifier(client *redis.Client, queue string) *RedisNotifier {
	if queue == "" {
		queue = DefaultChangeQueue
	}
	return &RedisNotifier{Redis: client, Queue: queue}
}

// Notify pushes the change. A notifier without a client does nothing.
func (n *RedisNotifier) Notify(ctx context.Context, change AccessChange) error {
	if n == nil || n.Redis == nil {
		return nil
	}
	b, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode access change: %w", err)
	}
	if err := n.Redis.RPush(ctx, n.Queue, b).Err(); err != nil {
		return fmt.Errorf("failed to push access change: %w", err)
	}
	return nil
}
