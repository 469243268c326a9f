package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/phonginreallife/accessctl/authz"
)

const defaultWriteTimeout = 10 * time.Second

// AccessAuditWorker drains ACL change events from Redis into the access_audit_log table
type AccessAuditWorker struct {
	PG    *sql.DB
	Redis *redis.Client
	Queue string

	// PollTimeout bounds each blocking pop so shutdown is noticed
	PollTimeout time.Duration

	// WriteTimeout bounds recording or dead-lettering a popped event.
	// It runs detached from shutdown so a popped event is never lost.
	WriteTimeout time.Duration
}

func NewAccessAuditWorker(pg *sql.DB, client *redis.Client, queue string) *AccessAuditWorker {
	if queue == "" {
		queue = authz.DefaultChangeQueue
	}
	return &AccessAuditWorker{
		PG:           pg,
		Redis:        client,
		Queue:        queue,
		PollTimeout:  5 * time.Second,
		WriteTimeout: defaultWriteTimeout,
	}
}

// FailedQueue receives events that could not be recorded
func (w *AccessAuditWorker) FailedQueue() string {
	return w.Queue + ":failed"
}

// StartAccessAuditWorker processes events until ctx is cancelled
func (w *AccessAuditWorker) StartAccessAuditWorker(ctx context.Context) {
	log.Printf("Access audit worker started, consuming %s...", w.Queue)

	for {
		if ctx.Err() != nil {
			log.Println("Access audit worker stopped")
			return
		}
		if _, err := w.processNext(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Worker: failed to read %s: %v", w.Queue, err)
			time.Sleep(time.Second)
		}
	}
}

// processNext pops at most one event. It reports whether an event was handled.
func (w *AccessAuditWorker) processNext(ctx context.Context) (bool, error) {
	res, err := w.Redis.BLPop(ctx, w.PollTimeout, w.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	// The event has left the queue; finish with it even if ctx is cancelled now.
	timeout := w.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// res is [queue, payload]
	w.handleMessage(writeCtx, res[1])
	return true, nil
}

func (w *AccessAuditWorker) handleMessage(ctx context.Context, payload string) {
	var change authz.AccessChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		log.Printf("❌ Dropping malformed access change: %v", err)
		w.deadLetter(ctx, payload)
		return
	}

	if err := w.recordChange(ctx, change); err != nil {
		log.Printf("❌ Failed to record access change %s %s/%s: %v", change.Kind, change.ResourceType, change.ResourceID, err)
		w.deadLetter(ctx, payload)
		return
	}

	log.Printf("AUDIT - %s %s on %s %s for %s by %s", change.Kind, change.Actions, change.ResourceType, change.ResourceID, change.UserID, change.ActorID)
}

func (w *AccessAuditWorker) recordChange(ctx context.Context, change authz.AccessChange) error {
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := w.PG.ExecContext(ctx, `
		INSERT INTO access_audit_log (id, kind, resource_type, resource_id, user_id, actions, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, uuid.New().String(), string(change.Kind), string(change.ResourceType), change.ResourceID, change.UserID,
		pq.Array(change.Actions.Strings()), change.ActorID, at)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (w *AccessAuditWorker) deadLetter(ctx context.Context, payload string) {
	if err := w.Redis.RPush(ctx, w.FailedQueue(), payload).Err(); err != nil {
		log.Printf("❌ Failed to move message to %s: %v", w.FailedQueue(), err)
	}
}
