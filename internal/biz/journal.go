package biz

import (
	"context"
	"time"

	"SurgeGate/internal/model"
)

// EventJournal records admission events (circuit transitions, pool repairs,
// health changes) for later inspection through the ops API.
//
// Record must never block the caller: implementations queue the event and
// drop it if the queue is full.
type EventJournal interface {
	// Record queues one admission event. Details are marshaled to JSON by
	// the implementation.
	Record(ctx context.Context, eventType, resource string, details map[string]interface{})

	// Recent returns the most recent events, newest first.
	Recent(ctx context.Context, limit int) ([]model.JournalEvent, error)

	// Prune deletes events recorded before the cutoff and returns how many
	// rows were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
