package data

import (
	"context"
	"encoding/json"
	"time"

	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AdmissionEvent is the GORM model for the admission_events table.
type AdmissionEvent struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	Resource  string    `gorm:"column:resource;type:varchar(100);not null"`
	Details   string    `gorm:"column:details;type:json"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName specifies the table name for GORM.
func (AdmissionEvent) TableName() string {
	return "admission_events"
}

// EventJournal implements biz.EventJournal: an async, drop-on-overflow
// journal of admission and recovery events.
//
// Record never blocks the caller: events go through a buffered channel to a
// single writer goroutine, and are dropped with a warning when the buffer is
// full. Losing journal entries under pressure is preferable to adding
// database writes to an already saturated request path.
type EventJournal struct {
	db     *gorm.DB
	events chan *AdmissionEvent
	done   chan struct{}
	logger *log.Helper
}

// NewEventJournal creates the journal and starts its writer goroutine. The
// returned cleanup drains queued events before shutdown.
func NewEventJournal(db *gorm.DB, logger log.Logger) (*EventJournal, func()) {
	j := &EventJournal{
		db:     db,
		events: make(chan *AdmissionEvent, 1000),
		done:   make(chan struct{}),
		logger: log.NewHelper(logger),
	}

	go j.start()

	cleanup := func() {
		close(j.events)
		<-j.done
	}
	return j, cleanup
}

// start processes journal events from the channel until it is closed.
func (j *EventJournal) start() {
	defer close(j.done)
	for event := range j.events {
		ctx := context.Background()
		if err := j.db.WithContext(ctx).Create(event).Error; err != nil {
			j.logger.Errorw("failed to write admission event",
				"event_type", event.EventType,
				"resource", event.Resource,
				"error", err)
		}
	}
}

// Record queues one event. Never blocks; drops with a warning if the buffer
// is full.
func (j *EventJournal) Record(_ context.Context, eventType, resource string, details map[string]interface{}) {
	payload := ""
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			j.logger.Errorw("failed to marshal event details",
				"event_type", eventType, "error", err)
		} else {
			payload = string(raw)
		}
	}

	event := &AdmissionEvent{
		EventType: eventType,
		Resource:  resource,
		Details:   payload,
	}

	select {
	case j.events <- event:
	default:
		j.logger.Warnw("event journal buffer full, dropping event",
			"event_type", eventType,
			"resource", resource)
	}
}

// Recent returns the newest events, most recent first.
func (j *EventJournal) Recent(ctx context.Context, limit int) ([]model.JournalEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []AdmissionEvent
	err := j.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.JournalEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.JournalEvent{
			ID:        r.ID,
			EventType: r.EventType,
			Resource:  r.Resource,
			Details:   r.Details,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// Prune deletes events older than the cutoff and returns how many went.
func (j *EventJournal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res := j.db.WithContext(ctx).
		Where("created_at < ?", olderThan).
		Delete(&AdmissionEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
