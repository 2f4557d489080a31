// Package events stores discrete engagement actions (likes, comments,
// shares, bookmarks, scroll depth) as an append-only log and keeps the
// denormalized counters on content in step.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pressbeat/internal/content"
	"pressbeat/internal/sessions"
)

// EventType identifies the engagement action.
type EventType string

const (
	EventLike     EventType = "like"
	EventComment  EventType = "comment"
	EventShare    EventType = "share"
	EventBookmark EventType = "bookmark"
	EventScroll   EventType = "scroll"
)

// ValidEventType reports whether a wire value names a known event type.
func ValidEventType(t string) bool {
	switch EventType(t) {
	case EventLike, EventComment, EventShare, EventBookmark, EventScroll:
		return true
	}
	return false
}

// engagementTypes are the event types that bump a counter on the content row.
var engagementTypes = map[EventType]bool{
	EventLike:     true,
	EventComment:  true,
	EventShare:    true,
	EventBookmark: true,
}

// Event is one engagement action. Rows are append-only; nothing ever updates
// or deletes them.
type Event struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"index;size:64;not null"`
	UserID    *uint     `gorm:"index"`
	ContentID *uint     `gorm:"index"`
	EventType EventType `gorm:"index;not null"`

	// EventData is the client-supplied payload, e.g. {"depth": 75} for
	// scroll events.
	EventData datatypes.JSON

	IPAddress string
	UserAgent string
	Referrer  string
	PageURL   string

	CreatedAt time.Time `gorm:"index"`
}

// Depth extracts the scroll depth percentage from an event payload, or 0.
func (e *Event) Depth() int {
	if len(e.EventData) == 0 {
		return 0
	}
	var payload struct {
		Depth int `json:"depth"`
	}
	if err := json.Unmarshal(e.EventData, &payload); err != nil {
		return 0
	}
	return payload.Depth
}

// RecordInput carries one inbound engagement action.
type RecordInput struct {
	ContentID *uint
	EventType EventType
	EventData map[string]interface{}

	IPAddress string
	UserAgent string
	Referrer  string
	PageURL   string
}

// Recorder appends events and maintains the content-side counters.
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Record appends an Event row. Engagement types additionally increment the
// matching content counter; scroll events credit a depth bucket instead. The
// counter writes are collaborator side effects: their failure is logged, not
// returned, because the event row itself already landed.
func (r *Recorder) Record(db *gorm.DB, session *sessions.Session, input RecordInput) (*Event, error) {
	var payload datatypes.JSON
	if input.EventData != nil {
		raw, err := json.Marshal(input.EventData)
		if err != nil {
			return nil, fmt.Errorf("invalid event payload: %w", err)
		}
		payload = datatypes.JSON(raw)
	}

	event := &Event{
		SessionID: session.SessionID,
		UserID:    session.UserID,
		ContentID: input.ContentID,
		EventType: input.EventType,
		EventData: payload,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Referrer:  input.Referrer,
		PageURL:   input.PageURL,
	}

	err := sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		return nil, err
	}

	if input.ContentID != nil {
		r.applyContentSideEffects(db, event)
	}

	return event, nil
}

func (r *Recorder) applyContentSideEffects(db *gorm.DB, event *Event) {
	contentID := *event.ContentID

	if engagementTypes[event.EventType] {
		if err := content.IncrementEngagementCounter(r.logger, db, contentID, string(event.EventType)); err != nil {
			r.logger.Error("Failed to increment engagement counter",
				slog.Uint64("content_id", uint64(contentID)),
				slog.String("event_type", string(event.EventType)),
				slog.Any("error", err))
		}
		return
	}

	if event.EventType == EventScroll {
		if err := content.UpsertScrollDepthBucket(r.logger, db, contentID, event.Depth()); err != nil {
			r.logger.Error("Failed to upsert scroll depth bucket",
				slog.Uint64("content_id", uint64(contentID)),
				slog.Int("depth", event.Depth()),
				slog.Any("error", err))
		}
	}
}
