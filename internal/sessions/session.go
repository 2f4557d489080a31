// Package sessions owns the visitor session lifecycle: creation on first
// contact, reuse across requests, tracking-to-authentication conversion and
// expiry. A session carries the device, geo and attribution snapshot every
// page view and event hangs off.
package sessions

import (
	"fmt"
	"time"

	"pressbeat/internal/attribution"
)

// SessionType distinguishes anonymous tracking sessions from logged-in ones.
type SessionType string

const (
	TypeTracking       SessionType = "tracking"
	TypeAuthentication SessionType = "authentication"
)

// SessionNotFoundError represents an error when a session is not found
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// NewSessionNotFoundError creates a new SessionNotFoundError
func NewSessionNotFoundError(sessionID string) *SessionNotFoundError {
	return &SessionNotFoundError{SessionID: sessionID}
}

// Session is one visitor-session lifetime. Client facts are immutable once
// set; only the activity fields (EndTime, PageCount, Duration, IsActive) and
// the one-shot conversion fields mutate after creation.
type Session struct {
	ID              uint        `gorm:"primaryKey;autoIncrement"`
	SessionID       string      `gorm:"uniqueIndex;size:64;not null"`
	SessionType     SessionType `gorm:"not null;default:'tracking'"`
	IsAuthenticated bool        `gorm:"not null;default:false"`
	UserID          *uint       `gorm:"index"`

	IPAddress        string `gorm:"index:idx_fingerprint;not null"`
	UserAgent        string `gorm:"index:idx_fingerprint;not null"`
	DeviceType       string
	DeviceCategory   string
	DeviceBrand      string
	DeviceModel      string
	ScreenResolution string
	IsTouchDevice    bool
	Browser          string
	BrowserVersion   string
	OS               string
	OSVersion        string

	Country     string
	CountryCode string
	City        string
	Region      string
	Continent   string

	StartTime time.Time `gorm:"not null"`
	EndTime   time.Time `gorm:"index;not null"`
	PageCount int       `gorm:"not null;default:1"`
	Duration  int       `gorm:"not null;default:0"`
	IsActive  bool      `gorm:"index;not null;default:true"`

	Referrer string
	Source   string
	Medium   string
	Campaign string

	IsNewVisitor bool
	ConvertedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Touch records activity at the given instant and keeps Duration consistent
// with EndTime - StartTime.
func (s *Session) Touch(now time.Time) {
	s.EndTime = now
	s.RecomputeDuration()
}

// RecomputeDuration rederives Duration in whole seconds. Must run before
// every persist that changed EndTime.
func (s *Session) RecomputeDuration() {
	d := int(s.EndTime.Sub(s.StartTime).Seconds())
	if d < 0 {
		d = 0
	}
	s.Duration = d
}

// ExpiresAt returns the instant this session stops being reusable given an
// inactivity timeout.
func (s *Session) ExpiresAt(timeout time.Duration) time.Time {
	return s.EndTime.Add(timeout)
}

// IsReusable reports whether the session can still absorb new activity.
func (s *Session) IsReusable(now time.Time, timeout time.Duration) bool {
	return s.IsActive && now.Before(s.ExpiresAt(timeout))
}

// Attribution returns the session's stored attribution facts.
func (s *Session) Attribution() attribution.Attribution {
	return attribution.Attribution{
		Source:   s.Source,
		Medium:   s.Medium,
		Campaign: s.Campaign,
	}
}
