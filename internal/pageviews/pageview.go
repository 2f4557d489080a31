// Package pageviews records one row per rendered content page and keeps the
// time-on-page chain consistent: each new page view closes out the previous
// open one for the same session.
package pageviews

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PageView is one rendered content page within a session. Device and geo
// columns are copied from the owning session at creation time, never
// re-derived, so the row stays meaningful after the session is reaped.
type PageView struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64;not null"`
	UserID    *uint  `gorm:"index"`
	ContentID *uint  `gorm:"index"`

	PageURL  string `gorm:"not null"`
	Referrer string
	Source   string
	Medium   string
	Campaign string

	DeviceType  string
	Browser     string
	OS          string
	Country     string
	CountryCode string
	City        string

	// TimeOnPage stays 0 until the next page view or the reaper closes this
	// row out.
	TimeOnPage   int  `gorm:"not null;default:0"`
	IsBounce     bool `gorm:"not null;default:false"`
	IsNewSession bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// FindLastBySession returns the session's most recent page view.
func FindLastBySession(db *gorm.DB, sessionID string) (*PageView, error) {
	var pv PageView
	err := db.Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		First(&pv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("unexpected error querying page view: %w", err)
	}
	return &pv, nil
}

// FindOpenBySession returns every not-yet-closed page view for a session,
// newest first. More than one element means the close-out invariant was
// broken and needs repair.
func FindOpenBySession(db *gorm.DB, sessionID string) ([]PageView, error) {
	var open []PageView
	err := db.Where("session_id = ? AND time_on_page = ?", sessionID, 0).
		Order("created_at DESC, id DESC").
		Find(&open).Error
	if err != nil {
		return nil, fmt.Errorf("unexpected error querying open page views: %w", err)
	}
	return open, nil
}

// ExistsForSessionAndContent reports whether the session already viewed the
// given content. Drives unique-view dedup.
func ExistsForSessionAndContent(db *gorm.DB, sessionID string, contentID uint) (bool, error) {
	var count int64
	err := db.Model(&PageView{}).
		Where("session_id = ? AND content_id = ?", sessionID, contentID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("unexpected error counting page views: %w", err)
	}
	return count > 0, nil
}
