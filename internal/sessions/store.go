package sessions

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// FindBySessionID retrieves a session by its opaque session id.
func FindBySessionID(db *gorm.DB, sessionID string) (*Session, error) {
	var session Session
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewSessionNotFoundError(sessionID)
		}
		return nil, fmt.Errorf("unexpected error querying session: %w", err)
	}
	return &session, nil
}

// FindActiveBySessionID retrieves a session by id only if it is still
// reusable: active, of the requested type and touched within the timeout.
func FindActiveBySessionID(db *gorm.DB, sessionID string, sessionType SessionType, now time.Time, timeout time.Duration) (*Session, error) {
	var session Session
	err := db.Where("session_id = ? AND session_type = ? AND is_active = ? AND end_time > ?",
		sessionID, sessionType, true, now.Add(-timeout)).
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewSessionNotFoundError(sessionID)
		}
		return nil, fmt.Errorf("unexpected error querying session: %w", err)
	}
	return &session, nil
}

// FindActiveByFingerprint retrieves the most recent reusable session for an
// IP and user agent pair.
func FindActiveByFingerprint(db *gorm.DB, ipAddress, userAgent string, sessionType SessionType, now time.Time, timeout time.Duration) (*Session, error) {
	var session Session
	err := db.Where("ip_address = ? AND user_agent = ? AND session_type = ? AND is_active = ? AND end_time > ?",
		ipAddress, userAgent, sessionType, true, now.Add(-timeout)).
		Order("end_time DESC").
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewSessionNotFoundError("")
		}
		return nil, fmt.Errorf("unexpected error querying session: %w", err)
	}
	return &session, nil
}

// Insert persists a new session. Duration is recomputed so the row never
// violates the duration invariant.
func Insert(logger *slog.Logger, db *gorm.DB, session *Session) error {
	session.RecomputeDuration()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
}

// UpdateActivity extends a session with new activity. The write is
// conditional on the session still being active, so it tolerates a
// concurrent reaper pass; losing the race just drops one touch.
func UpdateActivity(logger *slog.Logger, db *gorm.DB, session *Session, now time.Time, pageCountDelta int) error {
	session.Touch(now)

	updates := map[string]interface{}{
		"end_time": session.EndTime,
		"duration": session.Duration,
	}
	if pageCountDelta > 0 {
		updates["page_count"] = gorm.Expr("page_count + ?", pageCountDelta)
		session.PageCount += pageCountDelta
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).
			Where("session_id = ? AND is_active = ?", session.SessionID, true).
			Updates(updates).Error
	})
}

// Convert flips a tracking session to an authentication session in place,
// preserving its attribution chain. The conditional write makes conversion
// idempotent: an already-converted session is left untouched.
func Convert(logger *slog.Logger, db *gorm.DB, sessionID string, userID uint, now time.Time) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).
			Where("session_id = ? AND session_type = ? AND converted_at IS NULL", sessionID, TypeTracking).
			Updates(map[string]interface{}{
				"session_type":     TypeAuthentication,
				"is_authenticated": true,
				"user_id":          userID,
				"converted_at":     now,
			}).Error
	})
}

// Deactivate terminates a session explicitly (logout).
func Deactivate(logger *slog.Logger, db *gorm.DB, sessionID string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).
			Where("session_id = ? AND is_active = ?", sessionID, true).
			Update("is_active", false).Error
	})
}

// IsNewVisitor reports whether this fingerprint has never been seen outside
// the recent window. A session older than the window means a returning
// visitor.
func IsNewVisitor(db *gorm.DB, ipAddress, userAgent string, now time.Time, window time.Duration) (bool, error) {
	var count int64
	err := db.Model(&Session{}).
		Where("ip_address = ? AND user_agent = ? AND start_time < ?", ipAddress, userAgent, now.Add(-window)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("unexpected error counting sessions: %w", err)
	}
	return count == 0, nil
}

// FindExpiredActive returns active sessions whose last activity predates the
// cutoff, oldest first, bounded by limit.
func FindExpiredActive(db *gorm.DB, cutoff time.Time, limit int) ([]Session, error) {
	var expired []Session
	err := db.Where("is_active = ? AND end_time < ?", true, cutoff).
		Order("end_time ASC").
		Limit(limit).
		Find(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("unexpected error querying expired sessions: %w", err)
	}
	return expired, nil
}

// MarkInactive deactivates one session, guarded against a concurrent touch
// that revived it past the cutoff. Returns true if this call won the write.
func MarkInactive(logger *slog.Logger, db *gorm.DB, sessionID string, cutoff time.Time) (bool, error) {
	var affected int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).
			Where("session_id = ? AND is_active = ? AND end_time < ?", sessionID, true, cutoff).
			Update("is_active", false)
		affected = result.RowsAffected
		return result.Error
	})
	return affected > 0, err
}

// BulkMarkInactive deactivates every active session idle past the cutoff in
// one statement. Used when per-session finalization is not needed.
func BulkMarkInactive(logger *slog.Logger, db *gorm.DB, cutoff time.Time) (int64, error) {
	var affected int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).
			Where("is_active = ? AND end_time < ?", true, cutoff).
			Update("is_active", false)
		affected = result.RowsAffected
		return result.Error
	})
	return affected, err
}

// DeleteInactiveBefore hard-deletes inactive sessions whose last activity
// predates the retention cutoff. Returns the number of rows removed.
func DeleteInactiveBefore(logger *slog.Logger, db *gorm.DB, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		var affected int64
		err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			result := tx.Where("is_active = ? AND end_time < ?", false, cutoff).
				Limit(batchSize).
				Delete(&Session{})
			affected = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return total, err
		}
		total += affected
		if affected < int64(batchSize) {
			return total, nil
		}
		// Yield between batches to keep writer contention low
		time.Sleep(50 * time.Millisecond)
	}
}
