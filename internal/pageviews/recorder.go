package pageviews

import (
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"pressbeat/internal/content"
	"pressbeat/internal/sessions"
)

// skippedPrefixes are paths that never count as page views and never touch a
// session.
var skippedPrefixes = []string{
	"/api/",
	"/admin",
	"/assets/",
	"/static/",
	"/public/",
	"/health",
	"/favicon",
	"/robots.txt",
	"/sitemap",
	"/.well-known/",
}

// pageRoutePrefixes is the allow-list of content page patterns.
var pageRoutePrefixes = []string{
	"/articles/",
	"/category/",
	"/tag/",
	"/author/",
	"/search",
	"/about",
	"/contact",
	"/newsletter",
}

// IsPageViewRoute classifies a request path as a content page. Assets and
// admin surfaces are always skipped; everything else must match the
// allow-list.
func IsPageViewRoute(requestPath string) bool {
	if requestPath == "" {
		return false
	}
	p := strings.ToLower(requestPath)

	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	if ext := path.Ext(p); ext != "" && ext != ".html" {
		return false
	}

	if p == "/" {
		return true
	}
	for _, prefix := range pageRoutePrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// RecordInput carries the per-request facts for one page view.
type RecordInput struct {
	PageURL   string
	Referrer  string
	ContentID *uint
	Now       time.Time
}

// Recorder creates page view rows and maintains the close-out chain.
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Record closes the session's previous open page view, inserts the new row,
// and credits the content entity's unique view counter when this session has
// not viewed that content before.
func (r *Recorder) Record(db *gorm.DB, session *sessions.Session, input RecordInput) (*PageView, error) {
	if input.Now.IsZero() {
		input.Now = time.Now().UTC()
	}

	hadPrevious, err := r.closeOpenPageViews(db, session.SessionID, input.Now)
	if err != nil {
		return nil, err
	}

	pv := &PageView{
		SessionID: session.SessionID,
		UserID:    session.UserID,
		ContentID: input.ContentID,

		PageURL:  input.PageURL,
		Referrer: input.Referrer,
		Source:   session.Source,
		Medium:   session.Medium,
		Campaign: session.Campaign,

		DeviceType:  session.DeviceType,
		Browser:     session.Browser,
		OS:          session.OS,
		Country:     session.Country,
		CountryCode: session.CountryCode,
		City:        session.City,

		// A first page is a bounce until a second page proves otherwise.
		IsBounce:     !hadPrevious,
		IsNewSession: !hadPrevious,
	}

	err = sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Create(pv).Error
	})
	if err != nil {
		return nil, err
	}

	if input.ContentID != nil {
		if err := r.creditUniqueView(db, session.SessionID, *input.ContentID, pv.ID); err != nil {
			// View counters are best-effort; the page view row already exists.
			r.logger.Error("Failed to credit unique view",
				slog.String("session_id", session.SessionID),
				slog.Uint64("content_id", uint64(*input.ContentID)),
				slog.Any("error", err))
		}
	}

	return pv, nil
}

// closeOpenPageViews finalizes the session's open page view before a new one
// is inserted. Finding more than one open row means a previous close-out was
// lost; the extras are repaired here with a warning.
func (r *Recorder) closeOpenPageViews(db *gorm.DB, sessionID string, now time.Time) (bool, error) {
	open, err := FindOpenBySession(db, sessionID)
	if err != nil {
		return false, err
	}
	if len(open) == 0 {
		// The session may still have closed page views from earlier activity.
		_, err := FindLastBySession(db, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	if len(open) > 1 {
		r.logger.Warn("Multiple open page views found for session, repairing",
			slog.String("session_id", sessionID),
			slog.Int("open_count", len(open)))
	}

	for _, pv := range open {
		if err := r.close(db, &pv, now, false); err != nil {
			return true, err
		}
	}
	return true, nil
}

// close finalizes one page view. Navigation away proves it was not a bounce
// unless the caller (the reaper, for single-page sessions) says otherwise.
func (r *Recorder) close(db *gorm.DB, pv *PageView, now time.Time, isBounce bool) error {
	timeOnPage := int(now.Sub(pv.CreatedAt).Seconds())
	if timeOnPage < 1 {
		// A closed row records at least one second so it cannot be mistaken
		// for an open one.
		timeOnPage = 1
	}

	return sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Model(&PageView{}).
			Where("id = ? AND time_on_page = ?", pv.ID, 0).
			Updates(map[string]interface{}{
				"time_on_page": timeOnPage,
				"is_bounce":    isBounce,
			}).Error
	})
}

// FinalizeLast closes a session's last page view at session expiry. A
// single-page session bounced; anything longer did not.
func (r *Recorder) FinalizeLast(db *gorm.DB, session *sessions.Session, now time.Time) error {
	last, err := FindLastBySession(db, session.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if last.TimeOnPage != 0 {
		return nil
	}
	return r.close(db, last, now, session.PageCount == 1)
}

// creditUniqueView bumps the content view counter unless an earlier page view
// in this session already referenced the content.
func (r *Recorder) creditUniqueView(db *gorm.DB, sessionID string, contentID uint, currentPageViewID uint) error {
	var count int64
	err := db.Model(&PageView{}).
		Where("session_id = ? AND content_id = ? AND id != ?", sessionID, contentID, currentPageViewID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return content.IncrementViewCount(r.logger, db, contentID)
}
