package sessions

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pressbeat/internal/attribution"
	"pressbeat/internal/config"
	"pressbeat/internal/pkg/geoip"
	"pressbeat/internal/pkg/useragent"
)

// Request carries everything the resolver needs from one inbound HTTP
// request. The middleware builds it; keeping it plain data keeps the state
// machine testable without a running server.
type Request struct {
	TrackingCookie   string
	AuthCookie       string
	IPAddress        string
	UserAgent        string
	Referrer         string
	ScreenResolution string
	Attribution      attribution.Attribution
	// PageCountDelta is 1 for page view requests and 0 for API calls that
	// only prove activity.
	PageCountDelta int
	Now            time.Time
}

// Resolution is the resolver's verdict for one request: the session to
// attach, plus the cookie changes the HTTP layer must apply.
type Resolution struct {
	Session             *Session
	IsNewSession        bool
	SetTrackingCookie   bool
	ClearTrackingCookie bool
	SetAuthCookie       bool
	ClearAuthCookie     bool
}

// Resolver implements the per-request session state machine.
type Resolver struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewResolver(cfg *config.Config, logger *slog.Logger) *Resolver {
	return &Resolver{cfg: cfg, logger: logger}
}

func (r *Resolver) sessionTimeout() time.Duration {
	return time.Duration(r.cfg.SessionTimeoutSeconds) * time.Second
}

func (r *Resolver) authTimeout() time.Duration {
	return time.Duration(r.cfg.AuthSessionTimeoutSeconds) * time.Second
}

func (r *Resolver) newVisitorWindow() time.Duration {
	return time.Duration(r.cfg.NewVisitorWindowHours) * time.Hour
}

// Resolve attaches the request to a session, creating one when nothing
// reusable exists. Auth sessions take precedence; a valid one skips tracking
// logic entirely for the request.
func (r *Resolver) Resolve(db *gorm.DB, req Request) (*Resolution, error) {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}

	// 1. Auth cookie fast path
	if req.AuthCookie != "" {
		session, err := FindActiveBySessionID(db, req.AuthCookie, TypeAuthentication, req.Now, r.authTimeout())
		if err == nil {
			if err := UpdateActivity(r.logger, db, session, req.Now, req.PageCountDelta); err != nil {
				return nil, err
			}
			return &Resolution{Session: session}, nil
		}
		var notFound *SessionNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// Stale auth cookie, fall through to tracking
		r.logger.Debug("Auth cookie did not resolve to an active session",
			slog.String("session_id", req.AuthCookie))
	}

	resolution := &Resolution{ClearAuthCookie: req.AuthCookie != ""}

	// 2. Tracking cookie path
	if req.TrackingCookie != "" {
		session, err := FindActiveBySessionID(db, req.TrackingCookie, TypeTracking, req.Now, r.sessionTimeout())
		if err == nil {
			if attribution.Changed(session.Attribution(), req.Attribution) {
				// Same visitor, new visit: the campaign changed mid-session,
				// so the old session stays untouched and a fresh one takes
				// over attribution from here.
				r.logger.Info("Attribution changed, starting new session",
					slog.String("previous_session_id", session.SessionID),
					slog.String("source", req.Attribution.Source),
					slog.String("medium", req.Attribution.Medium),
					slog.String("campaign", req.Attribution.Campaign))
				return r.createTracking(db, req, resolution)
			}
			if err := UpdateActivity(r.logger, db, session, req.Now, req.PageCountDelta); err != nil {
				return nil, err
			}
			resolution.Session = session
			return resolution, nil
		}
		var notFound *SessionNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// 3. No cookie: fall back to the fingerprint so visitors with cookies
	// blocked do not fragment into one session per hit. The cookie is
	// reissued either way.
	session, err := FindActiveByFingerprint(db, req.IPAddress, req.UserAgent, TypeTracking, req.Now, r.sessionTimeout())
	if err == nil {
		if !attribution.Changed(session.Attribution(), req.Attribution) {
			if err := UpdateActivity(r.logger, db, session, req.Now, req.PageCountDelta); err != nil {
				return nil, err
			}
			resolution.Session = session
			resolution.SetTrackingCookie = true
			return resolution, nil
		}
	} else {
		var notFound *SessionNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// 4. Nothing usable: new tracking session
	return r.createTracking(db, req, resolution)
}

// createTracking mints and persists a fresh tracking session from the
// request's client facts.
func (r *Resolver) createTracking(db *gorm.DB, req Request, resolution *Resolution) (*Resolution, error) {
	session, err := r.buildTracking(db, req)
	if err != nil {
		return nil, err
	}
	if err := Insert(r.logger, db, session); err != nil {
		return nil, err
	}

	resolution.Session = session
	resolution.IsNewSession = true
	resolution.SetTrackingCookie = true
	return resolution, nil
}

func (r *Resolver) buildTracking(db *gorm.DB, req Request) (*Session, error) {
	ua := useragent.Classify(req.UserAgent)
	location := geoip.Resolve(req.IPAddress)

	isNewVisitor, err := IsNewVisitor(db, req.IPAddress, req.UserAgent, req.Now, r.newVisitorWindow())
	if err != nil {
		return nil, err
	}

	return &Session{
		SessionID:   uuid.NewString(),
		SessionType: TypeTracking,

		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
		DeviceType:       ua.DeviceType,
		DeviceCategory:   ua.DeviceCategory,
		DeviceBrand:      ua.DeviceBrand,
		DeviceModel:      ua.DeviceModel,
		ScreenResolution: req.ScreenResolution,
		IsTouchDevice:    ua.IsTouchDevice,
		Browser:          ua.Browser,
		BrowserVersion:   ua.BrowserVersion,
		OS:               ua.OS,
		OSVersion:        ua.OSVersion,

		Country:     location.Country,
		CountryCode: location.CountryCode,
		City:        location.City,
		Region:      location.Region,
		Continent:   location.Continent,

		StartTime: req.Now,
		EndTime:   req.Now,
		PageCount: 1,
		IsActive:  true,

		Referrer: req.Referrer,
		Source:   req.Attribution.Source,
		Medium:   req.Attribution.Medium,
		Campaign: req.Attribution.Campaign,

		IsNewVisitor: isNewVisitor,
	}, nil
}

// Login converts the visitor's tracking session into an authentication
// session in place, preserving its attribution chain. Without a usable
// tracking session it mints a fresh authenticated one instead.
func (r *Resolver) Login(db *gorm.DB, req Request, userID uint) (*Resolution, error) {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}

	resolution := &Resolution{
		ClearTrackingCookie: true,
		SetAuthCookie:       true,
	}

	if req.TrackingCookie != "" {
		session, err := FindActiveBySessionID(db, req.TrackingCookie, TypeTracking, req.Now, r.sessionTimeout())
		if err == nil {
			if err := Convert(r.logger, db, session.SessionID, userID, req.Now); err != nil {
				return nil, err
			}
			converted, err := FindBySessionID(db, session.SessionID)
			if err != nil {
				return nil, err
			}
			resolution.Session = converted
			return resolution, nil
		}
		var notFound *SessionNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// The auth cookie may already hold a converted session from a previous
	// login in this browser; re-converting must not duplicate ConvertedAt.
	if req.AuthCookie != "" {
		session, err := FindActiveBySessionID(db, req.AuthCookie, TypeAuthentication, req.Now, r.authTimeout())
		if err == nil && session.UserID != nil && *session.UserID == userID {
			if err := UpdateActivity(r.logger, db, session, req.Now, 0); err != nil {
				return nil, err
			}
			resolution.Session = session
			return resolution, nil
		}
	}

	session, err := r.buildTracking(db, req)
	if err != nil {
		return nil, err
	}
	session.SessionType = TypeAuthentication
	session.IsAuthenticated = true
	session.UserID = &userID
	convertedAt := req.Now
	session.ConvertedAt = &convertedAt
	if err := Insert(r.logger, db, session); err != nil {
		return nil, err
	}

	resolution.Session = session
	resolution.IsNewSession = true
	return resolution, nil
}

// Logout deactivates the auth session and mints a brand-new anonymous
// tracking session so post-logout browsing stays attributable.
func (r *Resolver) Logout(db *gorm.DB, req Request) (*Resolution, error) {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}

	if req.AuthCookie != "" {
		if err := Deactivate(r.logger, db, req.AuthCookie); err != nil {
			return nil, err
		}
	}

	resolution := &Resolution{ClearAuthCookie: true}
	req.TrackingCookie = ""
	return r.createTracking(db, req, resolution)
}
