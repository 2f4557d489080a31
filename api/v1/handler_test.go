// Package v1_test contains tests for the API v1 handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressbeat/internal/events"
	"pressbeat/internal/sessions"
	"pressbeat/internal/testsupport"
)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func postEvent(t *testing.T, payload map[string]interface{}) *http.Request {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	return req
}

func TestCreateEventHandler(t *testing.T) {
	t.Run("accepts valid event and mints a session", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		article := testsupport.CreateTestArticle(t, db, "liked-post", "Liked Post")
		app := testsupport.CreateMinimalTestApp(t, db)

		resp, err := app.Test(postEvent(t, map[string]interface{}{
			"contentId": article.ID,
			"eventType": "like",
			"pageUrl":   "https://example.com/articles/liked-post",
		}), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, "Event added successfully", respBody["message"])

		// A cookieless caller gets a fresh tracking session
		var cookieSet bool
		for _, cookie := range resp.Cookies() {
			if cookie.Name == "pressbeat_tid" && cookie.Value != "" {
				cookieSet = true
			}
		}
		assert.True(t, cookieSet, "expected a tracking cookie on the response")

		var count int64
		require.NoError(t, db.Model(&events.Event{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("reuses the session from the tracking cookie", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		session := testsupport.CreateTestSession(t, db, "203.0.113.10", browserUA, time.Minute)

		req := postEvent(t, map[string]interface{}{"eventType": "share"})
		req.AddCookie(&http.Cookie{Name: "pressbeat_tid", Value: session.SessionID})

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var event events.Event
		require.NoError(t, db.Where("event_type = ?", "share").First(&event).Error)
		assert.Equal(t, session.SessionID, event.SessionID)

		// Events prove activity but are not page views
		reloaded, err := sessions.FindBySessionID(db, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 1, reloaded.PageCount)
	})

	t.Run("rejects unknown event type", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		resp, err := app.Test(postEvent(t, map[string]interface{}{"eventType": "pageview"}), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects event for missing content", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		resp, err := app.Test(postEvent(t, map[string]interface{}{
			"contentId": 9999,
			"eventType": "like",
		}), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, "CONTENT_NOT_FOUND", respBody["code"])
	})

	t.Run("ignores bot traffic", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := postEvent(t, map[string]interface{}{"eventType": "like"})
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var count int64
		require.NoError(t, db.Model(&events.Event{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestCreateEventBeaconHandler(t *testing.T) {
	t.Run("always answers 202", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		// sendBeacon posts text/plain and garbage must not error
		req := httptest.NewRequest("POST", "/api/v1/events/beacon", bytes.NewReader([]byte("not json")))
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("User-Agent", browserUA)

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("records a scroll event", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		article := testsupport.CreateTestArticle(t, db, "scrolled-post", "Scrolled Post")
		app := testsupport.CreateMinimalTestApp(t, db)

		body, err := json.Marshal(map[string]interface{}{
			"contentId": article.ID,
			"eventType": "scroll",
			"eventData": map[string]interface{}{"depth": 75},
		})
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/v1/events/beacon", bytes.NewReader(body))
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("User-Agent", browserUA)

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var event events.Event
		require.NoError(t, db.Where("event_type = ?", "scroll").First(&event).Error)
		assert.Equal(t, 75, event.Depth())
	})
}

func TestGetSessionInfoHandler(t *testing.T) {
	t.Run("returns the session summary", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		session := testsupport.CreateTestSession(t, db, "203.0.113.10", browserUA, 5*time.Minute)

		req := httptest.NewRequest("GET", "/api/v1/session", nil)
		req.Header.Set("User-Agent", browserUA)
		req.AddCookie(&http.Cookie{Name: "pressbeat_tid", Value: session.SessionID})

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, session.SessionID, respBody["sessionId"])
		assert.Equal(t, "tracking", respBody["sessionType"])
		assert.Equal(t, false, respBody["isAuthenticated"])
	})

	t.Run("404 without a session", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := httptest.NewRequest("GET", "/api/v1/session", nil)
		req.Header.Set("User-Agent", browserUA)

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("404 for an expired session", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		stale := testsupport.CreateTestSession(t, db, "203.0.113.10", browserUA, 2*time.Hour)

		req := httptest.NewRequest("GET", "/api/v1/session", nil)
		req.Header.Set("User-Agent", browserUA)
		req.AddCookie(&http.Cookie{Name: "pressbeat_tid", Value: stale.SessionID})

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
