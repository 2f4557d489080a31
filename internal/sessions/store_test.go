package sessions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressbeat/internal/sessions"
	"pressbeat/internal/testsupport"
)

const (
	testIP = "203.0.113.10"
	testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

func TestFindActiveBySessionID(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()
	timeout := 30 * time.Minute

	fresh := testsupport.CreateTestSession(t, db, testIP, testUA, 5*time.Minute)
	stale := testsupport.CreateTestSession(t, db, testIP, testUA, 2*time.Hour)

	found, err := sessions.FindActiveBySessionID(db, fresh.SessionID, sessions.TypeTracking, now, timeout)
	require.NoError(t, err)
	assert.Equal(t, fresh.SessionID, found.SessionID)

	_, err = sessions.FindActiveBySessionID(db, stale.SessionID, sessions.TypeTracking, now, timeout)
	var notFound *sessions.SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)

	// Wrong type never matches
	_, err = sessions.FindActiveBySessionID(db, fresh.SessionID, sessions.TypeAuthentication, now, timeout)
	assert.ErrorAs(t, err, &notFound)
}

func TestFindActiveByFingerprintPrefersMostRecent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()
	timeout := 30 * time.Minute

	testsupport.CreateTestSession(t, db, testIP, testUA, 20*time.Minute)
	recent := testsupport.CreateTestSession(t, db, testIP, testUA, 2*time.Minute)

	found, err := sessions.FindActiveByFingerprint(db, testIP, testUA, sessions.TypeTracking, now, timeout)
	require.NoError(t, err)
	assert.Equal(t, recent.SessionID, found.SessionID)

	_, err = sessions.FindActiveByFingerprint(db, "198.51.100.7", testUA, sessions.TypeTracking, now, timeout)
	var notFound *sessions.SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestUpdateActivityKeepsDurationConsistent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	session := testsupport.CreateTestSession(t, db, testIP, testUA, 10*time.Minute)
	now := time.Now().UTC()

	require.NoError(t, sessions.UpdateActivity(logger, db, session, now, 1))

	reloaded, err := sessions.FindBySessionID(db, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.PageCount)
	assert.False(t, reloaded.EndTime.Before(reloaded.StartTime))
	assert.Equal(t, int(reloaded.EndTime.Sub(reloaded.StartTime).Seconds()), reloaded.Duration)
	assert.InDelta(t, 600, reloaded.Duration, 2)
}

func TestUpdateActivityWithoutPageCountDelta(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	session := testsupport.CreateTestSession(t, db, testIP, testUA, time.Minute)
	require.NoError(t, sessions.UpdateActivity(logger, db, session, time.Now().UTC(), 0))

	reloaded, err := sessions.FindBySessionID(db, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.PageCount)
}

func TestConvertIsIdempotent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	session := testsupport.CreateTestSession(t, db, testIP, testUA, 5*time.Minute)
	now := time.Now().UTC()

	require.NoError(t, sessions.Convert(logger, db, session.SessionID, 42, now))

	converted, err := sessions.FindBySessionID(db, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, converted.SessionID)
	assert.Equal(t, sessions.TypeAuthentication, converted.SessionType)
	assert.True(t, converted.IsAuthenticated)
	require.NotNil(t, converted.UserID)
	assert.Equal(t, uint(42), *converted.UserID)
	require.NotNil(t, converted.ConvertedAt)
	firstConvertedAt := *converted.ConvertedAt

	// A second conversion is a no-op: same user, same ConvertedAt
	require.NoError(t, sessions.Convert(logger, db, session.SessionID, 99, now.Add(time.Minute)))

	again, err := sessions.FindBySessionID(db, session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, again.UserID)
	assert.Equal(t, uint(42), *again.UserID)
	require.NotNil(t, again.ConvertedAt)
	assert.True(t, firstConvertedAt.Equal(*again.ConvertedAt))
}

func TestDeactivate(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	session := testsupport.CreateTestSession(t, db, testIP, testUA, time.Minute)
	require.NoError(t, sessions.Deactivate(logger, db, session.SessionID))

	reloaded, err := sessions.FindBySessionID(db, session.SessionID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)
}

func TestIsNewVisitor(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()
	window := 24 * time.Hour

	// Never seen
	isNew, err := sessions.IsNewVisitor(db, testIP, testUA, now, window)
	require.NoError(t, err)
	assert.True(t, isNew)

	// Only recent history: still a new visitor
	testsupport.CreateTestSession(t, db, testIP, testUA, time.Hour)
	isNew, err = sessions.IsNewVisitor(db, testIP, testUA, now, window)
	require.NoError(t, err)
	assert.True(t, isNew)

	// History older than the window: returning visitor
	testsupport.CreateTestSession(t, db, testIP, testUA, 48*time.Hour)
	isNew, err = sessions.IsNewVisitor(db, testIP, testUA, now, window)
	require.NoError(t, err)
	assert.False(t, isNew)

	// A different fingerprint is unaffected
	isNew, err = sessions.IsNewVisitor(db, "198.51.100.7", testUA, now, window)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestFindExpiredActive(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()
	cutoff := now.Add(-30 * time.Minute)

	expired := testsupport.CreateTestSession(t, db, testIP, testUA, 2*time.Hour)
	testsupport.CreateTestSession(t, db, testIP, testUA, time.Minute)

	found, err := sessions.FindExpiredActive(db, cutoff, 100)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, expired.SessionID, found[0].SessionID)
}

func TestMarkInactiveLosesToRevivedSession(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	now := time.Now().UTC()
	cutoff := now.Add(-30 * time.Minute)

	idle := testsupport.CreateTestSession(t, db, testIP, testUA, time.Hour)
	won, err := sessions.MarkInactive(logger, db, idle.SessionID, cutoff)
	require.NoError(t, err)
	assert.True(t, won)

	reloaded, err := sessions.FindBySessionID(db, idle.SessionID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)

	// A session touched after the cutoff must not be deactivated
	revived := testsupport.CreateTestSession(t, db, testIP, testUA, time.Minute)
	won, err = sessions.MarkInactive(logger, db, revived.SessionID, cutoff)
	require.NoError(t, err)
	assert.False(t, won)

	reloaded, err = sessions.FindBySessionID(db, revived.SessionID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsActive)
}

func TestDeleteInactiveBefore(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	now := time.Now().UTC()

	old := testsupport.CreateTestSession(t, db, testIP, testUA, 40*24*time.Hour)
	require.NoError(t, sessions.Deactivate(logger, db, old.SessionID))

	recent := testsupport.CreateTestSession(t, db, testIP, testUA, time.Hour)
	require.NoError(t, sessions.Deactivate(logger, db, recent.SessionID))

	stillActive := testsupport.CreateTestSession(t, db, testIP, testUA, 40*24*time.Hour)

	deleted, err := sessions.DeleteInactiveBefore(logger, db, now.Add(-30*24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = sessions.FindBySessionID(db, old.SessionID)
	var notFound *sessions.SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = sessions.FindBySessionID(db, recent.SessionID)
	assert.NoError(t, err)
	_, err = sessions.FindBySessionID(db, stillActive.SessionID)
	assert.NoError(t, err)
}
