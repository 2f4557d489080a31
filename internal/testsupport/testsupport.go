// Package testsupport provides shared fixtures for pressbeat's tests: named
// in-memory databases, a DB manager stub and entity factories.
package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pressbeat/internal"
	"pressbeat/internal/config"
	"pressbeat/internal/content"
	"pressbeat/internal/events"
	"pressbeat/internal/pageviews"
	"pressbeat/internal/sessions"
	"pressbeat/internal/users"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with pressbeat's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns all pressbeat models for migration
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&users.User{},
		&content.Article{},
		&content.ScrollDepthStat{},
		&sessions.Session{},
		&pageviews.PageView{},
		&events.Event{},
	}
}

// SetupTestDB creates a test database with all pressbeat models migrated.
// Uses a named in-memory database with cache=shared to allow multiple
// connections to share the same database within a test. Caches the database
// by test name so multiple calls within the same test return the same one.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager backed by SetupTestDB.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables truncates every table so subtests sharing a cached database
// start from a blank slate.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}

	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// These handlers render JSON only; an empty directory keeps the server
	// happy without shipping assets into the test binary.
	dir := t.TempDir()
	cfg.StaticDirectory = dir
	cfg.TemplatesDirectory = dir

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestArticle creates an article with zeroed counters.
func CreateTestArticle(t *testing.T, db *gorm.DB, slug, title string) *content.Article {
	t.Helper()

	article := &content.Article{
		Slug:        slug,
		Title:       title,
		PublishedAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	require.NoError(t, db.Create(article).Error)
	return article
}

// CreateTestUserForAuth creates a user with a properly hashed password.
func CreateTestUserForAuth(t *testing.T, db *gorm.DB, email, password string) *users.User {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)

	user := &users.User{
		Email:             email,
		EncryptedPassword: string(hashedPassword),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateTestSession persists an active tracking session for a fingerprint.
func CreateTestSession(t *testing.T, db *gorm.DB, ip, userAgent string, startedAgo time.Duration) *sessions.Session {
	t.Helper()

	now := time.Now().UTC()
	session := &sessions.Session{
		SessionID:   uuid.NewString(),
		SessionType: sessions.TypeTracking,
		IPAddress:   ip,
		UserAgent:   userAgent,
		DeviceType:  "desktop",
		Browser:     "Chrome",
		OS:          "macOS",
		Country:     "Unknown",
		StartTime:   now.Add(-startedAgo),
		EndTime:     now.Add(-startedAgo),
		PageCount:   1,
		IsActive:    true,
		Source:      "direct",
		Medium:      "none",
	}
	session.RecomputeDuration()
	require.NoError(t, db.Create(session).Error)
	return session
}

// CreateTestPageView persists a page view for a session.
func CreateTestPageView(t *testing.T, db *gorm.DB, session *sessions.Session, contentID *uint, createdAgo time.Duration) *pageviews.PageView {
	t.Helper()

	pv := &pageviews.PageView{
		SessionID:  session.SessionID,
		ContentID:  contentID,
		PageURL:    "https://example.com/",
		DeviceType: session.DeviceType,
		Country:    session.Country,
	}
	require.NoError(t, db.Create(pv).Error)
	if createdAgo > 0 {
		createdAt := time.Now().UTC().Add(-createdAgo)
		require.NoError(t, db.Model(pv).UpdateColumn("created_at", createdAt).Error)
		pv.CreatedAt = createdAt
	}
	return pv
}
