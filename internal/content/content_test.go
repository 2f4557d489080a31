package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressbeat/internal/content"
	"pressbeat/internal/testsupport"
)

func TestFindBySlug(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	article := testsupport.CreateTestArticle(t, db, "go-concurrency", "Go Concurrency")

	found, err := content.FindBySlug(db, "go-concurrency")
	require.NoError(t, err)
	assert.Equal(t, article.ID, found.ID)
	assert.Equal(t, "Go Concurrency", found.Title)

	_, err = content.FindBySlug(db, "does-not-exist")
	var notFound *content.ContentNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestIncrementViewCount(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	article := testsupport.CreateTestArticle(t, db, "counted", "Counted")

	require.NoError(t, content.IncrementViewCount(logger, db, article.ID))
	require.NoError(t, content.IncrementViewCount(logger, db, article.ID))

	reloaded, err := content.FindByID(db, article.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.ViewCount)

	var notFound *content.ContentNotFoundError
	assert.ErrorAs(t, content.IncrementViewCount(logger, db, 9999), &notFound)
}

func TestIncrementEngagementCounter(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	article := testsupport.CreateTestArticle(t, db, "engaged", "Engaged")

	require.NoError(t, content.IncrementEngagementCounter(logger, db, article.ID, "like"))
	require.NoError(t, content.IncrementEngagementCounter(logger, db, article.ID, "like"))
	require.NoError(t, content.IncrementEngagementCounter(logger, db, article.ID, "comment"))
	require.NoError(t, content.IncrementEngagementCounter(logger, db, article.ID, "share"))
	require.NoError(t, content.IncrementEngagementCounter(logger, db, article.ID, "bookmark"))

	reloaded, err := content.FindByID(db, article.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.LikesCount)
	assert.Equal(t, int64(1), reloaded.CommentCount)
	assert.Equal(t, int64(1), reloaded.Shares)
	assert.Equal(t, int64(1), reloaded.Bookmarks)

	assert.Error(t, content.IncrementEngagementCounter(logger, db, article.ID, "pageview"))
}

func TestBucketForDepth(t *testing.T) {
	tests := []struct {
		depth int
		want  int
	}{
		{0, 0},
		{10, 0},
		{24, 0},
		{25, 25},
		{49, 25},
		{50, 50},
		{60, 50},
		{75, 75},
		{99, 75},
		{100, 100},
		{140, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, content.BucketForDepth(tt.depth), "depth %d", tt.depth)
	}
}

func TestUpsertScrollDepthBucket(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	article := testsupport.CreateTestArticle(t, db, "scrolled", "Scrolled")

	// First sighting creates the row, second increments it. 60% floors to
	// the 50 bucket without touching 25.
	require.NoError(t, content.UpsertScrollDepthBucket(logger, db, article.ID, 60))
	require.NoError(t, content.UpsertScrollDepthBucket(logger, db, article.ID, 55))
	require.NoError(t, content.UpsertScrollDepthBucket(logger, db, article.ID, 100))

	var stats []content.ScrollDepthStat
	require.NoError(t, db.Where("content_id = ?", article.ID).Order("bucket ASC").Find(&stats).Error)
	require.Len(t, stats, 2)
	assert.Equal(t, 50, stats[0].Bucket)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.Equal(t, 100, stats[1].Bucket)
	assert.Equal(t, int64(1), stats[1].Count)

	// Below the first bucket nothing is recorded
	require.NoError(t, content.UpsertScrollDepthBucket(logger, db, article.ID, 10))
	var count int64
	require.NoError(t, db.Model(&content.ScrollDepthStat{}).Where("content_id = ?", article.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
