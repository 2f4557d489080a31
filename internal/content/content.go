// Package content holds the articles that sessions, page views and events
// attach to, together with the denormalized engagement counters the tracking
// pipeline maintains on them.
package content

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Scroll depth buckets tracked per article.
var ScrollDepthBuckets = []int{25, 50, 75, 100}

// ContentNotFoundError represents an error when an article is not found
type ContentNotFoundError struct {
	ContentID uint
}

func (e *ContentNotFoundError) Error() string {
	return fmt.Sprintf("content not found: %d", e.ContentID)
}

// NewContentNotFoundError creates a new ContentNotFoundError
func NewContentNotFoundError(contentID uint) *ContentNotFoundError {
	return &ContentNotFoundError{ContentID: contentID}
}

// Article represents a piece of published content. The counter columns are
// denormalized aggregates owned by this table and incremented by the tracking
// pipeline; they trade exactness for cheap reads.
type Article struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug         string    `gorm:"uniqueIndex;not null" json:"slug"`
	Title        string    `gorm:"not null" json:"title"`
	AuthorID     uint      `gorm:"index" json:"author_id"`
	PublishedAt  time.Time `json:"published_at"`
	ViewCount    int64     `gorm:"not null;default:0" json:"view_count"`
	LikesCount   int64     `gorm:"not null;default:0" json:"likes_count"`
	CommentCount int64     `gorm:"not null;default:0" json:"comment_count"`
	Shares       int64     `gorm:"not null;default:0" json:"shares"`
	Bookmarks    int64     `gorm:"not null;default:0" json:"bookmarks"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScrollDepthStat counts how many times readers reached a given scroll depth
// bucket on an article. One row per (article, bucket) pair.
type ScrollDepthStat struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ContentID uint      `gorm:"uniqueIndex:idx_content_bucket;not null"`
	Bucket    int       `gorm:"uniqueIndex:idx_content_bucket;not null"`
	Count     int64     `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FindByID retrieves an article by primary key.
func FindByID(db *gorm.DB, contentID uint) (*Article, error) {
	var article Article
	if err := db.First(&article, contentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewContentNotFoundError(contentID)
		}
		return nil, fmt.Errorf("unexpected error querying content: %w", err)
	}
	return &article, nil
}

// FindBySlug retrieves an article by its URL slug.
func FindBySlug(db *gorm.DB, slug string) (*Article, error) {
	var article Article
	if err := db.Where("slug = ?", slug).First(&article).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &ContentNotFoundError{}
		}
		return nil, fmt.Errorf("unexpected error querying content: %w", err)
	}
	return &article, nil
}

// IncrementViewCount adds one unique view to an article. The increment runs
// as a relative update so concurrent sessions never clobber each other.
func IncrementViewCount(logger *slog.Logger, db *gorm.DB, contentID uint) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Article{}).
			Where("id = ?", contentID).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewContentNotFoundError(contentID)
		}
		return nil
	})
}

// IncrementEngagementCounter bumps the denormalized counter matching an
// engagement kind (like, comment, share, bookmark).
func IncrementEngagementCounter(logger *slog.Logger, db *gorm.DB, contentID uint, kind string) error {
	column, ok := engagementColumns[kind]
	if !ok {
		return fmt.Errorf("unknown engagement kind: %s", kind)
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Article{}).
			Where("id = ?", contentID).
			UpdateColumn(column, gorm.Expr(column+" + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewContentNotFoundError(contentID)
		}
		return nil
	})
}

var engagementColumns = map[string]string{
	"like":     "likes_count",
	"comment":  "comment_count",
	"share":    "shares",
	"bookmark": "bookmarks",
}

// UpsertScrollDepthBucket credits the bucket matching a reported depth,
// creating the (article, bucket) row on first sight. Depths floor to the
// nearest bucket: 60% credits the 50% bucket only, never the ones below it.
func UpsertScrollDepthBucket(logger *slog.Logger, db *gorm.DB, contentID uint, depth int) error {
	bucket := BucketForDepth(depth)
	if bucket == 0 {
		return nil
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&ScrollDepthStat{}).
			Where("content_id = ? AND bucket = ?", contentID, bucket).
			UpdateColumn("count", gorm.Expr("count + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&ScrollDepthStat{
			ContentID: contentID,
			Bucket:    bucket,
			Count:     1,
		}).Error
	})
}

// BucketForDepth floors a scroll percentage to its bucket. Depths below the
// first bucket report nothing.
func BucketForDepth(depth int) int {
	if depth >= 100 {
		return 100
	}
	bucket := 0
	for _, b := range ScrollDepthBuckets {
		if depth >= b {
			bucket = b
		}
	}
	return bucket
}
