package checkpoint

import (
	"context"
	"time"

	"coursemirror/pkg/models"
)

// ProgressStore persists per-course crawl progress. Implementations must
// make Save atomic: a crash mid-write never leaves a truncated record.
type ProgressStore interface {
	// Load reads the progress record for a course directory. Returns
	// utils.ErrProgressNotFound (wrapped) when no usable record exists.
	Load(courseDir string) (*models.CourseProgress, error)
	// Save durably replaces the progress record for a course directory.
	Save(courseDir string, progress *models.CourseProgress) error
}

// AssetStore tracks media download state keyed by normalized asset URL,
// shared across lessons and courses so each file is fetched once.
type AssetStore interface {
	// Claim atomically registers an asset as pending if it has no entry yet.
	// Returns claimed=true when this caller owns the download; otherwise the
	// existing entry is returned for inspection (done, partial, failed).
	Claim(normalizedURL string, entry *models.AssetDBEntry) (claimed bool, existing *models.AssetDBEntry, err error)
	// CheckAsset returns the stored state for an asset URL.
	CheckAsset(normalizedURL string) (models.AssetStatus, *models.AssetDBEntry, error)
	// UpdateAsset overwrites the stored state for an asset URL.
	UpdateAsset(normalizedURL string, entry *models.AssetDBEntry) error
	// AssetCount returns the number of tracked assets.
	AssetCount() (int, error)
	// RunGC runs the store's garbage collection loop until ctx is done.
	RunGC(ctx context.Context, interval time.Duration)
	Close() error
}
