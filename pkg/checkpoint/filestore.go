package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"coursemirror/pkg/models"
	"coursemirror/pkg/utils"
)

// ProgressFileName is the per-course progress record, written inside the
// course's output directory so the mirror stays self-contained.
const ProgressFileName = ".progress.json"

// FileStore implements ProgressStore with one JSON file per course.
// Saves go through a temp file plus rename in the same directory, so a
// reader (or a crashed process) only ever sees the old record or the new
// one, never a partial write.
type FileStore struct {
	baseDir string // Mirror root; course directories live under it
	log     *logrus.Entry
	mu      sync.Mutex // Serializes writes; one course is crawled by one worker anyway
}

// NewFileStore creates a FileStore rooted at the mirror output directory
func NewFileStore(baseDir string, logger *logrus.Entry) *FileStore {
	return &FileStore{
		baseDir: baseDir,
		log:     logger,
	}
}

func (s *FileStore) path(courseDir string) string {
	return filepath.Join(s.baseDir, courseDir, ProgressFileName)
}

// Load reads and decodes a course progress record. A missing file and a
// corrupt file both resolve to ErrProgressNotFound: a record we cannot
// trust is worth no more than no record, and the crawl restarts cleanly.
func (s *FileStore) Load(courseDir string) (*models.CourseProgress, error) {
	path := s.path(courseDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", utils.ErrProgressNotFound, courseDir)
		}
		return nil, fmt.Errorf("%w: reading progress record %s: %w", utils.ErrFilesystem, path, err)
	}

	var progress models.CourseProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		s.log.WithFields(logrus.Fields{
			"path":  path,
			"error": err,
		}).Warn("Progress record is corrupt, discarding and starting fresh")
		return nil, fmt.Errorf("%w: corrupt record at %s", utils.ErrProgressNotFound, path)
	}

	if progress.Lessons == nil {
		progress.Lessons = make(map[string]models.LessonRecord)
	}

	return &progress, nil
}

// Save durably replaces the progress record for a course.
func (s *FileStore) Save(courseDir string, progress *models.CourseProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, courseDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating course directory %s: %w", utils.ErrFilesystem, dir, err)
	}

	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}

	// Temp file must live in the target directory: rename is only atomic
	// within a filesystem.
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp progress file in %s: %w", utils.ErrFilesystem, dir, err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("%w: writing temp progress file %s: %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: syncing temp progress file %s: %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: closing temp progress file %s: %w", utils.ErrFilesystem, tmpPath, err)
	}

	if err := os.Rename(tmpPath, s.path(courseDir)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replacing progress record for %s: %w", utils.ErrFilesystem, courseDir, err)
	}

	s.log.WithFields(logrus.Fields{
		"course_dir": courseDir,
		"lessons":    len(progress.Lessons),
	}).Debug("Progress record saved")
	return nil
}

// Verify FileStore satisfies the interface.
var _ ProgressStore = (*FileStore)(nil)

// IsNotFound reports whether err means "no usable progress record".
func IsNotFound(err error) bool {
	return errors.Is(err, utils.ErrProgressNotFound)
}
