package models

import "time"

// MediaKind distinguishes asset types for download toggles and logging
type MediaKind string

const (
	MediaKindImage      MediaKind = "image"
	MediaKindAudio      MediaKind = "audio"
	MediaKindVideo      MediaKind = "video"
	MediaKindAttachment MediaKind = "attachment"
)

// Course is the structural listing of a course as fetched from the platform.
// It carries no crawl state; progress lives in CourseProgress.
type Course struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Author   string    `json:"author,omitempty"`
	Intro    string    `json:"intro,omitempty"`    // Course description HTML
	CoverURL string    `json:"cover_url,omitempty"`
	Chapters []Chapter `json:"chapters"`
}

// LessonCount returns the total number of lessons across all chapters.
func (c *Course) LessonCount() int {
	n := 0
	for i := range c.Chapters {
		n += len(c.Chapters[i].Lessons)
	}
	return n
}

// Chapter groups an ordered run of lessons. Index is 1-based course order.
type Chapter struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Index   int      `json:"index"`
	Lessons []Lesson `json:"lessons"`
}

// Lesson is a single content unit within a chapter
type Lesson struct {
	ID        string `json:"id"`
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title"`
	Index     int    `json:"index"` // 1-based position within the chapter
	URL       string `json:"url"`   // Lesson page/content URL
}

// MediaAsset describes one downloadable file referenced by a lesson
type MediaAsset struct {
	URL       string    `json:"url"`
	Kind      MediaKind `json:"kind"`
	LessonID  string    `json:"lesson_id,omitempty"`
	LocalPath string    `json:"local_path"`         // Relative to the course directory
	Size      int64     `json:"size,omitempty"`     // Declared size; 0 when unknown
	Checksum  string    `json:"checksum,omitempty"` // Server-declared hex digest; empty = skip verify
}

// AssetDBEntry stores the download outcome of a media asset URL in the
// asset index, keyed by normalized URL so the same file referenced from
// several lessons is fetched once.
type AssetDBEntry struct {
	Status      AssetStatus `json:"status"`
	LocalPath   string      `json:"local_path,omitempty"`  // Relative to the course directory (on success)
	BytesOnDisk int64       `json:"bytes_on_disk"`         // Verified partial length for range resume
	Checksum    string      `json:"checksum,omitempty"`    // Hex digest of the completed file
	ErrorType   string      `json:"error_type,omitempty"`  // Error category (on failure)
	LastAttempt time.Time   `json:"last_attempt"`
}

// CourseMetadata is the standalone record written next to a mirrored
// course so the output directory is self-describing.
type CourseMetadata struct {
	CourseID     string    `json:"course_id"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	ChapterCount int       `json:"chapter_count"`
	LessonCount  int       `json:"lesson_count"`
	MirroredAt   time.Time `json:"mirrored_at"`
	SourceHost   string    `json:"source_host,omitempty"`
}
