package models

import "time"

// LessonRecord is the per-lesson entry inside a course progress record
type LessonRecord struct {
	LessonID    string       `json:"lesson_id"`
	Title       string       `json:"title,omitempty"`
	Status      LessonStatus `json:"status"`
	LocalPath   string       `json:"local_path,omitempty"` // Markdown path relative to the course directory
	ErrorType   string       `json:"error_type,omitempty"` // Error category (on failure)
	ExtractedAt time.Time    `json:"extracted_at,omitempty"`
	Attempts    int          `json:"attempts"`
}

// CourseProgress is the durable crawl state for one course. It is the unit
// of checkpointing: written whole after every lesson outcome, loaded whole
// before a crawl to decide which lessons to skip.
type CourseProgress struct {
	CourseID    string                  `json:"course_id"`
	CourseTitle string                  `json:"course_title,omitempty"`
	OutputDir   string                  `json:"output_dir,omitempty"` // Course directory, relative to the mirror root
	Lessons     map[string]LessonRecord `json:"lessons"`              // Keyed by lesson ID
	StartedAt   time.Time               `json:"started_at,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// NewCourseProgress returns an empty progress record for a course
func NewCourseProgress(courseID string) *CourseProgress {
	now := time.Now().UTC()
	return &CourseProgress{
		CourseID:  courseID,
		Lessons:   make(map[string]LessonRecord),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// IsExtracted reports whether a lesson was already extracted in a prior run
func (p *CourseProgress) IsExtracted(lessonID string) bool {
	rec, ok := p.Lessons[lessonID]
	return ok && rec.Status == LessonStatusExtracted
}

// Record upserts a lesson record and bumps the update timestamp
func (p *CourseProgress) Record(rec LessonRecord) {
	if p.Lessons == nil {
		p.Lessons = make(map[string]LessonRecord)
	}
	prev, ok := p.Lessons[rec.LessonID]
	if ok {
		rec.Attempts = prev.Attempts + 1
	} else {
		rec.Attempts = 1
	}
	p.Lessons[rec.LessonID] = rec
	p.UpdatedAt = time.Now().UTC()
}

// Counts returns the number of extracted and failed lessons in the record
func (p *CourseProgress) Counts() (extracted, failed int) {
	for _, rec := range p.Lessons {
		switch rec.Status {
		case LessonStatusExtracted:
			extracted++
		case LessonStatusFailed:
			failed++
		}
	}
	return extracted, failed
}
