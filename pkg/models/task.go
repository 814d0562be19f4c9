package models

import "time"

// TaskOptions carries the per-task switches a submitter may set
type TaskOptions struct {
	DownloadImages      bool `json:"download_images" yaml:"download_images"`
	DownloadAudio       bool `json:"download_audio" yaml:"download_audio"`
	DownloadVideo       bool `json:"download_video" yaml:"download_video"`
	DownloadAttachments bool `json:"download_attachments" yaml:"download_attachments"`
}

// DefaultTaskOptions mirrors the common case: text plus images and audio.
func DefaultTaskOptions() TaskOptions {
	return TaskOptions{DownloadImages: true, DownloadAudio: true}
}

// Wants reports whether assets of the given kind should be downloaded
func (o TaskOptions) Wants(kind MediaKind) bool {
	switch kind {
	case MediaKindImage:
		return o.DownloadImages
	case MediaKindAudio:
		return o.DownloadAudio
	case MediaKindVideo:
		return o.DownloadVideo
	case MediaKindAttachment:
		return o.DownloadAttachments
	}
	return false
}

// TaskProgress is a point-in-time counter snapshot for a running crawl
type TaskProgress struct {
	TotalLessons     int    `json:"total_lessons"`
	ExtractedLessons int    `json:"extracted_lessons"`
	SkippedLessons   int    `json:"skipped_lessons"`
	FailedLessons    int    `json:"failed_lessons"`
	CurrentLesson    string `json:"current_lesson,omitempty"` // Title of the lesson being processed
}

// TaskView is the externally visible snapshot of a task. It is a copy:
// callers can hold it without racing the manager's internal record.
type TaskView struct {
	ID          string       `json:"id"`
	CourseID    string       `json:"course_id"`
	CourseTitle string       `json:"course_title,omitempty"`
	Status      TaskStatus   `json:"status"`
	Options     TaskOptions  `json:"options"`
	Progress    TaskProgress `json:"progress"`
	Error       string       `json:"error,omitempty"`      // Failure reason (terminal failed only)
	PauseReason string       `json:"pause_reason,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	FinishedAt  time.Time    `json:"finished_at,omitempty"`
	Logs        []string     `json:"logs,omitempty"` // Bounded tail of task events
}
