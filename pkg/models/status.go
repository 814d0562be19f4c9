package models

// TaskStatus represents the lifecycle state of a crawl task
type TaskStatus string

const (
	TaskStatusUnset     TaskStatus = ""          // Zero value = unset/unknown
	TaskStatusQueued    TaskStatus = "queued"    // Accepted, waiting for a worker
	TaskStatusRunning   TaskStatus = "running"   // A worker is executing the crawl
	TaskStatusPaused    TaskStatus = "paused"    // Waiting on manual intervention
	TaskStatusCompleted TaskStatus = "completed" // Terminal: crawl finished
	TaskStatusFailed    TaskStatus = "failed"    // Terminal: unrecoverable error
	TaskStatusCancelled TaskStatus = "cancelled" // Terminal: cancelled by request
)

// String implements fmt.Stringer for logging
func (s TaskStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusPaused,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions are possible
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsActive returns true while the task still occupies its course slot.
// Active tasks block submission of another task for the same course.
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusPaused:
		return true
	}
	return false
}

// validTransitions encodes the task state machine. Cancellation is handled
// separately because it is legal from every non-terminal state.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:  {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {TaskStatusPaused, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusPaused:  {TaskStatusRunning, TaskStatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LessonStatus represents the extraction status of a lesson within a course
type LessonStatus string

const (
	LessonStatusUnset     LessonStatus = ""          // Zero value = unset/unknown
	LessonStatusPending   LessonStatus = "pending"   // Not yet attempted
	LessonStatusExtracted LessonStatus = "extracted" // Text written; skipped on re-crawl
	LessonStatusFailed    LessonStatus = "failed"    // Extraction failed; re-attempted on re-crawl
)

// String implements fmt.Stringer for logging
func (s LessonStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s LessonStatus) IsValid() bool {
	switch s {
	case LessonStatusPending, LessonStatusExtracted, LessonStatusFailed:
		return true
	}
	return false
}

// AssetStatus represents the download status of a media asset
type AssetStatus string

const (
	AssetStatusUnset      AssetStatus = ""           // Zero value = unset/unknown
	AssetStatusPending    AssetStatus = "pending"    // Queued for download
	AssetStatusPartial    AssetStatus = "partial"    // Some bytes on disk; resumable
	AssetStatusDownloaded AssetStatus = "downloaded" // Complete and checksum-verified
	AssetStatusFailed     AssetStatus = "failed"     // Exhausted retries
	AssetStatusSkipped    AssetStatus = "skipped"    // Excluded by media-kind toggle
)

// String implements fmt.Stringer for logging
func (s AssetStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusPending, AssetStatusPartial, AssetStatusDownloaded,
		AssetStatusFailed, AssetStatusSkipped:
		return true
	}
	return false
}
