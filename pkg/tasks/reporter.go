package tasks

import (
	"context"
	"fmt"
	"time"

	"coursemirror/pkg/models"
)

// taskReporter is the runner-facing view of one task: progress counters,
// a bounded log tail, and the pause/resume handshake all funnel through
// the manager's task record.
type taskReporter struct {
	m      *Manager
	taskID string
}

func (r *taskReporter) SetCourseTitle(title string) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if t, ok := r.m.tasks[r.taskID]; ok {
		t.view.CourseTitle = title
	}
}

func (r *taskReporter) Progress(update models.TaskProgress) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if t, ok := r.m.tasks[r.taskID]; ok {
		t.view.Progress = update
	}
}

// Logf appends one line to the task's log tail, dropping the oldest line
// once the configured capacity is reached.
func (r *taskReporter) Logf(format string, args ...interface{}) {
	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[r.taskID]
	if !ok {
		return
	}
	t.view.Logs = append(t.view.Logs, line)
	if limit := r.m.cfg.TaskLogCapacity; limit > 0 && len(t.view.Logs) > limit {
		t.view.Logs = t.view.Logs[len(t.view.Logs)-limit:]
	}
}

// PauseAndWait transitions the task to paused and blocks until Resume or
// cancellation. On resume the task is flipped back to running before the
// runner retries its lesson.
func (r *taskReporter) PauseAndWait(ctx context.Context, reason string) error {
	r.m.mu.Lock()
	t, ok := r.m.tasks[r.taskID]
	if !ok {
		r.m.mu.Unlock()
		return ctx.Err()
	}
	// Set the reason first so the transition persists it
	t.view.PauseReason = reason
	if err := r.m.transitionLocked(t, models.TaskStatusPaused); err != nil {
		t.view.PauseReason = ""
		r.m.mu.Unlock()
		return err
	}

	// Drain a stale signal from a previous pause cycle
	select {
	case <-t.resume:
	default:
	}
	resume := t.resume
	r.m.mu.Unlock()

	select {
	case <-resume:
	case <-ctx.Done():
		// Stay paused; the worker records the cancellation
		return ctx.Err()
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.transitionLocked(t, models.TaskStatusRunning)
}
