package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coursemirror/pkg/config"
	"coursemirror/pkg/models"
	"coursemirror/pkg/queue"
	"coursemirror/pkg/runner"
	"coursemirror/pkg/utils"
)

// RunFunc executes one crawl task to completion. In production this is
// (*runner.Runner).Run; tests substitute scripted runs.
type RunFunc func(ctx context.Context, courseID string, opts models.TaskOptions, rep runner.Reporter) error

// task is the manager's internal record. The view and resume channel are
// guarded by the manager mutex; ctx/cancel are set once at submission.
type task struct {
	view   models.TaskView
	ctx    context.Context
	cancel context.CancelFunc
	resume chan struct{}
}

// Manager owns the task table and the crawl worker pool. Tasks move
// through queued → running → {completed|failed|cancelled}, with
// running ⇄ paused around manual-intervention waits. One active task per
// course; excess submissions queue in FIFO order behind the fixed worker
// count.
type Manager struct {
	cfg   *config.AppConfig
	queue *queue.TaskQueue
	run   RunFunc
	state *StateFile
	log   *logrus.Logger

	mu       sync.RWMutex
	tasks    map[string]*task
	byCourse map[string]string // courseID -> active task ID

	workerWg sync.WaitGroup
	started  bool
}

// NewManager builds a manager and restores persisted tasks from the state
// dir: terminal tasks come back for Status/List history, active ones are
// re-queued. A task that was running (or paused) when the process died is
// demoted to queued, so its course resumes from the checkpoint.
func NewManager(cfg *config.AppConfig, run RunFunc, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		queue:    queue.NewTaskQueue(logger),
		run:      run,
		state:    NewStateFile(cfg.StateDir),
		log:      logger,
		tasks:    make(map[string]*task),
		byCourse: make(map[string]string),
	}

	views, err := m.state.Load()
	if err != nil {
		return nil, err
	}

	restored := make([]*task, 0, len(views))
	for _, v := range views {
		v := v
		if v.Status == models.TaskStatusRunning || v.Status == models.TaskStatusPaused {
			logger.WithField("task_id", v.ID).Infof(
				"Demoting interrupted task for course '%s' from %s to queued", v.CourseID, v.Status)
			v.Status = models.TaskStatusQueued
			v.StartedAt = time.Time{}
			v.PauseReason = ""
			v.Progress = models.TaskProgress{}
		}
		t := &task{view: v}
		if v.Status == models.TaskStatusQueued {
			t.ctx, t.cancel = context.WithCancel(context.Background())
			t.resume = make(chan struct{}, 1)
			m.byCourse[v.CourseID] = v.ID
			restored = append(restored, t)
		}
		m.tasks[v.ID] = t
	}

	// Requeue in original submission order
	sort.Slice(restored, func(i, j int) bool {
		return restored[i].view.SubmittedAt.Before(restored[j].view.SubmittedAt)
	})
	for _, t := range restored {
		m.queue.Add(t.view.ID)
	}

	if len(restored) > 0 {
		if saveErr := m.saveState(); saveErr != nil {
			return nil, saveErr
		}
	}
	return m, nil
}

// Start launches the worker pool. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.log.Infof("Launching %d crawl task workers", m.cfg.NumTaskWorkers)
	for i := 1; i <= m.cfg.NumTaskWorkers; i++ {
		m.workerWg.Add(1)
		go m.worker(i)
	}
}

// Stop closes the queue and waits for in-flight tasks to finish. Call
// CancelAll first for a fast shutdown.
func (m *Manager) Stop() {
	m.queue.Close()
	m.workerWg.Wait()
}

// Submit registers a crawl task for a course and enqueues it. nil opts
// fall back to the configured default media toggles. A second active task
// for the same course is rejected.
func (m *Manager) Submit(courseID string, opts *models.TaskOptions) (string, error) {
	if courseID == "" {
		return "", fmt.Errorf("%w: empty course id", utils.ErrConfigValidation)
	}

	effective := m.cfg.DefaultMedia
	if opts != nil {
		effective = *opts
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if activeID, exists := m.byCourse[courseID]; exists {
		return "", fmt.Errorf("%w: course '%s' (task %s)", utils.ErrDuplicateActiveTask, courseID, activeID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		view: models.TaskView{
			ID:          uuid.NewString(),
			CourseID:    courseID,
			Status:      models.TaskStatusQueued,
			Options:     effective,
			SubmittedAt: time.Now().UTC(),
		},
		ctx:    ctx,
		cancel: cancel,
		resume: make(chan struct{}, 1),
	}
	m.tasks[t.view.ID] = t
	m.byCourse[courseID] = t.view.ID

	if err := m.saveStateLocked(); err != nil {
		delete(m.tasks, t.view.ID)
		delete(m.byCourse, courseID)
		cancel()
		return "", err
	}

	m.queue.Add(t.view.ID)
	m.log.WithField("task_id", t.view.ID).Infof("Task queued for course '%s'", courseID)
	return t.view.ID, nil
}

// Cancel requests cancellation of a task. A queued task is cancelled
// immediately; a running or paused one has its context cancelled and
// transitions once the worker observes it at the next lesson boundary (a
// paused wait unblocks at once). Cancelling a terminal task is an error.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", utils.ErrTaskNotFound, taskID)
	}

	switch t.view.Status {
	case models.TaskStatusQueued:
		m.queue.Remove(taskID)
		return m.transitionLocked(t, models.TaskStatusCancelled)
	case models.TaskStatusRunning, models.TaskStatusPaused:
		t.cancel()
		return nil
	default:
		return fmt.Errorf("%w: cannot cancel %s task %s", utils.ErrInvalidStateTransition, t.view.Status, taskID)
	}
}

// CancelAll requests cancellation of every non-terminal task
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if t.view.Status.IsActive() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Cancel(id); err != nil && !errors.Is(err, utils.ErrInvalidStateTransition) {
			m.log.Warnf("Cancel during shutdown failed for task %s: %v", id, err)
		}
	}
}

// Resume flips a paused task back to running. The blocked runner wakes and
// retries the lesson it paused on.
func (m *Manager) Resume(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", utils.ErrTaskNotFound, taskID)
	}
	if t.view.Status != models.TaskStatusPaused {
		return fmt.Errorf("%w: resume of %s task %s", utils.ErrInvalidStateTransition, t.view.Status, taskID)
	}

	select {
	case t.resume <- struct{}{}:
	default:
		// A resume signal is already pending
	}
	return nil
}

// Status returns a snapshot of one task. Never blocks on task work.
func (m *Manager) Status(taskID string) (models.TaskView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return models.TaskView{}, fmt.Errorf("%w: %s", utils.ErrTaskNotFound, taskID)
	}
	return snapshotView(t), nil
}

// List returns snapshots of all known tasks, oldest submission first
func (m *Manager) List() []models.TaskView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]models.TaskView, 0, len(m.tasks))
	for _, t := range m.tasks {
		views = append(views, snapshotView(t))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].SubmittedAt.Before(views[j].SubmittedAt)
	})
	return views
}

// ActiveTaskForCourse returns the non-terminal task targeting a course, if any
func (m *Manager) ActiveTaskForCourse(courseID string) (models.TaskView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCourse[courseID]
	if !ok {
		return models.TaskView{}, false
	}
	return snapshotView(m.tasks[id]), true
}

func (m *Manager) worker(id int) {
	defer m.workerWg.Done()
	wlog := m.log.WithField("worker_id", id)

	for {
		taskID, ok := m.queue.Pop()
		if !ok {
			wlog.Debug("Task queue closed, worker exiting")
			return
		}
		m.execute(taskID, wlog)
	}
}

// execute runs one dequeued task through the RunFunc and records the
// terminal state. A panicking run marks the task failed; the pool survives.
func (m *Manager) execute(taskID string, wlog *logrus.Entry) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok || t.view.Status != models.TaskStatusQueued {
		// Cancelled (or lost) between enqueue and dispatch
		m.mu.Unlock()
		return
	}
	if err := m.transitionLocked(t, models.TaskStatusRunning); err != nil {
		m.mu.Unlock()
		wlog.Errorf("Dispatch of task %s rejected: %v", taskID, err)
		return
	}
	ctx := t.ctx
	courseID := t.view.CourseID
	opts := t.view.Options
	m.mu.Unlock()

	tlog := wlog.WithField("task_id", taskID).WithField("course_id", courseID)
	tlog.Info("Task started")

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				tlog.Errorf("Task panicked: %v\n%s", r, debug.Stack())
				runErr = fmt.Errorf("task panic: %v", r)
			}
		}()
		runErr = m.run(ctx, courseID, opts, &taskReporter{m: m, taskID: taskID})
	}()

	m.finish(t, runErr, tlog)
}

func (m *Manager) finish(t *task, runErr error, tlog *logrus.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := models.TaskStatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), t.ctx.Err() != nil:
		next = models.TaskStatusCancelled
	default:
		next = models.TaskStatusFailed
		t.view.Error = runErr.Error()
	}

	if err := m.transitionLocked(t, next); err != nil {
		tlog.Errorf("Recording terminal state %s failed: %v", next, err)
		return
	}
	tlog.WithField("status", next).Info("Task finished")
}

// transitionLocked applies one state-machine step, maintains the active
// index, and persists. Caller holds m.mu.
func (m *Manager) transitionLocked(t *task, next models.TaskStatus) error {
	cur := t.view.Status
	if !cur.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (task %s)", utils.ErrInvalidStateTransition, cur, next, t.view.ID)
	}

	t.view.Status = next
	switch next {
	case models.TaskStatusRunning:
		t.view.PauseReason = ""
		if t.view.StartedAt.IsZero() {
			t.view.StartedAt = time.Now().UTC()
		}
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		t.view.FinishedAt = time.Now().UTC()
		t.view.PauseReason = ""
		if m.byCourse[t.view.CourseID] == t.view.ID {
			delete(m.byCourse, t.view.CourseID)
		}
	}

	return m.saveStateLocked()
}

func (m *Manager) saveState() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveStateLocked()
}

func (m *Manager) saveStateLocked() error {
	views := make([]models.TaskView, 0, len(m.tasks))
	for _, t := range m.tasks {
		views = append(views, snapshotView(t))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].SubmittedAt.Before(views[j].SubmittedAt)
	})
	return m.state.Save(views)
}

// snapshotView copies a task's view so callers never alias the live record
func snapshotView(t *task) models.TaskView {
	v := t.view
	if len(t.view.Logs) > 0 {
		v.Logs = append([]string(nil), t.view.Logs...)
	}
	return v
}
