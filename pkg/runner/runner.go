package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"coursemirror/pkg/checkpoint"
	"coursemirror/pkg/config"
	"coursemirror/pkg/download"
	"coursemirror/pkg/extract"
	"coursemirror/pkg/fetch"
	"coursemirror/pkg/models"
	"coursemirror/pkg/session"
	"coursemirror/pkg/utils"
)

// Reporter is the narrow surface a runner uses to talk back to the task
// manager. The runner never mutates task state directly: progress and
// pauses flow through here, cancellation flows in through the context.
type Reporter interface {
	// SetCourseTitle records the resolved course title once the index loads
	SetCourseTitle(title string)
	// Progress replaces the task's counter snapshot
	Progress(update models.TaskProgress)
	// Logf appends a line to the task's bounded log tail
	Logf(format string, args ...interface{})
	// PauseAndWait flips the task to paused and blocks until an external
	// resume signal or cancellation. A nil return means resume.
	PauseAndWait(ctx context.Context, reason string) error
}

// Runner mirrors one course per Run call: walks the chapter/lesson tree in
// declared order, skips lessons already checkpointed, and contains lesson
// and asset failures so one bad page never aborts the course.
type Runner struct {
	appCfg     *config.AppConfig
	platCfg    config.PlatformConfig
	sessions   *session.Pool
	progress   checkpoint.ProgressStore
	downloads  *download.Pool
	courses    extract.CourseExtractor
	lessons    extract.LessonExtractor
	writer     extract.MarkdownWriter
	disallowed []*regexp.Regexp
	log        *logrus.Logger
}

func New(
	appCfg *config.AppConfig,
	platCfg config.PlatformConfig,
	sessions *session.Pool,
	progress checkpoint.ProgressStore,
	downloads *download.Pool,
	courses extract.CourseExtractor,
	lessons extract.LessonExtractor,
	writer extract.MarkdownWriter,
	log *logrus.Logger,
) (*Runner, error) {
	disallowed, err := utils.CompileRegexPatterns(platCfg.DisallowedMediaPatterns)
	if err != nil {
		return nil, err
	}
	return &Runner{
		appCfg:     appCfg,
		platCfg:    platCfg,
		sessions:   sessions,
		progress:   progress,
		downloads:  downloads,
		courses:    courses,
		lessons:    lessons,
		writer:     writer,
		disallowed: disallowed,
		log:        log,
	}, nil
}

// Run executes one crawl task to completion. The returned error is
// task-fatal; lesson-level failures are recorded in CourseProgress and do
// not surface here.
func (r *Runner) Run(ctx context.Context, courseID string, opts models.TaskOptions, rep Reporter) error {
	runLog := r.log.WithField("course_id", courseID)

	client, err := r.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if client != nil {
			r.sessions.Release(client)
		}
	}()

	var course *models.Course
	err = r.withAuth(ctx, &client, func(c *session.Client) error {
		var fetchErr error
		course, fetchErr = r.courses.FetchCourse(ctx, c, courseID)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("fetching course index: %w", err)
	}
	rep.SetCourseTitle(course.Title)
	rep.Logf("course index loaded: %s (%d lessons)", course.Title, course.LessonCount())

	courseKey := utils.CourseDirName(course.ID, course.Title)
	courseDir := filepath.Join(r.appCfg.OutputBaseDir, courseKey)

	progress, err := r.progress.Load(courseKey)
	if err != nil {
		if !checkpoint.IsNotFound(err) {
			return err
		}
		progress = models.NewCourseProgress(course.ID)
	}
	progress.CourseTitle = course.Title
	progress.OutputDir = courseKey

	// The record exists on disk before any lesson work starts
	if err := r.progress.Save(courseKey, progress); err != nil {
		return err
	}

	r.auditExtractedLessons(progress, courseDir, runLog)

	if r.appCfg.WriteCourseMetadata {
		if metaErr := extract.WriteCourseMetadata(courseDir, r.buildMetadata(course)); metaErr != nil {
			runLog.Warnf("Failed writing course metadata: %v", metaErr)
		}
	}
	if r.appCfg.WriteCourseIntro && (course.Intro != "" || course.CoverURL != "") {
		r.writeIntro(ctx, course, courseDir, opts, runLog)
	}

	totals := models.TaskProgress{TotalLessons: course.LessonCount()}
	rep.Progress(totals)

	for _, chapter := range course.Chapters {
		chapterDir := utils.ChapterDirName(chapter.Index, chapter.Title)

		for _, lesson := range chapter.Lessons {
			// Cancellation boundary: between lessons, never mid-checkpoint
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if progress.IsExtracted(lesson.ID) {
				totals.SkippedLessons++
				rep.Progress(totals)
				continue
			}

			totals.CurrentLesson = lesson.Title
			rep.Progress(totals)

			err := r.processLesson(ctx, &client, lesson, chapterDir, courseDir, courseKey, progress, opts, rep, runLog)
			switch {
			case err == nil:
				totals.ExtractedLessons++
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, utils.ErrAuthentication),
				errors.Is(err, utils.ErrSessionPoolClosed):
				// Session is gone for good; the whole task fails
				return err
			default:
				totals.FailedLessons++
				rep.Logf("lesson '%s' failed: %v", lesson.Title, err)
				runLog.WithField("lesson_id", lesson.ID).Warnf("Lesson failed, continuing course: %v", err)
				progress.Record(models.LessonRecord{
					LessonID:  lesson.ID,
					Title:     lesson.Title,
					Status:    models.LessonStatusFailed,
					ErrorType: utils.CategorizeError(err),
				})
				if saveErr := r.progress.Save(courseKey, progress); saveErr != nil {
					return saveErr
				}
			}
			rep.Progress(totals)

			fetch.SleepRandom(ctx, r.appCfg.LessonDelayMin, r.appCfg.LessonDelayMax)
		}
	}

	totals.CurrentLesson = ""
	rep.Progress(totals)

	extracted, failed := progress.Counts()
	runLog.Infof("Course mirror finished: %d extracted, %d failed, %d skipped this run",
		extracted, failed, totals.SkippedLessons)
	rep.Logf("finished: %d extracted, %d failed", extracted, failed)
	return nil
}

// processLesson handles one pending lesson: extract, download media, write
// markdown, checkpoint. A manual-intervention signal pauses the task and
// retries the same lesson after resume; already-verified media is never
// refetched on that retry since the asset index remembers it.
func (r *Runner) processLesson(
	ctx context.Context,
	client **session.Client,
	lesson models.Lesson,
	chapterDir, courseDir, courseKey string,
	progress *models.CourseProgress,
	opts models.TaskOptions,
	rep Reporter,
	runLog *logrus.Entry,
) error {
	lessonLog := runLog.WithField("lesson_id", lesson.ID)

	for {
		lessonCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.appCfg.PerLessonTimeout > 0 {
			lessonCtx, cancel = context.WithTimeout(ctx, r.appCfg.PerLessonTimeout)
		}

		var content *extract.LessonContent
		err := r.withAuth(lessonCtx, client, func(c *session.Client) error {
			var exErr error
			content, exErr = r.lessons.ExtractLesson(lessonCtx, c, lesson)
			return exErr
		})
		cancel()

		if errors.Is(err, utils.ErrManualIntervention) {
			lessonLog.Warn("Manual intervention required, pausing task")
			rep.Logf("paused on lesson '%s': %v", lesson.Title, err)
			if waitErr := rep.PauseAndWait(ctx, err.Error()); waitErr != nil {
				return waitErr
			}
			lessonLog.Info("Resume signal received, retrying lesson")
			continue
		}
		if err != nil {
			return err
		}

		results := r.downloads.FetchBatch(ctx, content.Media, courseDir, r.downloadOpts(opts), lessonLog)

		lessonFile := filepath.Join(chapterDir, utils.LessonFileName(lesson.Index, lesson.Title))
		localMedia := make(map[string]string)
		for _, asset := range content.Media {
			res, ok := results[asset.URL]
			if !ok {
				continue
			}
			if res.Err != nil {
				// Asset failure is contained; the markdown keeps the remote URL
				lessonLog.Warnf("Asset failed (lesson continues): %s: %v", asset.URL, res.Err)
				continue
			}
			if res.Skipped || res.LocalPath == "" {
				continue
			}
			rel, relErr := filepath.Rel(filepath.Dir(lessonFile), res.LocalPath)
			if relErr != nil {
				continue
			}
			localMedia[asset.URL] = filepath.ToSlash(rel)
		}

		destPath := filepath.Join(courseDir, lessonFile)
		if err := r.writer.WriteLesson(content, destPath, localMedia); err != nil {
			return err
		}

		// Checkpoint before success is visible anywhere upstream
		progress.Record(models.LessonRecord{
			LessonID:    lesson.ID,
			Title:       lesson.Title,
			Status:      models.LessonStatusExtracted,
			LocalPath:   filepath.ToSlash(lessonFile),
			ExtractedAt: time.Now().UTC(),
		})
		if err := r.progress.Save(courseKey, progress); err != nil {
			return err
		}

		lessonLog.Infof("Lesson extracted: %s", lesson.Title)
		return nil
	}
}

// withAuth runs fn and, on an authentication failure, replaces the dead
// session (bounded re-login inside the pool) and runs fn once more.
func (r *Runner) withAuth(ctx context.Context, client **session.Client, fn func(*session.Client) error) error {
	err := fn(*client)
	if !errors.Is(err, utils.ErrAuthentication) {
		return err
	}

	r.log.Warn("Authentication failure, recreating session")
	fresh, recreateErr := r.sessions.Recreate(ctx, *client)
	if recreateErr != nil {
		// Recreate freed the pool slot; Run's deferred release must not
		// release it again
		*client = nil
		return recreateErr
	}
	*client = fresh
	return fn(fresh)
}

// auditExtractedLessons re-checks lessons recorded as extracted on a
// resumed run. A missing or malformed file demotes the record so the
// lesson is redone instead of trusted.
func (r *Runner) auditExtractedLessons(progress *models.CourseProgress, courseDir string, runLog *logrus.Entry) {
	if !r.appCfg.ValidateMarkdown {
		return
	}
	for id, rec := range progress.Lessons {
		if rec.Status != models.LessonStatusExtracted || rec.LocalPath == "" {
			continue
		}
		if err := extract.ValidateMarkdownFile(filepath.Join(courseDir, rec.LocalPath)); err != nil {
			runLog.Warnf("Extracted lesson '%s' failed audit (%v), scheduling re-extraction", rec.Title, err)
			rec.Status = models.LessonStatusPending
			progress.Lessons[id] = rec
		}
	}
}

func (r *Runner) writeIntro(ctx context.Context, course *models.Course, courseDir string, opts models.TaskOptions, runLog *logrus.Entry) {
	coverPath := ""
	if course.CoverURL != "" {
		results := r.downloads.FetchBatch(ctx,
			[]models.MediaAsset{{URL: course.CoverURL, Kind: models.MediaKindImage}},
			courseDir, r.downloadOpts(opts), runLog)
		if res, ok := results[course.CoverURL]; ok && res.Err == nil && !res.Skipped {
			coverPath = res.LocalPath
		}
	}
	if err := extract.WriteCourseIntro(courseDir, course, coverPath); err != nil {
		runLog.Warnf("Failed writing course intro: %v", err)
	}
}

func (r *Runner) buildMetadata(course *models.Course) models.CourseMetadata {
	sourceHost := ""
	if u, err := url.Parse(r.platCfg.BaseURL); err == nil {
		sourceHost = u.Hostname()
	}
	return models.CourseMetadata{
		CourseID:     course.ID,
		Title:        course.Title,
		Author:       course.Author,
		ChapterCount: len(course.Chapters),
		LessonCount:  course.LessonCount(),
		MirroredAt:   time.Now().UTC(),
		SourceHost:   sourceHost,
	}
}

func (r *Runner) downloadOpts(opts models.TaskOptions) download.Options {
	return download.Options{
		Media:              opts,
		UserAgent:          config.EffectiveUserAgent(r.platCfg, *r.appCfg),
		HostDelay:          config.EffectiveDelayPerHost(r.platCfg, *r.appCfg),
		AllowedDomains:     r.platCfg.AllowedMediaDomains,
		DisallowedDomains:  r.platCfg.DisallowedMediaDomains,
		DisallowedPatterns: r.disallowed,
	}
}
