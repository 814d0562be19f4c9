package extract

import (
	"context"

	"coursemirror/pkg/models"
	"coursemirror/pkg/session"
)

// LessonContent is the structured record an extractor produces from one
// lesson page: a title, the cleaned body HTML, and the media the body
// references. Media URLs are absolute; the body HTML carries the same
// absolute URLs so the writer can map them to local paths.
type LessonContent struct {
	Title    string
	BodyHTML string
	Media    []models.MediaAsset
}

// CourseExtractor fetches the chapter/lesson index for a course. How a
// platform lays out its catalog is platform knowledge, so this is a
// collaborator contract like session.AuthProvider.
type CourseExtractor interface {
	FetchCourse(ctx context.Context, client *session.Client, courseID string) (*models.Course, error)
}

// LessonExtractor turns one fetched lesson page into a LessonContent
// record. Fails with ErrParsing when the page does not match the
// platform's selectors; the caller treats that as lesson-fatal, not
// course-fatal.
type LessonExtractor interface {
	ExtractLesson(ctx context.Context, client *session.Client, lesson models.Lesson) (*LessonContent, error)
}

// MarkdownWriter persists a LessonContent as a Markdown file. Same input
// must always produce byte-identical output: a lesson regenerated after a
// crash must not show up as a diff against the first run. localMedia maps
// absolute asset URLs to paths relative to the markdown file's directory;
// unmapped media keep their remote URLs.
type MarkdownWriter interface {
	WriteLesson(content *LessonContent, destPath string, localMedia map[string]string) error
}
