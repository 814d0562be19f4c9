package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"coursemirror/pkg/config"
	"coursemirror/pkg/models"
	"coursemirror/pkg/session"
	"coursemirror/pkg/utils"
)

// APICourseExtractor is a CourseExtractor for platforms that expose their
// catalog as JSON. The course index URL comes from the platform's
// course_list_path template; lessons without an explicit URL get one built
// from lesson_content_path. Platforms with HTML-only catalogs supply their
// own CourseExtractor instead.
type APICourseExtractor struct {
	platCfg config.PlatformConfig
	log     *logrus.Entry
}

func NewAPICourseExtractor(platCfg config.PlatformConfig, logger *logrus.Entry) *APICourseExtractor {
	return &APICourseExtractor{platCfg: platCfg, log: logger}
}

// FetchCourse implements the CourseExtractor interface
func (e *APICourseExtractor) FetchCourse(ctx context.Context, client *session.Client, courseID string) (*models.Course, error) {
	indexURL := e.expandPath(e.platCfg.CourseListPath, courseID, "")
	if indexURL == "" {
		return nil, fmt.Errorf("%w: platform has no course_list_path", utils.ErrConfigValidation)
	}

	e.log.WithField("course_id", courseID).Debugf("Fetching course index from %s", indexURL)

	resp, err := client.Fetch(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetching course index for '%s': %w", courseID, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading course index for '%s': %w", utils.ErrResponseBodyRead, courseID, err)
	}

	var course models.Course
	if err := json.Unmarshal(bodyBytes, &course); err != nil {
		return nil, fmt.Errorf("%w: decoding course index for '%s': %w", utils.ErrParsing, courseID, err)
	}
	if course.ID == "" {
		course.ID = courseID
	}

	// Normalize ordering indexes and fill lesson URLs from the template
	for ci := range course.Chapters {
		chapter := &course.Chapters[ci]
		if chapter.Index == 0 {
			chapter.Index = ci + 1
		}
		for li := range chapter.Lessons {
			lesson := &chapter.Lessons[li]
			if lesson.Index == 0 {
				lesson.Index = li + 1
			}
			if lesson.ChapterID == "" {
				lesson.ChapterID = chapter.ID
			}
			if lesson.URL == "" {
				lesson.URL = e.expandPath(e.platCfg.LessonContentPath, courseID, lesson.ID)
			}
		}
	}

	e.log.WithField("course_id", courseID).Infof(
		"Course index fetched: '%s' (%d chapters, %d lessons)",
		course.Title, len(course.Chapters), course.LessonCount())
	return &course, nil
}

// expandPath substitutes {course_id} and {lesson_id} into a path template
// and resolves it against the platform base URL.
func (e *APICourseExtractor) expandPath(tmpl, courseID, lessonID string) string {
	if tmpl == "" {
		return ""
	}
	p := strings.ReplaceAll(tmpl, "{course_id}", courseID)
	p = strings.ReplaceAll(p, "{lesson_id}", lessonID)
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimSuffix(e.platCfg.BaseURL, "/") + "/" + strings.TrimPrefix(p, "/")
}

var _ CourseExtractor = (*APICourseExtractor)(nil)
