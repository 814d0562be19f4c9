package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"coursemirror/pkg/models"
	"coursemirror/pkg/utils"
)

// MetadataFileName is the self-describing record written into each course
// directory alongside the progress record.
const MetadataFileName = ".course_info.json"

// WriteCourseMetadata writes the course metadata record atomically
// (temp file + rename), matching the durability contract of the progress
// record it sits next to.
func WriteCourseMetadata(courseDir string, meta models.CourseMetadata) error {
	if err := os.MkdirAll(courseDir, 0755); err != nil {
		return fmt.Errorf("%w: creating course directory '%s': %w", utils.ErrFilesystem, courseDir, err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling course metadata: %w", utils.ErrParsing, err)
	}

	tmp, err := os.CreateTemp(courseDir, ".course_info-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp metadata file in '%s': %w", utils.ErrFilesystem, courseDir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing temp metadata file: %w", utils.ErrFilesystem, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp metadata file: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpName, filepath.Join(courseDir, MetadataFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: renaming metadata record into place: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// WriteCourseIntro generates the course-level index.md from the course's
// intro record. coverPath, when non-empty, is the downloaded cover image's
// path relative to the course directory.
func WriteCourseIntro(courseDir string, course *models.Course, coverPath string) error {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(course.Title)
	sb.WriteString("\n\n")

	if course.Author != "" {
		sb.WriteString(fmt.Sprintf("**%s**\n\n", course.Author))
	}
	if coverPath != "" {
		sb.WriteString(fmt.Sprintf("![cover](%s)\n\n", filepath.ToSlash(coverPath)))
	}

	if course.Intro != "" {
		converter := md.NewConverter("", true, nil)
		intro, err := converter.ConvertString(course.Intro)
		if err != nil {
			return fmt.Errorf("%w: converting course intro: %w", utils.ErrMarkdownConversion, err)
		}
		sb.WriteString(strings.TrimSpace(intro))
		sb.WriteString("\n")
	}

	if err := os.MkdirAll(courseDir, 0755); err != nil {
		return fmt.Errorf("%w: creating course directory '%s': %w", utils.ErrFilesystem, courseDir, err)
	}
	destPath := filepath.Join(courseDir, "index.md")
	if err := os.WriteFile(destPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("%w: writing course intro '%s': %w", utils.ErrFilesystem, destPath, err)
	}
	return nil
}
