package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"coursemirror/pkg/utils"
)

// DefaultMarkdownWriter converts lesson body HTML to Markdown and writes it
// to disk. Conversion is deterministic: the same LessonContent and media
// mapping always produce the same bytes, so regenerating a lesson after a
// crash is invisible to a diff.
type DefaultMarkdownWriter struct {
	validate bool
	log      *logrus.Entry
}

func NewMarkdownWriter(validate bool, logger *logrus.Entry) *DefaultMarkdownWriter {
	return &DefaultMarkdownWriter{validate: validate, log: logger}
}

// WriteLesson implements the MarkdownWriter interface
func (w *DefaultMarkdownWriter) WriteLesson(content *LessonContent, destPath string, localMedia map[string]string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content.BodyHTML))
	if err != nil {
		return fmt.Errorf("%w: re-parsing lesson body: %w", utils.ErrParsing, err)
	}

	rewriteMediaRefs(doc, localMedia)

	bodyHTML, err := doc.Find("body").Html()
	if err != nil {
		return fmt.Errorf("%w: serializing lesson body: %w", utils.ErrParsing, err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(bodyHTML)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}

	var sb strings.Builder
	if content.Title != "" {
		sb.WriteString("# ")
		sb.WriteString(content.Title)
		sb.WriteString("\n\n")
	}
	sb.WriteString(strings.TrimSpace(markdown))
	sb.WriteString("\n")
	output := []byte(sb.String())

	if w.validate {
		if err := ValidateMarkdown(output); err != nil {
			return fmt.Errorf("generated markdown for '%s' failed validation: %w", destPath, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: creating lesson directory '%s': %w", utils.ErrFilesystem, filepath.Dir(destPath), err)
	}
	if err := os.WriteFile(destPath, output, 0644); err != nil {
		return fmt.Errorf("%w: writing markdown '%s': %w", utils.ErrFilesystem, destPath, err)
	}

	w.log.Debugf("Wrote Markdown (%d bytes): %s", len(output), destPath)
	return nil
}

// rewriteMediaRefs swaps absolute media URLs for their local relative paths.
// Unmapped references keep their remote URLs so skipped media kinds still
// render from source.
func rewriteMediaRefs(doc *goquery.Document, localMedia map[string]string) {
	if len(localMedia) == 0 {
		return
	}
	rewrite := func(s *goquery.Selection, attr string) {
		ref, exists := s.Attr(attr)
		if !exists {
			return
		}
		if local, ok := localMedia[ref]; ok {
			s.SetAttr(attr, filepath.ToSlash(local))
		}
	}
	doc.Find("img[src], audio[src], video[src], source[src]").Each(func(i int, s *goquery.Selection) {
		rewrite(s, "src")
	})
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		rewrite(s, "href")
	})
}

var _ MarkdownWriter = (*DefaultMarkdownWriter)(nil)
