package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"coursemirror/pkg/config"
	"coursemirror/pkg/models"
	"coursemirror/pkg/parse"
	"coursemirror/pkg/session"
	"coursemirror/pkg/utils"
)

// HTMLLessonExtractor is the selector-driven LessonExtractor: it fetches a
// lesson page through the session, locates the content block with the
// platform's configured selectors, and collects the media the block
// references. Media src/href attributes in the returned body HTML are
// rewritten to absolute URLs so downstream mapping needs no base URL.
type HTMLLessonExtractor struct {
	platCfg config.PlatformConfig
	log     *logrus.Entry
}

func NewHTMLLessonExtractor(platCfg config.PlatformConfig, logger *logrus.Entry) *HTMLLessonExtractor {
	return &HTMLLessonExtractor{platCfg: platCfg, log: logger}
}

// ExtractLesson implements the LessonExtractor interface
func (e *HTMLLessonExtractor) ExtractLesson(ctx context.Context, client *session.Client, lesson models.Lesson) (*LessonContent, error) {
	pageURL, err := url.Parse(lesson.URL)
	if err != nil || !pageURL.IsAbs() {
		return nil, fmt.Errorf("%w: lesson '%s' has invalid URL '%s'", utils.ErrParsing, lesson.ID, lesson.URL)
	}

	doc, err := client.FetchDocument(ctx, lesson.URL)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find(e.platCfg.TitleSelector).First().Text())
	if title == "" {
		title = lesson.Title
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	selection := doc.Find(e.platCfg.ContentSelector)
	if selection.Length() == 0 {
		return nil, fmt.Errorf("%w: content selector '%s' not found on lesson page '%s'",
			utils.ErrParsing, e.platCfg.ContentSelector, lesson.URL)
	}
	// Clone so media rewriting cannot disturb the source document
	body := selection.First().Clone()

	e.cleanupHTML(body)

	media := e.collectMedia(body, pageURL, lesson.ID)

	bodyHTML, err := goquery.OuterHtml(body)
	if err != nil {
		return nil, fmt.Errorf("%w: serializing content of lesson '%s': %w", utils.ErrParsing, lesson.ID, err)
	}

	e.log.WithField("lesson_id", lesson.ID).Debugf("Extracted lesson '%s': %d media refs", title, len(media))
	return &LessonContent{
		Title:    title,
		BodyHTML: bodyHTML,
		Media:    media,
	}, nil
}

// collectMedia walks the content block for downloadable references, rewrites
// each src/href to its absolute form, and returns one MediaAsset per
// distinct URL in document order.
func (e *HTMLLessonExtractor) collectMedia(body *goquery.Selection, pageURL *url.URL, lessonID string) []models.MediaAsset {
	var media []models.MediaAsset
	seen := make(map[string]bool)

	add := func(element *goquery.Selection, attr string, kind models.MediaKind) {
		ref, exists := element.Attr(attr)
		if !exists || strings.TrimSpace(ref) == "" {
			return
		}
		if strings.HasPrefix(ref, "data:") {
			return
		}
		key, abs, err := parse.ResolveAssetURL(pageURL, ref)
		if err != nil {
			e.log.Debugf("Skipping unresolvable media ref '%s': %v", ref, err)
			return
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		element.SetAttr(attr, abs.String())
		if seen[key] {
			return
		}
		seen[key] = true
		media = append(media, models.MediaAsset{
			URL:      abs.String(),
			Kind:     kind,
			LessonID: lessonID,
		})
	}

	body.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		add(s, "src", models.MediaKindImage)
	})

	audioSelector := e.platCfg.AudioSelector
	if audioSelector == "" {
		audioSelector = "audio[src], audio source[src]"
	}
	body.Find(audioSelector).Each(func(i int, s *goquery.Selection) {
		add(s, "src", models.MediaKindAudio)
	})

	body.Find("video[src], video source[src]").Each(func(i int, s *goquery.Selection) {
		add(s, "src", models.MediaKindVideo)
	})

	if e.platCfg.AttachmentSelector != "" {
		body.Find(e.platCfg.AttachmentSelector).Each(func(i int, s *goquery.Selection) {
			add(s, "href", models.MediaKindAttachment)
		})
	}

	return media
}

// cleanupHTML strips elements that carry no content: scripts, styles,
// tracking pixels, and empty fragment-only anchors.
func (e *HTMLLessonExtractor) cleanupHTML(body *goquery.Selection) {
	body.Find("script, style, noscript, iframe").Remove()
	body.Find("a").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if text == "" && strings.HasPrefix(href, "#") {
			s.Remove()
		}
	})
}

var _ LessonExtractor = (*HTMLLessonExtractor)(nil)
