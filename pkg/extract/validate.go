package extract

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/yuin/goldmark"

	"coursemirror/pkg/utils"
)

// ValidateMarkdown checks that a generated Markdown document is well formed:
// non-empty, valid UTF-8, and parseable. Backs the invariant that a lesson
// recorded as extracted always has a readable file behind it.
func ValidateMarkdown(content []byte) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: document is empty", utils.ErrMarkdownInvalid)
	}
	if !utf8.Valid(content) {
		return fmt.Errorf("%w: document is not valid UTF-8", utils.ErrMarkdownInvalid)
	}
	if err := goldmark.Convert(content, io.Discard); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrMarkdownInvalid, err)
	}
	return nil
}

// ValidateMarkdownFile runs ValidateMarkdown against a file on disk. Used
// when a resumed crawl audits lessons recorded as extracted.
func ValidateMarkdownFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, path, err)
	}
	return ValidateMarkdown(content)
}
