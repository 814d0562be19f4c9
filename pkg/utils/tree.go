package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// WriteTreeStructure walks a mirrored course directory and writes a
// text-based tree of it to outputFilePath. Partial download files are
// omitted: the tree describes the finished mirror, not transfer state.
func WriteTreeStructure(courseDir, outputFilePath string, log *logrus.Entry) error {
	if _, err := os.Stat(courseDir); err != nil {
		return fmt.Errorf("%w: course directory '%s': %v", ErrFilesystem, courseDir, err)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: creating structure file '%s': %v", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	if _, err := fmt.Fprintf(writer, "%s/\n", filepath.Base(courseDir)); err != nil {
		return err
	}

	if err := writeTreeLevel(writer, courseDir, ""); err != nil {
		log.Warnf("Tree generation for '%s' incomplete: %v", courseDir, err)
		return err
	}
	return nil
}

func writeTreeLevel(writer io.Writer, dirPath, indent string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("%w: reading '%s': %v", ErrFilesystem, dirPath, err)
	}

	// Directories first, then case-insensitive by name
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	kept := entries[:0]
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		kept = append(kept, entry)
	}

	for i, entry := range kept {
		isLast := i == len(kept)-1
		connector := entryPrefix
		if isLast {
			connector = lastEntryPrefix
		}
		if _, err := fmt.Fprintf(writer, "%s%s%s\n", indent, connector, entry.Name()); err != nil {
			return err
		}

		if entry.IsDir() {
			nextIndent := indent + verticalLine
			if isLast {
				nextIndent = indent + indentPrefix
			}
			if err := writeTreeLevel(writer, filepath.Join(dirPath, entry.Name()), nextIndent); err != nil {
				return err
			}
		}
	}
	return nil
}
