package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Authentication", ErrAuthentication, "Authentication"},
		{"ManualIntervention", ErrManualIntervention, "ManualIntervention"},
		{"ChecksumMismatch", ErrChecksumMismatch, "Content_ChecksumMismatch"},
		{"SizeMismatch", ErrSizeMismatch, "Content_SizeMismatch"},
		{"InvalidStateTransition", ErrInvalidStateTransition, "Task_InvalidTransition"},
		{"DuplicateActiveTask", ErrDuplicateActiveTask, "Task_DuplicateActive"},
		{"TaskNotFound", ErrTaskNotFound, "Task_NotFound"},
		{"MarkdownConversion", ErrMarkdownConversion, "Content_Markdown"},
		{"MarkdownInvalid", ErrMarkdownInvalid, "Content_MarkdownInvalid"},
		{"SemaphoreTimeout", ErrSemaphoreTimeout, "Resource_SemaphoreTimeout"},
		{"SessionPoolClosed", ErrSessionPoolClosed, "Resource_SessionPoolClosed"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			"RetryFailed wrapping server error",
			fmt.Errorf("%w: %w", ErrRetryFailed, ErrServerHTTPError),
			"RetryFailed_HTTPServer",
		},
		{
			"RetryFailed wrapping timeout string",
			fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: i/o timeout")),
			"RetryFailed_NetworkTimeout",
		},
		{
			"RetryFailed wrapping connection refused",
			fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("connect: connection refused")),
			"RetryFailed_ConnectionRefused",
		},
		{
			"RetryFailed wrapping DNS error",
			fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("lookup example.com: no such host")),
			"RetryFailed_DNSLookup",
		},
		{
			"Filesystem wrapping permission error",
			fmt.Errorf("%w: %w", ErrFilesystem, os.ErrPermission),
			"Filesystem_Permission",
		},
		{
			"Filesystem wrapping not-exist error",
			fmt.Errorf("%w: %w", ErrFilesystem, os.ErrNotExist),
			"Filesystem_NotExist",
		},
		{
			"Authentication with detail",
			WrapErrorf(ErrAuthentication, "session %s rejected", "s1"),
			"Authentication",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ClientHTTPCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			"404",
			fmt.Errorf("%w: status 404 Not Found", ErrClientHTTPError),
			"HTTP_404",
		},
		{
			"403",
			fmt.Errorf("%w: status 403 Forbidden", ErrClientHTTPError),
			"HTTP_403",
		},
		{
			"401",
			fmt.Errorf("%w: status 401 Unauthorized", ErrClientHTTPError),
			"HTTP_401",
		},
		{
			"429",
			fmt.Errorf("%w: status 429 Too Many Requests", ErrClientHTTPError),
			"HTTP_429",
		},
		{
			"Generic 4xx",
			fmt.Errorf("%w: status 418 I'm a teapot", ErrClientHTTPError),
			"HTTP_4xx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ParsingErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			"URL parsing",
			fmt.Errorf("%w: invalid URL in lesson link", ErrParsing),
			"Content_ParsingURL",
		},
		{
			"HTML parsing",
			fmt.Errorf("%w: malformed HTML in lesson body", ErrParsing),
			"Content_ParsingHTML",
		},
		{
			"JSON parsing",
			fmt.Errorf("%w: bad JSON in course listing", ErrParsing),
			"Content_ParsingJSON",
		},
		{
			"Other parsing",
			fmt.Errorf("%w: something else", ErrParsing),
			"Content_ParsingOther",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	if got := CategorizeError(context.Canceled); got != "System_ContextCanceled" {
		t.Errorf("CategorizeError(context.Canceled) = %q", got)
	}
	if got := CategorizeError(context.DeadlineExceeded); got != "System_ContextDeadlineExceeded" {
		t.Errorf("CategorizeError(context.DeadlineExceeded) = %q", got)
	}
	wrapped := fmt.Errorf("acquiring semaphore: %w", context.DeadlineExceeded)
	if got := CategorizeError(wrapped); got != "Resource_SemaphoreTimeout" {
		t.Errorf("CategorizeError(semaphore deadline) = %q", got)
	}
}

func TestCategorizeError_NetworkStrings(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Timeout", errors.New("read tcp: i/o timeout"), "Network_TimeoutGeneric"},
		{"ConnectionRefused", errors.New("dial tcp: connection refused"), "Network_ConnectionRefused"},
		{"DNSLookup", errors.New("lookup cdn.example.com: no such host"), "Network_DNSLookup"},
		{"TLS", errors.New("tls: handshake failure"), "Network_TLS"},
		{"Reset", errors.New("read: connection reset by peer"), "Network_ConnectionReset"},
		{"BrokenPipe", errors.New("write: broken pipe"), "Network_BrokenPipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	result := CategorizeError(errors.New("some mystery failure"))
	if result != "Unknown" {
		t.Errorf("CategorizeError(unknown) = %q, want Unknown", result)
	}
}

// --- IsTransient Tests ---

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"server error", ErrServerHTTPError, true},
		{"body read", ErrResponseBodyRead, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"authentication", ErrAuthentication, false},
		{"manual intervention", ErrManualIntervention, false},
		{"parsing", ErrParsing, false},
		{"client HTTP", ErrClientHTTPError, false},
		{"timeout string", errors.New("dial tcp: i/o timeout"), true},
		{"connection refused string", errors.New("connect: connection refused"), true},
		{"mystery", errors.New("some mystery failure"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Clean", "my-lesson", "my-lesson"},
		{"Slashes", "a/b\\c", "a_b_c"},
		{"ConsecutiveUnderscores", "a///b", "a_b"},
		{"LeadingTrailing", "  _name_  ", "name"},
		{"Empty", "", "untitled"},
		{"OnlyInvalid", "///", "untitled"},
		{"Unicode", "第01讲_开篇词", "第01讲_开篇词"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "abcde"
	}
	result := SanitizeFilename(long)
	if len(result) > 100 {
		t.Errorf("SanitizeFilename long name length = %d, want <= 100", len(result))
	}
}

// --- Naming helper Tests ---

func TestCourseDirName(t *testing.T) {
	got := CourseDirName("100022001", "Go Core/36 Lessons")
	want := "[100022001]__Go Core_36 Lessons"
	if got != want {
		t.Errorf("CourseDirName = %q, want %q", got, want)
	}
}

func TestChapterDirName(t *testing.T) {
	if got := ChapterDirName(3, "Basics"); got != "03__Basics" {
		t.Errorf("ChapterDirName = %q", got)
	}
}

func TestLessonFileName(t *testing.T) {
	if got := LessonFileName(1, "Intro"); got != "01__Intro.md" {
		t.Errorf("LessonFileName = %q", got)
	}
}

// --- CompileRegexPatterns Tests ---

func TestCompileRegexPatterns_ValidPatterns(t *testing.T) {
	patterns := []string{`^https?://`, `\.mp4$`}
	compiled, err := CompileRegexPatterns(patterns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 2 {
		t.Errorf("expected 2 compiled patterns, got %d", len(compiled))
	}
}

func TestCompileRegexPatterns_EmptySlice(t *testing.T) {
	compiled, err := CompileRegexPatterns(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 0 {
		t.Errorf("expected 0 compiled patterns, got %d", len(compiled))
	}
}

func TestCompileRegexPatterns_EmptyStringsSkipped(t *testing.T) {
	compiled, err := CompileRegexPatterns([]string{"", `\.png$`, ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 1 {
		t.Errorf("expected 1 compiled pattern, got %d", len(compiled))
	}
}

func TestCompileRegexPatterns_InvalidPattern(t *testing.T) {
	_, err := CompileRegexPatterns([]string{`valid`, `([unclosed`})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if !errors.Is(err, ErrConfigValidation) {
		t.Errorf("expected ErrConfigValidation, got: %v", err)
	}
}

// --- Hash Tests ---

func TestCalculateStringSHA256(t *testing.T) {
	// Known SHA-256 of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := CalculateStringSHA256("hello"); got != expected {
		t.Errorf("CalculateStringSHA256(hello) = %q, want %q", got, expected)
	}
}

func TestShortURLHash(t *testing.T) {
	h := ShortURLHash("https://cdn.example.com/a.png", 12)
	if len(h) != 12 {
		t.Errorf("ShortURLHash length = %d, want 12", len(h))
	}
	// Stable for the same input
	if h != ShortURLHash("https://cdn.example.com/a.png", 12) {
		t.Error("ShortURLHash not deterministic")
	}
	// Oversized n clamps to full digest
	full := ShortURLHash("x", 1000)
	if len(full) != 64 {
		t.Errorf("clamped hash length = %d, want 64", len(full))
	}
}

func TestCalculateFileSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := CalculateFileSHA256(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != expected {
		t.Errorf("CalculateFileSHA256 = %q, want %q", got, expected)
	}
}

func TestCalculateFileMD5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := CalculateFileMD5(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Known MD5 of "hello"
	if got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("CalculateFileMD5 = %q", got)
	}
}

func TestCalculateFileSHA256_NonExistentFile(t *testing.T) {
	_, err := CalculateFileSHA256(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCalculateFileSHA256_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := CalculateFileSHA256(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// SHA-256 of empty input
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != expected {
		t.Errorf("CalculateFileSHA256(empty) = %q, want %q", got, expected)
	}
}

// --- WrapErrorf Tests ---

func TestWrapErrorf_KeepsSentinel(t *testing.T) {
	err := WrapErrorf(ErrChecksumMismatch, "asset %s: got %s", "a.png", "deadbeef")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("wrapped error does not match sentinel: %v", err)
	}
	want := "checksum mismatch: asset a.png: got deadbeef"
	if err.Error() != want {
		t.Errorf("WrapErrorf message = %q, want %q", err.Error(), want)
	}
}
