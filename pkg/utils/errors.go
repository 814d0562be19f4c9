package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed     = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError  = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status

	ErrAuthentication     = errors.New("authentication failure")       // Session-fatal; triggers re-login
	ErrManualIntervention = errors.New("manual intervention required") // Pause signal, not a task failure
	ErrParsing            = errors.New("parsing error")                // Lesson-fatal; course walk continues
	ErrChecksumMismatch   = errors.New("checksum mismatch")            // Asset-fatal; partial file discarded
	ErrSizeMismatch       = errors.New("size mismatch")                // Downloaded length != declared length

	ErrInvalidStateTransition = errors.New("invalid task state transition")
	ErrDuplicateActiveTask    = errors.New("an active task already targets this course")
	ErrTaskNotFound           = errors.New("task not found")
	ErrProgressNotFound       = errors.New("no progress record for course")
	ErrSessionPoolClosed      = errors.New("session pool closed")

	ErrFilesystem         = errors.New("filesystem error") // Wraps os errors
	ErrDatabase           = errors.New("database error")   // Wraps badger errors
	ErrSemaphoreTimeout   = errors.New("timeout acquiring semaphore")
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrMarkdownConversion = errors.New("failed to convert HTML to markdown")
	ErrMarkdownInvalid    = errors.New("generated markdown is not well-formed")
	ErrConfigValidation   = errors.New("configuration validation error")
)

// WrapErrorf wraps a sentinel with formatted detail, keeping the sentinel
// matchable via errors.Is.
func WrapErrorf(sentinel error, format string, args ...interface{}) error {
	detail := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// IsTransient reports whether err should be retried with backoff rather than
// treated as fatal for its unit of work. Context cancellation is never
// transient; a deadline expiry on a network call is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch {
	case errors.Is(err, ErrServerHTTPError),
		errors.Is(err, ErrResponseBodyRead),
		errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrManualIntervention),
		errors.Is(err, ErrParsing),
		errors.Is(err, ErrClientHTTPError):
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "reset by peer") ||
		strings.Contains(msg, "broken pipe")
}

// CategorizeError maps an error to a predefined category string for logging
// and for the error type persisted in progress records.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrManualIntervention):
		return "ManualIntervention"
	case errors.Is(err, ErrAuthentication):
		return "Authentication"
	case errors.Is(err, ErrChecksumMismatch):
		return "Content_ChecksumMismatch"
	case errors.Is(err, ErrSizeMismatch):
		return "Content_SizeMismatch"
	case errors.Is(err, ErrInvalidStateTransition):
		return "Task_InvalidTransition"
	case errors.Is(err, ErrDuplicateActiveTask):
		return "Task_DuplicateActive"
	case errors.Is(err, ErrTaskNotFound):
		return "Task_NotFound"
	case errors.Is(err, ErrRetryFailed):
		underlying := errors.Unwrap(err)
		if underlying != nil {
			if errors.Is(underlying, ErrServerHTTPError) {
				return "RetryFailed_HTTPServer"
			}
			if errors.Is(underlying, ErrClientHTTPError) {
				return "RetryFailed_HTTPClient"
			}

			// Check for common network error substrings if wrapped error isn't a known sentinel
			errMsg := underlying.Error()
			if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "Timeout") || strings.Contains(errMsg, "deadline exceeded") {
				return "RetryFailed_NetworkTimeout"
			}
			if strings.Contains(errMsg, "connection refused") {
				return "RetryFailed_ConnectionRefused"
			}
			if strings.Contains(errMsg, "no such host") {
				return "RetryFailed_DNSLookup"
			}
			var netErr net.Error
			if errors.As(underlying, &netErr) {
				if netErr.Timeout() {
					return "RetryFailed_NetworkTimeout"
				}
			}
			return "RetryFailed_NetworkOther"
		}
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401 ") {
			return "HTTP_401"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrMarkdownConversion):
		return "Content_Markdown"
	case errors.Is(err, ErrMarkdownInvalid):
		return "Content_MarkdownInvalid"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrSessionPoolClosed):
		return "Resource_SessionPoolClosed"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	// Network errors (if not wrapped by custom sentinels)
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "Network_Timeout"
		}
	}
	errMsg := err.Error()
	lowerErrMsg := strings.ToLower(errMsg)
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if strings.Contains(lowerErrMsg, "broken pipe") {
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
