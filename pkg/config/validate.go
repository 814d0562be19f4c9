package config

import (
	"fmt"
	"net/url"
	"time"

	"coursemirror/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumTaskWorkers
	if c.NumTaskWorkers <= 0 {
		warnings = append(warnings, "num_task_workers should be > 0, defaulting to 2")
		c.NumTaskWorkers = 2
	}

	// NumDownloadWorkers
	if c.NumDownloadWorkers <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"num_download_workers not specified or invalid, defaulting to %d",
			c.NumTaskWorkers*2))
		c.NumDownloadWorkers = c.NumTaskWorkers * 2
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	// SessionPoolSize
	if c.SessionPoolSize <= 0 {
		c.SessionPoolSize = c.NumTaskWorkers
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './mirrored_courses'")
		c.OutputBaseDir = "./mirrored_courses"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './mirror_state'")
		c.StateDir = "./mirror_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// MaxAssetAttempts
	if c.MaxAssetAttempts <= 0 {
		c.MaxAssetAttempts = 3
	}

	// AssetClaimLease
	if c.AssetClaimLease <= 0 {
		c.AssetClaimLease = 15 * time.Minute
	}

	// MaxReloginAttempts
	if c.MaxReloginAttempts <= 0 {
		c.MaxReloginAttempts = 2
	}

	// Lesson politeness delay window
	if c.LessonDelayMin < 0 {
		warnings = append(warnings, "lesson_delay_min cannot be negative, setting to 0")
		c.LessonDelayMin = 0
	}
	if c.LessonDelayMax < c.LessonDelayMin {
		warnings = append(warnings, fmt.Sprintf(
			"lesson_delay_max (%v) < lesson_delay_min (%v), using lesson_delay_min for both",
			c.LessonDelayMax, c.LessonDelayMin))
		c.LessonDelayMax = c.LessonDelayMin
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// PerLessonTimeout
	if c.PerLessonTimeout < 0 {
		warnings = append(warnings, "per_lesson_timeout cannot be negative, disabling timeout")
		c.PerLessonTimeout = 0
	}

	// TaskLogCapacity
	if c.TaskLogCapacity <= 0 {
		c.TaskLogCapacity = 200
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks PlatformConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place.
func (c *PlatformConfig) Validate() (warnings []string, err error) {
	// Required: BaseURL, must be absolute http(s)
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: platform has no base_url", utils.ErrConfigValidation)
	}
	u, parseErr := url.Parse(c.BaseURL)
	if parseErr != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: platform base_url %q is not an absolute http(s) URL", utils.ErrConfigValidation, c.BaseURL)
	}

	// ContentSelector is required when lessons are scraped from HTML pages;
	// platforms with a JSON content API may leave it empty.
	if c.ContentSelector == "" && c.LessonContentPath == "" {
		return nil, fmt.Errorf("%w: platform needs content_selector or lesson_content_path", utils.ErrConfigValidation)
	}

	if c.TitleSelector == "" {
		c.TitleSelector = "h1"
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "platform delay_per_host cannot be negative, setting to 0")
		c.DelayPerHost = 0
	}

	if _, compileErr := utils.CompileRegexPatterns(c.DisallowedMediaPatterns); compileErr != nil {
		return warnings, fmt.Errorf("%w: disallowed_media_patterns: %w", utils.ErrConfigValidation, compileErr)
	}

	return warnings, nil
}
