package config

import (
	"time"

	"coursemirror/pkg/models"
)

// PlatformConfig holds configuration specific to a single course platform
type PlatformConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	UserAgent               string        `yaml:"user_agent,omitempty"`
	DelayPerHost            time.Duration `yaml:"delay_per_host,omitempty"`
	ContentSelector         string        `yaml:"content_selector,omitempty"`    // CSS selector for the lesson body
	TitleSelector           string        `yaml:"title_selector,omitempty"`      // CSS selector for the lesson title
	AudioSelector           string        `yaml:"audio_selector,omitempty"`      // CSS selector for audio sources
	AttachmentSelector      string        `yaml:"attachment_selector,omitempty"` // CSS selector for attachment links
	CourseListPath          string        `yaml:"course_list_path,omitempty"`    // API path for the course listing
	LessonContentPath       string        `yaml:"lesson_content_path,omitempty"` // API path template for lesson content
	AllowedMediaDomains     []string      `yaml:"allowed_media_domains,omitempty"` // Empty = no restriction
	DisallowedMediaDomains  []string      `yaml:"disallowed_media_domains,omitempty"`
	DisallowedMediaPatterns []string      `yaml:"disallowed_media_patterns,omitempty"` // Regexes matched against asset URLs
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent    string        `yaml:"default_user_agent"`
	DefaultDelayPerHost time.Duration `yaml:"default_delay_per_host"`

	// Worker pools
	NumTaskWorkers     int `yaml:"num_task_workers"`     // Concurrent crawl tasks
	NumDownloadWorkers int `yaml:"num_download_workers"` // Concurrent media downloads
	MaxRequests        int `yaml:"max_requests"`         // Global in-flight HTTP bound
	MaxRequestsPerHost int `yaml:"max_requests_per_host"`
	SessionPoolSize    int `yaml:"session_pool_size"` // Authenticated sessions shared by workers

	// Paths
	OutputBaseDir string `yaml:"output_base_dir"` // Mirror root; one course directory per course
	StateDir      string `yaml:"state_dir"`       // Badger asset index + task state file

	// Retry policy (network requests)
	MaxRetries        int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`

	// Retry policy (per-asset download attempts, including checksum failures)
	MaxAssetAttempts int `yaml:"max_asset_attempts,omitempty"`

	// A pending claim in the asset index older than this is treated as
	// abandoned and taken over by the next batch that wants the asset
	AssetClaimLease time.Duration `yaml:"asset_claim_lease,omitempty"`

	// Re-login attempts before a crawl task fails on authentication
	MaxReloginAttempts int `yaml:"max_relogin_attempts,omitempty"`

	// Politeness: random sleep in [min,max] between lesson fetches
	LessonDelayMin time.Duration `yaml:"lesson_delay_min,omitempty"`
	LessonDelayMax time.Duration `yaml:"lesson_delay_max,omitempty"`

	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`
	PerLessonTimeout        time.Duration `yaml:"per_lesson_timeout,omitempty"` // 0 = no timeout

	// Bounded in-memory log tail kept per task
	TaskLogCapacity int `yaml:"task_log_capacity,omitempty"`

	// Default media toggles for tasks submitted without explicit options
	DefaultMedia models.TaskOptions `yaml:"default_media,omitempty"`

	HTTPClientSettings HTTPClientConfig          `yaml:"http_client_settings,omitempty"`
	Platforms          map[string]PlatformConfig `yaml:"platforms"`

	WriteCourseMetadata bool `yaml:"write_course_metadata,omitempty"`
	WriteCourseIntro    bool `yaml:"write_course_intro,omitempty"`
	ValidateMarkdown    bool `yaml:"validate_markdown,omitempty"` // Parse written markdown before recording extracted
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// EffectiveUserAgent resolves the user agent for a platform, falling back
// to the global default.
func EffectiveUserAgent(platCfg PlatformConfig, appCfg AppConfig) string {
	if platCfg.UserAgent != "" {
		return platCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// EffectiveDelayPerHost resolves the per-host politeness delay for a platform.
func EffectiveDelayPerHost(platCfg PlatformConfig, appCfg AppConfig) time.Duration {
	if platCfg.DelayPerHost > 0 {
		return platCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}
