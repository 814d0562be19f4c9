package config

import (
	"strings"
	"testing"
	"time"

	"coursemirror/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	// Check defaults applied
	assert.Equal(t, 2, cfg.NumTaskWorkers)
	assert.Equal(t, 4, cfg.NumDownloadWorkers)
	assert.Equal(t, 10, cfg.MaxRequests)
	assert.Equal(t, 2, cfg.MaxRequestsPerHost)
	assert.Equal(t, 2, cfg.SessionPoolSize)
	assert.Equal(t, "./mirrored_courses", cfg.OutputBaseDir)
	assert.Equal(t, "./mirror_state", cfg.StateDir)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, 3, cfg.MaxAssetAttempts)
	assert.Equal(t, 15*time.Minute, cfg.AssetClaimLease)
	assert.Equal(t, 2, cfg.MaxReloginAttempts)
	assert.Equal(t, 30*time.Second, cfg.SemaphoreAcquireTimeout)
	assert.Equal(t, 200, cfg.TaskLogCapacity)

	// Check HTTP client defaults
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 2, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.TLSHandshakeTimeout)
	assert.Equal(t, 1*time.Second, cfg.HTTPClientSettings.ExpectContinueTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.DialerKeepAlive)

	// Check warnings generated
	assert.True(t, containsWarning(warnings, "num_task_workers should be > 0"))
	assert.True(t, containsWarning(warnings, "num_download_workers not specified"))
	assert.True(t, containsWarning(warnings, "max_requests should be > 0"))
	assert.True(t, containsWarning(warnings, "max_requests_per_host should be > 0"))
	assert.True(t, containsWarning(warnings, "output_base_dir is empty"))
	assert.True(t, containsWarning(warnings, "state_dir is empty"))
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := AppConfig{
		NumTaskWorkers:     4,
		NumDownloadWorkers: 8,
		MaxRequests:        100,
		MaxRequestsPerHost: 10,
		SessionPoolSize:    3,
		OutputBaseDir:      "/output",
		StateDir:           "/state",
		MaxRetries:         5,
		InitialRetryDelay:  2 * time.Second,
		MaxRetryDelay:      60 * time.Second,
		HTTPClientSettings: HTTPClientConfig{
			Timeout:      30 * time.Second,
			MaxIdleConns: 50,
		},
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	// No warnings for valid numeric fields
	assert.False(t, containsWarning(warnings, "num_task_workers"))
	assert.False(t, containsWarning(warnings, "max_requests should"))
	assert.False(t, containsWarning(warnings, "output_base_dir"))
	assert.False(t, containsWarning(warnings, "state_dir"))

	// Values should be preserved
	assert.Equal(t, 4, cfg.NumTaskWorkers)
	assert.Equal(t, 8, cfg.NumDownloadWorkers)
	assert.Equal(t, 3, cfg.SessionPoolSize)
	assert.Equal(t, "/output", cfg.OutputBaseDir)
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*AppConfig)
		wantWarning string
		check       func(*testing.T, *AppConfig)
	}{
		{
			name: "negative max_retries",
			setup: func(c *AppConfig) {
				c.MaxRetries = -1
				c.InitialRetryDelay = 1 * time.Second // Prevent default of 3 retries
				c.NumTaskWorkers = 1
				c.MaxRequests = 1
				c.MaxRequestsPerHost = 1
				c.OutputBaseDir = "/out"
				c.StateDir = "/state"
			},
			wantWarning: "max_retries cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.MaxRetries)
			},
		},
		{
			name: "negative per_lesson_timeout",
			setup: func(c *AppConfig) {
				c.PerLessonTimeout = -1 * time.Second
				c.NumTaskWorkers = 1
				c.MaxRequests = 1
				c.MaxRequestsPerHost = 1
				c.OutputBaseDir = "/out"
				c.StateDir = "/state"
			},
			wantWarning: "per_lesson_timeout cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, time.Duration(0), c.PerLessonTimeout)
			},
		},
		{
			name: "negative lesson_delay_min",
			setup: func(c *AppConfig) {
				c.LessonDelayMin = -1 * time.Second
				c.NumTaskWorkers = 1
				c.MaxRequests = 1
				c.MaxRequestsPerHost = 1
				c.OutputBaseDir = "/out"
				c.StateDir = "/state"
			},
			wantWarning: "lesson_delay_min cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, time.Duration(0), c.LessonDelayMin)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{}
			tt.setup(&cfg)

			warnings, err := cfg.Validate()

			require.NoError(t, err)
			assert.True(t, containsWarning(warnings, tt.wantWarning),
				"expected warning containing %q, got %v", tt.wantWarning, warnings)
			tt.check(t, &cfg)
		})
	}
}

func TestAppConfig_Validate_RetryDelayInversion(t *testing.T) {
	cfg := AppConfig{
		NumTaskWorkers:     1,
		MaxRequests:        1,
		MaxRequestsPerHost: 1,
		OutputBaseDir:      "/out",
		StateDir:           "/state",
		MaxRetries:         3,
		InitialRetryDelay:  60 * time.Second, // Greater than max
		MaxRetryDelay:      10 * time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
	assert.Equal(t, 10*time.Second, cfg.InitialRetryDelay) // Should be clamped
}

func TestAppConfig_Validate_LessonDelayInversion(t *testing.T) {
	cfg := AppConfig{
		NumTaskWorkers:     1,
		MaxRequests:        1,
		MaxRequestsPerHost: 1,
		OutputBaseDir:      "/out",
		StateDir:           "/state",
		LessonDelayMin:     5 * time.Second,
		LessonDelayMax:     1 * time.Second, // Less than min
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "lesson_delay_max"))
	assert.Equal(t, 5*time.Second, cfg.LessonDelayMax) // Clamped to min
}

func TestPlatformConfig_Validate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PlatformConfig
		wantErr string
	}{
		{
			name:    "missing base_url",
			cfg:     PlatformConfig{},
			wantErr: "no base_url",
		},
		{
			name: "relative base_url",
			cfg: PlatformConfig{
				BaseURL: "example.com/learn",
			},
			wantErr: "absolute http(s) URL",
		},
		{
			name: "missing content source",
			cfg: PlatformConfig{
				BaseURL: "https://example.com",
			},
			wantErr: "content_selector or lesson_content_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlatformConfig_Validate_Defaults(t *testing.T) {
	cfg := PlatformConfig{
		BaseURL:         "https://example.com",
		ContentSelector: "article.content",
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "h1", cfg.TitleSelector) // Default applied
}

func TestPlatformConfig_Validate_NegativeDelay(t *testing.T) {
	cfg := PlatformConfig{
		BaseURL:         "https://example.com",
		ContentSelector: "main",
		DelayPerHost:    -1 * time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "delay_per_host cannot be negative"))
	assert.Equal(t, time.Duration(0), cfg.DelayPerHost)
}

func TestPlatformConfig_Validate_APIOnlyPlatform(t *testing.T) {
	cfg := PlatformConfig{
		BaseURL:           "https://example.com",
		LessonContentPath: "/serv/v1/article",
	}

	_, err := cfg.Validate()
	require.NoError(t, err)
}

// containsWarning checks if any warning contains the substring.
func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
