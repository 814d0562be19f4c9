package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveUserAgent(t *testing.T) {
	tests := []struct {
		name     string
		platCfg  PlatformConfig
		appCfg   AppConfig
		expected string
	}{
		{
			name:     "platform overrides global",
			platCfg:  PlatformConfig{UserAgent: "plat-agent/1.0"},
			appCfg:   AppConfig{DefaultUserAgent: "global-agent/1.0"},
			expected: "plat-agent/1.0",
		},
		{
			name:     "platform empty uses global",
			platCfg:  PlatformConfig{},
			appCfg:   AppConfig{DefaultUserAgent: "global-agent/1.0"},
			expected: "global-agent/1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EffectiveUserAgent(tt.platCfg, tt.appCfg)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEffectiveDelayPerHost(t *testing.T) {
	tests := []struct {
		name     string
		platCfg  PlatformConfig
		appCfg   AppConfig
		expected time.Duration
	}{
		{
			name:     "platform delay overrides global",
			platCfg:  PlatformConfig{DelayPerHost: 2 * time.Second},
			appCfg:   AppConfig{DefaultDelayPerHost: 500 * time.Millisecond},
			expected: 2 * time.Second,
		},
		{
			name:     "platform zero uses global",
			platCfg:  PlatformConfig{},
			appCfg:   AppConfig{DefaultDelayPerHost: 500 * time.Millisecond},
			expected: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EffectiveDelayPerHost(tt.platCfg, tt.appCfg)
			assert.Equal(t, tt.expected, result)
		})
	}
}
