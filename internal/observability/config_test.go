package observability

import (
	"testing"

	"github.com/smallbiznis/paysync/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromAppConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     " ",
		Environment: "staging",
		AppVersion:  "1.2.3",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "debug",
			OtelProtocol:  "http",
			OtelEndpoint:  "collector:4318",
			SamplingRatio: 0.25,
		},
	})

	assert.Equal(t, "paysync", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.True(t, cfg.Debug())

	tc := cfg.tracingConfig()
	assert.Equal(t, "http", tc.ExporterProtocol)
	assert.Equal(t, "collector:4318", tc.ExporterEndpoint)
	assert.Equal(t, 0.25, tc.SamplingRatio)
	assert.True(t, cfg.loggerConfig().IncludeStackOnError)
}

func TestDebugFollowsEnvironment(t *testing.T) {
	assert.True(t, Config{Environment: "development", LogLevel: "info"}.Debug())
	assert.False(t, Config{Environment: "production", LogLevel: "info"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "DEBUG"}.Debug())
}
