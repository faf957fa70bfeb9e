package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled, "disabled by default")
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "lockwatchd", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SamplingRate)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips validation", func(c *Config) {
			c.Enabled = false
			c.Endpoint = ""
		}, ""},
		{"missing endpoint", func(c *Config) {
			c.Endpoint = ""
		}, "endpoint is required"},
		{"missing service name", func(c *Config) {
			c.ServiceName = ""
		}, "service_name is required"},
		{"insecure remote endpoint", func(c *Config) {
			c.Endpoint = "collector.example.com:4317"
		}, "insecure connections"},
		{"bad sampling rate", func(c *Config) {
			c.SamplingRate = 1.5
		}, "sampling_rate"},
		{"bad export interval", func(c *Config) {
			c.ExportInterval = 0
		}, "export_interval"},
		{"bad shutdown timeout", func(c *Config) {
			c.ShutdownTimeout = 0
		}, "shutdown_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.53:4317", true},
		{"[::1]:4317", true},
		{"collector.example.com:4317", false},
		{"10.0.0.5:4317", false},
	}
	for _, tt := range tests {
		cfg := &Config{Endpoint: tt.endpoint}
		assert.Equal(t, tt.want, cfg.isLocalEndpoint(), tt.endpoint)
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.Nil(t, tel.tracerProvider)

	// Shutdown of a no-op instance is safe.
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.SamplingRate = -1

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestShutdown_NilReceiver(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestShutdown_UsesConfiguredTimeout(t *testing.T) {
	tel := &Telemetry{config: &Config{ShutdownTimeout: time.Millisecond}}
	assert.NoError(t, tel.Shutdown(context.Background()))
}
