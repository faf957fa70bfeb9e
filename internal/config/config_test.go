package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalYAML carries everything Validate requires.
const minimalYAML = `
monitor:
  units: ["unit-1", "unit-2"]
lockcloud:
  base_url: "https://locks.example.com"
  email: "watcher@example.com"
  password: "secret"
directory:
  path: "/data/members.xlsx"
  worksheets: ["Members"]
notify:
  host: "smtp.example.com"
  from: "lockwatch@example.com"
  address_domain: "example.com"
`

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "lockwatch.db", cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.Monitor.ViolationThreshold.Duration())
	assert.Equal(t, 20*time.Hour, cfg.Monitor.CooldownWindow.Duration())
	assert.Equal(t, 30*24*time.Hour, cfg.Monitor.DecayWindow.Duration())
	assert.Equal(t, "0 0 * * *", cfg.Monitor.CheckSchedule)
	assert.Equal(t, "0 1 * * 0", cfg.Monitor.DecaySchedule)
	assert.Equal(t, "K", cfg.Directory.Columns.CardUID)
	assert.Equal(t, 587, cfg.Notify.Port)
	assert.True(t, cfg.Notify.UseTLS)
}

func TestLoadBytes_ExplicitValues(t *testing.T) {
	yaml := minimalYAML + `
server:
  port: 8080
monitor:
  units: ["unit-1"]
  violation_threshold: "48h"
  check_schedule: "30 6 * * *"
directory:
  path: "/data/members.xlsx"
  worksheets: ["Members", "Guests"]
  columns:
    supervisor: "C"
    gender: "B"
    firstname: "D"
    lastname: "E"
    card_uid: "L"
`
	cfg, err := LoadBytes([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"unit-1"}, cfg.Monitor.Units)
	assert.Equal(t, 48*time.Hour, cfg.Monitor.ViolationThreshold.Duration())
	assert.Equal(t, "30 6 * * *", cfg.Monitor.CheckSchedule)
	assert.Equal(t, []string{"Members", "Guests"}, cfg.Directory.Worksheets)
	assert.Equal(t, "L", cfg.Directory.Columns.CardUID)
	assert.Equal(t, "C", cfg.Directory.Columns.Supervisor)
}

func TestLoadBytes_EnvOverride(t *testing.T) {
	t.Setenv("MONITOR_VIOLATION_THRESHOLD", "72h")
	t.Setenv("DATABASE_PATH", "/var/lib/lockwatchd/ledger.db")

	cfg, err := LoadBytes([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 72*time.Hour, cfg.Monitor.ViolationThreshold.Duration())
	assert.Equal(t, "/var/lib/lockwatchd/ledger.db", cfg.Database.Path)
}

func TestLoadBytes_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{"no units", "monitor:\n  units: []\n", "monitor.units"},
		{"bad schedule", "monitor:\n  units: [\"u\"]\n  check_schedule: \"not cron\"\n", "check_schedule"},
		{"missing lockcloud", "lockcloud:\n  base_url: \"\"\n", "lockcloud.base_url"},
		{"missing notify host", "notify:\n  host: \"\"\n  from: \"x@y\"\n  address_domain: \"y\"\n", "notify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(minimalYAML + tt.mutate))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithFile_RejectsOutsidePaths(t *testing.T) {
	_, err := LoadWithFile("/tmp/evil/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path validation")
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90m")))
	assert.Equal(t, 90*time.Minute, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1h")), "negative durations rejected")
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(time.Hour).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1h0m0s", string(text))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
