package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worktime/internal/calendar"
	"worktime/internal/config"
	"worktime/internal/engine"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "in progress", cfg.Report.Status)
	assert.Equal(t, 30*time.Second, cfg.Tracker.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)

	cal, err := cfg.BusinessCalendar()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, cal.DayStart)
	assert.Equal(t, 17*time.Hour, cal.DayEnd)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
report:
  status: "В работе"
  open_interval: now
  status_aliases:
    "в работе": "В работе"
calendar:
  utc_offset: "+05:00"
`))
	require.NoError(t, err)
	assert.Equal(t, "В работе", cfg.Report.Status)
	assert.Equal(t, "https://storm.alabuga.space", cfg.Tracker.BaseURL)

	e := cfg.Engine(mustCalendar(t, cfg))
	assert.Equal(t, engine.CloseAtNow, e.OpenInterval)
	assert.Equal(t, "В работе", e.Aliases["в работе"])
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"policy":   "report:\n  open_interval: sometimes\n",
		"window":   "calendar:\n  day_start: \"18:00\"\n",
		"offset":   "calendar:\n  utc_offset: moscow\n",
		"cache":    "cache:\n  driver: memcached\n",
		"redis":    "cache:\n  driver: redis\n",
		"status":   "report:\n  status: \"\"\n",
		"filename": "report:\n  filename: report.csv\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = config.Load(dir)
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("tracker:\n  concurrency: 8\n"), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Tracker.Concurrency)
}

func mustCalendar(t *testing.T, cfg *config.Config) calendar.Calendar {
	t.Helper()
	c, err := cfg.BusinessCalendar()
	require.NoError(t, err)
	return c
}
