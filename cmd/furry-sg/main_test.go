package main

import (
	"bytes"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/furry-sg/driver"
	"github.com/odvcencio/furry-sg/renderloop"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("", 0)
	require.NoError(t, err)
	assert.Equal(t, 60.0, cfg.RefreshRate)
	require.Len(t, cfg.Windows, 2)
	assert.Equal(t, "window 1", cfg.Windows[0].Title)
	assert.Equal(t, palette[1], cfg.Windows[1].Color)
	assert.Equal(t, 2000, cfg.Windows[1].PeriodMS)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
refresh_rate: 30
scale: 2
filter: nearest
frame_interval_ms: 20
windows:
  - title: left
    background: "#000"
    color: "#ff0000"
    period_ms: 900
`), 0o644))

	cfg, err := loadConfig(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.RefreshRate)
	assert.Equal(t, 2, cfg.Scale)
	assert.Equal(t, 20, cfg.FrameIntervalMS)
	require.Len(t, cfg.Windows, 3)
	assert.Equal(t, "left", cfg.Windows[0].Title)
	assert.Equal(t, 900, cfg.Windows[0].PeriodMS)
	assert.Equal(t, "window 3", cfg.Windows[2].Title)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
filter: sinc
windows:
  - color: "nope"
`), 0o644))
	_, err := loadConfig(path, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "windows[0].color")
	assert.Contains(t, err.Error(), "filter")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseColor(t *testing.T) {
	c, err := parseColor("#0a0")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 0xaa, A: 255}, c)

	c, err = parseColor("102030")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 255}, c)

	_, err = parseColor("#12345")
	assert.Error(t, err)
}

func TestStatsRecorder(t *testing.T) {
	r := newStatsRecorder()
	first := ulid.Make()
	second := ulid.Make()
	r.Name(first, "left")

	r.ObserveSync(renderloop.SyncStats{Surface: first, BlockedForSync: time.Millisecond})
	r.ObserveFrame(renderloop.FrameStats{Surface: first, Rendered: true, Render: 2 * time.Millisecond})
	r.ObserveFrame(renderloop.FrameStats{Surface: first, Rendered: true, Render: 5 * time.Millisecond})
	r.ObserveFrame(renderloop.FrameStats{Surface: second, Skipped: true})

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf, false))
	var got []surfaceStats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, first.String(), got[0].Surface)
	assert.Equal(t, "left", got[0].Title)
	assert.Equal(t, 1, got[0].Syncs)
	assert.Equal(t, 2, got[0].Rendered)
	assert.Equal(t, 5*time.Millisecond, got[0].MaxRender)
	assert.Equal(t, 1, got[1].Skipped)
}

func TestStatsRecorder_Highlighted(t *testing.T) {
	r := newStatsRecorder()
	r.ObserveFrame(renderloop.FrameStats{Surface: ulid.Make(), Rendered: true})
	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf, true))
	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "rendered")
}

func TestRun_Headless(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "demo.log")
	t.Cleanup(func() {
		renderloop.SetLogger(nil)
		driver.SetLogger(nil)
	})
	err := run(options{
		windows:  2,
		headless: true,
		duration: 300 * time.Millisecond,
		logFile:  logPath,
		grabDir:  t.TempDir(),
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "window added")
	assert.Contains(t, string(raw), "window removed")
}
