package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerdalert/internal/command"
	"nerdalert/internal/config"
)

const baseConfig = `
logging:
  level: warn
console:
  output: %OUT%
  input: true
storage:
  driver: file
  path: %DATA%
event:
  title:
    seconds: 5
`

func writeConfig(t *testing.T, dir, extra string) (cfgPath, outPath string) {
	t.Helper()
	outPath = filepath.Join(dir, "console.out")
	body := strings.NewReplacer("%OUT%", outPath, "%DATA%", filepath.Join(dir, "data")).Replace(baseConfig) + extra
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, outPath
}

func readOut(path string) string {
	b, _ := os.ReadFile(path)
	return string(b)
}

func startApp(t *testing.T, cfgPath string, input string) *App {
	t.Helper()
	a, err := New(cfgPath, WithInput(strings.NewReader(input)))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopUnknown)
	})
	return a
}

func TestConsoleEventDrivesTitles(t *testing.T) {
	dir := t.TempDir()
	cfgPath, outPath := writeConfig(t, dir, "")
	startApp(t, cfgPath, "event restart 1 minute\n")

	require.Eventually(t, func() bool {
		out := readOut(outPath)
		return strings.Contains(out, "tellraw @a") &&
			strings.Contains(out, "title @a times 10 70 20") &&
			strings.Contains(out, "title @a title") &&
			strings.Contains(out, "title @a subtitle")
	}, 3*time.Second, 20*time.Millisecond)

	out := readOut(outPath)
	assert.Contains(t, out, `"text":"restart"`)
	assert.Contains(t, out, "1 minute")
}

func TestReloadAppliesEventMessages(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeConfig(t, dir, "")
	a := startApp(t, cfgPath, "")

	_, err := a.Dispatcher().Dispatch(context.Background(), command.SourceConsole, "test", true, "reload")
	require.NoError(t, err)
	assert.Equal(t, "restart", a.conf.Messages().Title("restart"))

	writeConfig(t, dir, `
    fade_in_ticks: 3
  messages:
    restart:
      title: "&cRestart"
      broadcast: "&cServer restarts in %s %s"
`)
	_, err = a.Dispatcher().Dispatch(context.Background(), command.SourceConsole, "test", true, "reload")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.conf.Messages().Title("restart") == "&cRestart"
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 3, a.conf.Settings().FadeInTicks)
	assert.Equal(t, "&cServer restarts in 5 minutes", a.conf.Messages().Broadcast("restart", []string{"5", "minutes"}))
}

func TestReloadRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeConfig(t, dir, "")
	a := startApp(t, cfgPath, "")
	before := a.cfgm.Get()

	require.NoError(t, os.WriteFile(cfgPath, []byte(readOut(cfgPath)+`
schedules:
  - name: nightly
    cron: "not a cron"
    command: "event restart 5 minutes"
`), 0o644))

	_, err := a.reload(context.Background())
	require.Error(t, err)
	assert.Same(t, before, a.cfgm.Get())
}

func TestNewRejectsBadStorage(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("storage:\n  driver: sqlite\n"), 0o644))
	_, err := New(p)
	assert.Error(t, err)
}

func TestMapLogConfigNeedsTelegram(t *testing.T) {
	t.Parallel()
	cfg, err := config.Decode("c.yaml", []byte("logging:\n  telegram:\n    enabled: true\n    chat_id: 5\n"))
	require.NoError(t, err)
	assert.False(t, mapLogConfig(cfg).Telegram.Enabled)

	cfg.Telegram.Enabled = true
	lc := mapLogConfig(cfg)
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, int64(5), lc.Telegram.ChatID)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	_, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: "file"}
	sc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "./data/nerdalert", sc.Path)

	cfg.Storage = &config.StorageConfig{Driver: "sqlite", Path: "a.db"}
	sc, _, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage = &config.StorageConfig{Driver: "redis"}
	_, _, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestMapMirrorConfigKeepsZeroRetries(t *testing.T) {
	t.Parallel()
	cfg, err := config.Decode("c.yaml", []byte("telegram:\n  broadcast_chat_ids: [7]\n  retry_max: 0\n  rate_per_sec: 4\n"))
	require.NoError(t, err)
	mc := mapMirrorConfig(cfg)
	assert.Equal(t, 0, mc.RetryMax)
	assert.Equal(t, 4, mc.RatePerSec)
	assert.Equal(t, []int64{7}, mc.ChatIDs)

	assert.Equal(t, config.DefaultMirrorRetryMax, mapMirrorConfig(&config.Config{}).RetryMax)
}
