package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosplay/internal/config"
	"dosplay/internal/keymap"
	"dosplay/internal/logging"
	"dosplay/internal/metrics"
	"dosplay/internal/notify"
	"dosplay/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DOSPLAY_DATA_DIR", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Sync.Enabled = true
	cfg.Sync.Folder = t.TempDir()
	return cfg
}

func TestSessionOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Input.KeyAliases = map[string]int{"KeyZ": 1, "KeyA": 97}
	cfg.Watch.PollIntervalMs = 100

	opts := sessionOptions(cfg)
	assert.Equal(t, "water2", opts.Mod)
	assert.Equal(t, "KOEI.COM", opts.Entry)
	assert.Equal(t, cfg.ArchivePath(), opts.Archive)
	assert.Equal(t, cfg.DrivePath(), opts.Runtime.Drive)
	assert.Equal(t, 100*time.Millisecond, opts.PollInterval)

	assert.Equal(t, 1, opts.KeyMap.Resolve("KeyZ", 90))
	assert.Equal(t, 97, opts.KeyMap.Resolve("KeyA", 65))
	assert.Equal(t, keymap.CodeAdd, opts.KeyMap.Resolve("KeyR", 82))
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "debug"

	l, err := newLogger(cfg.Logging)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, logging.LevelDebug, l.Level())

	cfg.Logging.Level = "loud"
	_, err = newLogger(cfg.Logging)
	assert.Error(t, err)
}

func TestSyncSave(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	m := metrics.NewDosplay(metrics.NewRegistry("test"))
	var rec notify.Recorder

	// nothing to pull or push yet
	require.NoError(t, syncSave(ctx, cfg, nil, m, &rec, pull))
	require.NoError(t, syncSave(ctx, cfg, nil, m, &rec, push))
	assert.False(t, rec.Has(notify.SyncPushed))

	st, err := store.Open(ctx, cfg.Storage.Dir, cfg.Game.Mod, cfg.Storage.Version)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, cfg.Game.SaveFile, []byte{1, 2, 3}))
	require.NoError(t, st.Close())

	require.NoError(t, syncSave(ctx, cfg, nil, m, &rec, push))
	assert.True(t, rec.Has(notify.SyncPushed))

	got, err := os.ReadFile(filepath.Join(cfg.Sync.Folder, cfg.Game.Mod, cfg.Game.SaveFile))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// identical copies need no confirmation
	require.NoError(t, syncSave(ctx, cfg, nil, m, &rec, pull))
	assert.EqualValues(t, 4, m.SyncOperations.Value())
}

func TestSyncSaveMissingFolder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Folder = filepath.Join(t.TempDir(), "absent")
	assert.Error(t, syncSave(context.Background(), cfg, nil, nil, notify.Multi{}, push))
}
