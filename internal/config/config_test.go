package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"DOSPLAY_MOD", "DOSPLAY_ENTRY", "DOSPLAY_SAVE_FILE", "DOSPLAY_ARCHIVE",
		"DOSPLAY_BOOTSTRAP", "DOSPLAY_WORK_DIR", "DOSPLAY_STORAGE_DIR",
		"DOSPLAY_LOG_LEVEL", "DOSPLAY_LOG_PATH", "DOSPLAY_CYCLES", "DOSPLAY_SYNC_FOLDER",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("DOSPLAY_DATA_DIR", t.TempDir())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))
	return p
}

func TestDefaultConfigIsValid(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "water2", cfg.Game.Mod)
	assert.Equal(t, "KOEI.COM", cfg.Game.Entry)
	assert.Equal(t, "KOUKAI2.DAT", cfg.Game.SaveFile)
	assert.Equal(t, 300*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 350*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 5*time.Second, cfg.SafeExitWindow())
	assert.Equal(t, filepath.Join(DataDir(), "games", "water2.zip"), cfg.ArchivePath())
	assert.Equal(t, filepath.Join(DataDir(), "drives", "water2"), cfg.DrivePath())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Game, cfg.Game)
}

func TestLoadFormats(t *testing.T) {
	clearEnv(t)
	files := map[string]string{
		"config.toml": `
version = 1
[game]
mod = "sangoku"
cycles = 8000
[input.key_aliases]
KeyQ = 113
`,
		"config.json": `{"version": 1, "game": {"mod": "sangoku", "cycles": 8000}, "input": {"key_aliases": {"KeyQ": 113}}}`,
		"config.yaml": `
version: 1
game:
  mod: sangoku
  cycles: 8000
input:
  key_aliases:
    KeyQ: 113
`,
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, name, body))
			require.NoError(t, err)
			assert.Equal(t, "sangoku", cfg.Game.Mod)
			assert.Equal(t, 8000, cfg.Game.Cycles)
			assert.Equal(t, "KOEI.COM", cfg.Game.Entry, "unset keys keep defaults")
			assert.Equal(t, 113, cfg.Input.KeyAliases["KeyQ"])
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestSchemaRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "config.toml", "[game]\nmdo = \"typo\"\n"))
	assert.ErrorContains(t, err, "config schema")

	_, err = Load(writeFile(t, "config.json", `{"logging": {"level": "loud"}}`))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "config.yaml", "input:\n  key_aliases:\n    KeyQ: 999\n"))
	assert.Error(t, err)
}

func TestLoadParseError(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "config.toml", "[game\n"))
	assert.ErrorContains(t, err, "parse toml config")
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOSPLAY_MOD", "taikou")
	t.Setenv("DOSPLAY_CYCLES", "12000")
	t.Setenv("DOSPLAY_SYNC_FOLDER", "/mnt/cloud")
	t.Setenv("DOSPLAY_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "taikou", cfg.Game.Mod)
	assert.Equal(t, 12000, cfg.Game.Cycles)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "/mnt/cloud", cfg.Sync.Folder)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateConfig(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Version = 99
	cfg.Game.Mod = "../etc"
	cfg.Game.Entry = ""
	cfg.Watch.PollIntervalMs = 0
	cfg.Sync.Enabled = true
	cfg.Logging.Output = "syslog"
	cfg.Metrics.Listen = "nope"
	cfg.Input.KeyAliases["KeyQ"] = 300

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"version", "game.mod", "game.entry", "watch.poll_interval_ms",
		"sync.folder", "logging.output", "metrics.listen", "input.key_aliases.KeyQ",
	} {
		assert.True(t, fields[f], f)
	}
}

func TestCloneIsDeep(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Input.KeyAliases["KeyQ"] = 113

	clone := cfg.Clone()
	clone.Input.KeyAliases["KeyQ"] = 1
	clone.Game.Mod = "other"

	assert.Equal(t, 113, cfg.Input.KeyAliases["KeyQ"])
	assert.Equal(t, "water2", cfg.Game.Mod)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	clearEnv(t)
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Game.Mod = "sangoku"
			cfg.Input.KeyAliases["KeyQ"] = 113

			path := filepath.Join(t.TempDir(), "nested", "config."+ext)
			require.NoError(t, SaveConfig(cfg, path))

			fi, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "sangoku", got.Game.Mod)
			assert.Equal(t, 113, got.Input.KeyAliases["KeyQ"])
		})
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", "[logging]\nlevel = \"info\"\n")

	l := NewLoader(path)
	defer l.Close()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600))

	select {
	case c := <-changed:
		assert.Equal(t, "debug", c.Logging.Level)
		assert.Equal(t, "debug", l.Config().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", "[logging]\nlevel = \"info\"\n")

	l := NewLoader(path)
	defer l.Close()
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0600))

	select {
	case err := <-l.Errors():
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error reported")
	}
	assert.Equal(t, "info", l.Config().Logging.Level)
}

func TestLoaderCloseIdempotent(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, l.Watch())
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
