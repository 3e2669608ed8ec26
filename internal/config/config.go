// Package config handles configuration loading, validation, and management
// for dosplay.
package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Game selects what to run.
	Game GameConfig `toml:"game" json:"game" yaml:"game"`

	// Storage configures the local save file store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Watch configures save file change detection.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Input configures key remapping.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	// Sync configures the cloud folder.
	Sync SyncConfig `toml:"sync" json:"sync" yaml:"sync"`

	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// GameConfig describes the game and how to boot it.
type GameConfig struct {
	// Mod names the game. It also names the store and the cloud folder.
	Mod string `toml:"mod" json:"mod" yaml:"mod"`

	// Entry is the DOS program launched with -c.
	Entry string `toml:"entry" json:"entry" yaml:"entry"`

	// SaveFile is the path of the save file on the C: drive.
	SaveFile string `toml:"save_file" json:"save_file" yaml:"save_file"`

	// Archive is the zip holding the game files. Defaults to
	// <data>/games/<mod>.zip.
	Archive string `toml:"archive" json:"archive" yaml:"archive"`

	// Bootstrap is the front-end script. Empty selects the built-in one.
	Bootstrap string `toml:"bootstrap" json:"bootstrap" yaml:"bootstrap"`

	// Cycles is the CPU speed hint passed to the front-end.
	Cycles int `toml:"cycles" json:"cycles" yaml:"cycles"`

	// WorkDir backs the C: drive. Defaults to <data>/drives/<mod>.
	WorkDir string `toml:"work_dir" json:"work_dir" yaml:"work_dir"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Dir holds one SQLite database per game.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// Version is the store version requested at open.
	Version int `toml:"version" json:"version" yaml:"version"`
}

// WatchConfig holds save file watching configuration.
type WatchConfig struct {
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`
	DebounceMs     int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// SafeExitSec is how long after an autosave quitting is considered
	// safe.
	SafeExitSec int `toml:"safe_exit_sec" json:"safe_exit_sec" yaml:"safe_exit_sec"`
}

// InputConfig holds key remapping overrides.
type InputConfig struct {
	// KeyAliases adds to or replaces entries of the default key map.
	KeyAliases map[string]int `toml:"key_aliases" json:"key_aliases" yaml:"key_aliases"`
}

// SyncConfig holds cloud folder configuration.
type SyncConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Folder is a locally mounted cloud folder.
	Folder string `toml:"folder" json:"folder" yaml:"folder"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stderr, stdout or file.
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the address serving /metrics. Empty disables the endpoint.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// DefaultConfig returns a configuration for the Koei title the front-end
// was built for.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Game: GameConfig{
			Mod:      "water2",
			Entry:    "KOEI.COM",
			SaveFile: "KOUKAI2.DAT",
			Cycles:   3000,
		},
		Storage: StorageConfig{
			Dir:     filepath.Join(dir, "saves"),
			Version: 1,
		},
		Watch: WatchConfig{
			PollIntervalMs: 300,
			DebounceMs:     350,
			SafeExitSec:    5,
		},
		Input: InputConfig{
			KeyAliases: map[string]int{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "dosplay.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path. A missing file yields the defaults.
// The format follows the extension (TOML, JSON or YAML); the document is
// checked against the schema before it is decoded, and environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	format := formatOf(path)
	if err := ValidateDocument(data, format); err != nil {
		return nil, err
	}

	switch format {
	case "json":
		err = json.Unmarshal(data, cfg)
	case "yaml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	return cfg, nil
}

func formatOf(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies DOSPLAY_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	strs := map[string]*string{
		"DOSPLAY_MOD":         &c.Game.Mod,
		"DOSPLAY_ENTRY":       &c.Game.Entry,
		"DOSPLAY_SAVE_FILE":   &c.Game.SaveFile,
		"DOSPLAY_ARCHIVE":     &c.Game.Archive,
		"DOSPLAY_BOOTSTRAP":   &c.Game.Bootstrap,
		"DOSPLAY_WORK_DIR":    &c.Game.WorkDir,
		"DOSPLAY_STORAGE_DIR": &c.Storage.Dir,
		"DOSPLAY_LOG_LEVEL":   &c.Logging.Level,
		"DOSPLAY_LOG_PATH":    &c.Logging.FilePath,
	}
	for name, field := range strs {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("DOSPLAY_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Game.Cycles = n
		}
	}
	// naming a folder turns sync on
	if v := os.Getenv("DOSPLAY_SYNC_FOLDER"); v != "" {
		c.Sync.Folder = v
		c.Sync.Enabled = true
	}
}

// ArchivePath returns the game archive, defaulting to
// <data>/games/<mod>.zip.
func (c *Config) ArchivePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Game.Archive != "" {
		return c.Game.Archive
	}
	return filepath.Join(DataDir(), "games", c.Game.Mod+".zip")
}

// DrivePath returns the directory backing the C: drive.
func (c *Config) DrivePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Game.WorkDir != "" {
		return c.Game.WorkDir
	}
	return filepath.Join(DataDir(), "drives", c.Game.Mod)
}

// PollInterval returns the watch poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollIntervalMs) * time.Millisecond
}

// Debounce returns the watch debounce delay.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// SafeExitWindow returns how long quitting stays safe after an autosave.
func (c *Config) SafeExitWindow() time.Duration {
	return time.Duration(c.Watch.SafeExitSec) * time.Second
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Config{
		Version: c.Version,
		Game:    c.Game,
		Storage: c.Storage,
		Watch:   c.Watch,
		Input:   InputConfig{KeyAliases: maps.Clone(c.Input.KeyAliases)},
		Sync:    c.Sync,
		Logging: c.Logging,
		Metrics: c.Metrics,
	}
	return clone
}

// SaveConfig writes cfg to path in the format given by its extension.
func SaveConfig(cfg *Config, path string) error {
	cfg.mu.RLock()
	var (
		data []byte
		err  error
	)
	switch formatOf(path) {
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = toml.Marshal(cfg)
	}
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
