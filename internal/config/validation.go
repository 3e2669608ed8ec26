package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://dosplay.local/schema/config.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add config schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateDocument checks a raw config file against the config schema.
// format is toml, json or yaml. Unknown keys are rejected so typos surface
// instead of silently falling back to defaults.
func ValidateDocument(data []byte, format string) error {
	var doc any
	var err error
	switch format {
	case "json":
		err = json.Unmarshal(data, &doc)
	case "yaml":
		err = yaml.Unmarshal(data, &doc)
	default:
		var m map[string]any
		_, err = toml.Decode(string(data), &m)
		doc = m
	}
	if err != nil {
		return fmt.Errorf("parse %s config: %w", format, err)
	}
	if doc == nil {
		return nil
	}

	// normalise TOML and YAML scalars into JSON types
	norm, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalise config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(norm))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("normalise config: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var modPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateConfig performs semantic validation of a decoded configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateGame(&c.Game)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateWatch(&c.Watch)...)
	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateSync(&c.Sync)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateGame(g *GameConfig) ValidationErrors {
	var errs ValidationErrors
	if g.Mod == "" {
		errs = append(errs, RequiredFieldError("game.mod"))
	} else if !modPattern.MatchString(g.Mod) || g.Mod == "." || g.Mod == ".." {
		errs = append(errs, ValidationError{Field: "game.mod", Message: "must be a plain name"})
	}
	if g.Entry == "" {
		errs = append(errs, RequiredFieldError("game.entry"))
	}
	if g.SaveFile == "" {
		errs = append(errs, RequiredFieldError("game.save_file"))
	}
	if g.Cycles < 0 {
		errs = append(errs, RangeError("game.cycles", 0, -1))
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Dir == "" {
		errs = append(errs, RequiredFieldError("storage.dir"))
	}
	if s.Version < 1 {
		errs = append(errs, RangeError("storage.version", 1, -1))
	}
	return errs
}

func validateWatch(w *WatchConfig) ValidationErrors {
	var errs ValidationErrors
	if w.PollIntervalMs < 1 {
		errs = append(errs, RangeError("watch.poll_interval_ms", 1, -1))
	}
	if w.DebounceMs < 0 {
		errs = append(errs, RangeError("watch.debounce_ms", 0, -1))
	}
	if w.SafeExitSec < 0 {
		errs = append(errs, RangeError("watch.safe_exit_sec", 0, -1))
	}
	return errs
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors
	for code, keyCode := range in.KeyAliases {
		if code == "" {
			errs = append(errs, ValidationError{Field: "input.key_aliases", Message: "empty key code"})
			continue
		}
		if keyCode < 1 || keyCode > 255 {
			errs = append(errs, RangeError("input.key_aliases."+code, 1, 255))
		}
	}
	return errs
}

func validateSync(s *SyncConfig) ValidationErrors {
	if s.Enabled && s.Folder == "" {
		return ValidationErrors{{Field: "sync.folder", Message: "required when sync is enabled"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q (must be debug, info, warn, or error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q (must be text or json)", l.Format),
		})
	}

	switch l.Output {
	case "stderr", "stdout":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{Field: "logging.file_path", Message: "required when output is file"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output %q (must be stderr, stdout, or file)", l.Output),
		})
	}

	if l.MaxSizeMB < 0 {
		errs = append(errs, RangeError("logging.max_size_mb", 0, -1))
	}
	if l.MaxBackups < 0 {
		errs = append(errs, RangeError("logging.max_backups", 0, -1))
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, RangeError("logging.max_age_days", 0, -1))
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if m.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return ValidationErrors{{Field: "metrics.listen", Message: fmt.Sprintf("invalid address: %v", err)}}
	}
	return nil
}

// RequiredFieldError creates a validation error for a missing required field.
func RequiredFieldError(field string) ValidationError {
	return ValidationError{Field: field, Message: "required field is missing or empty"}
}

// RangeError creates a validation error for a value out of range. A max
// below min means there is no upper bound.
func RangeError(field string, min, max int) ValidationError {
	if max < min {
		return ValidationError{Field: field, Message: fmt.Sprintf("must be at least %d", min)}
	}
	return ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", min, max)}
}
