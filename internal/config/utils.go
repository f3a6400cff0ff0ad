package config

import (
	"path/filepath"
	"reflect"
	"strings"
)

// GetBoolValue retrieves a boolean value from a nested struct based on a dot-separated path.
// It returns the provided defaultValue if the specified field is not explicitly set or is nil.
func GetBoolValue(config interface{}, fieldPath string, defaultValue bool) bool {
	if config == nil {
		return defaultValue
	}

	val := reflect.ValueOf(config)
	for _, field := range strings.Split(fieldPath, ".") {
		if val.Kind() == reflect.Ptr {
			if val.IsNil() {
				return defaultValue
			}
			val = val.Elem()
		}
		if val.Kind() != reflect.Struct {
			return defaultValue
		}

		val = val.FieldByName(field)
		if !val.IsValid() {
			return defaultValue
		}
	}

	if val.Kind() == reflect.Ptr && !val.IsNil() {
		return val.Elem().Bool()
	} else if val.Kind() == reflect.Bool {
		return val.Bool()
	}

	return defaultValue
}

// SetThen provides a utility to select the first value if set, otherwise defaults.
func SetThen[T any](value T, defaultValue T) T {
	if reflect.ValueOf(&value).Elem().IsZero() {
		return defaultValue
	}
	return value
}

// GetHome returns the sweeper home folder.
func GetHome(cfg *Config) string {
	return cfg.Sweeper.HomeFolder
}

// GetTempFolder returns the folder holding temporary working copies.
func GetTempFolder(cfg *Config) string {
	return cfg.Sweeper.TempFolder
}

// GetArtifactsHome returns the folder holding machine-readable run summaries.
func GetArtifactsHome(cfg *Config) string {
	return filepath.Join(cfg.Sweeper.HomeFolder, "artifacts")
}

// ResolvePath places relative file names inside the home folder.
func ResolvePath(cfg *Config, path string) string {
	if path == "" || filepath.IsAbs(path) || cfg == nil || cfg.Sweeper.HomeFolder == "" {
		return path
	}
	return filepath.Join(cfg.Sweeper.HomeFolder, path)
}

// AllowedExtensions returns the configured extension allow-list, normalized to
// lower case with a leading dot.
func AllowedExtensions(cfg *Config) []string {
	exts := DefaultAllowedExtensions
	if cfg != nil && len(cfg.Sweeper.AllowedExtensions) > 0 {
		exts = cfg.Sweeper.AllowedExtensions
	}

	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// StatePath returns the state journal of one provider. Providers never share a
// journal: "state.jsonl" becomes "state_jira.jsonl" for the jira provider.
func StatePath(cfg *Config, providerName string) string {
	path := DefaultStateFile
	if cfg != nil {
		path = SetThen(cfg.Sweeper.StateFile, DefaultStateFile)
	}
	ext := filepath.Ext(path)
	return ResolvePath(cfg, strings.TrimSuffix(path, ext)+"_"+providerName+ext)
}
