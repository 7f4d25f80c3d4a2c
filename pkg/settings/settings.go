// Package settings manages persistent user settings for the consolidate CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Settings holds persistent user preferences
type Settings struct {
	// DefaultOrder is the order file used when -o is not specified
	DefaultOrder string `json:"default_order,omitempty"`

	// JournalRedis is the host:port of the run journal; empty disables it
	JournalRedis string `json:"journal_redis,omitempty"`

	// JournalDB is the Redis database of the run journal
	JournalDB int `json:"journal_db,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "consolidate_settings.json"
	}
	return filepath.Join(home, ".consolidate", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Keys lists the names accepted by Set
func Keys() []string {
	return []string{"default_order", "journal_redis", "journal_db"}
}

// Set assigns one setting by name
func (s *Settings) Set(key, value string) error {
	switch key {
	case "default_order":
		s.DefaultOrder = value
	case "journal_redis":
		s.JournalRedis = value
	case "journal_db":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("journal_db: %q is not a database number", value)
		}
		s.JournalDB = n
	default:
		return fmt.Errorf("unknown setting %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	return nil
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
