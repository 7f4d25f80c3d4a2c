package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettings_Set(t *testing.T) {
	s := &Settings{}

	if err := s.Set("default_order", "/etc/consolidate/r5r14.yaml"); err != nil {
		t.Fatal(err)
	}
	if s.DefaultOrder != "/etc/consolidate/r5r14.yaml" {
		t.Errorf("DefaultOrder = %q", s.DefaultOrder)
	}

	if err := s.Set("journal_redis", "127.0.0.1:6379"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("journal_db", "3"); err != nil {
		t.Fatal(err)
	}
	if s.JournalRedis != "127.0.0.1:6379" || s.JournalDB != 3 {
		t.Errorf("journal = %q/%d", s.JournalRedis, s.JournalDB)
	}

	if err := s.Set("journal_db", "-1"); err == nil {
		t.Error("negative journal_db accepted")
	}
	if err := s.Set("default_network", "x"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "settings-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "subdir", "settings.json")

	s := &Settings{DefaultOrder: "order.yaml", JournalRedis: "redis:6379", JournalDB: 2}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if *loaded != *s {
		t.Errorf("loaded %+v, want %+v", loaded, s)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.json")
	if err != nil {
		t.Fatalf("LoadFrom() should not error for missing file: %v", err)
	}
	if s.DefaultOrder != "" || s.JournalRedis != "" {
		t.Error("settings should be empty for missing file")
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "settings-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "settings.json")
	if err := os.WriteFile(path, []byte("{invalid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() should error for invalid JSON")
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{DefaultOrder: "o.yaml", JournalRedis: "r:1", JournalDB: 1}
	s.Clear()
	if *s != (Settings{}) {
		t.Errorf("Clear() left %+v", s)
	}
}

func TestDefaultSettingsPath(t *testing.T) {
	path := DefaultSettingsPath()
	if path == "" {
		t.Error("DefaultSettingsPath() returned empty string")
	}
	if filepath.Base(path) != "settings.json" {
		t.Errorf("DefaultSettingsPath() = %q, should end with settings.json", path)
	}
}
