package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Logger defines the interface for audit logging backends
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// FileLogger logs audit events to a JSON-lines file
type FileLogger struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.RWMutex
	rotation RotationConfig
}

// RotationConfig configures log file rotation
type RotationConfig struct {
	MaxSize    int64 // bytes before rotation, 0 disables
	MaxBackups int   // rotated files to keep, 0 keeps all
}

// NewFileLogger opens (or creates) the audit log at path
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return l, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// Log appends an event, rotating first when the file is over MaxSize
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotation.MaxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.rotation.MaxSize {
			if err := l.rotate(); err != nil {
				return fmt.Errorf("rotating audit log: %w", err)
			}
		}
	}
	return l.encoder.Encode(event)
}

// Query returns events matching filter in file order
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.Warnf("audit: skipping malformed entry at line %d: %v", line, err)
			continue
		}
		if filter.matches(&event) {
			events = append(events, &event)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			events = nil
		} else {
			events = events[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}
	return events, scanner.Err()
}

// Close closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (f Filter) matches(e *Event) bool {
	switch {
	case f.RunID != "" && e.RunID != f.RunID:
		return false
	case f.Blueprint != "" && e.Blueprint != f.Blueprint:
		return false
	case f.Phase != "" && e.Phase != f.Phase:
		return false
	case f.Method != "" && !strings.EqualFold(e.Method, f.Method):
		return false
	case f.PathPrefix != "" && !strings.HasPrefix(e.Path, f.PathPrefix):
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !e.Success:
		return false
	case f.FailureOnly && e.Success:
		return false
	}
	return true
}

// rotate renames the live file with a nanosecond suffix and reopens it.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().Format("20060102-150405.000000000"))
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}
	if l.rotation.MaxBackups > 0 {
		l.pruneBackups()
	}
	return nil
}

func (l *FileLogger) pruneBackups() {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil || len(matches) <= l.rotation.MaxBackups {
		return
	}
	// suffixes are timestamps, so lexical order is age order
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-l.rotation.MaxBackups] {
		if err := os.Remove(old); err != nil {
			util.Warnf("audit: removing %s: %v", old, err)
		}
	}
}

// Nop discards events
type Nop struct{}

func (Nop) Log(*Event) error { return nil }

func (Nop) Query(Filter) ([]*Event, error) { return []*Event{}, nil }

func (Nop) Close() error { return nil }
