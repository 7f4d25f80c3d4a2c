// Package audit records every mutating controller request made during a run.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is one mutating request sent to the controller
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	User      string        `json:"user"`
	RunID     string        `json:"run_id,omitempty"`
	Blueprint string        `json:"blueprint,omitempty"`
	Phase     string        `json:"phase,omitempty"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	RunID       string
	Blueprint   string
	Phase       string
	Method      string
	PathPrefix  string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(user, method, path string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      user,
		Method:    method,
		Path:      path,
	}
}

// WithRun sets the run id
func (e *Event) WithRun(runID string) *Event {
	e.RunID = runID
	return e
}

// WithBlueprint sets the blueprint id
func (e *Event) WithBlueprint(bp string) *Event {
	e.Blueprint = bp
	return e
}

// WithPhase sets the migration phase
func (e *Event) WithPhase(phase string) *Event {
	e.Phase = phase
	return e
}

// WithStatus records the HTTP status. 2xx marks the event successful.
func (e *Event) WithStatus(status int) *Event {
	e.Status = status
	e.Success = status >= 200 && status < 300
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the request duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
