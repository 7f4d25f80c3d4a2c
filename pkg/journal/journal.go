// Package journal records the outcome of every phase of a consolidation run
// so an interrupted run can be inspected and resumed phase by phase.
package journal

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Key layout. Hash keys use the table|key convention.
const (
	RunTable   = "CONSOLIDATION_RUN"
	PhaseTable = "CONSOLIDATION_PHASE"
	RunIndex   = "CONSOLIDATION_RUNS" // sorted set of run ids scored by start time
)

// Run is one invocation of the tool
type Run struct {
	ID      string
	TorName string
	Source  string
	Target  string
	Pair    []string
	Started time.Time
	Phases  map[string]*PhaseRecord
}

// PhaseRecord is the stored outcome of one phase
type PhaseRecord struct {
	Phase    string
	Status   string
	Updated  int
	Skipped  int
	Missing  int
	Failed   int
	Duration time.Duration
	Error    string
	Finished time.Time
}

// Journal stores runs and their phase outcomes
type Journal interface {
	// Begin stores run and returns its id. A run without an id gets one.
	Begin(ctx context.Context, run *Run) (string, error)
	Record(ctx context.Context, runID string, rec *PhaseRecord) error
	// Last returns the most recently started run, or nil when there is none.
	Last(ctx context.Context) (*Run, error)
	Close() error
}

// Nop discards everything; it is used when no Redis is configured.
type Nop struct{}

func (Nop) Begin(_ context.Context, run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	return run.ID, nil
}
func (Nop) Record(context.Context, string, *PhaseRecord) error { return nil }
func (Nop) Last(context.Context) (*Run, error)                 { return nil, nil }
func (Nop) Close() error                                       { return nil }

// RedisJournal keeps the journal in Redis hashes
type RedisJournal struct {
	client *redis.Client
}

// NewRedisJournal connects to addr and selects db
func NewRedisJournal(addr string, db int) *RedisJournal {
	return &RedisJournal{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Ping verifies the connection
func (j *RedisJournal) Ping(ctx context.Context) error {
	if err := j.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// Close releases the connection
func (j *RedisJournal) Close() error {
	return j.client.Close()
}

func runKey(id string) string {
	return RunTable + "|" + id
}

func phaseKey(id, phase string) string {
	return PhaseTable + "|" + id + "|" + phase
}

// Begin writes the run hash and indexes it in one transaction
func (j *RedisJournal) Begin(ctx context.Context, run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Started.IsZero() {
		run.Started = time.Now()
	}
	pipe := j.client.TxPipeline()
	pipe.HSet(ctx, runKey(run.ID), hashArgs(runFields(run))...)
	pipe.ZAdd(ctx, RunIndex, &redis.Z{Score: float64(run.Started.UnixNano()), Member: run.ID})
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return "", fmt.Errorf("journal: recording run %s: %w", run.ID, err)
	}
	return run.ID, nil
}

// Record writes the phase hash and stamps the run with its last phase
func (j *RedisJournal) Record(ctx context.Context, runID string, rec *PhaseRecord) error {
	if rec.Finished.IsZero() {
		rec.Finished = time.Now()
	}
	pipe := j.client.TxPipeline()
	pipe.HSet(ctx, phaseKey(runID, rec.Phase), hashArgs(phaseFields(rec))...)
	pipe.HSet(ctx, runKey(runID), "last_phase", rec.Phase, "last_status", rec.Status)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("journal: recording phase %s of run %s: %w", rec.Phase, runID, err)
	}
	return nil
}

// Last loads the most recent run with its phases
func (j *RedisJournal) Last(ctx context.Context) (*Run, error) {
	ids, err := j.client.ZRevRange(ctx, RunIndex, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("journal: reading run index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return j.Run(ctx, ids[0])
}

// Run loads one run with its phases
func (j *RedisJournal) Run(ctx context.Context, id string) (*Run, error) {
	fields, err := j.client.HGetAll(ctx, runKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("journal: reading run %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	run := parseRun(id, fields)

	keys, err := j.client.Keys(ctx, phaseKey(id, "*")).Result()
	if err != nil {
		return nil, fmt.Errorf("journal: scanning phases of run %s: %w", id, err)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pf, err := j.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("journal: reading %s: %w", key, err)
		}
		rec := parsePhase(strings.TrimPrefix(key, phaseKey(id, "")), pf)
		run.Phases[rec.Phase] = rec
	}
	return run, nil
}

func hashArgs(fields map[string]string) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func runFields(r *Run) map[string]string {
	return map[string]string{
		"tor":     r.TorName,
		"source":  r.Source,
		"target":  r.Target,
		"pair":    strings.Join(r.Pair, ","),
		"started": r.Started.UTC().Format(time.RFC3339Nano),
	}
}

func parseRun(id string, f map[string]string) *Run {
	r := &Run{
		ID:      id,
		TorName: f["tor"],
		Source:  f["source"],
		Target:  f["target"],
		Phases:  map[string]*PhaseRecord{},
	}
	if f["pair"] != "" {
		r.Pair = strings.Split(f["pair"], ",")
	}
	r.Started, _ = time.Parse(time.RFC3339Nano, f["started"])
	return r
}

func phaseFields(p *PhaseRecord) map[string]string {
	return map[string]string{
		"status":   p.Status,
		"updated":  strconv.Itoa(p.Updated),
		"skipped":  strconv.Itoa(p.Skipped),
		"missing":  strconv.Itoa(p.Missing),
		"failed":   strconv.Itoa(p.Failed),
		"duration": p.Duration.String(),
		"error":    p.Error,
		"finished": p.Finished.UTC().Format(time.RFC3339Nano),
	}
}

func parsePhase(phase string, f map[string]string) *PhaseRecord {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(f[k])
		return n
	}
	p := &PhaseRecord{
		Phase:   phase,
		Status:  f["status"],
		Updated: atoi("updated"),
		Skipped: atoi("skipped"),
		Missing: atoi("missing"),
		Failed:  atoi("failed"),
		Error:   f["error"],
	}
	p.Duration, _ = time.ParseDuration(f["duration"])
	p.Finished, _ = time.Parse(time.RFC3339Nano, f["finished"])
	return p
}
