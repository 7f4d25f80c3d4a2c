// Package batch submits bulk mutations in controller-sized chunks and polls
// for changes the controller applies asynchronously.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/ratelimit"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// DefaultChunkSize is the controller's limit of policies per batch request.
const DefaultChunkSize = 50

// Options tunes an Applier
type Options struct {
	ChunkSize     int
	RatePerSecond float64 // 0 disables rate limiting
}

// Applier submits chunked policy operations against one blueprint.
// Chunks go out strictly one after another and are never retried.
type Applier struct {
	bp        *blueprint.Blueprint
	chunkSize int
	bucket    *ratelimit.Bucket
}

// NewApplier creates an applier for bp
func NewApplier(bp *blueprint.Blueprint, opts Options) *Applier {
	a := &Applier{bp: bp, chunkSize: opts.ChunkSize}
	if a.chunkSize <= 0 {
		a.chunkSize = DefaultChunkSize
	}
	if opts.RatePerSecond > 0 {
		a.bucket = ratelimit.NewBucketWithRate(opts.RatePerSecond, 1)
	}
	return a
}

// ChunkSize returns the effective chunk size
func (a *Applier) ChunkSize() int { return a.chunkSize }

// Chunk splits items into consecutive slices of at most size items
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]T
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// Result summarizes one chunked submission
type Result struct {
	Target  string
	Items   int
	Chunks  int
	Failed  int
	Reasons []string
}

// Err returns a BatchError when any chunk was rejected
func (r Result) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return &util.BatchError{Target: r.Target, Failed: r.Failed, Total: r.Chunks, Reasons: r.Reasons}
}

// wait takes a token, sleeping until one is available or ctx is done
func (a *Applier) wait(ctx context.Context) error {
	if a.bucket == nil {
		return ctx.Err()
	}
	d := a.bucket.Take(1)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ApplyPolicies attaches (used) or detaches connectivity templates on one
// application point. A rejected chunk is logged and counted; the remaining
// chunks are still submitted.
func (a *Applier) ApplyPolicies(ctx context.Context, apID string, policyIDs []string, used bool) Result {
	res := Result{Target: apID}
	verb := "detach"
	if used {
		verb = "attach"
	}
	log := util.WithBlueprint(a.bp.Label).WithField("application_point", apID)

	remaining := append([]string(nil), policyIDs...)
	for len(remaining) > 0 {
		if err := a.wait(ctx); err != nil {
			res.Failed++
			res.Reasons = append(res.Reasons, err.Error())
			break
		}
		n := a.chunkSize
		if n > len(remaining) {
			n = len(remaining)
		}
		err := a.bp.ApplyPolicies(ctx, apID, remaining[:n], used)
		res.Chunks++
		res.Items += n
		if err != nil {
			res.Failed++
			res.Reasons = append(res.Reasons, err.Error())
			log.Warnf("%s of %d connectivity templates failed: %v", verb, n, err)
		} else {
			log.Debugf("%s %d connectivity templates", verb, n)
		}
		remaining = remaining[n:]
	}
	return res
}

// DeleteLinks deletes switch-system links in a single request
func (a *Applier) DeleteLinks(ctx context.Context, linkIDs []string) error {
	if len(linkIDs) == 0 {
		return nil
	}
	if err := a.wait(ctx); err != nil {
		return fmt.Errorf("deleting %d links: %w", len(linkIDs), err)
	}
	if err := a.bp.DeleteLinks(ctx, linkIDs); err != nil {
		return fmt.Errorf("deleting %d links: %w", len(linkIDs), err)
	}
	return nil
}
