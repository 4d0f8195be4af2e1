// Package journal archives finished workflow runs and provider fallback
// events to an embedded libSQL database. The archive is write-behind
// only: live engine state stays in memory and is never reconstructed
// from the journal, so a journal failure can never break a run.
package journal

import (
	"context"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Journal is the archive contract. All implementations must be safe for
// concurrent use.
type Journal interface {
	// RecordRun archives one finished run with its per-task results.
	RecordRun(ctx context.Context, result *schema.WorkflowResult) error

	// RecordFallback archives one provider fallback event.
	RecordFallback(ctx context.Context, event schema.FallbackEvent) error

	// ListRuns returns archived runs, newest first. limit <= 0 returns
	// every run.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// Close releases the underlying database.
	Close() error
}

// Nop discards every write and lists nothing. Used when no journal path
// is configured.
type Nop struct{}

var _ Journal = Nop{}

func (Nop) RecordRun(context.Context, *schema.WorkflowResult) error    { return nil }
func (Nop) RecordFallback(context.Context, schema.FallbackEvent) error { return nil }
func (Nop) ListRuns(context.Context, int) ([]*RunRecord, error)        { return nil, nil }
func (Nop) Migrate(context.Context) error                              { return nil }
func (Nop) Close() error                                               { return nil }
