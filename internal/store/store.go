// Package store persists graph documents and their cron schedules.
// Execution results are never persisted; runs are ephemeral by design and
// the engine returns them directly to the caller.
package store

import (
	"context"

	"github.com/nkranes/signalflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Graphs
	SaveGraph(ctx context.Context, g *schema.Graph) error
	GetGraph(ctx context.Context, id string) (*GraphRecord, error)
	ListGraphs(ctx context.Context) ([]*GraphRecord, error)
	DeleteGraph(ctx context.Context, id string) error

	// Scheduled runs
	CreateScheduledRun(ctx context.Context, run *ScheduledRun) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	DeleteScheduledRun(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
