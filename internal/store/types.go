package store

import (
	"encoding/json"
	"time"
)

// GraphRecord is a stored graph document plus persistence metadata. Document
// holds the full JSON wire form; ID, Name, and Version are denormalized for
// listing without decoding.
type GraphRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ScheduledRun is a cron-triggered execution of a stored graph.
type ScheduledRun struct {
	ID       string `json:"id"`
	GraphID  string `json:"graph_id"`
	CronExpr string `json:"cron_expr"`
	Enabled  bool   `json:"enabled"`

	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ScheduledRunUpdate carries a partial update; nil fields are left unchanged.
type ScheduledRunUpdate struct {
	CronExpr *string
	Enabled  *bool
	LastRun  *time.Time
	NextRun  *time.Time
}

// ScheduledRunFilter narrows ListScheduledRuns.
type ScheduledRunFilter struct {
	GraphID     string
	EnabledOnly bool
}
