// Package syncer defines the sync engine's domain: planned actions, the plan
// itself, execution outcomes, and the planner/executor boundaries.
package syncer

import (
	"context"
	"time"

	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/source"
)

type ActionType string

const (
	ActionCreate   ActionType = "CREATE"
	ActionUpdate   ActionType = "UPDATE"
	ActionRecreate ActionType = "RECREATE"
	ActionSkip     ActionType = "SKIP"
)

// Action is one planned operation for one source entity. Actions are only
// ever constructed by the planner; the executor never invents them.
type Action struct {
	Kind       gcdr.EntityKind
	SourceID   string
	Name       string
	EntityType string
	// ParentID is the source ID of the entity's parent: the customer for an
	// asset, the owning asset for a device. Empty for the customer itself.
	ParentID string
	Type     ActionType
	// GCDRID is the known downstream ID for UPDATE and SKIP actions. For
	// RECREATE it holds the stale ID for reporting only and must never be
	// used to resolve dependents.
	GCDRID     string
	Attributes map[string]string
}

// Plan is the diff engine's output: exactly one action per source entity.
// Order within the slice follows source order; the executor imposes
// dependency order by kind.
type Plan struct {
	Actions    []Action
	ToCreate   int
	ToUpdate   int
	ToSkip     int
	ToRecreate int
}

// Attempted counts the actions that will reach the downstream API, which is
// also the progress-reporting total.
func (p Plan) Attempted() int {
	return len(p.Actions) - p.ToSkip
}

// LinkState is the result of the pre-plan existence check for an entity with
// a recorded downstream ID.
type LinkState struct {
	GCDRID string
	Exists bool
}

// Outcome records how one action ended. Err is empty on success; Warning
// carries non-fatal problems such as a failed attribute write-back.
type Outcome struct {
	Action  Action
	GCDRID  string
	Err     string
	Warning string
}

// Result partitions every planned action into exactly one of the three
// outcome sets.
type Result struct {
	RunID     string
	Succeeded []Outcome
	Failed    []Outcome
	Skipped   []Outcome
	StartedAt time.Time
	Duration  time.Duration
}

func (r Result) Converged() bool {
	return len(r.Failed) == 0
}

// Progress is invoked before each attempted (non-SKIP, non-aborted-by-cancel)
// action with a monotonically increasing current.
type Progress func(current int, total int, entityName string)

// Planner turns a source snapshot plus the pre-checked link states into a
// plan. It is pure: no I/O, no side effects.
type Planner interface {
	Plan(bundle source.Bundle, links map[string]LinkState) (Plan, error)
}

// Executor runs a plan against the downstream registry.
type Executor interface {
	Execute(ctx context.Context, plan Plan, progress Progress) (Result, error)
}
