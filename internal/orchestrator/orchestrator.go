// Package orchestrator executes a sync plan against the downstream registry
// with strict dependency ordering: the customer first, then assets, then
// devices. Failures never leak across the cascade rules; every planned
// action lands in exactly one of succeeded, failed, or skipped.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gh-myio/gcdr-sync/faults"
	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/internal/diff"
	"github.com/gh-myio/gcdr-sync/internal/mapping"
	"github.com/gh-myio/gcdr-sync/observability"
	"github.com/gh-myio/gcdr-sync/source"
	"github.com/gh-myio/gcdr-sync/syncer"
)

const (
	abortParentCustomer = "aborted: parent customer creation failed"
	abortParentAsset    = "aborted: parent asset creation failed"
	abortAuthFailure    = "aborted: authentication failed"
	abortCancelled      = "aborted: sync cancelled"
)

type Orchestrator struct {
	Registry gcdr.Registry
	// Writer persists resolved downstream IDs back to the source platform.
	// Optional; when nil, successful creates are not linked for future runs.
	Writer  source.AttributeWriter
	Metrics *observability.Metrics
	Now     func() time.Time
}

var _ syncer.Executor = (*Orchestrator)(nil)

// runState is the only mutable state shared across a run. resolved maps
// source IDs to downstream IDs and is written only after an action fully
// succeeds.
type runState struct {
	resolved         map[string]string
	customerSourceID string
	customerFailed   bool
	failedAssets     map[string]bool
}

func (o *Orchestrator) Execute(ctx context.Context, plan syncer.Plan, progress syncer.Progress) (syncer.Result, error) {
	if o == nil || o.Registry == nil {
		return syncer.Result{}, faults.NewTypedError(faults.InternalError, "orchestrator registry is not configured", nil)
	}

	startedAt := o.now()
	result := syncer.Result{RunID: uuid.NewString(), StartedAt: startedAt}

	state := &runState{
		resolved:     make(map[string]string),
		failedAssets: make(map[string]bool),
	}
	for _, action := range plan.Actions {
		if action.Kind == gcdr.KindCustomer {
			state.customerSourceID = action.SourceID
		}
		// Stale RECREATE IDs are reporting-only and must never resolve a
		// dependent; only confirmed links seed the map.
		if action.GCDRID != "" && (action.Type == syncer.ActionUpdate || action.Type == syncer.ActionSkip) {
			state.resolved[action.SourceID] = action.GCDRID
		}
	}

	total := plan.Attempted()
	current := 0
	var fatal error

	for _, action := range orderByKind(plan.Actions) {
		if action.Type == syncer.ActionSkip {
			result.Skipped = append(result.Skipped, syncer.Outcome{Action: action, GCDRID: action.GCDRID})
			o.Metrics.RecordOutcome(action.Kind, action.Type, "skipped")
			continue
		}

		current++
		if progress != nil {
			progress(current, total, action.Name)
		}

		if fatal != nil {
			o.record(&result, action, faults.NewTypedError(faults.DependencyError, abortAuthFailure, nil))
			continue
		}
		if ctx.Err() != nil {
			o.record(&result, action, faults.NewTypedError(faults.DependencyError, abortCancelled, ctx.Err()))
			continue
		}
		if message := cascadeAbort(action, state); message != "" {
			o.record(&result, action, faults.NewTypedError(faults.DependencyError, message, nil))
			continue
		}

		outcome, err := o.apply(ctx, action, state)
		if err != nil {
			o.record(&result, action, err)
			if faults.IsCategory(err, faults.AuthError) {
				fatal = err
			}
			if action.Type == syncer.ActionCreate || action.Type == syncer.ActionRecreate {
				switch action.Kind {
				case gcdr.KindCustomer:
					state.customerFailed = true
				case gcdr.KindAsset:
					state.failedAssets[action.SourceID] = true
				}
			}
			continue
		}

		state.resolved[action.SourceID] = outcome.GCDRID
		result.Succeeded = append(result.Succeeded, outcome)
		o.Metrics.RecordOutcome(action.Kind, action.Type, "succeeded")
	}

	result.Duration = o.now().Sub(startedAt)
	o.Metrics.RecordRun()
	return result, fatal
}

func (o *Orchestrator) apply(ctx context.Context, action syncer.Action, state *runState) (syncer.Outcome, error) {
	dto, err := o.buildDTO(action, state)
	if err != nil {
		return syncer.Outcome{}, err
	}

	switch action.Type {
	case syncer.ActionUpdate:
		entity, err := o.Registry.Update(ctx, action.Kind, action.GCDRID, dto)
		if err != nil {
			return syncer.Outcome{}, err
		}
		resolvedID := action.GCDRID
		if entity != nil && entity.ID != "" {
			resolvedID = entity.ID
		}
		outcome := syncer.Outcome{Action: action, GCDRID: resolvedID}
		// Refresh the recorded fingerprint so the next run can skip the
		// entity again instead of updating it forever.
		outcome.Warning = o.writeBack(ctx, action, resolvedID)
		return outcome, nil

	case syncer.ActionCreate, syncer.ActionRecreate:
		entity, err := o.Registry.Create(ctx, dto)
		if err != nil {
			return syncer.Outcome{}, err
		}
		if entity == nil || entity.ID == "" {
			return syncer.Outcome{}, faults.NewTypedError(
				faults.InternalError,
				fmt.Sprintf("create %s %q returned no downstream id", action.Kind, action.Name),
				nil,
			)
		}

		outcome := syncer.Outcome{Action: action, GCDRID: entity.ID}
		outcome.Warning = o.writeBack(ctx, action, entity.ID)
		return outcome, nil

	default:
		return syncer.Outcome{}, faults.NewTypedError(
			faults.InternalError,
			fmt.Sprintf("unexpected action type %q for %s %q", action.Type, action.Kind, action.Name),
			nil,
		)
	}
}

// writeBack records the resolved downstream ID and the current content
// fingerprint on the source entity. Failure must not block siblings from
// using the resolved ID in this run; it is returned as a warning instead.
func (o *Orchestrator) writeBack(ctx context.Context, action syncer.Action, downstreamID string) string {
	if o.Writer == nil {
		return ""
	}
	hash := diff.Fingerprint(action.Kind, source.Entity{
		ID:         action.SourceID,
		Name:       action.Name,
		Type:       action.EntityType,
		Attributes: action.Attributes,
	})
	if err := o.Writer.WriteDownstreamID(ctx, action.Kind, action.SourceID, downstreamID, hash); err != nil {
		return "downstream id write-back failed: " + err.Error()
	}
	return ""
}

func (o *Orchestrator) buildDTO(action syncer.Action, state *runState) (gcdr.CreateDTO, error) {
	switch action.Kind {
	case gcdr.KindCustomer:
		return mapping.CustomerDTO(action), nil

	case gcdr.KindAsset:
		customerID, err := resolveParent(state, action.ParentID, "customer")
		if err != nil {
			return nil, err
		}
		return mapping.AssetDTO(action, customerID), nil

	case gcdr.KindDevice:
		assetID, err := resolveParent(state, action.ParentID, "asset")
		if err != nil {
			return nil, err
		}
		customerID, err := resolveParent(state, state.customerSourceID, "customer")
		if err != nil {
			return nil, err
		}
		return mapping.DeviceDTO(action, assetID, customerID), nil

	default:
		return nil, faults.NewTypedError(faults.InternalError, fmt.Sprintf("unknown entity kind %q", action.Kind), nil)
	}
}

// resolveParent looks up a dependency's downstream ID. A miss here is an
// ordering bug, not a runtime condition: phase ordering plus cascade aborts
// guarantee the parent resolved before any dependent is attempted.
func resolveParent(state *runState, sourceID string, role string) (string, error) {
	resolved := state.resolved[sourceID]
	if resolved == "" {
		return "", faults.NewTypedError(
			faults.InternalError,
			fmt.Sprintf("%s %q has no resolved downstream id; execution order is broken", role, sourceID),
			nil,
		)
	}
	return resolved, nil
}

func cascadeAbort(action syncer.Action, state *runState) string {
	switch action.Kind {
	case gcdr.KindAsset:
		if state.customerFailed {
			return abortParentCustomer
		}
	case gcdr.KindDevice:
		if state.customerFailed {
			return abortParentCustomer
		}
		if state.failedAssets[action.ParentID] {
			return abortParentAsset
		}
	}
	return ""
}

func (o *Orchestrator) record(result *syncer.Result, action syncer.Action, err error) {
	result.Failed = append(result.Failed, syncer.Outcome{Action: action, Err: err.Error()})
	o.Metrics.RecordOutcome(action.Kind, action.Type, "failed")
}

// orderByKind imposes execution order: customer, then assets, then devices,
// keeping source order within each kind.
func orderByKind(actions []syncer.Action) []syncer.Action {
	ordered := make([]syncer.Action, 0, len(actions))
	for _, kind := range []gcdr.EntityKind{gcdr.KindCustomer, gcdr.KindAsset, gcdr.KindDevice} {
		for _, action := range actions {
			if action.Kind == kind {
				ordered = append(ordered, action)
			}
		}
	}
	return ordered
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
