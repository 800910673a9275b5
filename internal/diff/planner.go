// Package diff is the pure planning half of the sync engine: it compares a
// source snapshot against the pre-checked downstream link states and emits
// exactly one action per source entity, with no I/O.
package diff

import (
	"fmt"

	"github.com/gh-myio/gcdr-sync/faults"
	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/source"
	"github.com/gh-myio/gcdr-sync/syncer"
)

type Planner struct{}

var _ syncer.Planner = Planner{}

func (Planner) Plan(bundle source.Bundle, links map[string]syncer.LinkState) (syncer.Plan, error) {
	if bundle.Customer.ID == "" {
		return syncer.Plan{}, faults.NewTypedError(faults.ValidationError, "bundle has no customer", nil)
	}

	assetIDs := make(map[string]struct{}, len(bundle.Assets))
	for _, asset := range bundle.Assets {
		assetIDs[asset.ID] = struct{}{}
	}

	actions := make([]syncer.Action, 0, 1+len(bundle.Assets)+len(bundle.Devices))
	customerAction := classify(gcdr.KindCustomer, bundle.Customer, "", links)
	actions = append(actions, customerAction)
	customerReplaced := replacesDownstreamID(customerAction.Type)

	assetReplaced := make(map[string]bool, len(bundle.Assets))
	for _, asset := range bundle.Assets {
		action := classify(gcdr.KindAsset, asset, bundle.Customer.ID, links)
		if customerReplaced {
			action = demoteSkip(action)
		}
		assetReplaced[asset.ID] = replacesDownstreamID(action.Type)
		actions = append(actions, action)
	}

	for _, device := range bundle.Devices {
		parentID, mapped := bundle.DeviceAsset[device.ID]
		if !mapped {
			return syncer.Plan{}, faults.NewTypedError(
				faults.ValidationError,
				fmt.Sprintf("device %q (%s) is not mapped to any asset", device.Name, device.ID),
				nil,
			)
		}
		if _, known := assetIDs[parentID]; !known {
			return syncer.Plan{}, faults.NewTypedError(
				faults.ValidationError,
				fmt.Sprintf("device %q (%s) maps to unknown asset %q", device.Name, device.ID, parentID),
				nil,
			)
		}
		action := classify(gcdr.KindDevice, device, parentID, links)
		if customerReplaced || assetReplaced[parentID] {
			action = demoteSkip(action)
		}
		actions = append(actions, action)
	}

	plan := syncer.Plan{Actions: actions}
	for _, action := range actions {
		switch action.Type {
		case syncer.ActionCreate:
			plan.ToCreate++
		case syncer.ActionUpdate:
			plan.ToUpdate++
		case syncer.ActionRecreate:
			plan.ToRecreate++
		case syncer.ActionSkip:
			plan.ToSkip++
		}
	}

	return plan, nil
}

// replacesDownstreamID reports whether the action mints a new downstream ID,
// invalidating the parent reference children recorded at last sync.
func replacesDownstreamID(actionType syncer.ActionType) bool {
	return actionType == syncer.ActionCreate || actionType == syncer.ActionRecreate
}

// demoteSkip forces an UPDATE on an otherwise unchanged child whose parent is
// getting a new downstream ID. The fingerprint only covers the child's own
// content, so it cannot see that the payload's parent ID is about to change.
func demoteSkip(action syncer.Action) syncer.Action {
	if action.Type == syncer.ActionSkip {
		action.Type = syncer.ActionUpdate
	}
	return action
}

// classify decides the single action for one entity:
//   - no recorded downstream ID           -> CREATE
//   - recorded ID that no longer resolves -> RECREATE
//   - recorded ID that resolves           -> SKIP when the stored content
//     fingerprint matches, UPDATE otherwise (updates are idempotent, so
//     over-including UPDATE is always safe)
func classify(kind gcdr.EntityKind, entity source.Entity, parentID string, links map[string]syncer.LinkState) syncer.Action {
	action := syncer.Action{
		Kind:       kind,
		SourceID:   entity.ID,
		Name:       entity.Name,
		EntityType: entity.Type,
		ParentID:   parentID,
		Attributes: entity.Attributes,
	}

	recorded := entity.GCDRID()
	if recorded == "" {
		action.Type = syncer.ActionCreate
		return action
	}

	action.GCDRID = recorded
	if !links[entity.ID].Exists {
		action.Type = syncer.ActionRecreate
		return action
	}

	stored := entity.Attributes[source.AttrSyncHash]
	if stored != "" && stored == Fingerprint(kind, entity) {
		action.Type = syncer.ActionSkip
		return action
	}

	action.Type = syncer.ActionUpdate
	return action
}
