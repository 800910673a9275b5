// Package source is the read-only boundary to the source platform: the
// entity snapshot the sync engine consumes, and the interfaces the engine
// uses to fetch it and to write resolved downstream IDs back.
package source

import (
	"context"

	"github.com/gh-myio/gcdr-sync/gcdr"
)

// Attribute keys recorded on source entities once a downstream link exists.
const (
	AttrGCDRID     = "gcdrId"
	AttrCustomerID = "gcdrCustomerId"
	AttrAssetID    = "gcdrAssetId"
	AttrDeviceID   = "gcdrDeviceId"
	AttrSyncedAt   = "gcdrSyncedAt"
	AttrSyncHash   = "gcdrSyncHash"
)

// KindAttr returns the kind-specific downstream-ID attribute key.
func KindAttr(kind gcdr.EntityKind) string {
	switch kind {
	case gcdr.KindCustomer:
		return AttrCustomerID
	case gcdr.KindAsset:
		return AttrAssetID
	case gcdr.KindDevice:
		return AttrDeviceID
	default:
		return ""
	}
}

// Entity is one source record, immutable for the duration of a run.
type Entity struct {
	ID         string
	Name       string
	Type       string
	Attributes map[string]string
}

// GCDRID returns the previously-recorded downstream ID, if any.
func (e Entity) GCDRID() string {
	return e.Attributes[AttrGCDRID]
}

// Bundle is a full snapshot of one customer tree. DeviceAsset maps each
// device ID to its parent asset ID; a device is never directly under the
// customer.
type Bundle struct {
	Customer    Entity
	Assets      []Entity
	Devices     []Entity
	DeviceAsset map[string]string
}

// Provider fetches the source tree. All methods are read-only.
type Provider interface {
	FetchCustomer(ctx context.Context, id string) (Entity, error)
	FetchAssets(ctx context.Context, customerID string) ([]Entity, error)
	FetchDevices(ctx context.Context, customerID string) ([]Entity, error)
	FetchDeviceAssetMap(ctx context.Context, assetIDs []string) (map[string]string, error)
	FetchServerScopeAttributes(ctx context.Context, kind gcdr.EntityKind, ids []string) (map[string]map[string]string, error)
}

// AttributeWriter persists a resolved downstream ID (plus the kind-specific
// key, a sync timestamp, and the payload fingerprint) onto the source entity.
// The write is idempotent; failure is non-fatal to the run but is surfaced as
// a warning on the action's outcome.
type AttributeWriter interface {
	WriteDownstreamID(ctx context.Context, kind gcdr.EntityKind, sourceID string, downstreamID string, syncHash string) error
}
