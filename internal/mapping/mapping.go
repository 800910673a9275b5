// Package mapping holds the pure transforms from planned actions into the
// downstream registry's payloads.
package mapping

import (
	"strings"

	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/syncer"
)

// Attribute keys promoted into dedicated device DTO fields instead of the
// metadata map.
const (
	attrSlaveID    = "slaveId"
	attrCentralID  = "centralId"
	attrIdentifier = "identifier"
)

func CustomerDTO(action syncer.Action) gcdr.CreateCustomerDTO {
	return gcdr.CreateCustomerDTO{
		Name:       action.Name,
		Type:       action.EntityType,
		ExternalID: action.SourceID,
		Metadata:   Metadata(action.Attributes, nil),
	}
}

func AssetDTO(action syncer.Action, customerID string) gcdr.CreateAssetDTO {
	return gcdr.CreateAssetDTO{
		Name:          action.Name,
		Type:          action.EntityType,
		CustomerID:    customerID,
		ExternalID:    action.SourceID,
		ParentAssetID: nil,
		Metadata:      Metadata(action.Attributes, nil),
	}
}

func DeviceDTO(action syncer.Action, assetID string, customerID string) gcdr.CreateDeviceDTO {
	return gcdr.CreateDeviceDTO{
		Name:       action.Name,
		Type:       action.EntityType,
		ExternalID: action.SourceID,
		AssetID:    assetID,
		CustomerID: customerID,
		Metadata:   Metadata(action.Attributes, []string{attrSlaveID, attrCentralID, attrIdentifier}),
		SlaveID:    action.Attributes[attrSlaveID],
		CentralID:  action.Attributes[attrCentralID],
		Identifier: action.Attributes[attrIdentifier],
	}
}

// Metadata copies the entity's free-form attributes, dropping the sync
// bookkeeping keys and any promoted keys. The result is never nil; the
// registry expects the field to be present.
func Metadata(attributes map[string]string, promoted []string) map[string]string {
	metadata := make(map[string]string, len(attributes))

outer:
	for key, value := range attributes {
		if strings.HasPrefix(key, "gcdr") {
			continue
		}
		for _, skip := range promoted {
			if key == skip {
				continue outer
			}
		}
		metadata[key] = value
	}

	return metadata
}
