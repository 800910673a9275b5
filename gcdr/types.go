// Package gcdr defines the downstream registry's domain model: entity kinds,
// the normalized entity record, and the create/update payloads the registry
// accepts.
package gcdr

type EntityKind string

const (
	KindCustomer EntityKind = "customer"
	KindAsset    EntityKind = "asset"
	KindDevice   EntityKind = "device"
)

func (k EntityKind) Valid() bool {
	switch k {
	case KindCustomer, KindAsset, KindDevice:
		return true
	default:
		return false
	}
}

// Entity is the normalized downstream record. The registry returns it in
// several envelope shapes; the HTTP client flattens all of them into this.
type Entity struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	ExternalID string `json:"externalId"`
	CustomerID string `json:"customerId,omitempty"`
	AssetID    string `json:"assetId,omitempty"`
}

// CreateDTO is implemented by every payload accepted for create and update
// calls. EntityName feeds conflict recovery: on a 409 the client derives the
// natural-key code from the payload's name and looks the entity up by it.
type CreateDTO interface {
	Kind() EntityKind
	EntityName() string
}

type CreateCustomerDTO struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	ExternalID string            `json:"externalId"`
	Metadata   map[string]string `json:"metadata"`
}

func (CreateCustomerDTO) Kind() EntityKind { return KindCustomer }

func (d CreateCustomerDTO) EntityName() string { return d.Name }

type CreateAssetDTO struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	CustomerID string `json:"customerId"`
	ExternalID string `json:"externalId"`
	// ParentAssetID is serialized as an explicit JSON null when absent; the
	// registry rejects payloads that omit the field entirely.
	ParentAssetID *string           `json:"parentAssetId"`
	Metadata      map[string]string `json:"metadata"`
}

func (CreateAssetDTO) Kind() EntityKind { return KindAsset }

func (d CreateAssetDTO) EntityName() string { return d.Name }

type CreateDeviceDTO struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	ExternalID string            `json:"externalId"`
	AssetID    string            `json:"assetId"`
	CustomerID string            `json:"customerId"`
	Metadata   map[string]string `json:"metadata"`
	SlaveID    string            `json:"slaveId,omitempty"`
	CentralID  string            `json:"centralId,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
}

func (CreateDeviceDTO) Kind() EntityKind { return KindDevice }

func (d CreateDeviceDTO) EntityName() string { return d.Name }
