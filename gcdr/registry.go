package gcdr

import "context"

// Registry is the downstream registry boundary. Lookup calls return
// (nil, nil) when the entity does not exist; not-found is a normal outcome
// for reads, not an error.
type Registry interface {
	Create(ctx context.Context, dto CreateDTO) (*Entity, error)
	Get(ctx context.Context, kind EntityKind, id string) (*Entity, error)
	GetByExternalID(ctx context.Context, kind EntityKind, externalID string) (*Entity, error)
	FindByCode(ctx context.Context, kind EntityKind, code string) (*Entity, error)
	Update(ctx context.Context, kind EntityKind, id string, dto CreateDTO) (*Entity, error)
}
