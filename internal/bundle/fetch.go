// Package bundle assembles the source snapshot and the downstream link
// states the planner consumes. Fetches and existence checks are independent
// reads, so they fan out with a bounded concurrency limit; results are keyed
// into maps before planning, which makes completion order irrelevant.
package bundle

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gh-myio/gcdr-sync/faults"
	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/source"
	"github.com/gh-myio/gcdr-sync/syncer"
)

type Fetcher struct {
	Source   source.Provider
	Registry gcdr.Registry
	// Concurrency bounds the fan-out of attribute fetches and existence
	// checks; values below one fall back to a single in-flight request.
	Concurrency int
}

// Fetch retrieves the full customer tree and pre-checks every recorded
// downstream link.
func (f *Fetcher) Fetch(ctx context.Context, customerID string) (source.Bundle, map[string]syncer.LinkState, error) {
	if f == nil || f.Source == nil || f.Registry == nil {
		return source.Bundle{}, nil, faults.NewTypedError(faults.InternalError, "bundle fetcher is not configured", nil)
	}

	customer, err := f.Source.FetchCustomer(ctx, customerID)
	if err != nil {
		return source.Bundle{}, nil, err
	}

	var (
		assets  []source.Entity
		devices []source.Entity
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		fetched, err := f.Source.FetchAssets(groupCtx, customerID)
		if err != nil {
			return fmt.Errorf("fetch assets: %w", err)
		}
		assets = fetched
		return nil
	})
	group.Go(func() error {
		fetched, err := f.Source.FetchDevices(groupCtx, customerID)
		if err != nil {
			return fmt.Errorf("fetch devices: %w", err)
		}
		devices = fetched
		return nil
	})
	if err := group.Wait(); err != nil {
		return source.Bundle{}, nil, err
	}

	assetIDs := make([]string, 0, len(assets))
	for _, asset := range assets {
		assetIDs = append(assetIDs, asset.ID)
	}
	deviceAsset, err := f.Source.FetchDeviceAssetMap(ctx, assetIDs)
	if err != nil {
		return source.Bundle{}, nil, err
	}

	result := source.Bundle{
		Customer:    customer,
		Assets:      assets,
		Devices:     devices,
		DeviceAsset: deviceAsset,
	}
	if err := f.attachAttributes(ctx, &result); err != nil {
		return source.Bundle{}, nil, err
	}

	links, err := f.checkLinks(ctx, result)
	if err != nil {
		return source.Bundle{}, nil, err
	}

	return result, links, nil
}

func (f *Fetcher) attachAttributes(ctx context.Context, bundle *source.Bundle) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.limit())

	var mu sync.Mutex
	merged := make(map[gcdr.EntityKind]map[string]map[string]string)

	fetch := func(kind gcdr.EntityKind, ids []string) {
		group.Go(func() error {
			attrs, err := f.Source.FetchServerScopeAttributes(groupCtx, kind, ids)
			if err != nil {
				return fmt.Errorf("fetch %s attributes: %w", kind, err)
			}
			mu.Lock()
			merged[kind] = attrs
			mu.Unlock()
			return nil
		})
	}

	fetch(gcdr.KindCustomer, []string{bundle.Customer.ID})
	fetch(gcdr.KindAsset, entityIDs(bundle.Assets))
	fetch(gcdr.KindDevice, entityIDs(bundle.Devices))

	if err := group.Wait(); err != nil {
		return err
	}

	bundle.Customer.Attributes = merged[gcdr.KindCustomer][bundle.Customer.ID]
	for idx := range bundle.Assets {
		bundle.Assets[idx].Attributes = merged[gcdr.KindAsset][bundle.Assets[idx].ID]
	}
	for idx := range bundle.Devices {
		bundle.Devices[idx].Attributes = merged[gcdr.KindDevice][bundle.Devices[idx].ID]
	}
	return nil
}

// checkLinks verifies every recorded downstream ID against the registry so
// the planner can distinguish UPDATE from RECREATE.
func (f *Fetcher) checkLinks(ctx context.Context, bundle source.Bundle) (map[string]syncer.LinkState, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.limit())

	var mu sync.Mutex
	links := make(map[string]syncer.LinkState)

	check := func(kind gcdr.EntityKind, entity source.Entity) {
		recorded := entity.GCDRID()
		if recorded == "" {
			return
		}
		group.Go(func() error {
			existing, err := f.Registry.Get(groupCtx, kind, recorded)
			if err != nil {
				return fmt.Errorf("check %s %q link: %w", kind, entity.Name, err)
			}
			mu.Lock()
			links[entity.ID] = syncer.LinkState{GCDRID: recorded, Exists: existing != nil}
			mu.Unlock()
			return nil
		})
	}

	check(gcdr.KindCustomer, bundle.Customer)
	for _, asset := range bundle.Assets {
		check(gcdr.KindAsset, asset)
	}
	for _, device := range bundle.Devices {
		check(gcdr.KindDevice, device)
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return links, nil
}

func (f *Fetcher) limit() int {
	if f.Concurrency > 0 {
		return f.Concurrency
	}
	return 1
}

func entityIDs(entities []source.Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, entity := range entities {
		ids = append(ids, entity.ID)
	}
	return ids
}
