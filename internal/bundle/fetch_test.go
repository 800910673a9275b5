package bundle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/source"
)

type fakeSource struct {
	customer    source.Entity
	assets      []source.Entity
	devices     []source.Entity
	deviceAsset map[string]string
	attrs       map[gcdr.EntityKind]map[string]map[string]string

	assetsErr error
	attrsErr  error

	mu        sync.Mutex
	attrCalls []gcdr.EntityKind
}

func (f *fakeSource) FetchCustomer(_ context.Context, _ string) (source.Entity, error) {
	return f.customer, nil
}

func (f *fakeSource) FetchAssets(_ context.Context, _ string) ([]source.Entity, error) {
	if f.assetsErr != nil {
		return nil, f.assetsErr
	}
	return f.assets, nil
}

func (f *fakeSource) FetchDevices(_ context.Context, _ string) ([]source.Entity, error) {
	return f.devices, nil
}

func (f *fakeSource) FetchDeviceAssetMap(_ context.Context, _ []string) (map[string]string, error) {
	return f.deviceAsset, nil
}

func (f *fakeSource) FetchServerScopeAttributes(_ context.Context, kind gcdr.EntityKind, _ []string) (map[string]map[string]string, error) {
	f.mu.Lock()
	f.attrCalls = append(f.attrCalls, kind)
	f.mu.Unlock()
	if f.attrsErr != nil {
		return nil, f.attrsErr
	}
	return f.attrs[kind], nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	known   map[string]bool
	getErr  error
	checked []string
}

func (f *fakeRegistry) Create(_ context.Context, _ gcdr.CreateDTO) (*gcdr.Entity, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRegistry) Get(_ context.Context, _ gcdr.EntityKind, id string) (*gcdr.Entity, error) {
	f.mu.Lock()
	f.checked = append(f.checked, id)
	f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if !f.known[id] {
		return nil, nil
	}
	return &gcdr.Entity{ID: id}, nil
}

func (f *fakeRegistry) GetByExternalID(_ context.Context, _ gcdr.EntityKind, _ string) (*gcdr.Entity, error) {
	return nil, nil
}

func (f *fakeRegistry) FindByCode(_ context.Context, _ gcdr.EntityKind, _ string) (*gcdr.Entity, error) {
	return nil, nil
}

func (f *fakeRegistry) Update(_ context.Context, _ gcdr.EntityKind, _ string, _ gcdr.CreateDTO) (*gcdr.Entity, error) {
	return nil, errors.New("not implemented")
}

func TestFetchAssemblesBundleAndLinks(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		customer: source.Entity{ID: "tb-c1", Name: "Shopping X"},
		assets: []source.Entity{
			{ID: "tb-a1", Name: "Tower A"},
			{ID: "tb-a2", Name: "Tower B"},
		},
		devices: []source.Entity{
			{ID: "tb-d1", Name: "Meter 1"},
		},
		deviceAsset: map[string]string{"tb-d1": "tb-a1"},
		attrs: map[gcdr.EntityKind]map[string]map[string]string{
			gcdr.KindCustomer: {"tb-c1": {source.AttrCustomerID: "g-c1"}},
			gcdr.KindAsset: {
				"tb-a1": {source.AttrAssetID: "g-a1"},
			},
			gcdr.KindDevice: {"tb-d1": {"slaveId": "7"}},
		},
	}
	registry := &fakeRegistry{known: map[string]bool{"g-c1": true}}

	fetcher := &Fetcher{Source: src, Registry: registry, Concurrency: 3}
	bundle, links, err := fetcher.Fetch(context.Background(), "tb-c1")
	require.NoError(t, err)

	require.Equal(t, "g-c1", bundle.Customer.GCDRID())
	require.Len(t, bundle.Assets, 2)
	require.Equal(t, "g-a1", bundle.Assets[0].GCDRID())
	require.Empty(t, bundle.Assets[1].Attributes)
	require.Equal(t, "7", bundle.Devices[0].Attributes["slaveId"])
	require.Equal(t, map[string]string{"tb-d1": "tb-a1"}, bundle.DeviceAsset)

	// One check per recorded link only; the unlinked asset and device are
	// never probed.
	require.ElementsMatch(t, []string{"g-c1", "g-a1"}, registry.checked)
	require.Equal(t, map[string]bool{"tb-c1": true, "tb-a1": false}, map[string]bool{
		"tb-c1": links["tb-c1"].Exists,
		"tb-a1": links["tb-a1"].Exists,
	})
	require.Equal(t, "g-a1", links["tb-a1"].GCDRID)
	_, deviceChecked := links["tb-d1"]
	require.False(t, deviceChecked)
}

func TestFetchPropagatesSourceFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		customer:  source.Entity{ID: "tb-c1"},
		assetsErr: errors.New("platform unavailable"),
	}
	fetcher := &Fetcher{Source: src, Registry: &fakeRegistry{}}

	_, _, err := fetcher.Fetch(context.Background(), "tb-c1")
	require.ErrorContains(t, err, "fetch assets")
}

func TestFetchPropagatesLinkCheckFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		customer: source.Entity{ID: "tb-c1", Name: "Shopping X", Attributes: map[string]string{source.AttrCustomerID: "g-c1"}},
		attrs: map[gcdr.EntityKind]map[string]map[string]string{
			gcdr.KindCustomer: {"tb-c1": {source.AttrCustomerID: "g-c1"}},
		},
	}
	registry := &fakeRegistry{getErr: errors.New("boom")}
	fetcher := &Fetcher{Source: src, Registry: registry}

	_, _, err := fetcher.Fetch(context.Background(), "tb-c1")
	require.ErrorContains(t, err, "link")
}

func TestFetchFetchesAttributesPerKind(t *testing.T) {
	t.Parallel()

	src := &fakeSource{customer: source.Entity{ID: "tb-c1"}}
	fetcher := &Fetcher{Source: src, Registry: &fakeRegistry{}, Concurrency: 2}

	_, _, err := fetcher.Fetch(context.Background(), "tb-c1")
	require.NoError(t, err)
	require.ElementsMatch(t, []gcdr.EntityKind{gcdr.KindCustomer, gcdr.KindAsset, gcdr.KindDevice}, src.attrCalls)
}
