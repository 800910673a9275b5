package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gh-myio/gcdr-sync/faults"
	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/internal/diff"
	"github.com/gh-myio/gcdr-sync/source"
	"github.com/gh-myio/gcdr-sync/syncer"
)

// fakeRegistry simulates the downstream client. Conflict recovery lives in
// the client, so a "409 that resolves via code lookup" surfaces here as a
// successful Create returning the pre-existing entity.
type fakeRegistry struct {
	mu          sync.Mutex
	nextID      int
	createCalls int
	updateCalls int
	createdDTOs []gcdr.CreateDTO
	kindOrder   []gcdr.EntityKind

	failCreate map[string]error        // keyed by entity name
	failUpdate map[string]error        // keyed by downstream id
	existing   map[string]*gcdr.Entity // keyed by entity name: conflict-resolved creates
}

func (f *fakeRegistry) Create(_ context.Context, dto gcdr.CreateDTO) (*gcdr.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	f.kindOrder = append(f.kindOrder, dto.Kind())

	if err, failing := f.failCreate[dto.EntityName()]; failing {
		return nil, err
	}
	f.createdDTOs = append(f.createdDTOs, dto)

	if entity, conflicted := f.existing[dto.EntityName()]; conflicted {
		return entity, nil
	}

	f.nextID++
	return &gcdr.Entity{
		ID:   fmt.Sprintf("gcdr-%d", f.nextID),
		Code: gcdr.DeriveCode(dto.EntityName()),
		Name: dto.EntityName(),
	}, nil
}

func (f *fakeRegistry) Get(context.Context, gcdr.EntityKind, string) (*gcdr.Entity, error) {
	return nil, nil
}

func (f *fakeRegistry) GetByExternalID(context.Context, gcdr.EntityKind, string) (*gcdr.Entity, error) {
	return nil, nil
}

func (f *fakeRegistry) FindByCode(context.Context, gcdr.EntityKind, string) (*gcdr.Entity, error) {
	return nil, nil
}

func (f *fakeRegistry) Update(_ context.Context, kind gcdr.EntityKind, id string, dto gcdr.CreateDTO) (*gcdr.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateCalls++
	f.kindOrder = append(f.kindOrder, kind)

	if err, failing := f.failUpdate[id]; failing {
		return nil, err
	}
	return &gcdr.Entity{ID: id, Name: dto.EntityName()}, nil
}

func (f *fakeRegistry) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls + f.updateCalls
}

type writeBack struct {
	mu     sync.Mutex
	links  map[string]string
	hashes map[string]string
	err    error
}

func (w *writeBack) WriteDownstreamID(_ context.Context, kind gcdr.EntityKind, sourceID string, downstreamID string, syncHash string) error {
	if w.err != nil {
		return w.err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.links == nil {
		w.links = make(map[string]string)
		w.hashes = make(map[string]string)
	}
	w.links[string(kind)+"/"+sourceID] = downstreamID
	w.hashes[string(kind)+"/"+sourceID] = syncHash
	return nil
}

func shoppingBundle() source.Bundle {
	return source.Bundle{
		Customer: source.Entity{ID: "tb-c1", Name: "Shopping X", Type: "mall"},
		Assets: []source.Entity{
			{ID: "tb-a1", Name: "Food Court", Type: "area"},
		},
		Devices: []source.Entity{
			{ID: "tb-d1", Name: "Meter-01", Type: "energy", Attributes: map[string]string{"slaveId": "3"}},
		},
		DeviceAsset: map[string]string{"tb-d1": "tb-a1"},
	}
}

func mustPlan(t *testing.T, bundle source.Bundle, links map[string]syncer.LinkState) syncer.Plan {
	t.Helper()

	plan, err := diff.Planner{}.Plan(bundle, links)
	require.NoError(t, err)
	return plan
}

func TestExecuteShoppingScenario(t *testing.T) {
	t.Parallel()

	// Device create 409s downstream and the client resolves it via code
	// lookup to an existing entity; the orchestrator sees a plain success.
	registry := &fakeRegistry{
		existing: map[string]*gcdr.Entity{
			"Meter-01": {ID: "D9", Code: "METER_01", Name: "Meter-01"},
		},
	}
	writer := &writeBack{}
	orch := &Orchestrator{Registry: registry, Writer: writer}

	result, err := orch.Execute(context.Background(), mustPlan(t, shoppingBundle(), nil), nil)
	require.NoError(t, err)

	require.Len(t, result.Succeeded, 3)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Skipped)
	assert.NotEmpty(t, result.RunID)

	var customerID, assetID string
	for _, outcome := range result.Succeeded {
		switch outcome.Action.Kind {
		case gcdr.KindCustomer:
			customerID = outcome.GCDRID
		case gcdr.KindAsset:
			assetID = outcome.GCDRID
		case gcdr.KindDevice:
			assert.Equal(t, "D9", outcome.GCDRID)
		}
	}

	// The device DTO must reference the asset's newly-created downstream ID,
	// never a placeholder.
	var deviceDTO gcdr.CreateDeviceDTO
	for _, dto := range registry.createdDTOs {
		if typed, ok := dto.(gcdr.CreateDeviceDTO); ok {
			deviceDTO = typed
		}
	}
	assert.Equal(t, assetID, deviceDTO.AssetID)
	assert.Equal(t, customerID, deviceDTO.CustomerID)
	assert.Equal(t, "3", deviceDTO.SlaveID)

	// Every successful create was written back with its resolved ID.
	assert.Equal(t, customerID, writer.links["customer/tb-c1"])
	assert.Equal(t, assetID, writer.links["asset/tb-a1"])
	assert.Equal(t, "D9", writer.links["device/tb-d1"])
}

func TestExecuteCustomerFailureCascades(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{
		failCreate: map[string]error{
			"Shopping X": faults.NewTypedError(faults.ValidationError, "name rejected", nil),
		},
	}
	orch := &Orchestrator{Registry: registry}

	result, err := orch.Execute(context.Background(), mustPlan(t, shoppingBundle(), nil), nil)
	require.NoError(t, err)

	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 3)

	// Only the customer ever reached the API.
	assert.Equal(t, 1, registry.calls())

	for _, outcome := range result.Failed[1:] {
		assert.Contains(t, outcome.Err, abortParentCustomer)
	}
}

func TestExecutePartialSiblingIndependence(t *testing.T) {
	t.Parallel()

	bundle := shoppingBundle()
	bundle.Assets = append(bundle.Assets, source.Entity{ID: "tb-a2", Name: "Parking", Type: "area"})
	bundle.Devices = append(bundle.Devices, source.Entity{ID: "tb-d2", Name: "Meter-02", Type: "energy"})
	bundle.DeviceAsset["tb-d2"] = "tb-a2"

	registry := &fakeRegistry{
		failCreate: map[string]error{
			"Food Court": faults.NewTypedError(faults.TransportError, "registry request failed with status 502: <empty>", nil),
		},
	}
	orch := &Orchestrator{Registry: registry, Writer: &writeBack{}}

	result, err := orch.Execute(context.Background(), mustPlan(t, bundle, nil), nil)
	require.NoError(t, err)

	failedIDs := make(map[string]string)
	for _, outcome := range result.Failed {
		failedIDs[outcome.Action.SourceID] = outcome.Err
	}
	succeededIDs := make(map[string]struct{})
	for _, outcome := range result.Succeeded {
		succeededIDs[outcome.Action.SourceID] = struct{}{}
	}

	// Asset A and its device fail; Asset B's subtree is untouched.
	assert.Contains(t, failedIDs, "tb-a1")
	assert.Contains(t, failedIDs["tb-d1"], abortParentAsset)
	assert.Contains(t, succeededIDs, "tb-c1")
	assert.Contains(t, succeededIDs, "tb-a2")
	assert.Contains(t, succeededIDs, "tb-d2")
}

func TestExecuteOrderIsCustomerAssetsDevices(t *testing.T) {
	t.Parallel()

	bundle := shoppingBundle()
	bundle.Assets = append(bundle.Assets, source.Entity{ID: "tb-a2", Name: "Parking", Type: "area"})
	bundle.Devices = append(bundle.Devices, source.Entity{ID: "tb-d2", Name: "Meter-02", Type: "energy"})
	bundle.DeviceAsset["tb-d2"] = "tb-a2"

	plan := mustPlan(t, bundle, nil)

	// Shuffle the plan's action order; execution order must not change.
	shuffled := syncer.Plan{
		Actions:  append([]syncer.Action{}, plan.Actions...),
		ToCreate: plan.ToCreate,
	}
	for i, j := 0, len(shuffled.Actions)-1; i < j; i, j = i+1, j-1 {
		shuffled.Actions[i], shuffled.Actions[j] = shuffled.Actions[j], shuffled.Actions[i]
	}

	registry := &fakeRegistry{}
	_, err := (&Orchestrator{Registry: registry}).Execute(context.Background(), shuffled, nil)
	require.NoError(t, err)

	require.Len(t, registry.kindOrder, 5)
	assert.Equal(t, []gcdr.EntityKind{
		gcdr.KindCustomer, gcdr.KindAsset, gcdr.KindAsset, gcdr.KindDevice, gcdr.KindDevice,
	}, registry.kindOrder)
}

func TestExecuteUpdatePath(t *testing.T) {
	t.Parallel()

	t.Run("update_reconfirms_known_id", func(t *testing.T) {
		t.Parallel()

		bundle := shoppingBundle()
		bundle.Customer.Attributes = map[string]string{source.AttrGCDRID: "C1"}
		links := map[string]syncer.LinkState{"tb-c1": {GCDRID: "C1", Exists: true}}

		registry := &fakeRegistry{}
		result, err := (&Orchestrator{Registry: registry}).Execute(context.Background(), mustPlan(t, bundle, links), nil)
		require.NoError(t, err)

		require.Len(t, result.Succeeded, 3)
		for _, outcome := range result.Succeeded {
			if outcome.Action.Kind == gcdr.KindCustomer {
				assert.Equal(t, syncer.ActionUpdate, outcome.Action.Type)
				assert.Equal(t, "C1", outcome.GCDRID)
			}
		}
		assert.Equal(t, 1, registry.updateCalls)
	})

	t.Run("update_refreshes_recorded_fingerprint", func(t *testing.T) {
		t.Parallel()

		// Content changed since last sync, so the device UPDATEs. The
		// write-back must record the new fingerprint, otherwise the entity
		// can never skip again.
		bundle := shoppingBundle()
		device := &bundle.Devices[0]
		device.Attributes[source.AttrGCDRID] = "D1"
		device.Attributes[source.AttrSyncHash] = "stale-hash"
		bundle.Customer.Attributes = map[string]string{source.AttrGCDRID: "C1"}
		bundle.Assets[0].Attributes = map[string]string{source.AttrGCDRID: "A1"}
		links := map[string]syncer.LinkState{
			"tb-c1": {GCDRID: "C1", Exists: true},
			"tb-a1": {GCDRID: "A1", Exists: true},
			"tb-d1": {GCDRID: "D1", Exists: true},
		}

		registry := &fakeRegistry{}
		writer := &writeBack{}
		result, err := (&Orchestrator{Registry: registry, Writer: writer}).
			Execute(context.Background(), mustPlan(t, bundle, links), nil)
		require.NoError(t, err)

		require.Len(t, result.Succeeded, 3)
		assert.Equal(t, "D1", writer.links["device/tb-d1"])
		expected := diff.Fingerprint(gcdr.KindDevice, *device)
		assert.Equal(t, expected, writer.hashes["device/tb-d1"])
		assert.NotEqual(t, "stale-hash", writer.hashes["device/tb-d1"])
	})

	t.Run("customer_update_failure_does_not_cascade", func(t *testing.T) {
		t.Parallel()

		// The customer ID is already known, so children can still resolve it.
		bundle := shoppingBundle()
		bundle.Customer.Attributes = map[string]string{source.AttrGCDRID: "C1"}
		links := map[string]syncer.LinkState{"tb-c1": {GCDRID: "C1", Exists: true}}

		registry := &fakeRegistry{
			failUpdate: map[string]error{
				"C1": faults.NewTypedError(faults.NotFoundError, "registry request failed with status 404: <empty>", nil),
			},
		}
		result, err := (&Orchestrator{Registry: registry}).Execute(context.Background(), mustPlan(t, bundle, links), nil)
		require.NoError(t, err)

		require.Len(t, result.Failed, 1)
		assert.Equal(t, "tb-c1", result.Failed[0].Action.SourceID)
		assert.Len(t, result.Succeeded, 2)
	})
}

func TestExecuteWriteBackFailureIsWarning(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{}
	writer := &writeBack{err: faults.NewTypedError(faults.TransportError, "attribute store unavailable", nil)}
	orch := &Orchestrator{Registry: registry, Writer: writer}

	result, err := orch.Execute(context.Background(), mustPlan(t, shoppingBundle(), nil), nil)
	require.NoError(t, err)

	// All three still succeed; each carries the warning; dependents used the
	// resolved IDs despite the failed write-back.
	require.Len(t, result.Succeeded, 3)
	for _, outcome := range result.Succeeded {
		assert.Contains(t, outcome.Warning, "write-back failed")
	}
	assert.Empty(t, result.Failed)
}

func TestExecuteProgressReporting(t *testing.T) {
	t.Parallel()

	// Parents keep their downstream IDs (UPDATE), so the unchanged device
	// legitimately skips.
	bundle := shoppingBundle()
	bundle.Customer.Attributes = map[string]string{source.AttrGCDRID: "C1"}
	bundle.Assets[0].Attributes = map[string]string{source.AttrGCDRID: "A1"}
	device := &bundle.Devices[0]
	device.Attributes[source.AttrGCDRID] = "D1"
	device.Attributes[source.AttrSyncHash] = diff.Fingerprint(gcdr.KindDevice, *device)
	links := map[string]syncer.LinkState{
		"tb-c1": {GCDRID: "C1", Exists: true},
		"tb-a1": {GCDRID: "A1", Exists: true},
		"tb-d1": {GCDRID: "D1", Exists: true},
	}

	plan := mustPlan(t, bundle, links)
	require.Equal(t, 1, plan.ToSkip)
	require.Equal(t, 2, plan.Attempted())

	type tick struct {
		current, total int
		name           string
	}
	var ticks []tick
	progress := func(current, total int, name string) {
		ticks = append(ticks, tick{current, total, name})
	}

	result, err := (&Orchestrator{Registry: &fakeRegistry{}}).Execute(context.Background(), plan, progress)
	require.NoError(t, err)

	// SKIP actions never tick progress and land in skipped.
	require.Len(t, ticks, 2)
	for idx, tk := range ticks {
		assert.Equal(t, idx+1, tk.current)
		assert.Equal(t, 2, tk.total)
	}
	assert.Len(t, result.Skipped, 1)
	assert.Equal(t, "tb-d1", result.Skipped[0].Action.SourceID)
}

func TestExecuteAuthFailureAbortsRun(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{
		failCreate: map[string]error{
			"Shopping X": faults.NewTypedError(faults.AuthError, "registry request failed with status 401: <empty>", nil),
		},
	}
	result, err := (&Orchestrator{Registry: registry}).Execute(context.Background(), mustPlan(t, shoppingBundle(), nil), nil)

	require.Error(t, err)
	assert.True(t, faults.IsCategory(err, faults.AuthError))
	assert.Len(t, result.Failed, 3)
	assert.Equal(t, 1, registry.calls())
	for _, outcome := range result.Failed[1:] {
		assert.Contains(t, outcome.Err, abortAuthFailure)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	registry := &fakeRegistry{}
	result, err := (&Orchestrator{Registry: registry}).Execute(ctx, mustPlan(t, shoppingBundle(), nil), nil)
	require.NoError(t, err)

	assert.Zero(t, registry.calls())
	assert.Len(t, result.Failed, 3)
	for _, outcome := range result.Failed {
		assert.Contains(t, outcome.Err, abortCancelled)
	}
}

func TestExecuteEveryActionLandsInExactlyOnePartition(t *testing.T) {
	t.Parallel()

	bundle := shoppingBundle()
	bundle.Assets = append(bundle.Assets, source.Entity{ID: "tb-a2", Name: "Parking", Type: "area"})
	bundle.Devices = append(bundle.Devices, source.Entity{ID: "tb-d2", Name: "Meter-02", Type: "energy"})
	bundle.DeviceAsset["tb-d2"] = "tb-a2"

	registry := &fakeRegistry{
		failCreate: map[string]error{
			"Parking": faults.NewTypedError(faults.ValidationError, "rejected", nil),
		},
	}
	plan := mustPlan(t, bundle, nil)
	result, err := (&Orchestrator{Registry: registry}).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.Equal(t, len(plan.Actions), len(result.Succeeded)+len(result.Failed)+len(result.Skipped))
}
