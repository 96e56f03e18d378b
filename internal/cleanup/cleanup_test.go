package cleanup

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matterbridge-core/bridge/internal/controlplane"
	"github.com/matterbridge-core/bridge/internal/matterengine"
	"github.com/matterbridge-core/bridge/internal/model"
	"github.com/matterbridge-core/bridge/internal/pluginmgr"
	"github.com/matterbridge-core/bridge/internal/registry"
	"github.com/matterbridge-core/bridge/internal/storage"
)

type fakeEngine struct {
	closedHandles []matterengine.Handle
}

func (f *fakeEngine) CreateServerNode(ctx context.Context, storeID string, port, passcode, discriminator int) (matterengine.Handle, error) {
	return matterengine.Handle{Kind: matterengine.ParentServerNode, ID: storeID}, nil
}
func (f *fakeEngine) CreateAggregator(ctx context.Context, storeID string) (matterengine.Handle, error) {
	return matterengine.Handle{Kind: matterengine.ParentAggregator, ID: storeID}, nil
}
func (f *fakeEngine) Add(ctx context.Context, parent, child matterengine.Handle) (uint32, error) {
	return 0, nil
}
func (f *fakeEngine) Start(ctx context.Context, node matterengine.Handle) error        { return nil }
func (f *fakeEngine) Close(ctx context.Context, node matterengine.Handle) error {
	f.closedHandles = append(f.closedHandles, node)
	return nil
}
func (f *fakeEngine) StopAdvertising(ctx context.Context, node matterengine.Handle) error {
	return nil
}
func (f *fakeEngine) Advertise(ctx context.Context, node matterengine.Handle) error { return nil }
func (f *fakeEngine) PairingCodes(node matterengine.Handle) (model.PairingCodes, error) {
	return model.PairingCodes{}, nil
}
func (f *fakeEngine) RemoveFabric(ctx context.Context, node matterengine.Handle, fabricIndex uint8) error {
	return nil
}
func (f *fakeEngine) FabricInformations(node matterengine.Handle) ([]model.FabricRecord, error) {
	return nil, nil
}
func (f *fakeEngine) Sessions(node matterengine.Handle) ([]model.SessionRecord, error) {
	return nil, nil
}

// fakeNodeLister lets tests attach arbitrary storage keys to a node
// without going through a real Bridge Core.
type fakeNodeLister struct {
	keysByNode map[string][]string
}

func (f *fakeNodeLister) DeviceKeysForNode(storeID string) []string {
	return f.keysByNode[storeID]
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeEngine, *fakeNodeLister) {
	t.Helper()
	dir := t.TempDir()

	st, err := storage.New(dir, zerolog.Nop())
	require.NoError(t, err)

	reg := registry.New(zerolog.Nop(), nil)
	plugins := pluginmgr.New(zerolog.Nop(), reg)
	eng := &fakeEngine{}
	adapter := matterengine.NewAdapter(eng)
	hub := controlplane.New(zerolog.Nop(), "")
	lister := &fakeNodeLister{keysByNode: make(map[string][]string)}

	return New(zerolog.Nop(), hub, plugins, reg, lister, adapter, st), eng, lister
}

func TestShutdownClosesNodesInReverseOrderAndStorage(t *testing.T) {
	o, eng, _ := newTestOrchestrator(t)

	o.TrackNode("plugin-a", matterengine.Handle{Kind: matterengine.ParentServerNode, ID: "plugin-a"})
	o.TrackNode("plugin-b", matterengine.Handle{Kind: matterengine.ParentServerNode, ID: "plugin-b"})

	require.NoError(t, o.Shutdown(context.Background()))

	require.Len(t, eng.closedHandles, 2)
	assert.Equal(t, "plugin-b", eng.closedHandles[0].ID)
	assert.Equal(t, "plugin-a", eng.closedHandles[1].ID)
}

func TestShutdownStopsControlPlaneIntakeAndClosesSessions(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	sess := controlplane.NewSession("s1", nil, "", zerolog.Nop())
	require.NoError(t, o.Hub.Register(sess))
	require.Equal(t, 1, o.Hub.SessionCount())

	require.NoError(t, o.Shutdown(context.Background()))

	assert.Equal(t, 0, o.Hub.SessionCount())
}

func TestShutdownRejectsUnpersistedEndpointNumber(t *testing.T) {
	o, _, lister := newTestOrchestrator(t)

	dev := &model.Device{StorageKey: "lamp-1", Plugin: "plugin-a", Number: 7, NumberPersisted: false}
	require.NoError(t, o.Registry.Register(dev))
	lister.keysByNode["plugin-a"] = []string{"lamp-1"}
	o.TrackNode("plugin-a", matterengine.Handle{Kind: matterengine.ParentServerNode, ID: "plugin-a"})

	err := o.Shutdown(context.Background())
	require.Error(t, err)
}

func TestShutdownAllowsPersistedEndpointNumber(t *testing.T) {
	o, _, lister := newTestOrchestrator(t)

	dev := &model.Device{StorageKey: "lamp-1", Plugin: "plugin-a", Number: 7, NumberPersisted: true}
	require.NoError(t, o.Registry.Register(dev))
	lister.keysByNode["plugin-a"] = []string{"lamp-1"}
	o.TrackNode("plugin-a", matterengine.Handle{Kind: matterengine.ParentServerNode, ID: "plugin-a"})

	require.NoError(t, o.Shutdown(context.Background()))
}

func TestShutdownValidatesDevicesByNodeNotPluginName(t *testing.T) {
	o, _, lister := newTestOrchestrator(t)

	// Bridge mode: two different plugins' devices both live on the single
	// shared "Matterbridge" node. Keying the lookup by plugin name (as
	// Registry.ByPlugin would) misses plugin-b's device entirely.
	devA := &model.Device{StorageKey: "lamp-1", Plugin: "plugin-a", Number: 7, NumberPersisted: false}
	devB := &model.Device{StorageKey: "lamp-2", Plugin: "plugin-b", Number: 9, NumberPersisted: true}
	require.NoError(t, o.Registry.Register(devA))
	require.NoError(t, o.Registry.Register(devB))
	lister.keysByNode["Matterbridge"] = []string{"lamp-1", "lamp-2"}
	o.TrackNode("Matterbridge", matterengine.Handle{Kind: matterengine.ParentServerNode, ID: "Matterbridge"})

	err := o.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lamp-1")
}
