package commissioning

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matterbridge-core/bridge/internal/matterengine"
	"github.com/matterbridge-core/bridge/internal/model"
)

type fakeEngine struct {
	codes   model.PairingCodes
	fabrics []model.FabricRecord
	removed []uint8
}

func (f *fakeEngine) CreateServerNode(ctx context.Context, storeID string, port, passcode, discriminator int) (matterengine.Handle, error) {
	return matterengine.Handle{}, nil
}
func (f *fakeEngine) CreateAggregator(ctx context.Context, storeID string) (matterengine.Handle, error) {
	return matterengine.Handle{}, nil
}
func (f *fakeEngine) Add(ctx context.Context, parent, child matterengine.Handle) (uint32, error) {
	return 0, nil
}
func (f *fakeEngine) Start(ctx context.Context, node matterengine.Handle) error        { return nil }
func (f *fakeEngine) Close(ctx context.Context, node matterengine.Handle) error        { return nil }
func (f *fakeEngine) StopAdvertising(ctx context.Context, node matterengine.Handle) error {
	return nil
}
func (f *fakeEngine) Advertise(ctx context.Context, node matterengine.Handle) error { return nil }
func (f *fakeEngine) PairingCodes(node matterengine.Handle) (model.PairingCodes, error) {
	return f.codes, nil
}
func (f *fakeEngine) RemoveFabric(ctx context.Context, node matterengine.Handle, fabricIndex uint8) error {
	f.removed = append(f.removed, fabricIndex)
	f.fabrics = nil
	return nil
}
func (f *fakeEngine) FabricInformations(node matterengine.Handle) ([]model.FabricRecord, error) {
	return f.fabrics, nil
}
func (f *fakeEngine) Sessions(node matterengine.Handle) ([]model.SessionRecord, error) {
	return nil, nil
}

func newSupervisor(t *testing.T, eng *fakeEngine) (*Supervisor, *matterengine.Adapter) {
	t.Helper()
	adapter := matterengine.NewAdapter(eng)
	return New(zerolog.Nop(), adapter, nil), adapter
}

func TestStartAdvertisingOpensWindowWithCodes(t *testing.T) {
	eng := &fakeEngine{codes: model.PairingCodes{QR: "MT:Y.", Manual: "1234"}}
	s, _ := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	s.Track(node, matterengine.Handle{})

	require.NoError(t, s.StartAdvertising(context.Background(), "Matterbridge", matterengine.Handle{}))

	got, ok := s.Node("Matterbridge")
	require.True(t, ok)
	assert.Equal(t, model.StateAdvertising, got.Window.State)
	assert.Equal(t, "1234", got.Window.Codes.Manual)
	assert.True(t, got.Window.ExpiresAt.After(time.Now()))
}

func TestStopAdvertisingClosesWindowImmediately(t *testing.T) {
	eng := &fakeEngine{codes: model.PairingCodes{QR: "MT:Y.", Manual: "1234"}}
	s, _ := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	s.Track(node, matterengine.Handle{})
	require.NoError(t, s.StartAdvertising(context.Background(), "Matterbridge", matterengine.Handle{}))

	require.NoError(t, s.StopAdvertising(context.Background(), "Matterbridge", matterengine.Handle{}))

	got, _ := s.Node("Matterbridge")
	assert.Equal(t, model.StateUncommissionedIdle, got.Window.State)
}

func TestHandleReturnsTrackedEngineHandle(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	handle := matterengine.Handle{Kind: matterengine.ParentServerNode, ID: "Matterbridge"}
	s.Track(node, handle)

	got, ok := s.Handle("Matterbridge")
	require.True(t, ok)
	assert.Equal(t, handle, got)

	_, ok = s.Handle("missing")
	assert.False(t, ok)
}

func TestCommissionedEventTransitionsToCommissionedIdle(t *testing.T) {
	eng := &fakeEngine{}
	s, adapter := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	s.Track(node, matterengine.Handle{})

	adapter.Post(matterengine.Event{Kind: matterengine.EventCommissioned, StoreID: "Matterbridge"})
	s.handle(<-adapter.Events())

	got, _ := s.Node("Matterbridge")
	assert.Equal(t, model.StateCommissionedIdle, got.Window.State)
	assert.True(t, got.IsCommissioned)
}

func TestExpiryReturnsToUncommissionedIdleWhenNotCommissioned(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	node.Window.State = model.StateAdvertising
	node.Window.ExpiresAt = time.Now().Add(-time.Second)
	s.Track(node, matterengine.Handle{})

	s.checkExpiry()

	got, _ := s.Node("Matterbridge")
	assert.Equal(t, model.StateUncommissionedIdle, got.Window.State)
}

func TestRemoveLastFabricDecommissions(t *testing.T) {
	eng := &fakeEngine{fabrics: []model.FabricRecord{{FabricIndex: 1}}}
	s, _ := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	node.Fabrics[1] = model.FabricRecord{FabricIndex: 1}
	node.IsCommissioned = true
	s.Track(node, matterengine.Handle{})

	require.NoError(t, s.RemoveFabric(context.Background(), "Matterbridge", matterengine.Handle{}, 1))

	got, _ := s.Node("Matterbridge")
	assert.False(t, got.IsCommissioned)
	assert.Equal(t, model.StateUncommissionedIdle, got.Window.State)
	assert.Empty(t, got.Fabrics)
}

func TestOnlineEventOpensAdvertisingWindowWhenNotCommissioned(t *testing.T) {
	eng := &fakeEngine{codes: model.PairingCodes{QR: "MT:Y.", Manual: "5678"}}
	s, adapter := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	s.Track(node, matterengine.Handle{})

	adapter.Post(matterengine.Event{Kind: matterengine.EventOnline, StoreID: "Matterbridge"})
	s.handle(<-adapter.Events())

	got, _ := s.Node("Matterbridge")
	assert.True(t, got.IsOnline)
	assert.Equal(t, model.StateAdvertising, got.Window.State)
	assert.Equal(t, "5678", got.Window.Codes.Manual)
}

func TestOnlineEventDoesNotReadvertiseWhenAlreadyCommissioned(t *testing.T) {
	eng := &fakeEngine{}
	s, adapter := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	node.IsCommissioned = true
	s.Track(node, matterengine.Handle{})

	adapter.Post(matterengine.Event{Kind: matterengine.EventOnline, StoreID: "Matterbridge"})
	s.handle(<-adapter.Events())

	got, _ := s.Node("Matterbridge")
	assert.True(t, got.IsOnline)
	assert.Equal(t, model.StateUncommissionedIdle, got.Window.State)
}

func TestRebuildFabricsReplacesTableFromEngine(t *testing.T) {
	eng := &fakeEngine{fabrics: []model.FabricRecord{{FabricIndex: 2, Label: "Home"}}}
	s, adapter := newSupervisor(t, eng)
	node := model.NewServerNode("Matterbridge", 5540, 20242025, 3840)
	s.Track(node, matterengine.Handle{})

	adapter.Post(matterengine.Event{Kind: matterengine.EventFabricsChanged, StoreID: "Matterbridge", FabricIndex: 2, FabricAct: matterengine.FabricAdded})
	s.handle(<-adapter.Events())

	got, _ := s.Node("Matterbridge")
	require.Contains(t, got.Fabrics, uint8(2))
	assert.Equal(t, "Home", got.Fabrics[2].Label)
	assert.True(t, got.IsCommissioned)
}
