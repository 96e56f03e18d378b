package matterengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matterbridge-core/bridge/internal/model"
)

func TestStartPostsOnlineEvent(t *testing.T) {
	eng := NewInMemoryEngine()
	adapter := NewAdapter(eng)
	eng.SetPoster(adapter.Post)

	handle, err := eng.CreateServerNode(context.Background(), "Matterbridge", 5540, 20242025, 3840)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background(), handle))

	ev := <-adapter.Events()
	assert.Equal(t, EventOnline, ev.Kind)
	assert.Equal(t, "Matterbridge", ev.StoreID)
}

func TestStartPostsCommissionedEventWhenFabricAlreadyPresent(t *testing.T) {
	eng := NewInMemoryEngine()
	adapter := NewAdapter(eng)
	eng.SetPoster(adapter.Post)

	handle, err := eng.CreateServerNode(context.Background(), "Matterbridge", 5540, 20242025, 3840)
	require.NoError(t, err)
	require.NoError(t, eng.Commission(handle, model.FabricRecord{FabricIndex: 1, Label: "Home"}))
	require.NoError(t, eng.Start(context.Background(), handle))

	first := <-adapter.Events()
	second := <-adapter.Events()
	assert.Equal(t, EventOnline, first.Kind)
	assert.Equal(t, EventCommissioned, second.Kind)
}

func TestStartWithoutPosterIsANoop(t *testing.T) {
	eng := NewInMemoryEngine()
	handle, err := eng.CreateServerNode(context.Background(), "Matterbridge", 5540, 20242025, 3840)
	require.NoError(t, err)
	assert.NoError(t, eng.Start(context.Background(), handle))
}

func TestRemoveFabricClearsRecordedFabric(t *testing.T) {
	eng := NewInMemoryEngine()
	handle, err := eng.CreateServerNode(context.Background(), "Matterbridge", 5540, 20242025, 3840)
	require.NoError(t, err)
	require.NoError(t, eng.Commission(handle, model.FabricRecord{FabricIndex: 1}))

	require.NoError(t, eng.RemoveFabric(context.Background(), handle, 1))

	records, err := eng.FabricInformations(handle)
	require.NoError(t, err)
	assert.Empty(t, records)
}
