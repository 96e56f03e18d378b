package matterengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostDoesNotBlockWhenQueueFull(t *testing.T) {
	a := &Adapter{events: make(chan Event, 2)}

	assert.True(t, a.Post(Event{Kind: EventOnline, StoreID: "Matterbridge"}))
	assert.True(t, a.Post(Event{Kind: EventOffline, StoreID: "Matterbridge"}))
	// queue is now full; Post must return immediately rather than block.
	assert.False(t, a.Post(Event{Kind: EventOnline, StoreID: "Matterbridge"}))
}

func TestEventsChannelDeliversInOrder(t *testing.T) {
	a := NewAdapter(nil)
	a.Post(Event{Kind: EventOnline, StoreID: "n1"})
	a.Post(Event{Kind: EventCommissioned, StoreID: "n1"})

	first := <-a.Events()
	second := <-a.Events()

	assert.Equal(t, EventOnline, first.Kind)
	assert.Equal(t, EventCommissioned, second.Kind)
}

func TestFabricsChangedEventCarriesIndexAndAction(t *testing.T) {
	a := NewAdapter(nil)
	a.Post(Event{Kind: EventFabricsChanged, StoreID: "n1", FabricIndex: 3, FabricAct: FabricAdded})

	ev := <-a.Events()
	assert.Equal(t, uint8(3), ev.FabricIndex)
	assert.Equal(t, FabricAdded, ev.FabricAct)
}
