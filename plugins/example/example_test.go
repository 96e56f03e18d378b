package example

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matterbridge-core/bridge/internal/model"
	"github.com/matterbridge-core/bridge/internal/pluginmgr"
	"github.com/matterbridge-core/bridge/internal/registry"
)

func newManager(t *testing.T) (*pluginmgr.Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(zerolog.Nop(), nil)
	return pluginmgr.New(zerolog.Nop(), reg), reg
}

func TestLightPlatformInfersAccessoryType(t *testing.T) {
	m, reg := newManager(t)
	require.NoError(t, m.Add("example-light", model.AnyPlatform, nil))
	require.NoError(t, m.Load(context.Background(), "example-light"))
	require.NoError(t, m.Start(context.Background(), "example-light"))

	p, err := m.Get("example-light")
	require.NoError(t, err)
	assert.Equal(t, model.AccessoryPlatform, p.Type)
	assert.Equal(t, 1, p.RegisteredDevices)

	dev, err := reg.Get("light-1")
	require.NoError(t, err)
	assert.False(t, dev.Composed)
	assert.True(t, dev.HasCluster("OnOff"))
}

func TestSensorPlatformInfersDynamicTypeAndRegistersAll(t *testing.T) {
	m, reg := newManager(t)
	require.NoError(t, m.Add("example-sensors", model.AnyPlatform, nil))
	require.NoError(t, m.Load(context.Background(), "example-sensors"))
	require.NoError(t, m.Start(context.Background(), "example-sensors"))
	require.NoError(t, m.Configure(context.Background(), "example-sensors"))

	p, err := m.Get("example-sensors")
	require.NoError(t, err)
	assert.Equal(t, model.DynamicPlatform, p.Type)
	assert.Equal(t, sensorCount, p.RegisteredDevices)

	for _, key := range []string{"sensor-1", "sensor-2", "sensor-3"} {
		dev, err := reg.Get(key)
		require.NoError(t, err)
		assert.True(t, dev.Composed)
	}

	m.Shutdown(context.Background(), "example-sensors")
}

func TestSensorPlatformShutdownStopsPollingGoroutine(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Add("example-sensors", model.AnyPlatform, nil))
	require.NoError(t, m.Load(context.Background(), "example-sensors"))
	require.NoError(t, m.Start(context.Background(), "example-sensors"))
	require.NoError(t, m.Configure(context.Background(), "example-sensors"))

	done := make(chan struct{})
	go func() {
		m.Shutdown(context.Background(), "example-sensors")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected shutdown to stop the polling goroutine promptly")
	}
}
