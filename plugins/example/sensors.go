package example

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/matterbridge-core/bridge/internal/pluginmgr"
)

func init() {
	pluginmgr.Register("example-sensors", func() pluginmgr.Handler { return &SensorPlatform{} })
}

// SensorPlatform bridges a small fleet of temperature sensors behind one
// aggregator, declaring itself a DynamicPlatform by registering composed
// devices. It simulates readings on a ticker rather than polling real
// hardware, standing in for whatever cloud API or local bus a real
// sensor integration would poll.
type SensorPlatform struct {
	pluginmgr.Base

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

const sensorCount = 3

func (p *SensorPlatform) OnStart(ctx context.Context, pctx *pluginmgr.Context) error {
	for i := 0; i < sensorCount; i++ {
		key := fmt.Sprintf("sensor-%d", i+1)
		if err := pctx.RegisterDevice(key, true); err != nil {
			return err
		}
		if err := pctx.SetAttribute(key, "TemperatureMeasurement", "measuredValue", 2000); err != nil {
			return err
		}
	}
	return nil
}

func (p *SensorPlatform) OnConfigure(ctx context.Context, pctx *pluginmgr.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go p.poll(pctx)
	return nil
}

func (p *SensorPlatform) poll(pctx *pluginmgr.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for i := 0; i < sensorCount; i++ {
				key := fmt.Sprintf("sensor-%d", i+1)
				reading := 1800 + rand.Intn(600) // hundredths of a degree C
				_ = pctx.SetAttribute(key, "TemperatureMeasurement", "measuredValue", reading)
			}
		case <-p.stop:
			return
		}
	}
}

func (p *SensorPlatform) OnShutdown(ctx context.Context, pctx *pluginmgr.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
