// Package resmonitor implements the Resource Monitor (spec §4.8):
// periodic CPU/RSS/heap sampling with peak tracking and a bounded ring
// buffer of recent samples.
//
// Sampling uses gopsutil/v3, the cross-platform process-metrics library
// already present (indirectly) in the retrieved pack's dependency set;
// no pack repo samples its own process's resource usage directly, so the
// periodic ticker/stop-channel loop here is grounded on the same
// structure used throughout this module for background monitors (see
// api/internal/tracker/tracker.go's ConnectionTracker.Start/Stop).
package resmonitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultSampleInterval is how often the monitor samples process
// resource usage (spec §4.8).
const DefaultSampleInterval = 10 * time.Second

// DefaultRingSize bounds how many historical samples are retained (spec
// §4.8).
const DefaultRingSize = 1000

// Sample is one point-in-time resource reading.
type Sample struct {
	Timestamp  time.Time
	CPUPercent float64
	RSSBytes   uint64
	HeapBytes  uint64
}

// Snapshot is the Resource Monitor's externally visible state (spec §4.8
// "Snapshot() accessor").
type Snapshot struct {
	Latest   Sample
	PeakRSS  uint64
	PeakHeap uint64
	History  []Sample
}

// GCRequester is invoked once an hour so the process can request a
// garbage-collection pass (spec §4.8 "hourly GC request event").
type GCRequester func()

// Monitor periodically samples this process's CPU/RSS/heap usage.
type Monitor struct {
	log      zerolog.Logger
	interval time.Duration
	ringSize int
	proc     *process.Process
	gcHook   GCRequester

	mu       sync.Mutex
	history  []Sample
	peakRSS  uint64
	peakHeap uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Monitor sampling the current process at interval,
// keeping up to ringSize historical samples. Pass 0 for either to use the
// package defaults.
func New(log zerolog.Logger, pid int32, interval time.Duration, ringSize int, gcHook GCRequester) (*Monitor, error) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		log:      log.With().Str("component", "resmonitor").Logger(),
		interval: interval,
		ringSize: ringSize,
		proc:     proc,
		gcHook:   gcHook,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Run samples on a ticker until Stop is called. Intended to run in its
// own goroutine.
func (m *Monitor) Run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	gcTicker := time.NewTicker(time.Hour)
	defer gcTicker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-gcTicker.C:
			if m.gcHook != nil {
				m.gcHook()
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop halts sampling and waits for Run to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) sample() {
	s := Sample{Timestamp: time.Now()}

	if pct, err := m.proc.CPUPercent(); err == nil {
		s.CPUPercent = pct
	} else {
		m.log.Debug().Err(err).Msg("failed to sample cpu percent")
	}

	if memInfo, err := m.proc.MemoryInfo(); err == nil && memInfo != nil {
		s.RSSBytes = memInfo.RSS
	} else if err != nil {
		m.log.Debug().Err(err).Msg("failed to sample rss")
	}

	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	s.HeapBytes = rt.HeapAlloc

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, s)
	if len(m.history) > m.ringSize {
		m.history = m.history[len(m.history)-m.ringSize:]
	}
	if s.RSSBytes > m.peakRSS {
		m.peakRSS = s.RSSBytes
	}
	if s.HeapBytes > m.peakHeap {
		m.peakHeap = s.HeapBytes
	}
}

// Snapshot returns a copy of the monitor's current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := make([]Sample, len(m.history))
	copy(history, m.history)

	var latest Sample
	if len(history) > 0 {
		latest = history[len(history)-1]
	}

	return Snapshot{
		Latest:   latest,
		PeakRSS:  m.peakRSS,
		PeakHeap: m.peakHeap,
		History:  history,
	}
}

// SystemCPUPercent returns the host-wide CPU utilisation percentage,
// sampled instantaneously. No control-plane opcode calls it.
func SystemCPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}
