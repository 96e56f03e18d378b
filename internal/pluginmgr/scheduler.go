package pluginmgr

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic per-plugin jobs (e.g. a platform that polls a
// cloud API on an interval) on a single shared cron.Cron, the same
// scheduler field api/internal/plugins/runtime.go keeps on Runtime for
// plugin-registered jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler starts an empty scheduler; call Stop to shut it down.
func NewScheduler(log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		log:  log.With().Str("component", "pluginmgr.scheduler").Logger(),
	}
	s.cron.Start()
	return s
}

// Schedule registers job under the given cron spec, tagged with plugin
// name for log correlation. Returns the entry id so callers can Remove
// it on plugin shutdown.
func (s *Scheduler) Schedule(plugin, spec string, job func()) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		s.log.Debug().Str("plugin", plugin).Msg("running scheduled job")
		job()
	})
}

// Remove cancels a previously scheduled job.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
