// Package maintenance schedules the periodic out-of-band wakes that force
// a bonus-points claim attempt and, depending on why the wake fired,
// a targeted channel-cleanup pass, a full inventory reload, or nothing
// more: a campaign's time trigger firing, a periodic bonus check, or a
// forced reload as a last resort.
package maintenance

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/model"
)

// Wake is one scheduled wake-up: the instant it fires and why.
type Wake struct {
	At     time.Time
	Reason model.WakeReason
}

// WakeFunc computes the next Wake, given the current time.
type WakeFunc func(now time.Time) Wake

// Scheduler sleeps until WakeFunc says it's time, then signals on C.
type Scheduler struct {
	wake WakeFunc
	C    chan Wake
}

// New returns a Scheduler driven by wake, with a signal channel the
// caller reads from in its own select loop.
func New(wake WakeFunc) *Scheduler {
	return &Scheduler{wake: wake, C: make(chan Wake, 1)}
}

// Run sleeps until the next wake instant and signals on C, recomputing
// the wake time after every fire so a changed campaign set can shorten
// the next wait. A forced-reload wake ends Run entirely instead of
// looping again: the next successful inventory fetch starts a fresh
// scheduler with up-to-date campaign trigger times, so there is nothing
// useful left for this one to wait on.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := time.Now()
		w := s.wake(now)
		delay := w.At.Sub(now)
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			logrus.WithField("reason", w.Reason).Debug("maintenance: wake timer fired")
			select {
			case s.C <- w:
			default:
			}
			if w.Reason == model.WakeForcedReload {
				return
			}
		}
	}
}

// NextWake is the default WakeFunc, wrapping inventory.NextMaintenanceWake
// so callers needn't import both packages directly.
func NextWake(campaigns func() []model.DropsCampaign, compute func([]model.DropsCampaign, time.Time) (time.Time, model.WakeReason)) WakeFunc {
	return func(now time.Time) Wake {
		at, reason := compute(campaigns(), now)
		return Wake{At: at, Reason: reason}
	}
}
