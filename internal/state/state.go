// Package state implements the main state machine the miner's single
// orchestration goroutine drives: a fixed cycle of inventory refresh,
// campaign selection, channel bookkeeping and channel switching, looping
// back to idle until something tells it to stop or reload.
package state

import (
	"context"

	"github.com/sirupsen/logrus"
)

// State names one step of the main cycle.
type State int

const (
	Idle State = iota
	InventoryFetch
	GamesUpdate
	ChannelsCleanup
	ChannelsFetch
	ChannelSwitch
	Exit
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case InventoryFetch:
		return "INVENTORY_FETCH"
	case GamesUpdate:
		return "GAMES_UPDATE"
	case ChannelsCleanup:
		return "CHANNELS_CLEANUP"
	case ChannelsFetch:
		return "CHANNELS_FETCH"
	case ChannelSwitch:
		return "CHANNEL_SWITCH"
	case Exit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// Step performs one state's work and returns the state to transition to
// next. Returning Exit ends the Machine's Run loop.
type Step func(ctx context.Context) (State, error)

// Machine drives the fixed state cycle described above, invoking the
// registered Step for whichever state is current.
type Machine struct {
	steps map[State]Step

	current  State
	changeCh chan State
}

// New returns a Machine starting at Idle, with steps registered via
// OnState before calling Run.
func New() *Machine {
	return &Machine{
		steps:    make(map[State]Step),
		current:  Idle,
		changeCh: make(chan State, 1),
	}
}

// OnState registers the function that runs when the machine enters s.
func (m *Machine) OnState(s State, step Step) {
	m.steps[s] = step
}

// Current returns the state the machine is presently in (or about to
// run). The read is not synchronized with Run, so it is only safe from
// the goroutine running Run or after Run has returned.
func (m *Machine) Current() State {
	return m.current
}

// RequestState forces the next cycle to begin at s instead of wherever it
// would otherwise transition to — used by the maintenance scheduler and
// the pub/sub notification handler to trigger an out-of-band inventory
// refresh.
func (m *Machine) RequestState(s State) {
	select {
	case m.changeCh <- s:
	default:
		// a request is already pending; the machine will pick it up on
		// its next natural transition regardless.
	}
}

// Run drives the machine from Idle until a step returns Exit, the
// context is cancelled, or a step returns a non-nil error (propagated to
// the caller; the machine does not retry a failed step itself — the
// caller decides whether to restart Run).
func (m *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case forced := <-m.changeCh:
			m.current = forced
		default:
		}

		if m.current == Exit {
			return nil
		}

		step, ok := m.steps[m.current]
		if !ok {
			logrus.WithField("state", m.current).Warn("state: no step registered, returning to idle")
			m.current = Idle
			continue
		}

		logrus.WithField("state", m.current).Debug("state: entering")
		next, err := step(ctx)
		if err != nil {
			return err
		}
		m.current = next
	}
}

// DefaultTransition is the ordinary cycle used by every step that
// doesn't special-case its own successor: it advances one stage, wrapping
// ChannelSwitch back around to Idle.
func DefaultTransition(current State) State {
	switch current {
	case Idle:
		return InventoryFetch
	case InventoryFetch:
		return GamesUpdate
	case GamesUpdate:
		return ChannelsCleanup
	case ChannelsCleanup:
		return ChannelsFetch
	case ChannelsFetch:
		return ChannelSwitch
	case ChannelSwitch:
		return Idle
	default:
		return Idle
	}
}
