package state

import (
	"context"
	"errors"
	"testing"
)

func TestMachineRunsDefaultCycleUntilExit(t *testing.T) {
	m := New()
	var visited []State

	record := func(s State) Step {
		return func(ctx context.Context) (State, error) {
			visited = append(visited, s)
			if s == ChannelSwitch {
				return Exit, nil
			}
			return DefaultTransition(s), nil
		}
	}
	for _, s := range []State{Idle, InventoryFetch, GamesUpdate, ChannelsCleanup, ChannelsFetch, ChannelSwitch} {
		m.OnState(s, record(s))
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []State{Idle, InventoryFetch, GamesUpdate, ChannelsCleanup, ChannelsFetch, ChannelSwitch}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
}

func TestMachinePropagatesStepError(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	m.OnState(Idle, func(ctx context.Context) (State, error) {
		return Idle, boom
	})

	err := m.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRequestStatePreemptsNextStep(t *testing.T) {
	// A RequestState made during a step is picked up before the step's own
	// successor runs, since the forced transition is checked at the top of
	// the next loop iteration ahead of dispatching to a registered Step.
	m := New()
	var visited []State
	m.OnState(Idle, func(ctx context.Context) (State, error) {
		visited = append(visited, Idle)
		m.RequestState(ChannelsFetch)
		return InventoryFetch, nil
	})
	m.OnState(InventoryFetch, func(ctx context.Context) (State, error) {
		visited = append(visited, InventoryFetch)
		return Idle, nil
	})
	m.OnState(ChannelsFetch, func(ctx context.Context) (State, error) {
		visited = append(visited, ChannelsFetch)
		return Exit, nil
	})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []State{Idle, ChannelsFetch}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "IDLE" {
		t.Fatalf("unexpected string for Idle: %s", Idle.String())
	}
	if State(999).String() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for an unregistered state value")
	}
}
