package maintenance

import (
	"context"
	"testing"
	"time"

	"twitchdropsfarmer/internal/model"
)

func TestSchedulerFiresAtWakeTime(t *testing.T) {
	wake := func(now time.Time) Wake {
		return Wake{At: now.Add(20 * time.Millisecond), Reason: model.WakeBonusCheck}
	}
	s := New(wake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go s.Run(ctx)

	select {
	case w := <-s.C:
		if w.Reason != model.WakeBonusCheck {
			t.Fatalf("got reason %v, want WakeBonusCheck", w.Reason)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("scheduler never fired")
	}
}

func TestSchedulerEndsAfterForcedReload(t *testing.T) {
	wake := func(now time.Time) Wake {
		return Wake{At: now.Add(20 * time.Millisecond), Reason: model.WakeForcedReload}
	}
	s := New(wake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-s.C:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("scheduler never fired")
	}
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("scheduler did not stop itself after a forced-reload wake")
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	wake := func(now time.Time) Wake {
		return Wake{At: now.Add(time.Hour), Reason: model.WakeBonusCheck}
	}
	s := New(wake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not exit after context cancellation")
	}
}
