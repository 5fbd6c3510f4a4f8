package ui

import "testing"

func TestConsoleCloseRequested(t *testing.T) {
	c := NewConsole()
	if c.CloseRequested() {
		t.Fatal("expected CloseRequested to start false")
	}
	c.RequestClose()
	if !c.CloseRequested() {
		t.Fatal("expected CloseRequested to be true after RequestClose")
	}
}

func TestConsoleAwaitUnlessClosedReturnsEarlyOnClose(t *testing.T) {
	c := NewConsole()
	done := make(chan bool, 1)
	go func() {
		done <- c.AwaitUnlessClosed(5)
	}()
	c.RequestClose()

	select {
	case elapsed := <-done:
		if elapsed {
			t.Fatal("expected AwaitUnlessClosed to report an early close, not a natural elapse")
		}
	}
}

func TestConsoleAwaitUnlessClosedElapsesNaturally(t *testing.T) {
	c := NewConsole()
	if !c.AwaitUnlessClosed(0.01) {
		t.Fatal("expected AwaitUnlessClosed to report a natural elapse when never closed")
	}
}
