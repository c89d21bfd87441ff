package threadloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRefusesDoubleStart(t *testing.T) {
	var iterations atomic.Int32
	tl := New(Hooks{
		Setup: func() bool { return true },
		Process: func() Signal {
			iterations.Add(1)
			time.Sleep(time.Millisecond)
			return Continue
		},
	})
	if !tl.Start() {
		t.Fatal("first Start should succeed")
	}
	if tl.Start() {
		t.Fatal("second Start should be refused")
	}
	tl.Join()
}

func TestSetupFailureSkipsCleanup(t *testing.T) {
	var cleaned atomic.Bool
	tl := New(Hooks{
		Setup:   func() bool { return false },
		Process: func() Signal { return Continue },
		Cleanup: func() { cleaned.Store(true) },
	})
	tl.Start()
	tl.Join()
	if cleaned.Load() {
		t.Fatal("cleanup must not run when setup fails")
	}
	if tl.IsRunning() {
		t.Fatal("loop should not be running after failed setup")
	}
}

func TestExitSignalRunsCleanup(t *testing.T) {
	var cleaned atomic.Bool
	tl := New(Hooks{
		Setup:   func() bool { return true },
		Process: func() Signal { return Exit },
		Cleanup: func() { cleaned.Store(true) },
	})
	tl.Start()
	tl.Join()
	if !cleaned.Load() {
		t.Fatal("cleanup should run after Exit signal")
	}
}

func TestStopIsCooperative(t *testing.T) {
	var iterations atomic.Int32
	tl := New(Hooks{
		Setup: func() bool { return true },
		Process: func() Signal {
			iterations.Add(1)
			return Continue
		},
	})
	tl.Start()
	time.Sleep(5 * time.Millisecond)
	tl.Stop()
	tl.Join()
	if iterations.Load() == 0 {
		t.Fatal("expected at least one Process call")
	}
	if tl.IsRunning() {
		t.Fatal("loop should have stopped")
	}
}
