// Package threadloop provides a scoped background worker with
// setup/process/cleanup hooks and cooperative stop, the single long-lived
// worker pattern used by the ICE factory's event pump. The loop unwinds
// either when Stop flips the running flag or when Process returns Exit.
package threadloop

import (
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("threadloop")

// Signal is returned by a Process hook to tell the loop whether to keep
// iterating or unwind.
type Signal int

const (
	// Continue tells the loop to call Process again.
	Continue Signal = iota
	// Exit unwinds the loop immediately; Cleanup still runs.
	Exit
)

// Hooks bundles the three user-supplied callbacks of a worker's lifetime.
type Hooks struct {
	// Setup runs once before the first Process call. If it returns false
	// the worker exits immediately without running Cleanup.
	Setup func() bool
	// Process runs repeatedly until it returns Exit or Stop is called.
	Process func() Signal
	// Cleanup runs once after the loop unwinds, provided Setup returned true.
	Cleanup func()
}

// ThreadLoop owns exactly one worker goroutine.
type ThreadLoop struct {
	hooks Hooks

	mu      sync.Mutex
	running atomic.Bool
	done    chan struct{}
}

// New constructs a ThreadLoop bound to hooks. The worker is not started.
func New(hooks Hooks) *ThreadLoop {
	return &ThreadLoop{hooks: hooks}
}

// Start spawns the worker goroutine. Calling Start while already running is
// refused: it logs and returns false rather than spawning a second worker.
func (t *ThreadLoop) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		log.Error("thread already started")
		return false
	}

	t.running.Store(true)
	t.done = make(chan struct{})
	go t.mainloop(t.done)
	return true
}

func (t *ThreadLoop) mainloop(done chan struct{}) {
	defer close(done)

	if t.hooks.Setup != nil && !t.hooks.Setup() {
		log.Error("setup failed")
		t.running.Store(false)
		return
	}

	for t.running.Load() {
		sig := Continue
		if t.hooks.Process != nil {
			sig = t.hooks.Process()
		}
		if sig == Exit {
			break
		}
	}

	if t.hooks.Cleanup != nil {
		t.hooks.Cleanup()
	}
	t.running.Store(false)
}

// Stop cooperatively flips the running flag; the worker observes it between
// Process calls and unwinds.
func (t *ThreadLoop) Stop() {
	t.running.Store(false)
}

// Join implies Stop, then blocks until the worker goroutine has exited.
func (t *ThreadLoop) Join() {
	t.Stop()
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the worker is currently active.
func (t *ThreadLoop) IsRunning() bool {
	return t.running.Load()
}
