package ice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/stun/v3"

	"github.com/petervdpas/voipcore/internal/threadloop"
	"github.com/petervdpas/voipcore/internal/upnp"
)

// Config carries the default ICE configuration every transport created by a
// Factory inherits.
type Config struct {
	// STUNServers are stun:/turn: URIs handed to each agent for
	// server-reflexive and relay gathering. Unparsable entries are logged
	// and skipped.
	STUNServers []string
}

// pumpTick caps a single pump iteration, so Stop is observed promptly even
// when nothing wakes the worker.
const pumpTick = 999 * time.Millisecond

// Factory is the long-lived event pump that creates Transports. The
// pion/ice engine runs its own I/O goroutines per Agent, so the pump's
// duties are housekeeping: reaping closed transports from the live set on
// a bounded tick, and tearing the set down in reverse creation order on
// Shutdown.
type Factory struct {
	urls []*stun.URI

	mu         sync.Mutex
	transports []*Transport
	shutdown   bool

	wake chan struct{}
	pump *threadloop.ThreadLoop
}

// NewFactory returns a running factory: its pump worker is started before
// NewFactory returns and lives until Shutdown.
func NewFactory(cfg Config) *Factory {
	f := &Factory{wake: make(chan struct{}, 1)}
	for _, s := range cfg.STUNServers {
		uri, err := stun.ParseURI(s)
		if err != nil {
			log.Warnw("skipping unparsable ICE server", "uri", s, "err", err)
			continue
		}
		f.urls = append(f.urls, uri)
	}
	f.pump = threadloop.New(threadloop.Hooks{
		Process: f.pumpOnce,
		Cleanup: func() { log.Debug("ice factory pump drained") },
	})
	f.pump.Start()
	return f
}

// pumpOnce is one pump iteration: sleep until the tick or an explicit wake,
// then drop transports that have been closed out from under us.
func (f *Factory) pumpOnce() threadloop.Signal {
	select {
	case <-f.wake:
	case <-time.After(pumpTick):
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return threadloop.Exit
	}
	live := make([]*Transport, 0, len(f.transports))
	for _, t := range f.transports {
		if !t.isClosed() {
			live = append(live, t)
		}
	}
	f.transports = live
	return threadloop.Continue
}

// CreateTransport allocates a new multi-component Transport and brings it
// up: creates one ICE agent per component, gathers candidates, and — if
// upnpController is non-nil — augments host candidates with UPnP mappings.
func (f *Factory) CreateTransport(ctx context.Context, name string, componentCount int, controlling bool, upnpController *upnp.Controller) (*Transport, error) {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return nil, errFactoryShutdown
	}
	urls := f.urls
	f.mu.Unlock()

	t := newTransport(name, componentCount, controlling, upnpController, urls)
	if err := t.init(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t, nil
}

// Shutdown closes every transport the factory created, in reverse creation
// order, joins the pump worker, and marks the factory unusable. Idempotent
// and blocking: parked waiters on any transport are woken and return
// failure.
func (f *Factory) Shutdown() {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return
	}
	f.shutdown = true
	transports := f.transports
	f.transports = nil
	f.mu.Unlock()

	for i := len(transports) - 1; i >= 0; i-- {
		_ = transports[i].Close()
	}

	select {
	case f.wake <- struct{}{}:
	default:
	}
	f.pump.Join()
}

var errFactoryShutdown = errors.New("ice: factory is shut down")
