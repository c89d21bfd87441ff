package ice

import (
	"context"
	"testing"
	"time"
)

func TestShutdownIsIdempotent(t *testing.T) {
	f := NewFactory(Config{})
	f.Shutdown()
	f.Shutdown()

	if _, err := f.CreateTransport(context.Background(), "t", 1, true, nil); err == nil {
		t.Fatal("expected CreateTransport to fail after Shutdown")
	}
}

func TestFactorySkipsUnparsableServerURIs(t *testing.T) {
	f := NewFactory(Config{STUNServers: []string{"stun:stun.example.org:3478", "definitely not a uri"}})
	defer f.Shutdown()

	if len(f.urls) != 1 {
		t.Fatalf("expected 1 parsed server URI, got %d", len(f.urls))
	}
}

func TestPumpReapsClosedTransports(t *testing.T) {
	f := NewFactory(Config{})
	defer f.Shutdown()

	tr := newTransport("doomed", 1, true, nil, nil)
	f.mu.Lock()
	f.transports = append(f.transports, tr)
	f.mu.Unlock()

	_ = tr.Close()
	select {
	case f.wake <- struct{}{}:
	default:
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.transports)
		f.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pump never reaped the closed transport")
}

func TestStartFromBlobRejectsCandidatelessBlob(t *testing.T) {
	tr := newBareTransport(1)
	blob := "ufrag\npwd\n"
	if err := tr.StartFromBlob(context.Background(), blob); err == nil {
		t.Fatal("expected an error for a blob carrying no candidates")
	}
}

func TestStartFromBlobSkipsMalformedLines(t *testing.T) {
	tr := newBareTransport(1)
	// Only malformed candidate lines: the parse succeeds but Start must
	// still reject the (effectively empty) candidate list.
	blob := "ufrag\npwd\ngarbage line\n"
	if err := tr.StartFromBlob(context.Background(), blob); err == nil {
		t.Fatal("expected an error when every candidate line is malformed")
	}
}
