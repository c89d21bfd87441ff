package ipcbus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voipcore/internal/account"
	"github.com/petervdpas/voipcore/internal/callengine"
)

var log = logging.Logger("ipcbus")

func init() {
	logging.SetLogLevel("ipcbus", "info")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bus is the single connection to the daemon's own in-process backend:
// it applies inbound events to the account list and call registry, and
// implements callengine.Outbound by marshalling requests onto the same
// connection. One read pump and one write pump per connection; a single
// logical peer at a time.
type Bus struct {
	accounts *account.List
	calls    *callengine.Registry

	mu   sync.Mutex
	conn *websocket.Conn
	send chan Envelope
}

// New returns a Bus that will apply inbound events to accounts and calls
// once a connection is attached via ServeHTTP.
func New(accounts *account.List, calls *callengine.Registry) *Bus {
	return &Bus{
		accounts: accounts,
		calls:    calls,
		send:     make(chan Envelope, 256),
	}
}

var _ callengine.Outbound = (*Bus)(nil)
var _ callengine.ConfSignaller = (*Bus)(nil)

// ServeHTTP upgrades the single backend connection and runs its read/write
// pumps until it disconnects. A Bus serves exactly one logical peer at a
// time; a new connection replaces the old one.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("ipcbus: upgrade failed: %v", err)
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	done := make(chan struct{})
	go b.writePump(conn, done)
	b.readPump(conn, done)
}

func (b *Bus) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warnf("ipcbus: malformed envelope: %v", err)
			continue
		}
		if err := b.applyInbound(env); err != nil {
			log.Warnf("ipcbus: %v", err)
		}
	}
}

func (b *Bus) writePump(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case env := <-b.send:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// emit queues an outbound envelope. If no connection is attached, the
// request is dropped and logged — the core has no retry policy of its own.
func (b *Bus) emit(event string, payload any) error {
	env, err := encode(event, payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	connected := b.conn != nil
	b.mu.Unlock()
	if !connected {
		log.Warnf("ipcbus: dropping %s, no connection attached", event)
		return fmt.Errorf("ipcbus: not connected")
	}
	select {
	case b.send <- env:
		return nil
	default:
		return fmt.Errorf("ipcbus: send queue full, dropping %s", event)
	}
}

// callengine.Outbound implementation — each method emits the matching
// outbound request.

func (b *Bus) PlaceCall(callID, accountID, target string) error {
	return b.emit("place_call", PlaceCall{AccountID: accountID, CallID: callID, Target: target})
}

func (b *Bus) Accept(callID string) error {
	return b.emit("accept", CallIDRequest{CallID: callID})
}

func (b *Bus) Refuse(callID string) error {
	return b.emit("refuse", CallIDRequest{CallID: callID})
}

func (b *Bus) Hangup(callID string) error {
	return b.emit("hangup", CallIDRequest{CallID: callID})
}

func (b *Bus) Hold(callID string) error {
	return b.emit("hold", CallIDRequest{CallID: callID})
}

func (b *Bus) Unhold(callID string) error {
	return b.emit("unhold", CallIDRequest{CallID: callID})
}

// EnterTransfer emits a blind "transfer" request, unless target names a
// call currently known to the registry, in which case it is treated as the
// target leg of an attended transfer and emitted as "attended_transfer".
func (b *Bus) EnterTransfer(callID, target string) error {
	if b.calls != nil {
		if _, ok := b.calls.Get(target); ok {
			return b.emit("attended_transfer", AttendedTransfer{CallID: callID, TargetCallID: target})
		}
	}
	return b.emit("transfer", Transfer{CallID: callID, Target: target})
}

// ExecuteTransfer and CancelTransfer confirm or abandon a transfer already
// announced by EnterTransfer; the daemon acts on the original request, so
// there is nothing further to emit.
func (b *Bus) ExecuteTransfer(callID string) error { return nil }
func (b *Bus) CancelTransfer(callID string) error  { return nil }

func (b *Bus) SetRecording(callID string) error {
	return b.emit("set_recording", CallIDRequest{CallID: callID})
}

func (b *Bus) HangupConference(confID string) error {
	return b.emit("hangup_conference", ConfIDRequest{ConfID: confID})
}

func (b *Bus) HoldConference(confID string) error {
	return b.emit("hold_conference", ConfIDRequest{ConfID: confID})
}

func (b *Bus) UnholdConference(confID string) error {
	return b.emit("unhold_conference", ConfIDRequest{ConfID: confID})
}

// SendText emits an instant message on an established call.
func (b *Bus) SendText(callID, body string) error {
	return b.emit("send_text", SendText{CallID: callID, Body: body})
}

// callengine.ConfSignaller implementation — local conference topology
// changes are mirrored to the daemon.

func (b *Bus) JoinParticipant(a, c string) error {
	return b.emit("join_participant", JoinParticipant{A: a, B: c})
}

func (b *Bus) AddParticipant(callID, confID string) error {
	return b.emit("add_participant", AddParticipant{Call: callID, Conf: confID})
}

func (b *Bus) DetachParticipant(callID string) error {
	return b.emit("detach_participant", DetachParticipant{Call: callID})
}

func (b *Bus) JoinConference(confA, confB string) error {
	return b.emit("join_conference", JoinConference{ConfA: confA, ConfB: confB})
}
