package ipcbus

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/voipcore/internal/callengine"
)

func dialTestBus(t *testing.T, bus *Bus) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(bus)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, func() { conn.Close(); srv.Close() }
}

func TestOutboundPlaceCallIsDelivered(t *testing.T) {
	bus := New(nil, callengine.NewRegistry())
	conn, closeAll := dialTestBus(t, bus)
	defer closeAll()

	time.Sleep(20 * time.Millisecond) // let ServeHTTP attach the connection
	if err := bus.PlaceCall("call1", "acc1", "1001"); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "place_call" {
		t.Fatalf("expected place_call, got %s", env.Event)
	}
	var p PlaceCall
	json.Unmarshal(env.Payload, &p)
	if p.CallID != "call1" || p.Target != "1001" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestConferenceCreationEmitsJoinParticipant(t *testing.T) {
	reg := callengine.NewRegistry()
	bus := New(nil, reg)
	reg.SetSignaller(bus)
	conn, closeAll := dialTestBus(t, bus)
	defer closeAll()

	time.Sleep(20 * time.Millisecond)

	a := reg.AddDialing("Alice", "acc1")
	a.ApplyEvent(callengine.EventCurrent)
	b := reg.AddDialing("Bob", "acc1")
	b.ApplyEvent(callengine.EventCurrent)
	if _, err := reg.CreateConference(a.ID(), b.ID()); err != nil {
		t.Fatalf("CreateConference: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "join_participant" {
		t.Fatalf("expected join_participant, got %s", env.Event)
	}
	var p JoinParticipant
	json.Unmarshal(env.Payload, &p)
	if p.A != a.ID() || p.B != b.ID() {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestInboundIncomingCallThenHungUpRemovesCall(t *testing.T) {
	reg := callengine.NewRegistry()
	bus := New(nil, reg)
	conn, closeAll := dialTestBus(t, bus)
	defer closeAll()

	send := func(event string, payload any) {
		b, _ := json.Marshal(payload)
		env := Envelope{Event: event, Payload: b}
		data, _ := json.Marshal(env)
		conn.WriteMessage(websocket.TextMessage, data)
	}

	send("incoming_call", IncomingCall{AccountID: "acc1", CallID: "call1"})
	time.Sleep(30 * time.Millisecond)
	c, ok := reg.Get("call1")
	if !ok {
		t.Fatal("expected call1 to be registered")
	}
	if c.State() != callengine.Incoming {
		t.Fatalf("expected Incoming, got %v", c.State())
	}

	send("call_state_changed", CallStateChanged{CallID: "call1", StateName: "HUNGUP"})
	time.Sleep(30 * time.Millisecond)
	if _, ok := reg.Get("call1"); ok {
		t.Fatal("expected call1 removed from the live registry after HUNGUP")
	}
}
