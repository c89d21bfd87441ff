package callengine

import "testing"

type fakeOutbound struct {
	placed    []string
	accepted  []string
	refused   []string
	hungup    []string
	held      []string
	unheld    []string
}

func (f *fakeOutbound) PlaceCall(callID, accountID, target string) error {
	f.placed = append(f.placed, callID)
	return nil
}
func (f *fakeOutbound) Accept(callID string) error { f.accepted = append(f.accepted, callID); return nil }
func (f *fakeOutbound) Refuse(callID string) error  { f.refused = append(f.refused, callID); return nil }
func (f *fakeOutbound) Hangup(callID string) error  { f.hungup = append(f.hungup, callID); return nil }
func (f *fakeOutbound) Hold(callID string) error    { f.held = append(f.held, callID); return nil }
func (f *fakeOutbound) Unhold(callID string) error  { f.unheld = append(f.unheld, callID); return nil }
func (f *fakeOutbound) EnterTransfer(callID, target string) error  { return nil }
func (f *fakeOutbound) ExecuteTransfer(callID string) error        { return nil }
func (f *fakeOutbound) CancelTransfer(callID string) error         { return nil }
func (f *fakeOutbound) SetRecording(callID string) error           { return nil }
func (f *fakeOutbound) HangupConference(confID string) error       { return nil }
func (f *fakeOutbound) HoldConference(confID string) error         { return nil }
func (f *fakeOutbound) UnholdConference(confID string) error       { return nil }

// Scenario 1 — Outgoing basic call.
func TestScenarioOutgoingBasicCall(t *testing.T) {
	ob := &fakeOutbound{}
	reg := NewRegistry()
	call := reg.AddDialing("Alice", "acc1")

	if call.State() != Dialing {
		t.Fatalf("expected Dialing, got %v", call.State())
	}
	if err := call.ApplyAction(ActionAccept, ob); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if len(ob.placed) != 1 {
		t.Fatal("expected place_call to fire")
	}
	if call.State() != Dialing {
		t.Fatalf("Dialing+Accept stays Dialing per table, got %v", call.State())
	}

	call.ApplyEvent(EventRinging)
	if call.State() != Ringing {
		t.Fatalf("expected Ringing, got %v", call.State())
	}

	call.ApplyEvent(EventCurrent)
	if call.State() != Current {
		t.Fatalf("expected Current, got %v", call.State())
	}
	start, _ := call.StartStop()
	if start.IsZero() {
		t.Fatal("expected start_ts to be set")
	}

	call.ApplyEvent(EventHungUp)
	if call.State() != Over {
		t.Fatalf("expected Over, got %v", call.State())
	}
	_, stop := call.StartStop()
	if stop.IsZero() || stop.Before(start) {
		t.Fatal("expected stop_ts >= start_ts")
	}
	if call.HistoryState() != HistoryOutgoing {
		t.Fatalf("expected HistoryOutgoing, got %v", call.HistoryState())
	}
}

// Scenario 2 — Incoming ignored call.
func TestScenarioIncomingIgnoredCall(t *testing.T) {
	ob := &fakeOutbound{}
	reg := NewRegistry()
	call := reg.AddIncoming("call42", "acc1", "Bob", "555")

	if call.State() != Incoming {
		t.Fatalf("expected Incoming, got %v", call.State())
	}
	if err := call.ApplyAction(ActionRefuse, ob); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if call.State() != Over {
		t.Fatalf("expected Over, got %v", call.State())
	}
	if call.HistoryState() != HistoryMissed {
		t.Fatalf("expected HistoryMissed, got %v", call.HistoryState())
	}
	if len(ob.refused) != 1 || len(ob.hungup) != 0 {
		t.Fatalf("declining an unanswered call must emit refuse, not hangup: %v %v", ob.refused, ob.hungup)
	}
}

func TestMonotonicityNoMutationAfterOver(t *testing.T) {
	ob := &fakeOutbound{}
	reg := NewRegistry()
	call := reg.AddIncoming("call1", "acc1", "Bob", "555")
	call.ApplyAction(ActionRefuse, ob)
	if call.State() != Over {
		t.Fatal("precondition: expected Over")
	}

	call.ApplyEvent(EventCurrent)
	if call.State() != Over {
		t.Fatal("event must not move call out of Over")
	}
	call.ApplyAction(ActionAccept, ob)
	if call.State() != Over {
		t.Fatal("action must not move call out of Over")
	}
}

func TestInvalidActionIsNoOp(t *testing.T) {
	ob := &fakeOutbound{}
	reg := NewRegistry()
	call := reg.AddDialing("Alice", "acc1")
	if err := call.ApplyAction(ActionTransfer, ob); err != nil {
		t.Fatalf("ApplyAction should not error: %v", err)
	}
	if call.State() != Dialing {
		t.Fatalf("invalid action must not mutate state, got %v", call.State())
	}
}

func TestHoldUnholdRoundTrip(t *testing.T) {
	ob := &fakeOutbound{}
	reg := NewRegistry()
	call := reg.AddDialing("Alice", "acc1")
	call.ApplyEvent(EventCurrent)
	if err := call.ApplyAction(ActionHold, ob); err != nil {
		t.Fatal(err)
	}
	if call.State() != Hold {
		t.Fatalf("expected Hold, got %v", call.State())
	}
	if err := call.ApplyAction(ActionHold, ob); err != nil {
		t.Fatal(err)
	}
	if call.State() != Current {
		t.Fatalf("expected Current after unhold, got %v", call.State())
	}
	if len(ob.held) != 1 || len(ob.unheld) != 1 {
		t.Fatalf("expected one hold and one unhold call, got %v %v", ob.held, ob.unheld)
	}
}

// Scenario 3 — Attended transfer.
func TestScenarioAttendedTransfer(t *testing.T) {
	ob := &fakeOutbound{}
	reg := NewRegistry()
	a := reg.AddDialing("Alice", "acc1")
	a.ApplyEvent(EventCurrent)
	b := reg.AddDialing("Bob", "acc1")
	b.ApplyEvent(EventCurrent)

	if err := a.ApplyAction(ActionTransfer, ob); err != nil {
		t.Fatal(err)
	}
	if err := a.ApplyAction(ActionAccept, ob); err != nil { // execute-transfer
		t.Fatal(err)
	}
	a.ApplyEvent(EventHungUp)

	if a.State() != Over {
		t.Fatalf("expected A Over, got %v", a.State())
	}
	if b.State() != Current {
		t.Fatalf("expected B to remain Current, got %v", b.State())
	}
	if a.HistoryState() == HistoryMissed {
		t.Fatal("A's history state should not be Missed")
	}
}

func TestHistoryClassifiedByEverConnectedNotTerminalState(t *testing.T) {
	reg := NewRegistry()
	call := reg.AddIncoming("call7", "acc1", "Bob", "555")

	// Answered, then the far end reports Busy before hanging up: the call
	// still classifies as Incoming history because audio once flowed.
	call.ApplyEvent(EventCurrent)
	call.ApplyEvent(EventBusy)
	call.ApplyEvent(EventHungUp)

	if call.HistoryState() != HistoryIncoming {
		t.Fatalf("expected HistoryIncoming, got %v", call.HistoryState())
	}
}

func TestNeverConnectedOutgoingHasNoHistoryState(t *testing.T) {
	reg := NewRegistry()
	call := reg.AddDialing("Alice", "acc1")
	call.ApplyEvent(EventRinging)
	call.ApplyEvent(EventHungUp)
	if call.HistoryState() != HistoryNone {
		t.Fatalf("expected HistoryNone, got %v", call.HistoryState())
	}
}

func TestRecordToggle(t *testing.T) {
	ob := &fakeOutbound{}
	reg := NewRegistry()
	call := reg.AddDialing("Alice", "acc1")
	call.ApplyEvent(EventCurrent)
	if call.Recording() {
		t.Fatal("should start unrecorded")
	}
	call.ApplyAction(ActionRecord, ob)
	if !call.Recording() {
		t.Fatal("expected recording true after toggle")
	}
	call.ApplyAction(ActionRecord, ob)
	if call.Recording() {
		t.Fatal("expected recording false after second toggle")
	}
}
