// Package callengine implements the call state machine and call registry:
// a deterministic automaton driven by two independent inputs — local user
// actions and remote signalling events — with per-call mutex-guarded state
// and conference membership bookkeeping.
package callengine

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("callengine")

// State is the call_state enumeration.
type State int

const (
	Inactive State = iota
	Active
	Hold
	Busy
	CallError
	Incoming
	Ringing
	Current
	Dialing
	Failure
	Transfer
	TransferHold
	Conference
	ConferenceHold
	Over
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Active:
		return "Active"
	case Hold:
		return "Hold"
	case Busy:
		return "Busy"
	case CallError:
		return "Error"
	case Incoming:
		return "Incoming"
	case Ringing:
		return "Ringing"
	case Current:
		return "Current"
	case Dialing:
		return "Dialing"
	case Failure:
		return "Failure"
	case Transfer:
		return "Transfer"
	case TransferHold:
		return "TransferHold"
	case Conference:
		return "Conference"
	case ConferenceHold:
		return "ConferenceHold"
	case Over:
		return "Over"
	default:
		return "Unknown"
	}
}

// ConnectionState mirrors the transport-level progress of a call.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Trying
	Progressing
	ConnRinging
	Connected
)

// HistoryState is assigned exactly once, when a Call reaches Over.
type HistoryState int

const (
	HistoryNone HistoryState = iota
	HistoryIncoming
	HistoryOutgoing
	HistoryMissed
)

func (h HistoryState) String() string {
	switch h {
	case HistoryIncoming:
		return "Incoming"
	case HistoryOutgoing:
		return "Outgoing"
	case HistoryMissed:
		return "Missed"
	default:
		return "None"
	}
}

// Type is the call's own direction classification, independent of where it
// ends up historically.
type Type int

const (
	TypeIncoming Type = iota
	TypeOutgoing
	TypeMissed
)

// Action is the local-user input alphabet.
type Action int

const (
	ActionAccept Action = iota
	ActionRefuse
	ActionTransfer
	ActionHold
	ActionRecord
)

// Event is the remote-signalling input alphabet.
type Event int

const (
	EventRinging Event = iota
	EventCurrent
	EventBusy
	EventHold
	EventHungUp
	EventFailure
)

// Outbound is the IPC boundary the call engine drives to emit outbound
// requests. A production wiring talks to the signalling layer; tests use a
// fake.
type Outbound interface {
	PlaceCall(callID, accountID, target string) error
	Accept(callID string) error
	Refuse(callID string) error
	Hangup(callID string) error
	Hold(callID string) error
	Unhold(callID string) error
	EnterTransfer(callID, target string) error
	ExecuteTransfer(callID string) error
	CancelTransfer(callID string) error
	SetRecording(callID string) error
	HangupConference(confID string) error
	HoldConference(confID string) error
	UnholdConference(confID string) error
}

// MediaTransport is the surface the call engine needs from the ICE
// transport it owns: release on termination. Keeping this an interface
// keeps callengine free of a dependency on the ice package; the registry
// closes the handle when the call leaves the live set.
type MediaTransport interface {
	Close() error
}

// Call is one session.
type Call struct {
	mu sync.Mutex

	id        string
	typ       Type
	accountID string

	state           State
	connState       ConnectionState
	historyState    HistoryState
	peerName        string
	peerNumber      string
	transferTarget  string

	startTS time.Time
	stopTS  time.Time

	recording     bool
	everConnected bool // has audio ever been admitted on this call

	confID   string // non-empty iff this call is a conference or a member
	isConf   bool

	transport MediaTransport

	localAudioPort int
	localVideoPort int
}

// NewDialing allocates a fresh Dialing call with a decimal, locally
// generated call id.
func NewDialing(peerName, accountID string) *Call {
	return &Call{
		id:        strconv.FormatInt(rand.Int63(), 10),
		typ:       TypeOutgoing,
		accountID: accountID,
		state:     Dialing,
		connState: Disconnected,
		peerName:  peerName,
	}
}

// NewIncoming wraps an id handed to us by the daemon for an inbound call.
func NewIncoming(callID, accountID, peerName, peerNumber string) *Call {
	return &Call{
		id:         callID,
		typ:        TypeIncoming,
		accountID:  accountID,
		state:      Incoming,
		connState:  ConnRinging,
		peerName:   peerName,
		peerNumber: peerNumber,
	}
}

// ID returns the call id.
func (c *Call) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the current call_state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionState returns the current connection_state.
func (c *Call) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// HistoryState returns the terminal history classification, HistoryNone
// until the call reaches Over.
func (c *Call) HistoryState() HistoryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyState
}

// AccountID returns the owning account's id (weak reference).
func (c *Call) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountID
}

// PeerName/PeerNumber expose the remote party's display identity.
func (c *Call) PeerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerName
}

func (c *Call) PeerNumber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerNumber
}

// Recording reports the recording flag.
func (c *Call) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// StartStop returns the timer pair; the zero Time means "not yet set".
func (c *Call) StartStop() (time.Time, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTS, c.stopTS
}

// ConfID returns the conference id this call belongs to (as a member or as
// the conference itself), empty if none.
func (c *Call) ConfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confID
}

// IsConference reports whether this Call object is itself a conference.
func (c *Call) IsConference() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConf
}

func (c *Call) setState(s State) {
	c.state = s
	if everConnectedState(s) {
		c.everConnected = true
	}
}

func (c *Call) startTimerIfUnset(now time.Time) {
	if c.startTS.IsZero() {
		c.startTS = now
	}
}

func (c *Call) stopTimer(now time.Time) {
	c.startTimerIfUnset(now)
	if c.stopTS.IsZero() {
		c.stopTS = now
	}
}

// assignHistoryState implements the once-only history classification:
// incoming-answered -> Incoming, outgoing-answered -> Outgoing,
// incoming-not-answered -> Missed, never-connected outgoing -> None.
//
// A call that reaches Busy/Failure before Over is classified by whether it
// ever admitted audio (the everConnected flag, latched by setState), not by
// its literal terminal state: an incoming call that was ever Current is
// Incoming history even if it ends in Busy, otherwise Missed; an outgoing
// call that was ever Current is Outgoing history, otherwise None.
func (c *Call) assignHistoryState() {
	if c.historyState != HistoryNone {
		return
	}
	switch c.typ {
	case TypeIncoming:
		if c.everConnected {
			c.historyState = HistoryIncoming
		} else {
			c.historyState = HistoryMissed
		}
	case TypeOutgoing:
		if c.everConnected {
			c.historyState = HistoryOutgoing
		} else {
			c.historyState = HistoryNone
		}
	case TypeMissed:
		c.historyState = HistoryMissed
	}
}

// everConnectedLocked reports whether the call has ever reached a state in
// which audio was flowing, used to drive history classification.
func everConnectedState(s State) bool {
	switch s {
	case Current, Hold, Transfer, TransferHold, Conference, ConferenceHold:
		return true
	default:
		return false
	}
}

// ApplyAction implements the call's local-action state transition table. Returns
// ErrInvalidTransition (without mutating the call) for cells marked ERROR
// in the table, matching the InvalidStateTransition error kind of §7.
func (c *Call) ApplyAction(action Action, ob Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	if from == Over || from == CallError {
		return nil // ignored: terminal states accept no further local actions
	}

	now := time.Now()

	switch from {
	case Incoming:
		switch action {
		case ActionAccept:
			c.setState(Current)
			c.startTimerIfUnset(now)
			return ob.Accept(c.id)
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Refuse(c.id)
		case ActionHold:
			c.setState(Hold)
			c.startTimerIfUnset(now)
			return ob.Accept(c.id)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case Ringing:
		switch action {
		case ActionAccept:
			return nil // no-op
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Hangup(c.id)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case Current:
		switch action {
		case ActionAccept:
			return nil
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Hangup(c.id)
		case ActionTransfer:
			c.setState(Transfer)
			return ob.EnterTransfer(c.id, c.transferTarget)
		case ActionHold:
			c.setState(Hold)
			return ob.Hold(c.id)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case Dialing:
		switch action {
		case ActionAccept:
			return ob.PlaceCall(c.id, c.accountID, c.peerName)
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Hangup(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case Hold:
		switch action {
		case ActionAccept:
			return nil
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Hangup(c.id)
		case ActionTransfer:
			c.setState(TransferHold)
			return ob.EnterTransfer(c.id, c.transferTarget)
		case ActionHold:
			c.setState(Current)
			return ob.Unhold(c.id)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case Transfer:
		switch action {
		case ActionAccept:
			c.setState(Current)
			return ob.ExecuteTransfer(c.id)
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Hangup(c.id)
		case ActionTransfer:
			c.setState(Current)
			return ob.CancelTransfer(c.id)
		case ActionHold:
			c.setState(TransferHold)
			return ob.Hold(c.id)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case TransferHold:
		switch action {
		case ActionAccept:
			c.setState(Current)
			return ob.ExecuteTransfer(c.id)
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Hangup(c.id)
		case ActionTransfer:
			c.setState(Hold)
			return ob.CancelTransfer(c.id)
		case ActionHold:
			c.setState(Transfer)
			return ob.Unhold(c.id)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case Failure, Busy:
		switch action {
		case ActionAccept:
			return nil
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			c.assignHistoryState()
			return ob.Hangup(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case Conference:
		switch action {
		case ActionAccept:
			return nil
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			return ob.HangupConference(c.confID)
		case ActionTransfer:
			return ob.EnterTransfer(c.id, c.transferTarget)
		case ActionHold:
			c.setState(ConferenceHold)
			return ob.HoldConference(c.confID)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}

	case ConferenceHold:
		switch action {
		case ActionAccept:
			return nil
		case ActionRefuse:
			c.setState(Over)
			c.stopTimer(now)
			return ob.HangupConference(c.confID)
		case ActionTransfer:
			return ob.EnterTransfer(c.id, c.transferTarget)
		case ActionHold:
			c.setState(Conference)
			return ob.UnholdConference(c.confID)
		case ActionRecord:
			c.recording = !c.recording
			return ob.SetRecording(c.id)
		default:
			return errInvalidTransition(from, action)
		}
	}

	return errInvalidTransition(from, action)
}

// ApplyEvent implements the call's remote-event state transition table. A remote event
// always drives to the homonymous state; HungUp always moves to Over. Once
// in Over or Error, events are ignored (monotonicity invariant).
func (c *Call) ApplyEvent(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Over || c.state == CallError {
		return
	}

	now := time.Now()
	prev := c.state

	switch event {
	case EventRinging:
		c.setState(Ringing)
		c.connState = ConnRinging
	case EventCurrent:
		c.setState(Current)
		c.connState = Connected
		if prev == Incoming || prev == Dialing || prev == Ringing {
			c.startTimerIfUnset(now)
		}
	case EventBusy:
		c.setState(Busy)
	case EventHold:
		c.setState(Hold)
	case EventFailure:
		c.setState(Failure)
	case EventHungUp:
		c.setState(Over)
		c.stopTimer(now)
		c.assignHistoryState()
	}
}

func errInvalidTransition(from State, action Action) error {
	log.Warnw("invalid call transition rejected", "from", from.String(), "action", int(action))
	return nil // invalid transition: no-op with error log, never mutates state
}

// SetTransferTarget records the pending blind-transfer target before the
// Transfer action fires.
func (c *Call) SetTransferTarget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transferTarget = target
}

// AttachTransport hands the call ownership of its negotiated ICE
// transport. An already-attached transport is closed first so the call
// never leaks a handle.
func (c *Call) AttachTransport(t MediaTransport) {
	c.mu.Lock()
	old := c.transport
	c.transport = t
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// Transport returns the attached ICE transport handle, nil if none.
func (c *Call) Transport() MediaTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// takeTransport detaches and returns the transport handle so the registry
// can close it outside the call's lock.
func (c *Call) takeTransport() MediaTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.transport
	c.transport = nil
	return t
}

// SetLocalMediaPorts records the locally advertised audio/video ports.
// Display only; the actual endpoints come from ICE.
func (c *Call) SetLocalMediaPorts(audio, video int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localAudioPort = audio
	c.localVideoPort = video
}

// LocalMediaPorts returns the locally advertised (audio, video) ports.
func (c *Call) LocalMediaPorts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAudioPort, c.localVideoPort
}

// IsSecure implements the secure-call predicate against an
// account detail reader.
func IsSecure(get func(key string) string) bool {
	tlsEnabled := get("TLS.enable") == "true"
	tlsMethod := get("TLS.method")
	tlsMethodSet := tlsMethod != "" && tlsMethod != "0"
	srtpEnabled := get("SRTP.enable") == "true"
	srtpFallback := get("SRTP.rtpFallback") == "true"
	return tlsEnabled || tlsMethodSet || (srtpEnabled && !srtpFallback)
}
