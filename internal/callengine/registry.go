package callengine

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/petervdpas/voipcore/internal/util"
)

// historyCapacity bounds the in-memory terminated-call buffer. The full
// history lives in the sqlite store via the OnTerminated hook; this buffer
// only serves History/ByPopularity lookups on recent calls.
const historyCapacity = 512

// ConfSignaller is the outbound conference-control surface of the IPC
// boundary: the requests the registry emits when conference topology
// changes locally so the daemon can mirror them on the signalling side.
type ConfSignaller interface {
	JoinParticipant(a, b string) error
	AddParticipant(callID, confID string) error
	DetachParticipant(callID string) error
	JoinConference(confA, confB string) error
}

// Registry owns every live Call plus the history of terminated ones.
// Conference ids and call ids share one namespace; membership is tracked
// here rather than on the calls themselves.
type Registry struct {
	mu sync.Mutex

	calls   map[string]*Call // live, by call_id or conf_id
	parent  map[string]string // call_id -> conf_id, for conference membership
	members map[string]map[string]struct{} // conf_id -> set of child call_id

	history *util.RingBuffer[*Call] // terminated calls, oldest first, bounded

	onTerminated func(*Call) // optional persistence hook, invoked from Remove
	onIncoming   func(*Call) // optional hook, invoked from AddIncoming
	signaller    ConfSignaller
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		calls:   make(map[string]*Call),
		parent:  make(map[string]string),
		members: make(map[string]map[string]struct{}),
		history: util.NewRingBuffer[*Call](historyCapacity),
	}
}

// OnTerminated installs a callback invoked once per call, each time Remove
// moves it into history — the seam a caller uses to persist a history.Entry
// without this package depending on the storage layer.
func (r *Registry) OnTerminated(fn func(*Call)) {
	r.mu.Lock()
	r.onTerminated = fn
	r.mu.Unlock()
}

// OnIncoming installs a callback invoked once per inbound call, right after
// AddIncoming registers it — the seam the daemon wiring uses to bring up an
// ICE transport for the new session.
func (r *Registry) OnIncoming(fn func(*Call)) {
	r.mu.Lock()
	r.onIncoming = fn
	r.mu.Unlock()
}

// SetSignaller installs the outbound conference-control surface. Local
// conference mutations (create/add/merge/detach) are mirrored to it.
func (r *Registry) SetSignaller(s ConfSignaller) {
	r.mu.Lock()
	r.signaller = s
	r.mu.Unlock()
}

// AddDialing allocates and registers a fresh outgoing Dialing call.
func (r *Registry) AddDialing(peerName, accountID string) *Call {
	c := NewDialing(peerName, accountID)
	r.mu.Lock()
	r.calls[c.id] = c
	r.mu.Unlock()
	return c
}

// AddIncoming registers an inbound call the daemon already assigned an id
// to.
func (r *Registry) AddIncoming(callID, accountID, peerName, peerNumber string) *Call {
	c := NewIncoming(callID, accountID, peerName, peerNumber)
	r.mu.Lock()
	r.calls[c.id] = c
	onIncoming := r.onIncoming
	r.mu.Unlock()
	if onIncoming != nil {
		onIncoming(c)
	}
	return c
}

// AddRinging registers the observer-side call object for an outbound call
// the daemon has reported as ringing at the peer.
func (r *Registry) AddRinging(callID, accountID, peerName string) *Call {
	c := &Call{id: callID, typ: TypeOutgoing, accountID: accountID, peerName: peerName, state: Ringing, connState: ConnRinging}
	r.mu.Lock()
	r.calls[c.id] = c
	r.mu.Unlock()
	return c
}

// AddConference registers an observer-side Call representing a daemon-side
// conference identity.
func (r *Registry) AddConference(confID string) *Call {
	c := &Call{id: confID, confID: confID, isConf: true, state: Conference}
	r.mu.Lock()
	r.calls[c.id] = c
	r.members[confID] = make(map[string]struct{})
	r.mu.Unlock()
	return c
}

// Get looks up a call or conference by id; the two share one namespace.
func (r *Registry) Get(id string) (*Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	return c, ok
}

// All returns a snapshot of every live call/conference.
func (r *Registry) All() []*Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}

// Remove drops a terminated call from the live set into history. If the
// call had a conference parent and exactly one sibling remains afterward,
// the sibling is re-parented to top-level and the conference is destroyed.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()

	c, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.calls, callID)
	r.history.Push(c)
	onTerminated := r.onTerminated

	confID, hasParent := r.parent[callID]
	if hasParent {
		delete(r.parent, callID)
		siblings := r.members[confID]
		delete(siblings, callID)

		if len(siblings) == 1 {
			var onlyChild string
			for id := range siblings {
				onlyChild = id
			}
			r.detachLocked(onlyChild, confID)
			delete(r.members, confID)
			delete(r.calls, confID)
		}
	}
	r.mu.Unlock()

	if tr := c.takeTransport(); tr != nil {
		_ = tr.Close()
	}
	if onTerminated != nil {
		onTerminated(c)
	}
}

func (r *Registry) detachLocked(callID, confID string) {
	delete(r.parent, callID)
	if siblings, ok := r.members[confID]; ok {
		delete(siblings, callID)
	}
}

// CreateConference synthesises a new conference Call from two top-level
// calls currently admitting audio (Current or Hold), re-parenting both as
// children.
func (r *Registry) CreateConference(aID, bID string) (*Call, error) {
	r.mu.Lock()

	a, aok := r.calls[aID]
	b, bok := r.calls[bID]
	if !aok || !bok {
		r.mu.Unlock()
		return nil, fmt.Errorf("callengine: unknown call id in CreateConference")
	}
	if !admitsAudio(a.State()) || !admitsAudio(b.State()) {
		r.mu.Unlock()
		return nil, fmt.Errorf("callengine: calls must admit audio to form a conference")
	}

	confID := strconv.FormatInt(rand.Int63(), 10)
	conf := &Call{id: confID, confID: confID, isConf: true, state: Conference}
	r.calls[confID] = conf
	r.members[confID] = map[string]struct{}{aID: {}, bID: {}}
	r.parent[aID] = confID
	r.parent[bID] = confID
	signaller := r.signaller

	a.mu.Lock()
	a.confID = confID
	a.setState(Current)
	a.mu.Unlock()
	b.mu.Lock()
	b.confID = confID
	b.setState(Current)
	b.mu.Unlock()
	r.mu.Unlock()

	if signaller != nil {
		if err := signaller.JoinParticipant(aID, bID); err != nil {
			log.Warnw("join_participant request failed", "a", aID, "b", bID, "err", err)
		}
	}
	return conf, nil
}

// AddParticipant adds callID as a child of the conference confID.
func (r *Registry) AddParticipant(confID, callID string) error {
	r.mu.Lock()

	conf, ok := r.calls[confID]
	if !ok || !conf.IsConference() {
		r.mu.Unlock()
		return fmt.Errorf("callengine: %s is not a conference", confID)
	}
	call, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("callengine: unknown call %s", callID)
	}
	if !admitsAudio(call.State()) {
		r.mu.Unlock()
		return fmt.Errorf("callengine: call %s does not admit audio", callID)
	}

	if r.members[confID] == nil {
		r.members[confID] = make(map[string]struct{})
	}
	r.members[confID][callID] = struct{}{}
	r.parent[callID] = confID
	signaller := r.signaller

	call.mu.Lock()
	call.confID = confID
	call.setState(Current)
	call.mu.Unlock()
	r.mu.Unlock()

	if signaller != nil {
		if err := signaller.AddParticipant(callID, confID); err != nil {
			log.Warnw("add_participant request failed", "call", callID, "conf", confID, "err", err)
		}
	}
	return nil
}

// MergeConferences absorbs conference srcID's children into conference
// dstID, destroying src.
func (r *Registry) MergeConferences(dstID, srcID string) error {
	r.mu.Lock()

	if _, ok := r.calls[dstID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("callengine: unknown conference %s", dstID)
	}
	src, ok := r.calls[srcID]
	if !ok || !src.IsConference() {
		r.mu.Unlock()
		return fmt.Errorf("callengine: %s is not a conference", srcID)
	}

	for childID := range r.members[srcID] {
		r.parent[childID] = dstID
		if r.members[dstID] == nil {
			r.members[dstID] = make(map[string]struct{})
		}
		r.members[dstID][childID] = struct{}{}
		if child, ok := r.calls[childID]; ok {
			child.mu.Lock()
			child.confID = dstID
			child.mu.Unlock()
		}
	}
	delete(r.members, srcID)
	delete(r.calls, srcID)
	signaller := r.signaller
	r.mu.Unlock()

	if signaller != nil {
		if err := signaller.JoinConference(dstID, srcID); err != nil {
			log.Warnw("join_conference request failed", "dst", dstID, "src", srcID, "err", err)
		}
	}
	return nil
}

// DetachParticipant returns callID to top-level, preserving its state. If
// this empties its former conference down to a single remaining child,
// that sibling is also detached and the conference destroyed, matching
// Remove's single-survivor rule.
func (r *Registry) DetachParticipant(callID string) error {
	r.mu.Lock()

	confID, ok := r.parent[callID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("callengine: call %s has no conference parent", callID)
	}
	r.detachLocked(callID, confID)

	call, ok := r.calls[callID]
	if ok {
		call.mu.Lock()
		call.confID = ""
		call.mu.Unlock()
	}

	siblings := r.members[confID]
	if len(siblings) == 1 {
		var onlyChild string
		for id := range siblings {
			onlyChild = id
		}
		r.detachLocked(onlyChild, confID)
		delete(r.members, confID)
		delete(r.calls, confID)
	}
	signaller := r.signaller
	r.mu.Unlock()

	if signaller != nil {
		if err := signaller.DetachParticipant(callID); err != nil {
			log.Warnw("detach_participant request failed", "call", callID, "err", err)
		}
	}
	return nil
}

// admitsAudio reports whether a call in state s has audio flowing and may
// join a conference. An answered incoming call is already Current (Accept
// transitions Incoming straight there), so the literal Incoming state
// always means still-ringing and is excluded.
func admitsAudio(s State) bool {
	switch s {
	case Current, Hold:
		return true
	default:
		return false
	}
}

// History returns the retained terminated calls ordered newest-first by
// start timestamp.
func (r *Registry) History() []*Call {
	out := r.history.Snapshot()
	sort.Slice(out, func(i, j int) bool {
		si, _ := out[i].StartStop()
		sj, _ := out[j].StartStop()
		return si.After(sj)
	})
	return out
}

// PopularityEntry ranks a peer number by how many historical calls name it.
type PopularityEntry struct {
	PeerNumber string
	Count      int
}

// ByPopularity groups history entries by peer_number, ranked by count
// descending.
func (r *Registry) ByPopularity() []PopularityEntry {
	hist := r.history.Snapshot()

	counts := make(map[string]int)
	order := []string{}
	for _, c := range hist {
		pn := c.PeerNumber()
		if pn == "" {
			continue
		}
		if _, seen := counts[pn]; !seen {
			order = append(order, pn)
		}
		counts[pn]++
	}
	out := make([]PopularityEntry, 0, len(order))
	for _, pn := range order {
		out = append(out, PopularityEntry{PeerNumber: pn, Count: counts[pn]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
