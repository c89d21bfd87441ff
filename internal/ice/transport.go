package ice

import (
	"context"
	"fmt"
	"sync"
	"time"

	pionice "github.com/pion/ice/v4"
	"github.com/pion/randutil"
	"github.com/pion/stun/v3"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voipcore/internal/ipaddr"
	"github.com/petervdpas/voipcore/internal/upnp"
)

var log = logging.Logger("ice")

// waitResult is the tri-state outcome of a wait on init or negotiation.
type waitResult int

const (
	WaitFailure waitResult = 0
	WaitSuccess waitResult = 1
	WaitTimeout waitResult = -1
)

// Transport is a per-call, multi-component ICE engine built over one
// pion/ice.Agent per component, so every component negotiates its own
// candidate pair while sharing one ufrag/pwd credential pair.
type Transport struct {
	name           string
	upnpController *upnp.Controller
	urls           []*stun.URI

	controlling bool // guarded by mu; frozen once negotiation starts

	mu         sync.Mutex
	components []*component
	agents     []*pionice.Agent

	localUfrag string
	localPwd   string

	initDone      bool
	initOK        bool
	negoStarted   bool
	negoDone      bool
	negoOK        bool
	shutdown      bool
	cond          *sync.Cond

	upnpMappings        []upnpMapping
	syntheticCandidates []Candidate
}

type upnpMapping struct {
	internalPort int
	externalPort int
}

// credentialAlphabet matches pion/ice's own internal ufrag/pwd charset, so
// locally-generated credentials look like anything else pion/ice produces.
const credentialAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func generateCredentialPart(n int) string {
	s, err := randutil.GenerateCryptoRandomString(n, credentialAlphabet)
	if err != nil {
		log.Warnw("falling back to math-random credential generation", "err", err)
		return randutil.NewMathRandomGenerator().GenerateString(n, credentialAlphabet)
	}
	return s
}

func newTransport(name string, componentCount int, controlling bool, upnpController *upnp.Controller, urls []*stun.URI) *Transport {
	t := &Transport{
		name:           name,
		controlling:    controlling,
		upnpController: upnpController,
		urls:           urls,
		localUfrag:     generateCredentialPart(8),
		localPwd:       generateCredentialPart(16),
	}
	t.cond = sync.NewCond(&t.mu)
	for i := 0; i < componentCount; i++ {
		t.components = append(t.components, newComponent(i+1))
	}
	return t
}

// init creates one pion ICE agent per component, all sharing the local
// ufrag/pwd, wires candidate and state-change callbacks, and gathers
// candidates. On success it applies UPnP augmentation to local host candidates.
func (t *Transport) init(ctx context.Context) error {
	for _, comp := range t.components {
		agentConfig := &pionice.AgentConfig{
			Urls:          t.urls,
			LocalUfrag:    t.localUfrag,
			LocalPwd:      t.localPwd,
			NetworkTypes:  []pionice.NetworkType{pionice.NetworkTypeUDP4},
			LoggerFactory: loggerFactory{},
		}
		agent, err := pionice.NewAgent(agentConfig)
		if err != nil {
			t.failInit(err)
			return fmt.Errorf("ice: create agent for component %d: %w", comp.id, err)
		}
		t.mu.Lock()
		t.agents = append(t.agents, agent)
		t.mu.Unlock()

		compID := comp.id
		if err := agent.OnConnectionStateChange(func(s pionice.ConnectionState) {
			log.Debugw("component connection state", "transport", t.name, "component", compID, "state", s.String())
		}); err != nil {
			log.Warnw("OnConnectionStateChange failed", "err", err)
		}

		if err := agent.GatherCandidates(); err != nil {
			t.failInit(err)
			return fmt.Errorf("ice: gather candidates for component %d: %w", comp.id, err)
		}
	}

	if t.upnpController != nil {
		t.augmentWithUPnP()
	}

	t.mu.Lock()
	t.initDone = true
	t.initOK = true
	t.cond.Broadcast()
	t.mu.Unlock()
	return nil
}

func (t *Transport) failInit(err error) {
	log.Errorw("ice init failed", "transport", t.name, "err", err)
	t.mu.Lock()
	t.initDone = true
	t.initOK = false
	t.cond.Broadcast()
	t.mu.Unlock()
}

// augmentWithUPnP requests an external UDP mapping for each local host
// candidate and, on success, adds a server-reflexive candidate. Only host
// candidates are augmented — srflx/relay candidates already traversed NAT
// through STUN/TURN and would double-map the same port.
func (t *Transport) augmentWithUPnP() {
	extIP, err := t.upnpController.ExternalIP()
	if err != nil {
		log.Warnw("upnp external ip unavailable, skipping augmentation", "err", err)
		return
	}

	for _, comp := range t.components {
		locals, err := t.localCandidatesForComponent(comp.id)
		if err != nil {
			continue
		}
		for _, lc := range locals {
			if lc.Type != TypeHost {
				continue
			}
			var mappedPort int
			ok := t.upnpController.AddAnyMapping(lc.Port, upnp.ProtoUDP, true, &mappedPort)
			if !ok {
				log.Warnw("upnp mapping rejected, proceeding without srflx candidate", "port", lc.Port)
				continue
			}
			t.mu.Lock()
			t.upnpMappings = append(t.upnpMappings, upnpMapping{internalPort: lc.Port, externalPort: mappedPort})
			t.mu.Unlock()

			srflx := lc
			srflx.Type = TypeSrflx
			srflx.IP = extIP.IP()
			srflx.Port = mappedPort
			srflx.Foundation = lc.Foundation + "s"
			t.addSyntheticCandidate(comp.id, srflx)
		}
	}
}

// addSyntheticCandidate records a server-reflexive candidate produced by
// UPnP augmentation rather than native ICE gathering.
func (t *Transport) addSyntheticCandidate(componentID int, c Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syntheticCandidates = append(t.syntheticCandidates, c)
	_ = componentID
}

// localCandidatesForComponent converts the underlying agent's gathered
// candidates for one component into our wire Candidate representation.
func (t *Transport) localCandidatesForComponent(componentID int) ([]Candidate, error) {
	t.mu.Lock()
	agent := t.agents[componentID-1]
	t.mu.Unlock()

	native, err := agent.GetLocalCandidates()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(native))
	for _, nc := range native {
		typ, ok := mapCandidateType(nc.Type())
		if !ok {
			continue
		}
		ipStr := nc.Address()
		out = append(out, Candidate{
			Foundation: nc.Foundation(),
			Component:  componentID,
			Priority:   nc.Priority(),
			IP:         ipaddr.Parse(ipStr).IP(),
			Port:       nc.Port(),
			Type:       typ,
		})
	}
	return out, nil
}

func mapCandidateType(t pionice.CandidateType) (CandidateType, bool) {
	switch t {
	case pionice.CandidateTypeHost:
		return TypeHost, true
	case pionice.CandidateTypeServerReflexive:
		return TypeSrflx, true
	case pionice.CandidateTypeRelay:
		return TypeRelay, true
	default:
		return "", false
	}
}

// WaitForInit blocks up to timeout for initialisation to complete. Once
// initialisation has succeeded once, it returns immediately thereafter.
func (t *Transport) WaitForInit(timeout time.Duration) waitResult {
	return t.waitOn(timeout, func() (done, ok bool) {
		return t.initDone || t.shutdown, t.initOK && !t.shutdown
	})
}

// WaitForNegotiation blocks up to timeout for negotiation to complete.
func (t *Transport) WaitForNegotiation(timeout time.Duration) waitResult {
	return t.waitOn(timeout, func() (done, ok bool) {
		return t.negoDone || t.shutdown, t.negoOK && !t.shutdown
	})
}

func (t *Transport) waitOn(timeout time.Duration, check func() (done, ok bool)) waitResult {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, t.cond.Broadcast)
	defer timer.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		done, ok := check()
		if done {
			if t.shutdown {
				return WaitFailure
			}
			if ok {
				return WaitSuccess
			}
			return WaitFailure
		}
		if !time.Now().Before(deadline) {
			return WaitTimeout
		}
		t.cond.Wait()
	}
}

// SetControlling adjusts the negotiation role. Ignored (with a warning)
// once Start has run: the role is fixed for the life of the negotiation.
func (t *Transport) SetControlling(controlling bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.negoStarted {
		log.Warnw("role change ignored, negotiation already started", "transport", t.name)
		return
	}
	t.controlling = controlling
}

// Start begins negotiation against the remote ufrag/pwd/candidate set.
// An empty candidate list is a hard failure.
func (t *Transport) Start(ctx context.Context, remoteUfrag, remotePwd string, remoteCandidates []Candidate) error {
	if len(remoteCandidates) == 0 {
		return fmt.Errorf("ice: cannot negotiate with an empty remote candidate list")
	}

	t.mu.Lock()
	t.negoStarted = true
	controlling := t.controlling
	t.mu.Unlock()

	byComponent := make(map[int][]Candidate)
	for _, c := range remoteCandidates {
		byComponent[c.Component] = append(byComponent[c.Component], c)
	}

	var wg sync.WaitGroup
	var failMu sync.Mutex
	var firstErr error

	for i, comp := range t.components {
		agent := t.agents[i]
		comp := comp
		cands := byComponent[comp.id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, rc := range cands {
				native, err := toPionCandidate(rc)
				if err != nil {
					log.Warnw("skipping unconvertible remote candidate", "err", err)
					continue
				}
				if err := agent.AddRemoteCandidate(native); err != nil {
					log.Warnw("AddRemoteCandidate failed", "err", err)
				}
			}

			var conn *pionice.Conn
			var err error
			if controlling {
				conn, err = agent.Dial(ctx, remoteUfrag, remotePwd)
			} else {
				conn, err = agent.Accept(ctx, remoteUfrag, remotePwd)
			}
			if err != nil {
				failMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				failMu.Unlock()
				return
			}
			comp.setConn(conn)
			go t.readLoop(comp, conn)
		}()
	}
	wg.Wait()

	t.mu.Lock()
	t.negoDone = true
	t.negoOK = firstErr == nil
	t.cond.Broadcast()
	t.mu.Unlock()

	return firstErr
}

// StartFromBlob is the overload of Start taking the serialized remote
// attribute/candidate blob produced by LocalAttributesAndCandidates on the
// peer. Malformed candidate lines are skipped with a warning; the remainder
// negotiates.
func (t *Transport) StartFromBlob(ctx context.Context, blob string) error {
	parsed, err := ParseBlob(blob)
	if err != nil {
		return err
	}
	for _, skipErr := range parsed.Skipped {
		log.Warnw("skipping malformed remote candidate line", "err", skipErr)
	}
	return t.Start(ctx, parsed.Ufrag, parsed.Pwd, parsed.Candidates)
}

func (t *Transport) readLoop(comp *component, conn *pionice.Conn) {
	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		comp.deliver(cp)
	}
}

func toPionCandidate(c Candidate) (pionice.Candidate, error) {
	switch c.Type {
	case TypeHost:
		return pionice.NewCandidateHost(&pionice.CandidateHostConfig{
			Network:    "udp",
			Address:    c.IP.String(),
			Port:       c.Port,
			Component:  uint16(c.Component),
			Foundation: c.Foundation,
		})
	case TypeSrflx:
		return pionice.NewCandidateServerReflexive(&pionice.CandidateServerReflexiveConfig{
			Network:    "udp",
			Address:    c.IP.String(),
			Port:       c.Port,
			Component:  uint16(c.Component),
			Foundation: c.Foundation,
		})
	case TypeRelay:
		return pionice.NewCandidateRelay(&pionice.CandidateRelayConfig{
			Network:    "udp",
			Address:    c.IP.String(),
			Port:       c.Port,
			Component:  uint16(c.Component),
			Foundation: c.Foundation,
		})
	default:
		return nil, fmt.Errorf("ice: unknown candidate type %q", c.Type)
	}
}

// LocalAttributesAndCandidates returns the local ufrag/pwd plus every
// gathered (and UPnP-synthesised) local candidate, across all components.
func (t *Transport) LocalAttributesAndCandidates() Blob {
	var all []Candidate
	for _, comp := range t.components {
		cands, err := t.localCandidatesForComponent(comp.id)
		if err != nil {
			continue
		}
		all = append(all, cands...)
	}
	t.mu.Lock()
	all = append(all, t.syntheticCandidates...)
	ufrag, pwd := t.localUfrag, t.localPwd
	t.mu.Unlock()
	return Blob{Ufrag: ufrag, Pwd: pwd, Candidates: all}
}

// ComponentCount returns the number of components this transport manages.
func (t *Transport) ComponentCount() int {
	return len(t.components)
}

// SetOnReceive installs a receive callback for one component (1-indexed).
// Queued packets are drained through cb synchronously first; thereafter cb
// fires on the component's read goroutine, so consumers wiring in media
// pipelines must not block inside it.
func (t *Transport) SetOnReceive(componentID int, cb func([]byte)) {
	if comp := t.component(componentID); comp != nil {
		comp.setOnReceive(cb)
	}
}

// Recv pops one queued packet for componentID into buf.
func (t *Transport) Recv(componentID int, buf []byte) int {
	if comp := t.component(componentID); comp != nil {
		return comp.recv(buf)
	}
	return 0
}

// NextPacketSize peeks the head-of-queue packet length for componentID.
func (t *Transport) NextPacketSize(componentID int) int {
	if comp := t.component(componentID); comp != nil {
		return comp.nextPacketSize()
	}
	return 0
}

// WaitForData blocks until a packet is available on componentID or timeout.
func (t *Transport) WaitForData(componentID int, timeout time.Duration) bool {
	if comp := t.component(componentID); comp != nil {
		return comp.waitForData(timeout)
	}
	return false
}

// Send writes bytes to componentID's validated remote pair. False if no
// pair has been negotiated yet.
func (t *Transport) Send(componentID int, data []byte) bool {
	if comp := t.component(componentID); comp != nil {
		return comp.send(data)
	}
	return false
}

// isClosed reports whether Close has run; the factory pump uses it to drop
// dead transports from its live set.
func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shutdown
}

func (t *Transport) component(id int) *component {
	if id < 1 || id > len(t.components) {
		return nil
	}
	return t.components[id-1]
}

// Close releases every component's ICE agent and, if this transport
// obtained UPnP mappings, releases them. Invalidates callbacks under the
// transport's own lock so no pump goroutine can dereference a dead
// transport afterward.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.shutdown = true
	mappings := t.upnpMappings
	t.upnpMappings = nil
	agents := t.agents
	t.cond.Broadcast()
	t.mu.Unlock()

	for _, a := range agents {
		_ = a.Close()
	}
	if t.upnpController != nil {
		for _, m := range mappings {
			t.upnpController.RemoveMapping(m.externalPort, upnp.ProtoUDP)
		}
	}
	return nil
}
