package ice

import (
	"time"

	"github.com/pion/rtp"
)

// Socket is a thin per-component view over a Transport.
// Construction does not retain the transport beyond the socket's own
// lifetime; Close drops the reference.
type Socket struct {
	transport   *Transport
	componentID int
}

// NewSocket returns a Socket scoped to one component of t.
func NewSocket(t *Transport, componentID int) *Socket {
	return &Socket{transport: t, componentID: componentID}
}

// Send forwards to Transport.Send for this socket's component.
func (s *Socket) Send(data []byte) bool {
	if s.transport == nil {
		return false
	}
	return s.transport.Send(s.componentID, data)
}

// Recv forwards to Transport.Recv for this socket's component.
func (s *Socket) Recv(buf []byte) int {
	if s.transport == nil {
		return 0
	}
	return s.transport.Recv(s.componentID, buf)
}

// NextPacketSize forwards to Transport.NextPacketSize.
func (s *Socket) NextPacketSize() int {
	if s.transport == nil {
		return 0
	}
	return s.transport.NextPacketSize(s.componentID)
}

// WaitForData forwards to Transport.WaitForData.
func (s *Socket) WaitForData(timeout time.Duration) bool {
	if s.transport == nil {
		return false
	}
	return s.transport.WaitForData(s.componentID, timeout)
}

// Close releases this socket's reference to the underlying transport. It
// does not close the transport itself.
func (s *Socket) Close() {
	s.transport = nil
}

// PeekRTPHeader parses the head-of-queue packet as an RTP packet without
// popping it, letting an RTP-style media consumer inspect sequence number,
// timestamp and SSRC before deciding whether to Recv it. Returns false if
// the queue is empty or the head packet does not parse as RTP (e.g. it is
// RTCP or STUN keepalive traffic sharing the component).
func (s *Socket) PeekRTPHeader() (rtp.Header, bool) {
	if s.transport == nil {
		return rtp.Header{}, false
	}
	comp := s.transport.component(s.componentID)
	if comp == nil {
		return rtp.Header{}, false
	}
	data := comp.peekHead()
	if data == nil {
		return rtp.Header{}, false
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return rtp.Header{}, false
	}
	return pkt.Header, true
}
