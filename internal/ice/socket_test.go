package ice

import (
	"testing"

	"github.com/pion/rtp"
)

func TestPeekRTPHeaderParsesQueuedPacket(t *testing.T) {
	tr := newTransport("test", 1, true, nil, nil)
	sock := NewSocket(tr, 1)

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: 42,
			Timestamp:      1000,
			SSRC:           0xdeadbeef,
		},
		Payload: []byte("hello"),
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	tr.component(1).deliver(raw)

	hdr, ok := sock.PeekRTPHeader()
	if !ok {
		t.Fatal("expected PeekRTPHeader to succeed on a queued RTP packet")
	}
	if hdr.SequenceNumber != 42 || hdr.SSRC != 0xdeadbeef {
		t.Fatalf("unexpected header: %+v", hdr)
	}

	// Peeking must not pop the packet off the queue.
	if tr.component(1).nextPacketSize() != len(raw) {
		t.Fatal("PeekRTPHeader must not consume the packet")
	}
}

func TestPeekRTPHeaderEmptyQueue(t *testing.T) {
	tr := newTransport("test", 1, true, nil, nil)
	sock := NewSocket(tr, 1)

	if _, ok := sock.PeekRTPHeader(); ok {
		t.Fatal("expected PeekRTPHeader to fail on an empty queue")
	}
}

func TestPeekRTPHeaderOnClosedSocket(t *testing.T) {
	tr := newTransport("test", 1, true, nil, nil)
	sock := NewSocket(tr, 1)
	sock.Close()

	if _, ok := sock.PeekRTPHeader(); ok {
		t.Fatal("expected PeekRTPHeader to fail after Close")
	}
}
