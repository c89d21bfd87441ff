package ice

import (
	"net"
	"testing"
)

func TestCandidateRoundTrip(t *testing.T) {
	c := Candidate{Foundation: "f1", Component: 1, Priority: 2130706431, IP: net.ParseIP("192.168.1.5"), Port: 40000, Type: TypeHost}
	line := c.Serialize()
	got, err := ParseCandidateLine(line)
	if err != nil {
		t.Fatalf("ParseCandidateLine: %v", err)
	}
	if got.Foundation != c.Foundation || got.Component != c.Component || got.Priority != c.Priority ||
		!got.IP.Equal(c.IP) || got.Port != c.Port || got.Type != c.Type {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, c)
	}
}

func TestParseCandidateLineRejectsMalformed(t *testing.T) {
	cases := []string{
		"f1 1 UDP 100 192.168.1.5 40000 typ bogus",
		"f1 1 UDP 100 192.168.1.5 40000 host",
		"f1 1 TCP 100 192.168.1.5 40000 typ host",
		"f1 1 UDP abc 192.168.1.5 40000 typ host",
	}
	for _, c := range cases {
		if _, err := ParseCandidateLine(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}

func TestBlobRoundTrip(t *testing.T) {
	b := Blob{
		Ufrag: "ufrag1",
		Pwd:   "pwd1",
		Candidates: []Candidate{
			{Foundation: "f1", Component: 1, Priority: 100, IP: net.ParseIP("10.0.0.1"), Port: 1000, Type: TypeHost},
			{Foundation: "f2", Component: 2, Priority: 100, IP: net.ParseIP("10.0.0.1"), Port: 1001, Type: TypeHost},
		},
	}
	serialized := b.Serialize()
	parsed, err := ParseBlob(serialized)
	if err != nil {
		t.Fatalf("ParseBlob: %v", err)
	}
	if parsed.Ufrag != b.Ufrag || parsed.Pwd != b.Pwd {
		t.Fatalf("ufrag/pwd mismatch: %+v", parsed)
	}
	if len(parsed.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(parsed.Candidates))
	}
	if len(parsed.Skipped) != 0 {
		t.Fatalf("expected no skipped lines, got %v", parsed.Skipped)
	}
}

func TestBlobSkipsMalformedLinesOnly(t *testing.T) {
	raw := "ufrag1\npwd1\nf1 1 UDP 100 10.0.0.1 1000 typ host\nbogus line here\nf2 2 UDP 100 10.0.0.1 1001 typ host\n"
	parsed, err := ParseBlob(raw)
	if err != nil {
		t.Fatalf("ParseBlob: %v", err)
	}
	if len(parsed.Candidates) != 2 {
		t.Fatalf("expected 2 valid candidates, got %d", len(parsed.Candidates))
	}
	if len(parsed.Skipped) != 1 {
		t.Fatalf("expected 1 skipped line, got %d", len(parsed.Skipped))
	}
}
