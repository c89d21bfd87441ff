package ice

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// CandidateType is the ICE candidate type alphabet.
type CandidateType string

const (
	TypeHost  CandidateType = "host"
	TypeSrflx CandidateType = "srflx"
	TypeRelay CandidateType = "relay"
)

func parseCandidateType(tok string) (CandidateType, bool) {
	switch CandidateType(tok) {
	case TypeHost, TypeSrflx, TypeRelay:
		return CandidateType(tok), true
	default:
		return "", false
	}
}

// Candidate is the wire-level representation of one local or remote ICE
// candidate.
type Candidate struct {
	Foundation string
	Component  int
	Priority   uint32
	IP         net.IP
	Port       int
	Type       CandidateType
}

// Serialize renders one candidate line, bit-exact with the wire format:
// "%s %d UDP %d %s %d typ %s".
func (c Candidate) Serialize() string {
	return fmt.Sprintf("%s %d UDP %d %s %d typ %s", c.Foundation, c.Component, c.Priority, c.IP.String(), c.Port, c.Type)
}

// ParseCandidateLine reverses Serialize. A line whose whitespace-separated
// field count is not exactly 8 (foundation, component, "UDP", priority,
// address, port, "typ", type) or whose type token is unrecognised is
// rejected — callers should skip and log, not abort the whole blob.
func ParseCandidateLine(line string) (Candidate, error) {
	fields := strings.Fields(line)
	if len(fields) != 8 {
		return Candidate{}, fmt.Errorf("ice: malformed candidate line (want 8 fields, got %d): %q", len(fields), line)
	}
	if fields[2] != "UDP" {
		return Candidate{}, fmt.Errorf("ice: unsupported transport %q", fields[2])
	}
	if fields[6] != "typ" {
		return Candidate{}, fmt.Errorf("ice: malformed candidate line, expected 'typ' token: %q", line)
	}
	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return Candidate{}, fmt.Errorf("ice: bad component %q: %w", fields[1], err)
	}
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Candidate{}, fmt.Errorf("ice: bad priority %q: %w", fields[3], err)
	}
	ip := net.ParseIP(fields[4])
	if ip == nil {
		return Candidate{}, fmt.Errorf("ice: bad address %q", fields[4])
	}
	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return Candidate{}, fmt.Errorf("ice: bad port %q: %w", fields[5], err)
	}
	typ, ok := parseCandidateType(fields[7])
	if !ok {
		return Candidate{}, fmt.Errorf("ice: unrecognised candidate type %q", fields[7])
	}
	return Candidate{
		Foundation: fields[0],
		Component:  component,
		Priority:   uint32(priority),
		IP:         ip,
		Port:       port,
		Type:       typ,
	}, nil
}

// Blob is the full local/remote candidate exchange payload: ufrag, pwd,
// then one candidate line per component.
type Blob struct {
	Ufrag      string
	Pwd        string
	Candidates []Candidate
}

// Serialize renders "ufrag \n pwd \n candidate1 \n … candidateN \n".
func (b Blob) Serialize() string {
	var sb strings.Builder
	sb.WriteString(b.Ufrag)
	sb.WriteByte('\n')
	sb.WriteString(b.Pwd)
	sb.WriteByte('\n')
	for _, c := range b.Candidates {
		sb.WriteString(c.Serialize())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ParseBlob reverses Serialize. Malformed candidate lines are skipped with
// the error recorded in Skipped rather than aborting the whole blob.
type ParsedBlob struct {
	Ufrag      string
	Pwd        string
	Candidates []Candidate
	Skipped    []error
}

func ParseBlob(blob string) (ParsedBlob, error) {
	lines := strings.Split(strings.TrimRight(blob, "\n"), "\n")
	if len(lines) < 2 {
		return ParsedBlob{}, fmt.Errorf("ice: blob too short, need ufrag+pwd lines")
	}
	out := ParsedBlob{Ufrag: lines[0], Pwd: lines[1]}
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		c, err := ParseCandidateLine(line)
		if err != nil {
			out.Skipped = append(out.Skipped, err)
			continue
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out, nil
}
