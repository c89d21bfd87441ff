// Package history models the terminated-call record and its
// slash-separated on-disk line format.
package history

import (
	"fmt"
	"strconv"
	"strings"
)

// Entry is the serialised projection of a terminated Call, created exactly
// once on its transition to Over.
type Entry struct {
	CallID        string
	AccountID     string
	HistoryState  string // call.HistoryState.String()
	PeerName      string
	PeerNumber    string
	StartTS       int64
	StopTS        int64
	RecordingPath string
	ConfID        string
	AddedTS       int64
}

// fieldCount is the number of slash-separated fields in a history record
// line: state|peer_number|peer_name|start_ts|stop_ts|call_id|account_id|
// recording_path|conf_id|added_ts.
const fieldCount = 10

// Serialize renders e as the slash-separated on-disk history record format.
func (e Entry) Serialize() string {
	fields := []string{
		e.HistoryState,
		e.PeerNumber,
		e.PeerName,
		strconv.FormatInt(e.StartTS, 10),
		strconv.FormatInt(e.StopTS, 10),
		e.CallID,
		e.AccountID,
		e.RecordingPath,
		e.ConfID,
		strconv.FormatInt(e.AddedTS, 10),
	}
	return strings.Join(fields, "/")
}

// Parse reverses Serialize.
func Parse(line string) (Entry, error) {
	fields := strings.Split(line, "/")
	if len(fields) != fieldCount {
		return Entry{}, fmt.Errorf("history: expected %d fields, got %d", fieldCount, len(fields))
	}

	startTS, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("history: invalid start_ts: %w", err)
	}
	stopTS, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("history: invalid stop_ts: %w", err)
	}
	addedTS, err := strconv.ParseInt(fields[9], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("history: invalid added_ts: %w", err)
	}

	return Entry{
		HistoryState:  fields[0],
		PeerNumber:    fields[1],
		PeerName:      fields[2],
		StartTS:       startTS,
		StopTS:        stopTS,
		CallID:        fields[5],
		AccountID:     fields[6],
		RecordingPath: fields[7],
		ConfID:        fields[8],
		AddedTS:       addedTS,
	}, nil
}
