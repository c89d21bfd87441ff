// Package accountcodec implements the per-account, ordered,
// activation-aware codec list used to produce a session's media offer,
// covering both audio and video.
package accountcodec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/petervdpas/voipcore/internal/codec"
)

// Entry is a per-account realisation of a codec.System codec.
type Entry struct {
	System      codec.SystemCodec
	IsActive    bool
	Order       int // priority, 1 = highest
	PayloadType int
	Bitrate     int
}

// Model owns the ordered list of Entry for one account.
type Model struct {
	entries []Entry
}

// New returns an empty Model.
func New() *Model {
	return &Model{}
}

// LoadDefaultsFrom populates the model with one Entry per system codec
// (audio + video), in the registry's enumeration order, all initially
// active, with bitrate taken from the system default.
func (m *Model) LoadDefaultsFrom(reg *codec.Registry) {
	all := reg.All()
	entries := make([]Entry, 0, len(all))
	for i, c := range all {
		entries = append(entries, Entry{
			System:      c,
			IsActive:    true,
			Order:       i + 1,
			PayloadType: c.ID,
			Bitrate:     c.DefaultBitrate,
		})
	}
	m.entries = entries
}

func matches(e Entry, mask codec.MediaMask) bool {
	switch e.System.MediaType {
	case codec.MediaAudio:
		return mask&codec.MaskAudio != 0
	case codec.MediaVideo:
		return mask&codec.MaskVideo != 0
	default:
		return false
	}
}

// SetActiveCodecs deactivates every entry matching mask, then activates and
// reorders the entries named in orderedIDs (in the given order); ids not
// present in the model are ignored. The list is finally sorted by ascending
// Order.
func (m *Model) SetActiveCodecs(orderedIDs []int, mask codec.MediaMask) {
	for i := range m.entries {
		if matches(m.entries[i], mask) {
			m.entries[i].IsActive = false
		}
	}

	order := 1
	for _, id := range orderedIDs {
		for i := range m.entries {
			if m.entries[i].System.ID == id && matches(m.entries[i], mask) {
				m.entries[i].IsActive = true
				m.entries[i].Order = order
				order++
				break
			}
		}
	}

	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].Order < m.entries[j].Order
	})
}

// ActiveIDs returns the ids of active entries matching mask, in ascending
// Order.
func (m *Model) ActiveIDs(mask codec.MediaMask) []int {
	var ids []int
	for _, e := range m.entries {
		if e.IsActive && matches(e, mask) {
			ids = append(ids, e.System.ID)
		}
	}
	return ids
}

// AllIDs returns the ids of every entry matching mask, in list order.
func (m *Model) AllIDs(mask codec.MediaMask) []int {
	var ids []int
	for _, e := range m.entries {
		if matches(e, mask) {
			ids = append(ids, e.System.ID)
		}
	}
	return ids
}

// FindByID returns the first entry with the given id restricted to mask.
func (m *Model) FindByID(id int, mask codec.MediaMask) (Entry, bool) {
	for _, e := range m.entries {
		if e.System.ID == id && matches(e, mask) {
			return e, true
		}
	}
	return Entry{}, false
}

// FindByName returns the first entry with the given codec name restricted
// to mask.
func (m *Model) FindByName(name string, mask codec.MediaMask) (Entry, bool) {
	for _, e := range m.entries {
		if e.System.Name == name && matches(e, mask) {
			return e, true
		}
	}
	return Entry{}, false
}

// FindByPayloadType returns the first entry with the given payload type
// restricted to mask.
func (m *Model) FindByPayloadType(pt int, mask codec.MediaMask) (Entry, bool) {
	for _, e := range m.entries {
		if e.PayloadType == pt && matches(e, mask) {
			return e, true
		}
	}
	return Entry{}, false
}

// MoveUp swaps entry idx with its predecessor, if idx is in bounds and not
// already first.
func (m *Model) MoveUp(idx int) bool {
	if idx <= 0 || idx >= len(m.entries) {
		return false
	}
	m.entries[idx-1], m.entries[idx] = m.entries[idx], m.entries[idx-1]
	m.renumber()
	return true
}

// MoveDown swaps entry idx with its successor, if idx is in bounds and not
// already last.
func (m *Model) MoveDown(idx int) bool {
	if idx < 0 || idx >= len(m.entries)-1 {
		return false
	}
	m.entries[idx], m.entries[idx+1] = m.entries[idx+1], m.entries[idx]
	m.renumber()
	return true
}

func (m *Model) renumber() {
	for i := range m.entries {
		m.entries[i].Order = i + 1
	}
}

// Serialize returns the slash-separated list of ids of active codecs in
// ascending Order, matching the daemon's on-wire codec-list format.
func (m *Model) Serialize(mask codec.MediaMask) string {
	ids := m.ActiveIDs(mask)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "/")
}

// ParseSerialized reverses Serialize, returning the ordered id list.
func ParseSerialized(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("accountcodec: invalid id %q: %w", p, err)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

// Entries returns a copy of the underlying entry list, in current order.
func (m *Model) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
