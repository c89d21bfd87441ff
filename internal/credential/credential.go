// Package credential models the ordered list of {username, password, realm}
// triples carried by an Account: one or more SIP auth identities per
// account.
package credential

import "strings"

// DefaultRealm is substituted for an empty realm.
const DefaultRealm = "*"

// Credential is one {name, password, realm} triple.
type Credential struct {
	Name     string
	Password string
	Realm    string
}

// normalizeRealm applies the default-realm rule.
func normalizeRealm(realm string) string {
	if realm == "" {
		return DefaultRealm
	}
	return realm
}

// Model is the ordered list of Credential rows for one account.
type Model struct {
	rows []Credential
}

// New returns a Model seeded with a single empty credential, matching the
// invariant that every account has at least one credential.
func New() *Model {
	return &Model{rows: []Credential{{Realm: DefaultRealm}}}
}

// Add appends a new, empty credential row.
func (m *Model) Add() {
	m.rows = append(m.rows, Credential{Realm: DefaultRealm})
}

// Remove deletes the row at idx, refusing to drop below one remaining row.
func (m *Model) Remove(idx int) bool {
	if idx < 0 || idx >= len(m.rows) || len(m.rows) <= 1 {
		return false
	}
	m.rows = append(m.rows[:idx], m.rows[idx+1:]...)
	return true
}

// Get returns the row at idx.
func (m *Model) Get(idx int) (Credential, bool) {
	if idx < 0 || idx >= len(m.rows) {
		return Credential{}, false
	}
	return m.rows[idx], true
}

// Set overwrites the row at idx.
func (m *Model) Set(idx int, c Credential) bool {
	if idx < 0 || idx >= len(m.rows) {
		return false
	}
	m.rows[idx] = c
	return true
}

// Count returns the number of rows.
func (m *Model) Count() int { return len(m.rows) }

// All returns a copy of the row list.
func (m *Model) All() []Credential {
	out := make([]Credential, len(m.rows))
	copy(out, m.rows)
	return out
}

// PrepareForSave returns the row list with realm defaults applied and, for
// any row whose Name is empty, the account's primary username substituted.
func (m *Model) PrepareForSave(primaryUsername string) []Credential {
	out := make([]Credential, len(m.rows))
	for i, c := range m.rows {
		c.Realm = normalizeRealm(c.Realm)
		if strings.TrimSpace(c.Name) == "" {
			c.Name = primaryUsername
		}
		out[i] = c
	}
	return out
}
