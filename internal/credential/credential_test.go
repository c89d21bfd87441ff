package credential

import "testing"

func TestNewHasOneRow(t *testing.T) {
	m := New()
	if m.Count() != 1 {
		t.Fatalf("expected 1 row, got %d", m.Count())
	}
}

func TestRemoveCannotEmpty(t *testing.T) {
	m := New()
	if m.Remove(0) {
		t.Fatal("Remove should refuse to drop the last credential")
	}
	m.Add()
	if !m.Remove(0) {
		t.Fatal("Remove should succeed when >1 row remains")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 row after remove, got %d", m.Count())
	}
}

func TestPrepareForSaveFillsNameAndRealm(t *testing.T) {
	m := New()
	m.Set(0, Credential{Name: "", Password: "secret", Realm: ""})
	rows := m.PrepareForSave("alice")
	if rows[0].Name != "alice" {
		t.Fatalf("expected username fallback, got %q", rows[0].Name)
	}
	if rows[0].Realm != DefaultRealm {
		t.Fatalf("expected default realm %q, got %q", DefaultRealm, rows[0].Realm)
	}
}

func TestPrepareForSaveKeepsExplicitValues(t *testing.T) {
	m := New()
	m.Set(0, Credential{Name: "bob", Password: "x", Realm: "example.com"})
	rows := m.PrepareForSave("alice")
	if rows[0].Name != "bob" || rows[0].Realm != "example.com" {
		t.Fatalf("explicit values should be preserved, got %+v", rows[0])
	}
}
