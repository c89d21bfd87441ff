package account

import (
	"errors"
	"testing"

	"github.com/petervdpas/voipcore/internal/codec"
	"github.com/petervdpas/voipcore/internal/credential"
)

type fakeBackend struct {
	details     map[string]map[string]string
	nextID      int
	regState    map[string]RegistrationState
	addErr      error
	savedCreds  map[string][]credential.Credential
	savedCodecs map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		details:     make(map[string]map[string]string),
		regState:    make(map[string]RegistrationState),
		savedCreds:  make(map[string][]credential.Credential),
		savedCodecs: make(map[string]string),
	}
}

func (f *fakeBackend) FetchDetails(accountID string) (map[string]string, error) {
	d, ok := f.details[accountID]
	if !ok {
		return nil, errors.New("not found")
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

func (f *fakeBackend) SubmitAdd(details map[string]string) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.nextID++
	id := "acc" + string(rune('0'+f.nextID))
	f.details[id] = details
	return id, nil
}

func (f *fakeBackend) SubmitUpdate(accountID string, details map[string]string) error {
	if _, ok := f.details[accountID]; !ok {
		return errors.New("not found")
	}
	f.details[accountID] = details
	return nil
}

func (f *fakeBackend) FetchRegistrationState(accountID string) (RegistrationState, error) {
	return f.regState[accountID], nil
}

func (f *fakeBackend) SaveCredentials(accountID string, rows []credential.Credential) error {
	f.savedCreds[accountID] = rows
	return nil
}

func (f *fakeBackend) SaveActiveCodecs(accountID string, serialized string) error {
	f.savedCodecs[accountID] = serialized
	return nil
}

func (f *fakeBackend) FetchActiveCodecs(accountID string) (string, error) {
	return f.savedCodecs[accountID], nil
}

func TestNewAccountIsNewUntilSaved(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	if a.EditState() != StateNew {
		t.Fatalf("expected StateNew, got %v", a.EditState())
	}
	if err := a.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.ID() == "" {
		t.Fatal("expected an assigned account id")
	}
	if a.EditState() != StateReadyEdit {
		t.Fatalf("expected StateReadyEdit after save, got %v", a.EditState())
	}
}

func TestSetTransitionsReadyToModified(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	a.Save()

	a.Set("Account.hostname", "sip.example.com")
	if a.EditState() != StateModified {
		t.Fatalf("expected StateModified, got %v", a.EditState())
	}
	if got := a.Get("Account.hostname"); got != "sip.example.com" {
		t.Fatalf("Get returned %q", got)
	}
}

func TestSetRejectedWhileEditing(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	a.Save()
	a.BeginEdit()
	if a.EditState() != StateEditing {
		t.Fatalf("expected StateEditing, got %v", a.EditState())
	}
	a.Set("Account.hostname", "sip.example.com")
	if got := a.Get("Account.hostname"); got != "" {
		t.Fatalf("expected write to be rejected while EDITING, got %q", got)
	}
	if a.EditState() != StateEditing {
		t.Fatalf("state should remain EDITING, got %v", a.EditState())
	}
}

func TestReloadWhileModifiedBecomesOutdatedThenReady(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	a.Save()
	a.Set("Account.hostname", "sip.example.com")

	if err := a.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if a.EditState() != StateOutdated {
		t.Fatalf("expected StateOutdated, got %v", a.EditState())
	}
	if got := a.Get("Account.hostname"); got != "sip.example.com" {
		t.Fatalf("in-flight edit should survive deferred reload, got %q", got)
	}

	// A subsequent reload (external change settled) clears to READY and
	// replaces details from the backend.
	if err := a.Reload(); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if a.EditState() != StateReadyEdit {
		t.Fatalf("expected StateReadyEdit after settle, got %v", a.EditState())
	}
}

func TestUpdateRegistrationStateDoesNotDirtyEditState(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	a.Save()
	b.regState[a.ID()] = StateRegistered

	changed, err := a.UpdateRegistrationState()
	if err != nil {
		t.Fatalf("UpdateRegistrationState: %v", err)
	}
	if !changed {
		t.Fatal("expected a state change")
	}
	if a.EditState() != StateReadyEdit {
		t.Fatalf("registration polling must not affect edit state, got %v", a.EditState())
	}
	if !a.IsRegistered() {
		t.Fatal("expected IsRegistered true")
	}
}

func TestReloadCodecsAppliesStoredList(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	if err := a.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b.savedCodecs[a.ID()] = "8/0"
	if err := a.ReloadCodecs(); err != nil {
		t.Fatalf("ReloadCodecs: %v", err)
	}
	got := a.Codecs().ActiveIDs(codec.MaskAudio)
	if len(got) != 2 || got[0] != 8 || got[1] != 0 {
		t.Fatalf("expected active audio codecs [8 0], got %v", got)
	}
}

func TestIsSecurePredicate(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	if a.IsSecure() {
		t.Fatal("fresh account should not be secure")
	}
	a.Set("SRTP.enable", "true")
	a.Set("SRTP.rtpFallback", "true")
	if a.IsSecure() {
		t.Fatal("SRTP with rtpFallback should not count as secure")
	}
	a.Set("SRTP.rtpFallback", "false")
	if !a.IsSecure() {
		t.Fatal("SRTP enabled without fallback should be secure")
	}
}

func TestRemoveMarksStateRemoved(t *testing.T) {
	b := newFakeBackend()
	a := NewAccount(b, "alice")
	a.Save()
	a.Remove()
	if a.EditState() != StateRemoved {
		t.Fatalf("expected StateRemoved, got %v", a.EditState())
	}
	a.Set("Account.hostname", "x")
	if a.Get("Account.hostname") != "" {
		t.Fatal("removed account must reject further writes")
	}
}
