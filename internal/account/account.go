// Package account implements the persistent signalling identity: a string
// detail map, volatile registration state, codec and credential sub-models,
// and an edit lifecycle that defers external reloads while the user has
// unsaved changes.
package account

import (
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voipcore/internal/accountcodec"
	"github.com/petervdpas/voipcore/internal/codec"
	"github.com/petervdpas/voipcore/internal/credential"
)

var log = logging.Logger("account")

// RegistrationState mirrors the wire values sent over the IPC bus.
type RegistrationState int

const (
	StateUnregistered RegistrationState = iota
	StateTrying
	StateRegistered
	StateReady
	StateErrorGeneric
	StateErrorAuth
	StateErrorNetwork
	StateErrorHost
	StateErrorConfStun
	StateErrorExistStun
	StateErrorServiceUnavailable
	StateErrorNotAcceptable
)

var registrationWireNames = map[RegistrationState]string{
	StateUnregistered:            "UNREGISTERED",
	StateTrying:                  "TRYING",
	StateRegistered:              "REGISTERED",
	StateReady:                   "READY",
	StateErrorGeneric:            "ERROR",
	StateErrorAuth:               "ERRORAUTH",
	StateErrorNetwork:            "ERRORNETWORK",
	StateErrorHost:               "ERRORHOST",
	StateErrorConfStun:           "ERROR_CONF_STUN",
	StateErrorExistStun:          "ERROREXISTSTUN",
	StateErrorServiceUnavailable: "ERRORSERVICEUNAVAILABLE",
	StateErrorNotAcceptable:      "ERRORNOTACCEPTABLE",
}

func (s RegistrationState) String() string {
	if n, ok := registrationWireNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseRegistrationState reverses String, defaulting to StateUnregistered
// for an unrecognised wire value.
func ParseRegistrationState(wire string) RegistrationState {
	for s, n := range registrationWireNames {
		if n == wire {
			return s
		}
	}
	return StateUnregistered
}

// EditState is the Account edit-lifecycle state machine.
type EditState int

const (
	StateReadyEdit EditState = iota
	StateNew
	StateEditing
	StateModified
	StateOutdated
	StateRemoved
)

func (s EditState) String() string {
	switch s {
	case StateReadyEdit:
		return "READY"
	case StateNew:
		return "NEW"
	case StateEditing:
		return "EDITING"
	case StateModified:
		return "MODIFIED"
	case StateOutdated:
		return "OUTDATED"
	case StateRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Backend is the daemon-side collaborator an Account talks to: the
// persistence/registration authority, which lives outside this module. Account
// itself never touches storage directly — it only calls through Backend,
// so a production wiring (storage.AccountStore) and a test fake look
// identical to this package.
type Backend interface {
	FetchDetails(accountID string) (map[string]string, error)
	SubmitAdd(details map[string]string) (accountID string, err error)
	SubmitUpdate(accountID string, details map[string]string) error
	FetchRegistrationState(accountID string) (RegistrationState, error)
	SaveCredentials(accountID string, rows []credential.Credential) error
	SaveActiveCodecs(accountID string, serialized string) error
	FetchActiveCodecs(accountID string) (string, error)
}

// Account is a persistent signalling identity.
type Account struct {
	backend Backend

	mu                sync.Mutex
	accountID         string
	details           map[string]string
	registrationState RegistrationState
	editState         EditState
	callIDs           map[string]struct{}

	codecs      *accountcodec.Model
	credentials *credential.Model
}

// NewExisting fetches details for an already-persisted account and enters
// StateReadyEdit.
func NewExisting(backend Backend, accountID string) (*Account, error) {
	details, err := backend.FetchDetails(accountID)
	if err != nil {
		return nil, fmt.Errorf("account: fetch %s: %w", accountID, err)
	}
	a := &Account{
		backend:     backend,
		accountID:   accountID,
		details:     details,
		editState:   StateReadyEdit,
		callIDs:     make(map[string]struct{}),
		codecs:      accountcodec.New(),
		credentials: credential.New(),
	}
	a.codecs.LoadDefaultsFrom(codec.System())
	if err := a.ReloadCodecs(); err != nil {
		log.Warnw("stored codec list unreadable, keeping defaults", "account", accountID, "err", err)
	}
	return a, nil
}

// NewAccount creates an unsaved account with an initial alias. Save() will
// assign the account_id.
func NewAccount(backend Backend, alias string) *Account {
	a := &Account{
		backend:     backend,
		details:     map[string]string{"Account.alias": alias, "Account.type": "SIP", "Account.enable": "true"},
		editState:   StateNew,
		callIDs:     make(map[string]struct{}),
		codecs:      accountcodec.New(),
		credentials: credential.New(),
	}
	a.codecs.LoadDefaultsFrom(codec.System())
	return a
}

// ID returns the opaque account id, empty for a NEW/unsaved account.
func (a *Account) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountID
}

// EditState returns the current edit-lifecycle state.
func (a *Account) EditState() EditState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.editState
}

// RegistrationState returns the current volatile registration state.
func (a *Account) RegistrationState() RegistrationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registrationState
}

// Codecs returns the account's codec model.
func (a *Account) Codecs() *accountcodec.Model { return a.codecs }

// Credentials returns the account's credential model.
func (a *Account) Credentials() *credential.Model { return a.credentials }

// Get reads one detail. Returns empty for absent keys and logs rather than
// failing.
func (a *Account) Get(key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.details[key]
	if !ok {
		log.Debugw("detail key absent", "key", key)
	}
	return v
}

// Set writes one detail. In StateReadyEdit this transitions the account to
// StateModified. Writes are rejected (no-op) in EDITING, OUTDATED, REMOVED.
// NEW and MODIFIED accounts accept the write directly.
func (a *Account) Set(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.editState {
	case StateEditing, StateOutdated, StateRemoved:
		log.Warnw("detail write rejected", "key", key, "state", a.editState.String())
		return
	case StateReadyEdit:
		a.editState = StateModified
	case StateNew, StateModified:
		// already writable
	}
	if a.details == nil {
		a.details = make(map[string]string)
	}
	a.details[key] = value
}

// BeginEdit transitions READY -> EDITING.
func (a *Account) BeginEdit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.editState == StateReadyEdit {
		a.editState = StateEditing
	}
}

// Save persists the account. NEW accounts submit an "add"; existing accounts
// submit an "update". On success, credentials and the active audio codec
// list are persisted, then the account reloads. Registration-state changes
// observed during save do not mark the account dirty.
func (a *Account) Save() error {
	a.mu.Lock()
	isNew := a.editState == StateNew
	details := make(map[string]string, len(a.details))
	for k, v := range a.details {
		details[k] = v
	}
	primaryUsername := a.details["Account.username"]
	a.mu.Unlock()

	var accountID string
	var err error
	if isNew {
		accountID, err = a.backend.SubmitAdd(details)
		if err != nil {
			return fmt.Errorf("account: add: %w", err)
		}
	} else {
		accountID = a.ID()
		if err = a.backend.SubmitUpdate(accountID, details); err != nil {
			return fmt.Errorf("account: update %s: %w", accountID, err)
		}
	}

	rows := a.credentials.PrepareForSave(primaryUsername)
	if err := a.backend.SaveCredentials(accountID, rows); err != nil {
		return fmt.Errorf("account: save credentials %s: %w", accountID, err)
	}
	serialized := a.codecs.Serialize(codec.MaskAudio)
	if err := a.backend.SaveActiveCodecs(accountID, serialized); err != nil {
		return fmt.Errorf("account: save codecs %s: %w", accountID, err)
	}

	a.mu.Lock()
	a.accountID = accountID
	a.editState = StateReadyEdit
	a.mu.Unlock()

	return a.Reload()
}

// Reload refetches the detail map wholesale, replacing the previous one. If
// the account is currently EDITING or MODIFIED, the reload is deferred: the
// state becomes OUTDATED instead of silently discarding the in-progress
// edit, and the details are NOT replaced.
func (a *Account) Reload() error {
	a.mu.Lock()
	if a.editState == StateEditing || a.editState == StateModified {
		a.editState = StateOutdated
		a.mu.Unlock()
		return nil
	}
	accountID := a.accountID
	deferredOutdated := a.editState == StateOutdated
	a.mu.Unlock()

	if accountID == "" {
		return nil
	}
	details, err := a.backend.FetchDetails(accountID)
	if err != nil {
		return fmt.Errorf("account: reload %s: %w", accountID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.details = details
	if deferredOutdated || a.editState == StateOutdated {
		a.editState = StateReadyEdit
	}
	return nil
}

// ReloadCodecs refetches the persisted active audio codec list and applies
// it to the codec model; an account that never saved one keeps the
// registry defaults.
func (a *Account) ReloadCodecs() error {
	accountID := a.ID()
	if accountID == "" {
		return nil
	}
	serialized, err := a.backend.FetchActiveCodecs(accountID)
	if err != nil {
		return fmt.Errorf("account: fetch codecs %s: %w", accountID, err)
	}
	if serialized == "" {
		return nil
	}
	ids, err := accountcodec.ParseSerialized(serialized)
	if err != nil {
		return fmt.Errorf("account: parse codecs %s: %w", accountID, err)
	}
	a.codecs.SetActiveCodecs(ids, codec.MaskAudio)
	return nil
}

// UpdateRegistrationState polls the backend's current registration status
// and updates the local state. Returns whether the state changed. This path
// never touches edit state or details beyond the volatile registration key.
func (a *Account) UpdateRegistrationState() (bool, error) {
	accountID := a.ID()
	if accountID == "" {
		return false, nil
	}
	newState, err := a.backend.FetchRegistrationState(accountID)
	if err != nil {
		return false, fmt.Errorf("account: registration state %s: %w", accountID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	changed := a.registrationState != newState
	a.registrationState = newState
	if a.details == nil {
		a.details = make(map[string]string)
	}
	a.details["Account.registrationStatus"] = newState.String()
	return changed, nil
}

// OnRegistrationStateChanged applies an inbound IPC notification
// without touching edit state.
func (a *Account) OnRegistrationStateChanged(wire string) bool {
	newState := ParseRegistrationState(wire)
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := a.registrationState != newState
	a.registrationState = newState
	if a.details == nil {
		a.details = make(map[string]string)
	}
	a.details["Account.registrationStatus"] = wire
	return changed
}

// Remove flags the account for deletion; the surrounding List reconciles.
func (a *Account) Remove() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.editState = StateRemoved
}

// AttachCall records that callID belongs to this account (weak membership,
// used only for bulk hangup on account teardown).
func (a *Account) AttachCall(callID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callIDs[callID] = struct{}{}
}

// DetachCall removes callID from this account's weak membership set.
func (a *Account) DetachCall(callID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.callIDs, callID)
}

// CallIDs returns a snapshot of attached call ids.
func (a *Account) CallIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.callIDs))
	for id := range a.callIDs {
		ids = append(ids, id)
	}
	return ids
}

// Enabled reports Account.enable == "true".
func (a *Account) Enabled() bool {
	return a.Get("Account.enable") == "true"
}

// IsRegistered reports whether RegistrationState is Registered.
func (a *Account) IsRegistered() bool {
	return a.RegistrationState() == StateRegistered
}

// IsSecure implements the secure-call predicate, used only
// for UI signalling:
//
//	TLS.enable=="true" || TLS.method!="0" || (SRTP.enable=="true" && SRTP.rtpFallback!="true")
func (a *Account) IsSecure() bool {
	tlsEnabled := a.Get("TLS.enable") == "true"
	tlsMethod := a.Get("TLS.method")
	tlsMethodSet := tlsMethod != "" && tlsMethod != "0"
	srtpEnabled := a.Get("SRTP.enable") == "true"
	srtpFallback := a.Get("SRTP.rtpFallback") == "true"
	return tlsEnabled || tlsMethodSet || (srtpEnabled && !srtpFallback)
}
