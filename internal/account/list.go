package account

import (
	"fmt"
	"sync"
)

// IP2IPID names the always-available loopback pseudo-account returned by
// Current when no real account is registered.
const IP2IPID = "IP2IP"

// ListStore persists the ordered set of known account ids, independent of
// any single Account's own detail storage. DeleteAccount removes an id the
// in-memory list no longer carries, dependent rows included.
type ListStore interface {
	LoadOrder() ([]string, error)
	SaveOrder(ids []string) error
	DeleteAccount(accountID string) error
}

// List is the process-wide, ordered registry of accounts.
type List struct {
	backend Backend
	store   ListStore

	mu          sync.RWMutex
	accounts    []*Account // ordered, priority first
	priorID     string
	ip2ip       *Account
	listeners   []func()
}

// NewList constructs an empty List. Call Load to populate it from store.
func NewList(backend Backend, store ListStore) *List {
	l := &List{backend: backend, store: store}
	l.ip2ip = NewAccount(backend, IP2IPID)
	l.ip2ip.accountID = IP2IPID
	l.ip2ip.editState = StateReadyEdit
	return l
}

// OnChange registers a callback invoked after any mutation (add/remove/
// reorder), the hook a UI adapter listens on.
func (l *List) OnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *List) notify() {
	l.mu.RLock()
	fns := append([]func(){}, l.listeners...)
	l.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Load replaces the in-memory list with accounts fetched for each id
// returned by the backing ListStore, in stored order.
func (l *List) Load() error {
	ids, err := l.store.LoadOrder()
	if err != nil {
		return fmt.Errorf("account: load order: %w", err)
	}
	accounts := make([]*Account, 0, len(ids))
	for _, id := range ids {
		a, err := NewExisting(l.backend, id)
		if err != nil {
			log.Warnw("dropping unreadable account", "id", id, "err", err)
			continue
		}
		accounts = append(accounts, a)
	}
	l.mu.Lock()
	l.accounts = accounts
	l.mu.Unlock()
	l.notify()
	return nil
}

// Save reconciles the store with the in-memory list: ids the store knows
// but the list no longer carries are deleted remotely, every remaining
// account is saved, and finally the ordered id list is submitted.
func (l *List) Save() error {
	l.mu.RLock()
	accounts := make([]*Account, len(l.accounts))
	copy(accounts, l.accounts)
	l.mu.RUnlock()

	keep := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if id := a.ID(); id != "" {
			keep[id] = struct{}{}
		}
	}

	known, err := l.store.LoadOrder()
	if err != nil {
		return fmt.Errorf("account: load known ids: %w", err)
	}
	for _, id := range known {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := l.store.DeleteAccount(id); err != nil {
			log.Warnw("failed to delete removed account", "id", id, "err", err)
		}
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if err := a.Save(); err != nil {
			return fmt.Errorf("account: save %s: %w", a.ID(), err)
		}
		ids = append(ids, a.ID())
	}

	if err := l.store.SaveOrder(ids); err != nil {
		return fmt.Errorf("account: save order: %w", err)
	}
	return nil
}

// Add creates a new, unsaved account with the given alias, appends it to
// the list, and returns it without saving it — the caller must still call
// Account.Save (and then List.Save to persist ordering).
func (l *List) Add(alias string) *Account {
	a := NewAccount(l.backend, alias)
	l.mu.Lock()
	l.accounts = append(l.accounts, a)
	l.mu.Unlock()
	l.notify()
	return a
}

// Remove flags the account at accountID for removal and drops it from the
// in-memory list. It does not itself delete backend state.
func (l *List) Remove(accountID string) bool {
	l.mu.Lock()
	idx := l.indexByIDLocked(accountID)
	if idx < 0 {
		l.mu.Unlock()
		return false
	}
	l.accounts[idx].Remove()
	l.accounts = append(l.accounts[:idx], l.accounts[idx+1:]...)
	if l.priorID == accountID {
		l.priorID = ""
	}
	l.mu.Unlock()
	l.notify()
	return true
}

func (l *List) indexByIDLocked(accountID string) int {
	for i, a := range l.accounts {
		if a.ID() == accountID {
			return i
		}
	}
	return -1
}

// MoveUp swaps the account at idx with its predecessor.
func (l *List) MoveUp(idx int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx <= 0 || idx >= len(l.accounts) {
		return false
	}
	l.accounts[idx-1], l.accounts[idx] = l.accounts[idx], l.accounts[idx-1]
	return true
}

// MoveDown swaps the account at idx with its successor.
func (l *List) MoveDown(idx int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 || idx >= len(l.accounts)-1 {
		return false
	}
	l.accounts[idx], l.accounts[idx+1] = l.accounts[idx+1], l.accounts[idx]
	return true
}

// ByID returns the account with the given id, if present.
func (l *List) ByID(accountID string) (*Account, bool) {
	if accountID == IP2IPID {
		return l.ip2ip, true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if idx := l.indexByIDLocked(accountID); idx >= 0 {
		return l.accounts[idx], true
	}
	return nil, false
}

// ByState returns every account whose RegistrationState equals state.
func (l *List) ByState(state RegistrationState) []*Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Account
	for _, a := range l.accounts {
		if a.RegistrationState() == state {
			out = append(out, a)
		}
	}
	return out
}

// All returns a snapshot of the ordered account list (IP2IP excluded).
func (l *List) All() []*Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Account, len(l.accounts))
	copy(out, l.accounts)
	return out
}

// Registered returns every enabled account currently REGISTERED, in
// priority order.
func (l *List) Registered() []*Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Account
	for _, a := range l.accounts {
		if a.Enabled() && a.RegistrationState() == StateRegistered {
			out = append(out, a)
		}
	}
	return out
}

// SetPriorAccountID pins the account id that Current should prefer.
func (l *List) SetPriorAccountID(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.priorID = accountID
}

// PriorAccountID returns the pinned prior account id.
func (l *List) PriorAccountID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.priorID
}

// Current resolves the account that should originate the next outgoing
// call: the pinned prior account iff it is enabled and registered, else the
// first enabled+registered account in list order, else the IP2IP loopback
// pseudo-account.
func (l *List) Current() *Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.priorID != "" {
		if idx := l.indexByIDLocked(l.priorID); idx >= 0 && isEnabledAndRegistered(l.accounts[idx]) {
			return l.accounts[idx]
		}
	}
	for _, a := range l.accounts {
		if isEnabledAndRegistered(a) {
			return a
		}
	}
	return l.ip2ip
}

func isEnabledAndRegistered(a *Account) bool {
	return a.Enabled() && a.RegistrationState() == StateRegistered
}

// FirstRegistered returns the first enabled account in list order with
// RegistrationState == StateRegistered, or nil.
func (l *List) FirstRegistered() *Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.accounts {
		if isEnabledAndRegistered(a) {
			return a
		}
	}
	return nil
}

// Size returns the number of accounts, excluding IP2IP.
func (l *List) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

// IP2IP returns the always-present loopback pseudo-account.
func (l *List) IP2IP() *Account {
	return l.ip2ip
}
