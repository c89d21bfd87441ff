package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/petervdpas/voipcore/internal/account"
	"github.com/petervdpas/voipcore/internal/credential"
)

// AccountStore is the sqlite-backed account.Backend and account.ListStore
// implementation: account details, credential rows and the active-codec
// string live in three tables keyed by account_id, plus a list_order
// column used to persist the account list's display order.
type AccountStore struct {
	db *DB
}

// NewAccountStore wraps db as an account.Backend/account.ListStore.
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db}
}

var _ account.Backend = (*AccountStore)(nil)
var _ account.ListStore = (*AccountStore)(nil)

// FetchDetails returns the stored detail map for accountID.
func (s *AccountStore) FetchDetails(accountID string) (map[string]string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var blob string
	err := s.db.db.QueryRow(`SELECT details FROM accounts WHERE account_id = ?`, accountID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("storage: account %s not found", accountID)
	}
	if err != nil {
		return nil, err
	}

	details := make(map[string]string)
	if err := json.Unmarshal([]byte(blob), &details); err != nil {
		return nil, fmt.Errorf("storage: decode account details: %w", err)
	}
	return details, nil
}

// SubmitAdd inserts a new account row, generating a fresh account id, and
// appends it to the list order.
func (s *AccountStore) SubmitAdd(details map[string]string) (string, error) {
	blob, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	accountID := uuid.NewString()

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var maxOrder sql.NullInt64
	if err := s.db.db.QueryRow(`SELECT MAX(list_order) FROM accounts`).Scan(&maxOrder); err != nil {
		return "", err
	}
	nextOrder := int64(0)
	if maxOrder.Valid {
		nextOrder = maxOrder.Int64 + 1
	}

	_, err = s.db.db.Exec(
		`INSERT INTO accounts (account_id, details, list_order) VALUES (?, ?, ?)`,
		accountID, string(blob), nextOrder,
	)
	if err != nil {
		return "", fmt.Errorf("storage: insert account: %w", err)
	}
	return accountID, nil
}

// SubmitUpdate overwrites the stored detail map for an existing account.
func (s *AccountStore) SubmitUpdate(accountID string, details map[string]string) error {
	blob, err := json.Marshal(details)
	if err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	res, err := s.db.db.Exec(
		`UPDATE accounts SET details = ? WHERE account_id = ?`,
		string(blob), accountID,
	)
	if err != nil {
		return fmt.Errorf("storage: update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("storage: account %s not found", accountID)
	}
	return nil
}

// FetchRegistrationState reads the volatile registration status stashed in
// the detail map under Account.registrationStatus.
func (s *AccountStore) FetchRegistrationState(accountID string) (account.RegistrationState, error) {
	details, err := s.FetchDetails(accountID)
	if err != nil {
		return account.StateUnregistered, err
	}
	return account.ParseRegistrationState(details["Account.registrationStatus"]), nil
}

// SaveCredentials replaces every credential row for accountID.
func (s *AccountStore) SaveCredentials(accountID string, rows []credential.Credential) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx, err := s.db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM credentials WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("storage: clear credentials: %w", err)
	}
	for i, c := range rows {
		if _, err := tx.Exec(
			`INSERT INTO credentials (account_id, idx, name, password, realm) VALUES (?, ?, ?, ?, ?)`,
			accountID, i, c.Name, c.Password, c.Realm,
		); err != nil {
			return fmt.Errorf("storage: insert credential: %w", err)
		}
	}
	return tx.Commit()
}

// FetchCredentials returns the stored credential rows for accountID, in
// index order.
func (s *AccountStore) FetchCredentials(accountID string) ([]credential.Credential, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	rows, err := s.db.db.Query(
		`SELECT name, password, realm FROM credentials WHERE account_id = ? ORDER BY idx`, accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credential.Credential
	for rows.Next() {
		var c credential.Credential
		if err := rows.Scan(&c.Name, &c.Password, &c.Realm); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveActiveCodecs persists the account's serialized active-codec string.
func (s *AccountStore) SaveActiveCodecs(accountID string, serialized string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	_, err := s.db.db.Exec(
		`INSERT INTO active_codecs (account_id, serialized) VALUES (?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET serialized = excluded.serialized`,
		accountID, serialized,
	)
	if err != nil {
		return fmt.Errorf("storage: save active codecs: %w", err)
	}
	return nil
}

// FetchActiveCodecs returns the serialized active-codec string for
// accountID, or "" if none has been saved yet.
func (s *AccountStore) FetchActiveCodecs(accountID string) (string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var serialized string
	err := s.db.db.QueryRow(`SELECT serialized FROM active_codecs WHERE account_id = ?`, accountID).Scan(&serialized)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return serialized, err
}

// DeleteAccount removes an account and its dependent rows entirely.
func (s *AccountStore) DeleteAccount(accountID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx, err := s.db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM accounts WHERE account_id = ?`,
		`DELETE FROM credentials WHERE account_id = ?`,
		`DELETE FROM active_codecs WHERE account_id = ?`,
	} {
		if _, err := tx.Exec(stmt, accountID); err != nil {
			return fmt.Errorf("storage: delete account: %w", err)
		}
	}
	return tx.Commit()
}

// LoadOrder returns account ids ordered by their persisted list_order.
func (s *AccountStore) LoadOrder() ([]string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	rows, err := s.db.db.Query(`SELECT account_id FROM accounts ORDER BY list_order`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveOrder rewrites every account's list_order to match the position of
// its id in ids.
func (s *AccountStore) SaveOrder(ids []string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx, err := s.db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, id := range ids {
		if _, err := tx.Exec(`UPDATE accounts SET list_order = ? WHERE account_id = ?`, i, id); err != nil {
			return fmt.Errorf("storage: save order: %w", err)
		}
	}
	return tx.Commit()
}
