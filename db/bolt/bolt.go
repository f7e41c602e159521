// Package bolt persists capacity planning draft sessions in a local bbolt
// file so uncommitted workbook edits survive a process restart. One bucket
// per tenant, one key per session.
package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// SessionStore wraps the bbolt database backing draft workbook sessions.
type SessionStore struct {
	db *bolt.DB
}

// Open opens or creates the session database at path.
func Open(path string) (*SessionStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Put stores a session snapshot under the tenant's bucket.
func (s *SessionStore) Put(clientID, sessionID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(clientID))
		if err != nil {
			return fmt.Errorf("failed to create tenant bucket: %w", err)
		}
		return b.Put([]byte(sessionID), data)
	})
}

// Get loads a session snapshot into value. Missing sessions report
// ErrSessionNotFound.
func (s *SessionStore) Get(clientID, sessionID string, value any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(clientID))
		if b == nil {
			return ErrSessionNotFound
		}
		data := b.Get([]byte(sessionID))
		if data == nil {
			return ErrSessionNotFound
		}
		return json.Unmarshal(data, value)
	})
}

// Delete removes a session; deleting a missing session is a no-op.
func (s *SessionStore) Delete(clientID, sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(clientID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(sessionID))
	})
}

// List returns the session ids stored for a tenant.
func (s *SessionStore) List(clientID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(clientID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Close closes the underlying file.
func (s *SessionStore) Close() error { return s.db.Close() }

// ErrSessionNotFound reports a missing draft session.
var ErrSessionNotFound = fmt.Errorf("capacity session not found")
