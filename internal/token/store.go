package token

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Lifetime is how long an unredeemed terminal token stays valid.
const Lifetime = 60 * time.Second

// Record is the credential tuple carried by a one-time terminal token.
// It exists in process memory only and is handed out exactly once.
type Record struct {
	UserID    string
	DeviceID  string
	Username  string
	Password  string
	ExpiresAt time.Time
}

// Store issues and redeems one-time terminal tokens. Redemption is an
// atomic lookup-and-delete: a token can never be returned twice, and an
// expired token is removed on the redemption attempt that finds it.
type Store struct {
	mu      sync.Mutex
	entries map[string]Record
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]Record),
		now:     time.Now,
	}
}

// Issue stores the credential tuple under a fresh random token and
// returns the token. The token is 256 bits of entropy, hex encoded.
func (s *Store) Issue(userID, deviceID, username, password string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(b)

	s.mu.Lock()
	s.entries[tok] = Record{
		UserID:    userID,
		DeviceID:  deviceID,
		Username:  username,
		Password:  password,
		ExpiresAt: s.now().Add(Lifetime),
	}
	s.mu.Unlock()
	return tok, nil
}

// Redeem removes the token and returns its record. The entry is
// deleted whether or not it was still valid, so a replayed token is
// always a miss. Expired tokens are misses as well.
func (s *Store) Redeem(tok string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[tok]
	if !ok {
		return Record{}, false
	}
	delete(s.entries, tok)
	if s.now().After(rec.ExpiresAt) {
		return Record{}, false
	}
	return rec, true
}

// Sweep drops expired entries and returns how many were removed.
// Redemption already checks expiry, so the sweep only bounds memory
// held by tokens that were never presented.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for tok, rec := range s.entries {
		if now.After(rec.ExpiresAt) {
			delete(s.entries, tok)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
