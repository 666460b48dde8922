package tgui

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TokenStore is an in-memory TTL store for callback payloads.
//
// Telegram limits callback_data to 64 bytes. The store keeps the payload
// server-side and hands out a short token for the button instead.
type TokenStore struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	m   map[string]tokenEntry
	now func() time.Time
}

type tokenEntry struct {
	v   string
	exp time.Time
}

// NewTokenStore creates a store. ttl <= 0 means 7 days, max <= 0 means 5000.
func NewTokenStore(ttl time.Duration, max int) *TokenStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if max <= 0 {
		max = 5000
	}
	return &TokenStore{ttl: ttl, max: max, m: map[string]tokenEntry{}, now: time.Now}
}

// Put stores v and returns a token: "~" + base64url(6 random bytes).
func (s *TokenStore) Put(v string) string {
	var buf [6]byte
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	for {
		_, _ = rand.Read(buf[:])
		tok := "~" + base64.RawURLEncoding.EncodeToString(buf[:])
		if _, exists := s.m[tok]; exists {
			continue
		}
		s.m[tok] = tokenEntry{v: v, exp: now.Add(s.ttl)}
		return tok
	}
}

// Get resolves tok. Expired tokens are reported missing.
func (s *TokenStore) Get(tok string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[tok]
	if !ok {
		return "", false
	}
	if s.now().After(e.exp) {
		delete(s.m, tok)
		return "", false
	}
	return e.v, true
}

func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *TokenStore) pruneLocked(now time.Time) {
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	// still full: evict the entries closest to expiry
	for len(s.m) >= s.max {
		var (
			oldest string
			exp    time.Time
		)
		for k, e := range s.m {
			if oldest == "" || e.exp.Before(exp) {
				oldest, exp = k, e.exp
			}
		}
		delete(s.m, oldest)
	}
}
