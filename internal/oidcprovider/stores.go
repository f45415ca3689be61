package oidcprovider

import (
	"sync"
	"time"
)

// AuthCode is a minted authorization code pending redemption.
type AuthCode struct {
	Code                string
	Sub                 string
	ClientID            string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	Used                bool
}

// IsExpired reports whether the code has passed its expiry.
func (c *AuthCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// CodeStore holds outstanding authorization codes.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]*AuthCode
}

// NewCodeStore creates an empty CodeStore.
func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[string]*AuthCode)}
}

// Put stores a code.
func (s *CodeStore) Put(code *AuthCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
}

// Get returns a copy of the stored code.
func (s *CodeStore) Get(code string) (*AuthCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// MarkUsed flags a code as redeemed.
func (s *CodeStore) MarkUsed(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.codes[code]; ok {
		c.Used = true
	}
}

// TokenRecord binds an opaque token string to the subject, client and
// scope it was issued for.
type TokenRecord struct {
	Sub       string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
}

// TokenStore holds issued access or refresh tokens.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]TokenRecord
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]TokenRecord)}
}

// Put stores a token record.
func (s *TokenStore) Put(token string, rec TokenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = rec
}

// Get returns the record for a token.
func (s *TokenStore) Get(token string) (TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[token]
	return rec, ok
}
