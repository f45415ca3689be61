package auth

import (
	"sync"
	"time"
)

// LockoutService tracks failed login attempts per username and locks
// accounts after too many failures.
type LockoutService struct {
	maxAttempts int
	duration    time.Duration
	attempts    map[string]*lockoutEntry
	mu          sync.RWMutex
}

type lockoutEntry struct {
	count    int
	lockedAt time.Time
}

// NewLockoutService creates a new LockoutService.
// maxAttempts: number of failed attempts before lockout (0 = disabled)
// duration: how long the account stays locked
func NewLockoutService(maxAttempts int, duration time.Duration) *LockoutService {
	return &LockoutService{
		maxAttempts: maxAttempts,
		duration:    duration,
		attempts:    make(map[string]*lockoutEntry),
	}
}

// IsLocked checks if an account is currently locked.
func (s *LockoutService) IsLocked(username string) bool {
	if s.maxAttempts <= 0 {
		return false // Lockout disabled
	}

	s.mu.RLock()
	entry, exists := s.attempts[username]
	s.mu.RUnlock()

	if !exists {
		return false
	}

	if !entry.lockedAt.IsZero() && time.Since(entry.lockedAt) < s.duration {
		return true
	}

	return false
}

// RecordFailure records a failed login attempt and returns true if the
// account is now locked.
func (s *LockoutService) RecordFailure(username string) bool {
	if s.maxAttempts <= 0 {
		return false // Lockout disabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.attempts[username]
	if !exists {
		entry = &lockoutEntry{}
		s.attempts[username] = entry
	}

	// If previously locked but expired, reset
	if !entry.lockedAt.IsZero() && time.Since(entry.lockedAt) >= s.duration {
		entry.count = 0
		entry.lockedAt = time.Time{}
	}

	entry.count++

	if entry.count >= s.maxAttempts {
		entry.lockedAt = time.Now()
		return true
	}

	return false
}

// RecordSuccess clears failed attempts for an account after a
// successful login.
func (s *LockoutService) RecordSuccess(username string) {
	if s.maxAttempts <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, username)
}
