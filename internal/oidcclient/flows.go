// Package oidcclient implements the relying-party side of OIDC
// federation: starting an authorization-code flow with PKCE against an
// upstream provider, handling the callback, and mapping the provider's
// userinfo onto local accounts.
package oidcclient

import (
	"sync"
	"time"
)

// PendingFlow holds the per-flow secrets between the redirect to the
// provider and the callback.
type PendingFlow struct {
	CodeVerifier string
	CreatedAt    time.Time
}

// FlowStore tracks pending authorization flows keyed by state. Entries
// are single-use: Take removes the entry it returns, so a replayed
// state can never resolve twice.
//
// Entries for abandoned flows are never swept; Len exposes the backlog
// so it can at least be observed.
type FlowStore struct {
	mu    sync.Mutex
	flows map[string]PendingFlow
}

// NewFlowStore creates an empty FlowStore.
func NewFlowStore() *FlowStore {
	return &FlowStore{flows: make(map[string]PendingFlow)}
}

// Put registers a pending flow under the given state.
func (s *FlowStore) Put(state string, flow PendingFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[state] = flow
}

// Take removes and returns the pending flow for the given state.
func (s *FlowStore) Take(state string) (PendingFlow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[state]
	if ok {
		delete(s.flows, state)
	}
	return flow, ok
}

// Len returns the number of pending flows.
func (s *FlowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}
