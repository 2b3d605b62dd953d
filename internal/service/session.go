package service

import "sync"

// Session is the account state of the single operator a server runs for
type Session struct {
	mu            sync.RWMutex
	authenticated bool
	plan          bool
	onPrompt      func()
}

// NewSession creates a session. onPrompt runs when a login is required.
func NewSession(authenticated, plan bool, onPrompt func()) *Session {
	return &Session{authenticated: authenticated, plan: plan, onPrompt: onPrompt}
}

// Authenticated reports whether the operator is logged in
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// HasPlan reports whether the operator has a monitoring plan
func (s *Session) HasPlan() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// Update replaces the account state, e.g. after a config reload
func (s *Session) Update(authenticated, plan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = authenticated
	s.plan = plan
}

// PromptLogin asks the operator to log in
func (s *Session) PromptLogin() {
	if s.onPrompt != nil {
		s.onPrompt()
	}
}
