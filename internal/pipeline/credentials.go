package pipeline

import "sync"

// CredentialSource supplies the extraction credential at drain start.
type CredentialSource interface {
	Credential() string
}

// CredentialStore is a CredentialSource that can be replaced at runtime.
type CredentialStore struct {
	mu    sync.RWMutex
	value string
}

func NewCredentialStore(initial string) *CredentialStore {
	return &CredentialStore{value: initial}
}

func (s *CredentialStore) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (s *CredentialStore) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}
