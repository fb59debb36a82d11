package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store for dev and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{regs: make(map[string]Registration)}
}

func (s *MemoryStore) FindByIssuerClient(_ context.Context, issuer, clientID string) (Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exactlyOne(s.regs, func(r Registration) bool {
		return r.Issuer == issuer && r.ClientID == clientID
	})
}

func (s *MemoryStore) FindByIssuerClientDeployment(_ context.Context, issuer, clientID, deploymentID string) (Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exactlyOne(s.regs, func(r Registration) bool {
		return r.Issuer == issuer && r.ClientID == clientID && r.DeploymentID == deploymentID
	})
}

func exactlyOne(regs map[string]Registration, match func(Registration) bool) (Registration, error) {
	var (
		found Registration
		n     int
	)
	for _, r := range regs {
		if match(r) {
			found = r
			n++
		}
	}
	if n != 1 {
		return Registration{}, ErrUnknownPlatform
	}
	return found, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regs[id]
	if !ok {
		return Registration{}, ErrUnknownPlatform
	}
	return r, nil
}

func (s *MemoryStore) Create(_ context.Context, reg Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg.ID] = reg
	return nil
}

func (s *MemoryStore) List(_ context.Context, offset, limit int) ([]Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Registration, 0, len(s.regs))
	for _, r := range s.regs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regs, id)
	return nil
}
