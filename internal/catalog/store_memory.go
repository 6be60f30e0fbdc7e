package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"corecompliance/pkg/platform/sentinel"
)

// InMemoryStore holds the catalog in memory, preserving domain and rule
// order. Suitable for development and tests; production loads from postgres.
type InMemoryStore struct {
	mu      sync.RWMutex
	domains []Domain
	rules   map[uuid.UUID]Rule
}

func NewInMemoryStore(domains []Domain) *InMemoryStore {
	s := &InMemoryStore{rules: make(map[uuid.UUID]Rule)}
	s.Replace(domains)
	return s
}

// Replace swaps the whole catalog. Used by seeding and catalog reloads.
func (s *InMemoryStore) Replace(domains []Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains = append([]Domain(nil), domains...)
	s.rules = make(map[uuid.UUID]Rule)
	for _, d := range domains {
		for _, r := range d.Rules {
			s.rules[r.ID] = r
		}
	}
}

func (s *InMemoryStore) ListDomains(_ context.Context) ([]Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Domain, len(s.domains))
	copy(out, s.domains)
	return out, nil
}

func (s *InMemoryStore) FindRule(_ context.Context, ruleID uuid.UUID) (Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return Rule{}, fmt.Errorf("find rule %s: %w", ruleID, sentinel.ErrNotFound)
	}
	return rule, nil
}

// CountRules returns the total number of rules across all domains. The
// dashboard percentage uses this as its denominator.
func (s *InMemoryStore) CountRules(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules), nil
}
