package services

import (
	"sort"
	"sync"
)

// SubscriptionRegistry tracks which group feeds each user wants pushed to them,
// with a reverse index from group to subscribers for delivery.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	users  map[string]map[string]struct{} // user → groups
	groups map[string]map[string]struct{} // group → users
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		users:  make(map[string]map[string]struct{}),
		groups: make(map[string]map[string]struct{}),
	}
}

func (s *SubscriptionRegistry) Subscribe(userID string, groupIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, groupID := range groupIDs {
		if groupID == "" {
			continue
		}
		if s.users[userID] == nil {
			s.users[userID] = make(map[string]struct{})
		}
		s.users[userID][groupID] = struct{}{}
		if s.groups[groupID] == nil {
			s.groups[groupID] = make(map[string]struct{})
		}
		s.groups[groupID][userID] = struct{}{}
	}
}

func (s *SubscriptionRegistry) Unsubscribe(userID, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(userID, groupID)
}

// ClearAll drops every subscription of the user and returns the groups it had.
func (s *SubscriptionRegistry) ClearAll(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := sortedKeys(s.users[userID])
	for _, groupID := range groups {
		s.removeLocked(userID, groupID)
	}
	return groups
}

func (s *SubscriptionRegistry) Groups(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.users[userID])
}

func (s *SubscriptionRegistry) Subscribers(groupID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.groups[groupID])
}

func (s *SubscriptionRegistry) IsSubscribed(userID, groupID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID][groupID]
	return ok
}

func (s *SubscriptionRegistry) removeLocked(userID, groupID string) {
	if groups, ok := s.users[userID]; ok {
		delete(groups, groupID)
		if len(groups) == 0 {
			delete(s.users, userID)
		}
	}
	if users, ok := s.groups[groupID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.groups, groupID)
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
