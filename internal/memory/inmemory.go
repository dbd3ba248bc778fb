package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	memories      map[string]MemoryRecord
	patterns      map[string]EmotionalPattern
	contextItems  map[string]SessionContextItem
	relationships map[string]RelationshipState
	alerts        map[string]CrisisAlert
	turns         map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories:      make(map[string]MemoryRecord),
		patterns:      make(map[string]EmotionalPattern),
		contextItems:  make(map[string]SessionContextItem),
		relationships: make(map[string]RelationshipState),
		alerts:        make(map[string]CrisisAlert),
		turns:         make(map[string][]TurnRecord),
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

func (s *InMemoryStore) TopMemories(_ context.Context, userID string, limit int) ([]MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MemoryRecord, 0)
	for _, m := range s.memories {
		if m.UserID == userID && m.Active {
			out = append(out, m.clone())
		}
	}
	sortMemories(out)
	return truncate(out, limit), nil
}

func (s *InMemoryStore) Patterns(_ context.Context, userID string, limit int) ([]EmotionalPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EmotionalPattern, 0)
	for _, p := range s.patterns {
		if p.UserID == userID {
			out = append(out, p.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FrequencyScore != out[j].FrequencyScore {
			return out[i].FrequencyScore > out[j].FrequencyScore
		}
		return out[i].PatternType < out[j].PatternType
	})
	return truncate(out, limit), nil
}

func (s *InMemoryStore) PendingContext(_ context.Context, userID string, limit int) ([]SessionContextItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionContextItem, 0)
	for _, item := range s.contextItems {
		if item.UserID == userID && !item.Addressed {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PriorityLevel != out[j].PriorityLevel {
			return out[i].PriorityLevel > out[j].PriorityLevel
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (s *InMemoryStore) Relationship(_ context.Context, userID, personaID string) (*RelationshipState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relationships[pairKey(userID, personaID)]
	if !ok {
		return nil, nil
	}
	c := r.clone()
	return &c, nil
}

func (s *InMemoryStore) UpsertPattern(_ context.Context, userID, patternType string, mutate func(*EmotionalPattern)) (EmotionalPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(userID, patternType)
	before, ok := s.patterns[key]
	if !ok {
		before = newPattern(userID, patternType)
		before.ID = uuid.NewString()
	}
	after := before.clone()
	mutate(&after)
	if err := checkPattern(before, after); err != nil {
		return EmotionalPattern{}, err
	}
	s.patterns[key] = after
	return after.clone(), nil
}

func (s *InMemoryStore) UpsertRelationship(_ context.Context, userID, personaID string, mutate func(*RelationshipState)) (RelationshipState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(userID, personaID)
	before, ok := s.relationships[key]
	if !ok {
		before = NewRelationship(userID, personaID)
	}
	after := before.clone()
	mutate(&after)
	if err := checkRelationship(before, after); err != nil {
		return RelationshipState{}, err
	}
	after.EffectiveTechniques = NormalizeSet(after.EffectiveTechniques)
	after.IneffectiveTechniques = NormalizeSet(after.IneffectiveTechniques)
	after.SharedMemories = NormalizeSet(after.SharedMemories)
	s.relationships[key] = after
	return after.clone(), nil
}

func (s *InMemoryStore) MarkContextAddressed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.contextItems[id]
	if !ok {
		return false, ErrNotFound
	}
	if item.Addressed {
		return false, nil
	}
	item.Addressed = true
	s.contextItems[id] = item
	return true, nil
}

func (s *InMemoryStore) InsertContextItem(_ context.Context, item SessionContextItem) (SessionContextItem, error) {
	if err := checkContextItem(item); err != nil {
		return SessionContextItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Addressed = false
	s.contextItems[item.ID] = item
	return item, nil
}

func (s *InMemoryStore) InsertMemory(_ context.Context, record MemoryRecord) (MemoryRecord, error) {
	if err := checkMemory(record); err != nil {
		return MemoryRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Active = true
	record.Tags = NormalizeSet(record.Tags)
	s.memories[record.ID] = record.clone()
	return record, nil
}

func (s *InMemoryStore) DeactivateMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return ErrNotFound
	}
	m.Active = false
	s.memories[id] = m
	return nil
}

func (s *InMemoryStore) InsertAlert(_ context.Context, alert CrisisAlert) (CrisisAlert, error) {
	if alert.UserID == "" {
		return CrisisAlert{}, errors.New("alert requires user_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.Status == "" {
		alert.Status = AlertCreated
	}
	alert.ResolvedAt = nil
	s.alerts[alert.ID] = alert.clone()
	return alert.clone(), nil
}

func (s *InMemoryStore) UpdateAlertDelivery(_ context.Context, id string, update DeliveryUpdate) (CrisisAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return CrisisAlert{}, ErrNotFound
	}
	if err := finalizeDelivery(&a, update); err != nil {
		return CrisisAlert{}, err
	}
	s.alerts[id] = a
	return a.clone(), nil
}

func (s *InMemoryStore) ResolveAlert(_ context.Context, id string, at time.Time) (CrisisAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return CrisisAlert{}, ErrNotFound
	}
	if a.Resolved() {
		return a.clone(), ErrAlertResolved
	}
	at = at.UTC()
	a.ResolvedAt = &at
	s.alerts[id] = a
	return a.clone(), nil
}

func (s *InMemoryStore) Alert(_ context.Context, id string) (CrisisAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return CrisisAlert{}, ErrNotFound
	}
	return a.clone(), nil
}

func (s *InMemoryStore) ListAlerts(_ context.Context, filter AlertFilter) ([]CrisisAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CrisisAlert, 0)
	for _, a := range s.alerts {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.OpenOnly && a.Resolved() {
			continue
		}
		out = append(out, a.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, filter.Limit), nil
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.turns[record.UserID] = append(s.turns[record.UserID], record)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, userID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
