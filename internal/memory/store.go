package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrAlertResolved      = errors.New("alert already resolved")
	ErrInvariantViolation = errors.New("update violates record invariant")
)

// WriteError wraps a failed single-row write.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("repository write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	UserID   string
	OpenOnly bool
	Limit    int
}

// DeliveryUpdate is the dispatcher's view of an alert after fan-out.
type DeliveryUpdate struct {
	Status      AlertStatus
	Deliveries  []ChannelDelivery
	EscalatedTo []string
}

// Repository is the durable store for memory records, patterns, context items,
// relationship state, alerts and conversation turns. Every write is a single
// row, committed on its own.
type Repository interface {
	// TopMemories returns active memories ordered by importance then recency.
	TopMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error)
	// Patterns returns patterns ordered by frequency.
	Patterns(ctx context.Context, userID string, limit int) ([]EmotionalPattern, error)
	// PendingContext returns unaddressed items ordered by priority.
	PendingContext(ctx context.Context, userID string, limit int) ([]SessionContextItem, error)
	// Relationship returns nil when the pair has no state yet.
	Relationship(ctx context.Context, userID, personaID string) (*RelationshipState, error)

	// UpsertPattern atomically loads (or zero-initializes) the pattern row for
	// (userID, patternType), applies mutate and stores the result.
	UpsertPattern(ctx context.Context, userID, patternType string, mutate func(*EmotionalPattern)) (EmotionalPattern, error)
	// UpsertRelationship is the relationship equivalent of UpsertPattern.
	UpsertRelationship(ctx context.Context, userID, personaID string, mutate func(*RelationshipState)) (RelationshipState, error)
	// MarkContextAddressed reports whether the item changed state.
	MarkContextAddressed(ctx context.Context, id string) (bool, error)
	InsertContextItem(ctx context.Context, item SessionContextItem) (SessionContextItem, error)
	InsertMemory(ctx context.Context, record MemoryRecord) (MemoryRecord, error)
	DeactivateMemory(ctx context.Context, id string) error

	InsertAlert(ctx context.Context, alert CrisisAlert) (CrisisAlert, error)
	UpdateAlertDelivery(ctx context.Context, id string, update DeliveryUpdate) (CrisisAlert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) (CrisisAlert, error)
	Alert(ctx context.Context, id string) (CrisisAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]CrisisAlert, error)

	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns up to limit turns in chronological order.
	RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error)

	Close() error
}

// checkPattern rejects mutations that break the pattern update rule.
func checkPattern(before, after EmotionalPattern) error {
	if after.FrequencyScore < before.FrequencyScore {
		return fmt.Errorf("%w: frequency_score decreased from %.2f to %.2f", ErrInvariantViolation, before.FrequencyScore, after.FrequencyScore)
	}
	if after.EffectivenessScore < 0 || after.EffectivenessScore > 1 {
		return fmt.Errorf("%w: effectiveness_score %.2f outside [0,1]", ErrInvariantViolation, after.EffectivenessScore)
	}
	if after.UserID != before.UserID || after.PatternType != before.PatternType {
		return fmt.Errorf("%w: pattern key changed", ErrInvariantViolation)
	}
	return nil
}

// checkRelationship rejects mutations that break relationship invariants.
func checkRelationship(before, after RelationshipState) error {
	if after.TotalSessions < before.TotalSessions {
		return fmt.Errorf("%w: total_sessions decreased from %d to %d", ErrInvariantViolation, before.TotalSessions, after.TotalSessions)
	}
	if after.TrustLevel < 0 || after.TrustLevel > 1 || after.RapportScore < 0 || after.RapportScore > 1 {
		return fmt.Errorf("%w: trust/rapport outside [0,1]", ErrInvariantViolation)
	}
	if after.UserID != before.UserID || after.PersonaID != before.PersonaID {
		return fmt.Errorf("%w: relationship key changed", ErrInvariantViolation)
	}
	return nil
}

func checkMemory(record MemoryRecord) error {
	if record.UserID == "" {
		return errors.New("memory record requires user_id")
	}
	if !record.MemoryType.Valid() {
		return fmt.Errorf("unknown memory type %q", record.MemoryType)
	}
	if record.ImportanceScore < 0 || record.ImportanceScore > 1 {
		return fmt.Errorf("importance_score %.2f outside [0,1]", record.ImportanceScore)
	}
	return nil
}

func checkContextItem(item SessionContextItem) error {
	if item.UserID == "" {
		return errors.New("context item requires user_id")
	}
	if item.PriorityLevel < 1 || item.PriorityLevel > 10 {
		return fmt.Errorf("priority_level %d outside [1,10]", item.PriorityLevel)
	}
	return nil
}

func newPattern(userID, patternType string) EmotionalPattern {
	return EmotionalPattern{
		UserID:             userID,
		PatternType:        patternType,
		PatternData:        map[string]string{},
		EffectivenessScore: 0.5,
	}
}

// NewRelationship is the starting state for a (user, persona) pair.
func NewRelationship(userID, personaID string) RelationshipState {
	return RelationshipState{
		UserID:          userID,
		PersonaID:       personaID,
		TrustLevel:      0.5,
		RapportScore:    0.5,
		ProgressUpdates: map[string]string{},
	}
}

// finalizeDelivery copies a delivery update onto an alert, refusing to touch
// resolved alerts.
func finalizeDelivery(alert *CrisisAlert, update DeliveryUpdate) error {
	if alert.Resolved() {
		return ErrAlertResolved
	}
	alert.Status = update.Status
	alert.Deliveries = append([]ChannelDelivery(nil), update.Deliveries...)
	alert.EscalatedTo = NormalizeSet(update.EscalatedTo)
	return nil
}
