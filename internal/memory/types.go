package memory

import (
	"sort"
	"time"
)

// MemoryType classifies a stored insight.
type MemoryType string

const (
	TypeBreakthrough MemoryType = "breakthrough"
	TypeConcern      MemoryType = "concern"
	TypeGoal         MemoryType = "goal"
	TypeTechnique    MemoryType = "technique"
	TypeTrigger      MemoryType = "trigger"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeBreakthrough, TypeConcern, TypeGoal, TypeTechnique, TypeTrigger:
		return true
	default:
		return false
	}
}

// MemoryRecord is a structured note about the user derived from a past turn.
type MemoryRecord struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	SessionID        string     `json:"session_id"`
	MemoryType       MemoryType `json:"memory_type"`
	Title            string     `json:"title"`
	Content          string     `json:"content"`
	EmotionalContext string     `json:"emotional_context,omitempty"`
	ImportanceScore  float64    `json:"importance_score"`
	Tags             []string   `json:"tags"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"created_at"`
}

// PatternEmotionalRegulation is the pattern type fed by emotion detection.
const PatternEmotionalRegulation = "emotional_regulation"

// EmotionalPattern aggregates a recurring emotional signal for one user.
type EmotionalPattern struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	PatternType        string            `json:"pattern_type"`
	PatternData        map[string]string `json:"pattern_data"`
	FrequencyScore     float64           `json:"frequency_score"`
	EffectivenessScore float64           `json:"effectiveness_score"`
	LastOccurred       time.Time         `json:"last_occurred"`
}

// SessionContextItem is an intake note waiting to be brought up in a session.
type SessionContextItem struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ContextType   string    `json:"context_type"`
	ContextData   string    `json:"context_data"`
	PriorityLevel int       `json:"priority_level"`
	Addressed     bool      `json:"addressed"`
	CreatedAt     time.Time `json:"created_at"`
}

// RelationshipState tracks rapport between a user and a counselor persona.
type RelationshipState struct {
	UserID                string            `json:"user_id"`
	PersonaID             string            `json:"persona_id"`
	TrustLevel            float64           `json:"trust_level"`
	RapportScore          float64           `json:"rapport_score"`
	EffectiveTechniques   []string          `json:"effective_techniques"`
	IneffectiveTechniques []string          `json:"ineffective_techniques"`
	SharedMemories        []string          `json:"shared_memories"`
	ProgressUpdates       map[string]string `json:"progress_updates"`
	TotalSessions         int               `json:"total_sessions"`
	LastInteraction       time.Time         `json:"last_interaction"`
}

// Severity of a crisis alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// AlertStatus tracks an alert through dispatch.
type AlertStatus string

const (
	AlertCreated            AlertStatus = "created"
	AlertDispatching        AlertStatus = "dispatching"
	AlertDelivered          AlertStatus = "delivered"
	AlertPartiallyDelivered AlertStatus = "partially_delivered"
	AlertFailed             AlertStatus = "failed"
)

// DeliveryStatus is the per-channel outcome.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailure DeliveryStatus = "failure"
)

// ChannelDelivery records one channel's attempt to deliver an alert.
type ChannelDelivery struct {
	ChannelID   string         `json:"channel_id"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	Detail      string         `json:"detail,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

// CrisisAlert is a risk-triggered record requiring escalation.
type CrisisAlert struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	AlertType   string            `json:"alert_type"`
	Severity    Severity          `json:"severity"`
	Confidence  float64           `json:"confidence"`
	TriggerData map[string]string `json:"trigger_data"`
	Status      AlertStatus       `json:"status"`
	Deliveries  []ChannelDelivery `json:"deliveries,omitempty"`
	EscalatedTo []string          `json:"escalated_to,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// Resolved reports whether an operator has closed the alert.
func (a CrisisAlert) Resolved() bool {
	return a.ResolvedAt != nil
}

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p EmotionalPattern) clone() EmotionalPattern {
	out := p
	out.PatternData = cloneMap(p.PatternData)
	return out
}

func (r RelationshipState) clone() RelationshipState {
	out := r
	out.EffectiveTechniques = append([]string(nil), r.EffectiveTechniques...)
	out.IneffectiveTechniques = append([]string(nil), r.IneffectiveTechniques...)
	out.SharedMemories = append([]string(nil), r.SharedMemories...)
	out.ProgressUpdates = cloneMap(r.ProgressUpdates)
	return out
}

func (a CrisisAlert) clone() CrisisAlert {
	out := a
	out.TriggerData = cloneMap(a.TriggerData)
	out.Deliveries = append([]ChannelDelivery(nil), a.Deliveries...)
	out.EscalatedTo = append([]string(nil), a.EscalatedTo...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

func (m MemoryRecord) clone() MemoryRecord {
	out := m
	out.Tags = append([]string(nil), m.Tags...)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NormalizeSet de-duplicates and sorts a string set.
func NormalizeSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// sortMemories orders by importance desc, then createdAt desc.
func sortMemories(in []MemoryRecord) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].ImportanceScore != in[j].ImportanceScore {
			return in[i].ImportanceScore > in[j].ImportanceScore
		}
		return in[i].CreatedAt.After(in[j].CreatedAt)
	})
}
