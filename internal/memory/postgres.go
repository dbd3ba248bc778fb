package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists all memory tables in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			memory_type TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			emotional_context TEXT NOT NULL DEFAULT '',
			importance_score DOUBLE PRECISION NOT NULL CHECK (importance_score >= 0 AND importance_score <= 1),
			tags TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_user_rank ON memory_records (user_id, importance_score DESC, created_at DESC) WHERE active;`,
		`CREATE TABLE IF NOT EXISTS emotional_patterns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			pattern_type TEXT NOT NULL,
			pattern_data JSONB NOT NULL DEFAULT '{}'::jsonb,
			frequency_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			effectiveness_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			last_occurred TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, pattern_type)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_emotional_patterns_user_freq ON emotional_patterns (user_id, frequency_score DESC);`,
		`CREATE TABLE IF NOT EXISTS session_context_items (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			context_type TEXT NOT NULL,
			context_data TEXT NOT NULL,
			priority_level INTEGER NOT NULL CHECK (priority_level BETWEEN 1 AND 10),
			addressed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_context_pending ON session_context_items (user_id, priority_level DESC) WHERE NOT addressed;`,
		`CREATE TABLE IF NOT EXISTS relationship_states (
			user_id TEXT NOT NULL,
			persona_id TEXT NOT NULL,
			trust_level DOUBLE PRECISION NOT NULL,
			rapport_score DOUBLE PRECISION NOT NULL,
			effective_techniques TEXT[] NOT NULL DEFAULT '{}',
			ineffective_techniques TEXT[] NOT NULL DEFAULT '{}',
			shared_memories TEXT[] NOT NULL DEFAULT '{}',
			progress_updates JSONB NOT NULL DEFAULT '{}'::jsonb,
			total_sessions INTEGER NOT NULL DEFAULT 0,
			last_interaction TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, persona_id)
		);`,
		`CREATE TABLE IF NOT EXISTS crisis_alerts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			trigger_data JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL,
			deliveries JSONB NOT NULL DEFAULT '[]'::jsonb,
			escalated_to TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			resolved_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_crisis_alerts_user_created ON crisis_alerts (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_user_created ON conversation_turns (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const memoryColumns = `id, user_id, session_id, memory_type, title, content, emotional_context, importance_score, tags, active, created_at`

func (s *PostgresStore) TopMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memory_records
		 WHERE user_id=$1 AND active
		 ORDER BY importance_score DESC, created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top memories: %w", err)
	}
	defer rows.Close()

	out := make([]MemoryRecord, 0, limit)
	for rows.Next() {
		var (
			m   MemoryRecord
			typ string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &typ, &m.Title, &m.Content, &m.EmotionalContext, &m.ImportanceScore, &m.Tags, &m.Active, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		m.MemoryType = MemoryType(typ)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return out, nil
}

const patternColumns = `id, user_id, pattern_type, pattern_data, frequency_score, effectiveness_score, last_occurred`

func scanPattern(row pgx.Row) (EmotionalPattern, error) {
	var p EmotionalPattern
	if err := row.Scan(&p.ID, &p.UserID, &p.PatternType, &p.PatternData, &p.FrequencyScore, &p.EffectivenessScore, &p.LastOccurred); err != nil {
		return EmotionalPattern{}, err
	}
	if p.PatternData == nil {
		p.PatternData = map[string]string{}
	}
	return p, nil
}

func (s *PostgresStore) Patterns(ctx context.Context, userID string, limit int) ([]EmotionalPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+patternColumns+` FROM emotional_patterns
		 WHERE user_id=$1 ORDER BY frequency_score DESC, pattern_type ASC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	out := make([]EmotionalPattern, 0, limit)
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pattern rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PendingContext(ctx context.Context, userID string, limit int) ([]SessionContextItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, context_type, context_data, priority_level, addressed, created_at
		 FROM session_context_items
		 WHERE user_id=$1 AND NOT addressed
		 ORDER BY priority_level DESC, created_at ASC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending context: %w", err)
	}
	defer rows.Close()

	out := make([]SessionContextItem, 0, limit)
	for rows.Next() {
		var item SessionContextItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.ContextType, &item.ContextData, &item.PriorityLevel, &item.Addressed, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan context row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context rows: %w", err)
	}
	return out, nil
}

const relationshipColumns = `user_id, persona_id, trust_level, rapport_score, effective_techniques, ineffective_techniques, shared_memories, progress_updates, total_sessions, last_interaction`

func scanRelationship(row pgx.Row) (RelationshipState, error) {
	var r RelationshipState
	if err := row.Scan(&r.UserID, &r.PersonaID, &r.TrustLevel, &r.RapportScore, &r.EffectiveTechniques, &r.IneffectiveTechniques, &r.SharedMemories, &r.ProgressUpdates, &r.TotalSessions, &r.LastInteraction); err != nil {
		return RelationshipState{}, err
	}
	if r.ProgressUpdates == nil {
		r.ProgressUpdates = map[string]string{}
	}
	return r, nil
}

func (s *PostgresStore) Relationship(ctx context.Context, userID, personaID string) (*RelationshipState, error) {
	r, err := scanRelationship(s.pool.QueryRow(ctx,
		`SELECT `+relationshipColumns+` FROM relationship_states WHERE user_id=$1 AND persona_id=$2`,
		userID, personaID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) UpsertPattern(ctx context.Context, userID, patternType string, mutate func(*EmotionalPattern)) (EmotionalPattern, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EmotionalPattern{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	seed := newPattern(userID, patternType)
	if _, err := tx.Exec(ctx,
		`INSERT INTO emotional_patterns (id, user_id, pattern_type, pattern_data, frequency_score, effectiveness_score, last_occurred)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, pattern_type) DO NOTHING`,
		uuid.NewString(), userID, patternType, seed.PatternData, seed.FrequencyScore, seed.EffectivenessScore, time.Now().UTC(),
	); err != nil {
		return EmotionalPattern{}, fmt.Errorf("seed pattern: %w", err)
	}

	before, err := scanPattern(tx.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM emotional_patterns WHERE user_id=$1 AND pattern_type=$2 FOR UPDATE`,
		userID, patternType,
	))
	if err != nil {
		return EmotionalPattern{}, fmt.Errorf("lock pattern: %w", err)
	}

	after := before.clone()
	mutate(&after)
	if err := checkPattern(before, after); err != nil {
		return EmotionalPattern{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE emotional_patterns
		 SET pattern_data=$2, frequency_score=$3, effectiveness_score=$4, last_occurred=$5
		 WHERE id=$1`,
		before.ID, after.PatternData, after.FrequencyScore, after.EffectivenessScore, after.LastOccurred,
	); err != nil {
		return EmotionalPattern{}, fmt.Errorf("update pattern: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return EmotionalPattern{}, fmt.Errorf("commit tx: %w", err)
	}
	return after, nil
}

func (s *PostgresStore) UpsertRelationship(ctx context.Context, userID, personaID string, mutate func(*RelationshipState)) (RelationshipState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RelationshipState{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	seed := NewRelationship(userID, personaID)
	if _, err := tx.Exec(ctx,
		`INSERT INTO relationship_states (user_id, persona_id, trust_level, rapport_score, progress_updates, last_interaction)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, persona_id) DO NOTHING`,
		userID, personaID, seed.TrustLevel, seed.RapportScore, seed.ProgressUpdates, time.Now().UTC(),
	); err != nil {
		return RelationshipState{}, fmt.Errorf("seed relationship: %w", err)
	}

	before, err := scanRelationship(tx.QueryRow(ctx,
		`SELECT `+relationshipColumns+` FROM relationship_states WHERE user_id=$1 AND persona_id=$2 FOR UPDATE`,
		userID, personaID,
	))
	if err != nil {
		return RelationshipState{}, fmt.Errorf("lock relationship: %w", err)
	}

	after := before.clone()
	mutate(&after)
	if err := checkRelationship(before, after); err != nil {
		return RelationshipState{}, err
	}
	after.EffectiveTechniques = NormalizeSet(after.EffectiveTechniques)
	after.IneffectiveTechniques = NormalizeSet(after.IneffectiveTechniques)
	after.SharedMemories = NormalizeSet(after.SharedMemories)

	if _, err := tx.Exec(ctx,
		`UPDATE relationship_states
		 SET trust_level=$3, rapport_score=$4, effective_techniques=$5, ineffective_techniques=$6,
		     shared_memories=$7, progress_updates=$8, total_sessions=$9, last_interaction=$10
		 WHERE user_id=$1 AND persona_id=$2`,
		userID, personaID, after.TrustLevel, after.RapportScore, after.EffectiveTechniques,
		after.IneffectiveTechniques, after.SharedMemories, after.ProgressUpdates, after.TotalSessions, after.LastInteraction,
	); err != nil {
		return RelationshipState{}, fmt.Errorf("update relationship: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return RelationshipState{}, fmt.Errorf("commit tx: %w", err)
	}
	return after, nil
}

func (s *PostgresStore) MarkContextAddressed(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_context_items SET addressed=TRUE WHERE id=$1 AND NOT addressed`, id)
	if err != nil {
		return false, fmt.Errorf("mark context addressed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM session_context_items WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check context item: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) InsertContextItem(ctx context.Context, item SessionContextItem) (SessionContextItem, error) {
	if err := checkContextItem(item); err != nil {
		return SessionContextItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Addressed = false
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_context_items (id, user_id, context_type, context_data, priority_level, addressed, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		item.ID, item.UserID, item.ContextType, item.ContextData, item.PriorityLevel, item.CreatedAt,
	)
	if err != nil {
		return SessionContextItem{}, fmt.Errorf("insert context item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertMemory(ctx context.Context, record MemoryRecord) (MemoryRecord, error) {
	if err := checkMemory(record); err != nil {
		return MemoryRecord{}, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Active = true
	record.Tags = NormalizeSet(record.Tags)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_records (`+memoryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10)`,
		record.ID, record.UserID, record.SessionID, string(record.MemoryType), record.Title, record.Content,
		record.EmotionalContext, record.ImportanceScore, record.Tags, record.CreatedAt,
	)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("insert memory: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) DeactivateMemory(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE memory_records SET active=FALSE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("deactivate memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const alertColumns = `id, user_id, alert_type, severity, confidence, trigger_data, status, deliveries, escalated_to, created_at, resolved_at`

func scanAlert(row pgx.Row) (CrisisAlert, error) {
	var (
		a        CrisisAlert
		severity string
		status   string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.AlertType, &severity, &a.Confidence, &a.TriggerData, &status, &a.Deliveries, &a.EscalatedTo, &a.CreatedAt, &a.ResolvedAt); err != nil {
		return CrisisAlert{}, err
	}
	a.Severity = Severity(severity)
	a.Status = AlertStatus(status)
	if a.TriggerData == nil {
		a.TriggerData = map[string]string{}
	}
	return a, nil
}

func (s *PostgresStore) InsertAlert(ctx context.Context, alert CrisisAlert) (CrisisAlert, error) {
	if alert.UserID == "" {
		return CrisisAlert{}, errors.New("alert requires user_id")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.Status == "" {
		alert.Status = AlertCreated
	}
	if alert.TriggerData == nil {
		alert.TriggerData = map[string]string{}
	}
	if alert.Deliveries == nil {
		alert.Deliveries = []ChannelDelivery{}
	}
	alert.EscalatedTo = NormalizeSet(alert.EscalatedTo)
	alert.ResolvedAt = nil

	_, err := s.pool.Exec(ctx,
		`INSERT INTO crisis_alerts (`+alertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)`,
		alert.ID, alert.UserID, alert.AlertType, string(alert.Severity), alert.Confidence, alert.TriggerData,
		string(alert.Status), alert.Deliveries, alert.EscalatedTo, alert.CreatedAt,
	)
	if err != nil {
		return CrisisAlert{}, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

func (s *PostgresStore) UpdateAlertDelivery(ctx context.Context, id string, update DeliveryUpdate) (CrisisAlert, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CrisisAlert{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scanAlert(tx.QueryRow(ctx, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CrisisAlert{}, ErrNotFound
		}
		return CrisisAlert{}, fmt.Errorf("lock alert: %w", err)
	}
	if err := finalizeDelivery(&a, update); err != nil {
		return CrisisAlert{}, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE crisis_alerts SET status=$2, deliveries=$3, escalated_to=$4 WHERE id=$1`,
		id, string(a.Status), a.Deliveries, a.EscalatedTo,
	); err != nil {
		return CrisisAlert{}, fmt.Errorf("update alert delivery: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return CrisisAlert{}, fmt.Errorf("commit tx: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id string, at time.Time) (CrisisAlert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx,
		`UPDATE crisis_alerts SET resolved_at=$2 WHERE id=$1 AND resolved_at IS NULL RETURNING `+alertColumns,
		id, at.UTC(),
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return CrisisAlert{}, fmt.Errorf("resolve alert: %w", err)
	}
	existing, getErr := s.Alert(ctx, id)
	if getErr != nil {
		return CrisisAlert{}, getErr
	}
	return existing, ErrAlertResolved
}

func (s *PostgresStore) Alert(ctx context.Context, id string) (CrisisAlert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CrisisAlert{}, ErrNotFound
		}
		return CrisisAlert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]CrisisAlert, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM crisis_alerts
		 WHERE ($1 = '' OR user_id=$1) AND (NOT $2 OR resolved_at IS NULL)
		 ORDER BY created_at DESC LIMIT $3`,
		filter.UserID, filter.OpenOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]CrisisAlert, 0, limit)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, user_id, session_id, role, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID,
		record.UserID,
		record.SessionID,
		record.Role,
		record.Content,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session_id, role, content, pii_redacted, created_at
		 FROM conversation_turns WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Role, &r.Content, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
