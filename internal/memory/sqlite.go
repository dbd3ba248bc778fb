package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Fixed-width so that TEXT ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a single-file Repository for on-device deployments.
type SQLiteStore struct {
	db *sql.DB

	entropyMu sync.Mutex
	entropy   *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps read-modify-write transactions serialized.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_records (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		session_id        TEXT NOT NULL DEFAULT '',
		memory_type       TEXT NOT NULL,
		title             TEXT NOT NULL,
		content           TEXT NOT NULL,
		emotional_context TEXT NOT NULL DEFAULT '',
		importance_score  REAL NOT NULL,
		tags              TEXT NOT NULL DEFAULT '[]',
		active            INTEGER NOT NULL DEFAULT 1,
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_records_user ON memory_records(user_id, active, importance_score DESC, created_at DESC);

	CREATE TABLE IF NOT EXISTS emotional_patterns (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		pattern_type        TEXT NOT NULL,
		pattern_data        TEXT NOT NULL DEFAULT '{}',
		frequency_score     REAL NOT NULL DEFAULT 0,
		effectiveness_score REAL NOT NULL DEFAULT 0.5,
		last_occurred       TEXT NOT NULL,
		UNIQUE (user_id, pattern_type)
	);

	CREATE TABLE IF NOT EXISTS session_context_items (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		context_type   TEXT NOT NULL,
		context_data   TEXT NOT NULL,
		priority_level INTEGER NOT NULL,
		addressed      INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_context_user ON session_context_items(user_id, addressed, priority_level DESC);

	CREATE TABLE IF NOT EXISTS relationship_states (
		user_id                TEXT NOT NULL,
		persona_id             TEXT NOT NULL,
		trust_level            REAL NOT NULL,
		rapport_score          REAL NOT NULL,
		effective_techniques   TEXT NOT NULL DEFAULT '[]',
		ineffective_techniques TEXT NOT NULL DEFAULT '[]',
		shared_memories        TEXT NOT NULL DEFAULT '[]',
		progress_updates       TEXT NOT NULL DEFAULT '{}',
		total_sessions         INTEGER NOT NULL DEFAULT 0,
		last_interaction       TEXT NOT NULL,
		PRIMARY KEY (user_id, persona_id)
	);

	CREATE TABLE IF NOT EXISTS crisis_alerts (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		alert_type   TEXT NOT NULL,
		severity     TEXT NOT NULL,
		confidence   REAL NOT NULL,
		trigger_data TEXT NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL,
		deliveries   TEXT NOT NULL DEFAULT '[]',
		escalated_to TEXT NOT NULL DEFAULT '[]',
		created_at   TEXT NOT NULL,
		resolved_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_crisis_alerts_user ON crisis_alerts(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		pii_redacted INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_turns_user ON conversation_turns(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	var out []string
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func decodeMap(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) TopMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_records
		 WHERE user_id=? AND active=1
		 ORDER BY importance_score DESC, created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top memories: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var (
			m                  MemoryRecord
			typ, tags, created string
			active             int
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &typ, &m.Title, &m.Content, &m.EmotionalContext, &m.ImportanceScore, &tags, &active, &created); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		m.MemoryType = MemoryType(typ)
		m.Tags = decodeStrings(tags)
		m.Active = active == 1
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSQLitePattern(row rowScanner) (EmotionalPattern, error) {
	var (
		p          EmotionalPattern
		data, last string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.PatternType, &data, &p.FrequencyScore, &p.EffectivenessScore, &last); err != nil {
		return EmotionalPattern{}, err
	}
	p.PatternData = decodeMap(data)
	p.LastOccurred = parseTime(last)
	return p, nil
}

func (s *SQLiteStore) Patterns(ctx context.Context, userID string, limit int) ([]EmotionalPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM emotional_patterns
		 WHERE user_id=? ORDER BY frequency_score DESC, pattern_type ASC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []EmotionalPattern
	for rows.Next() {
		p, err := scanSQLitePattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PendingContext(ctx context.Context, userID string, limit int) ([]SessionContextItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, context_type, context_data, priority_level, addressed, created_at
		 FROM session_context_items
		 WHERE user_id=? AND addressed=0
		 ORDER BY priority_level DESC, created_at ASC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending context: %w", err)
	}
	defer rows.Close()

	var out []SessionContextItem
	for rows.Next() {
		var (
			item      SessionContextItem
			addressed int
			created   string
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.ContextType, &item.ContextData, &item.PriorityLevel, &addressed, &created); err != nil {
			return nil, fmt.Errorf("scan context row: %w", err)
		}
		item.Addressed = addressed == 1
		item.CreatedAt = parseTime(created)
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanSQLiteRelationship(row rowScanner) (RelationshipState, error) {
	var (
		r                                        RelationshipState
		effective, ineffective, shared, progress string
		last                                     string
	)
	if err := row.Scan(&r.UserID, &r.PersonaID, &r.TrustLevel, &r.RapportScore, &effective, &ineffective, &shared, &progress, &r.TotalSessions, &last); err != nil {
		return RelationshipState{}, err
	}
	r.EffectiveTechniques = decodeStrings(effective)
	r.IneffectiveTechniques = decodeStrings(ineffective)
	r.SharedMemories = decodeStrings(shared)
	r.ProgressUpdates = decodeMap(progress)
	r.LastInteraction = parseTime(last)
	return r, nil
}

func (s *SQLiteStore) Relationship(ctx context.Context, userID, personaID string) (*RelationshipState, error) {
	r, err := scanSQLiteRelationship(s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationship_states WHERE user_id=? AND persona_id=?`,
		userID, personaID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return &r, nil
}

func (s *SQLiteStore) UpsertPattern(ctx context.Context, userID, patternType string, mutate func(*EmotionalPattern)) (EmotionalPattern, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EmotionalPattern{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seed := newPattern(userID, patternType)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO emotional_patterns (id, user_id, pattern_type, pattern_data, frequency_score, effectiveness_score, last_occurred)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, pattern_type) DO NOTHING`,
		s.newID(), userID, patternType, encodeJSON(seed.PatternData), seed.FrequencyScore, seed.EffectivenessScore, formatTime(time.Now()),
	); err != nil {
		return EmotionalPattern{}, fmt.Errorf("seed pattern: %w", err)
	}

	before, err := scanSQLitePattern(tx.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM emotional_patterns WHERE user_id=? AND pattern_type=?`,
		userID, patternType,
	))
	if err != nil {
		return EmotionalPattern{}, fmt.Errorf("load pattern: %w", err)
	}

	after := before.clone()
	mutate(&after)
	if err := checkPattern(before, after); err != nil {
		return EmotionalPattern{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE emotional_patterns
		 SET pattern_data=?, frequency_score=?, effectiveness_score=?, last_occurred=?
		 WHERE id=?`,
		encodeJSON(after.PatternData), after.FrequencyScore, after.EffectivenessScore, formatTime(after.LastOccurred), before.ID,
	); err != nil {
		return EmotionalPattern{}, fmt.Errorf("update pattern: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return EmotionalPattern{}, fmt.Errorf("commit tx: %w", err)
	}
	return after, nil
}

func (s *SQLiteStore) UpsertRelationship(ctx context.Context, userID, personaID string, mutate func(*RelationshipState)) (RelationshipState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RelationshipState{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seed := NewRelationship(userID, personaID)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO relationship_states (user_id, persona_id, trust_level, rapport_score, last_interaction)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, persona_id) DO NOTHING`,
		userID, personaID, seed.TrustLevel, seed.RapportScore, formatTime(time.Now()),
	); err != nil {
		return RelationshipState{}, fmt.Errorf("seed relationship: %w", err)
	}

	before, err := scanSQLiteRelationship(tx.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationship_states WHERE user_id=? AND persona_id=?`,
		userID, personaID,
	))
	if err != nil {
		return RelationshipState{}, fmt.Errorf("load relationship: %w", err)
	}

	after := before.clone()
	mutate(&after)
	if err := checkRelationship(before, after); err != nil {
		return RelationshipState{}, err
	}
	after.EffectiveTechniques = NormalizeSet(after.EffectiveTechniques)
	after.IneffectiveTechniques = NormalizeSet(after.IneffectiveTechniques)
	after.SharedMemories = NormalizeSet(after.SharedMemories)

	if _, err := tx.ExecContext(ctx,
		`UPDATE relationship_states
		 SET trust_level=?, rapport_score=?, effective_techniques=?, ineffective_techniques=?,
		     shared_memories=?, progress_updates=?, total_sessions=?, last_interaction=?
		 WHERE user_id=? AND persona_id=?`,
		after.TrustLevel, after.RapportScore, encodeJSON(after.EffectiveTechniques), encodeJSON(after.IneffectiveTechniques),
		encodeJSON(after.SharedMemories), encodeJSON(after.ProgressUpdates), after.TotalSessions, formatTime(after.LastInteraction),
		userID, personaID,
	); err != nil {
		return RelationshipState{}, fmt.Errorf("update relationship: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return RelationshipState{}, fmt.Errorf("commit tx: %w", err)
	}
	return after, nil
}

func (s *SQLiteStore) MarkContextAddressed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE session_context_items SET addressed=1 WHERE id=? AND addressed=0`, id)
	if err != nil {
		return false, fmt.Errorf("mark context addressed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM session_context_items WHERE id=?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("check context item: %w", err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *SQLiteStore) InsertContextItem(ctx context.Context, item SessionContextItem) (SessionContextItem, error) {
	if err := checkContextItem(item); err != nil {
		return SessionContextItem{}, err
	}
	if item.ID == "" {
		item.ID = s.newID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Addressed = false
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_context_items (id, user_id, context_type, context_data, priority_level, addressed, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		item.ID, item.UserID, item.ContextType, item.ContextData, item.PriorityLevel, formatTime(item.CreatedAt),
	)
	if err != nil {
		return SessionContextItem{}, fmt.Errorf("insert context item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) InsertMemory(ctx context.Context, record MemoryRecord) (MemoryRecord, error) {
	if err := checkMemory(record); err != nil {
		return MemoryRecord{}, err
	}
	if record.ID == "" {
		record.ID = s.newID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Active = true
	record.Tags = NormalizeSet(record.Tags)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		record.ID, record.UserID, record.SessionID, string(record.MemoryType), record.Title, record.Content,
		record.EmotionalContext, record.ImportanceScore, encodeJSON(record.Tags), formatTime(record.CreatedAt),
	)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("insert memory: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) DeactivateMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memory_records SET active=0 WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("deactivate memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteAlert(row rowScanner) (CrisisAlert, error) {
	var (
		a                                     CrisisAlert
		severity, status                      string
		trigger, deliveries, escalated, since string
		resolved                              sql.NullString
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.AlertType, &severity, &a.Confidence, &trigger, &status, &deliveries, &escalated, &since, &resolved); err != nil {
		return CrisisAlert{}, err
	}
	a.Severity = Severity(severity)
	a.Status = AlertStatus(status)
	a.TriggerData = decodeMap(trigger)
	_ = json.Unmarshal([]byte(deliveries), &a.Deliveries)
	a.EscalatedTo = decodeStrings(escalated)
	a.CreatedAt = parseTime(since)
	if resolved.Valid {
		t := parseTime(resolved.String)
		a.ResolvedAt = &t
	}
	return a, nil
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, alert CrisisAlert) (CrisisAlert, error) {
	if alert.UserID == "" {
		return CrisisAlert{}, errors.New("alert requires user_id")
	}
	if alert.ID == "" {
		alert.ID = s.newID()
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
	alert.EscalatedTo = NormalizeSet(alert.EscalatedTo)
	alert.ResolvedAt = nil

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crisis_alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		alert.ID, alert.UserID, alert.AlertType, string(alert.Severity), alert.Confidence, encodeJSON(alert.TriggerData),
		string(alert.Status), encodeJSON(append([]ChannelDelivery{}, alert.Deliveries...)), encodeJSON(alert.EscalatedTo), formatTime(alert.CreatedAt),
	)
	if err != nil {
		return CrisisAlert{}, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

func (s *SQLiteStore) UpdateAlertDelivery(ctx context.Context, id string, update DeliveryUpdate) (CrisisAlert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CrisisAlert{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanSQLiteAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CrisisAlert{}, ErrNotFound
		}
		return CrisisAlert{}, fmt.Errorf("load alert: %w", err)
	}
	if err := finalizeDelivery(&a, update); err != nil {
		return CrisisAlert{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE crisis_alerts SET status=?, deliveries=?, escalated_to=? WHERE id=?`,
		string(a.Status), encodeJSON(append([]ChannelDelivery{}, a.Deliveries...)), encodeJSON(a.EscalatedTo), id,
	); err != nil {
		return CrisisAlert{}, fmt.Errorf("update alert delivery: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return CrisisAlert{}, fmt.Errorf("commit tx: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ResolveAlert(ctx context.Context, id string, at time.Time) (CrisisAlert, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crisis_alerts SET resolved_at=? WHERE id=? AND resolved_at IS NULL`,
		formatTime(at), id,
	)
	if err != nil {
		return CrisisAlert{}, fmt.Errorf("resolve alert: %w", err)
	}
	n, _ := res.RowsAffected()
	a, err := s.Alert(ctx, id)
	if err != nil {
		return CrisisAlert{}, err
	}
	if n == 0 {
		return a, ErrAlertResolved
	}
	return a, nil
}

func (s *SQLiteStore) Alert(ctx context.Context, id string) (CrisisAlert, error) {
	a, err := scanSQLiteAlert(s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CrisisAlert{}, ErrNotFound
		}
		return CrisisAlert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]CrisisAlert, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM crisis_alerts
		 WHERE (? = '' OR user_id=?) AND (? = 0 OR resolved_at IS NULL)
		 ORDER BY created_at DESC LIMIT ?`,
		filter.UserID, filter.UserID, boolInt(filter.OpenOnly), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []CrisisAlert
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = s.newID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, user_id, session_id, role, content, pii_redacted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.SessionID, record.Role, record.Content, boolInt(record.PIIRedacted), formatTime(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, role, content, pii_redacted, created_at
		 FROM conversation_turns WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var items []TurnRecord
	for rows.Next() {
		var (
			r        TurnRecord
			redacted int
			created  string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Role, &r.Content, &redacted, &created); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		r.PIIRedacted = redacted == 1
		r.CreatedAt = parseTime(created)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
