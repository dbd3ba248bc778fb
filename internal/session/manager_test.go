package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.PersonaID != "warm" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.End(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("second End() error = %v, want ErrEnded", err)
	}
	if _, err := m.BeginTurn(s.ID, "u1"); !errors.Is(err, ErrEnded) {
		t.Fatalf("BeginTurn() after end error = %v, want ErrEnded", err)
	}
}

func TestManagerBeginTurnChecksOwner(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm")

	got, err := m.BeginTurn(s.ID, "u1")
	if err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	if got.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", got.TurnCount)
	}
	if _, err := m.BeginTurn(s.ID, "u2"); !errors.Is(err, ErrUserMismatch) {
		t.Fatalf("BeginTurn() other user error = %v, want ErrUserMismatch", err)
	}
	if _, err := m.BeginTurn("missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("BeginTurn() missing error = %v, want ErrNotFound", err)
	}
}

func TestManagerAccumulatesRelationshipInputs(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm")

	if err := m.AddSharedMemories(s.ID, "m1", "m2", "m1", ""); err != nil {
		t.Fatalf("AddSharedMemories() error = %v", err)
	}
	if err := m.RecordTechnique(s.ID, "box_breathing", false); err != nil {
		t.Fatalf("RecordTechnique() error = %v", err)
	}
	if err := m.RecordTechnique(s.ID, "box_breathing", true); err != nil {
		t.Fatalf("RecordTechnique() error = %v", err)
	}
	if err := m.RecordTechnique(s.ID, "journaling", false); err != nil {
		t.Fatalf("RecordTechnique() error = %v", err)
	}
	if err := m.SetProgress(s.ID, "sleep", "improving"); err != nil {
		t.Fatalf("SetProgress() error = %v", err)
	}

	got, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if len(got.SharedMemories) != 2 {
		t.Fatalf("SharedMemories = %v, want [m1 m2]", got.SharedMemories)
	}
	if len(got.EffectiveTechniques) != 1 || got.EffectiveTechniques[0] != "box_breathing" {
		t.Fatalf("EffectiveTechniques = %v, want [box_breathing]", got.EffectiveTechniques)
	}
	if len(got.IneffectiveTechniques) != 1 || got.IneffectiveTechniques[0] != "journaling" {
		t.Fatalf("IneffectiveTechniques = %v, want [journaling]", got.IneffectiveTechniques)
	}
	if got.ProgressUpdates["sleep"] != "improving" {
		t.Fatalf("ProgressUpdates = %v", got.ProgressUpdates)
	}
	if err := m.AddSharedMemories(s.ID, "m3"); !errors.Is(err, ErrEnded) {
		t.Fatalf("AddSharedMemories() after end error = %v, want ErrEnded", err)
	}
}

func TestManagerGetReturnsCopy(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm")
	_ = m.AddSharedMemories(s.ID, "m1")

	got, _ := m.Get(s.ID)
	got.SharedMemories[0] = "tampered"
	got.ProgressUpdates["x"] = "y"

	again, _ := m.Get(s.ID)
	if again.SharedMemories[0] != "m1" || len(again.ProgressUpdates) != 0 {
		t.Fatalf("session state leaked through copy: %+v", again)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", "warm")

	var mu sync.Mutex
	var expired []string
	m.SetExpireHook(func(s *Session) {
		mu.Lock()
		expired = append(expired, s.ID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	mu.Lock()
	got := append([]string(nil), expired...)
	mu.Unlock()
	if len(got) != 1 || got[0] != s.ID {
		t.Fatalf("expired = %v, want [%s]", got, s.ID)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerJanitorForgetsEndedSessions(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	s := m.Create("u1", "warm")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	m.expireInactive()
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after prune error = %v, want ErrNotFound", err)
	}
}
