package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/devhaln/pagepal/backend/internal/model/conversation"
)

// MemoryStore keeps sessions in process memory. It is the default backend;
// suitable for a single-instance companion service.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.Session)}
}

func (s *MemoryStore) CreateSession(_ context.Context, name string) (model.Session, error) {
	if name == "" {
		name = defaultSessionName
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return copySession(session), nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, copySession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) RenameSession(_ context.Context, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if name == "" {
		name = defaultSessionName
	}
	session.Name = name
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, sessionID string, turn model.Turn) (model.Turn, error) {
	if err := validateTurn(turn); err != nil {
		return model.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return model.Turn{}, ErrSessionNotFound
	}

	if turn.Role == model.RoleContext && session.HasSource(turn.Page.URL) {
		return model.Turn{}, ErrSourceExists
	}

	turn.ID = uuid.NewString()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	session.Turns = append(session.Turns, turn)
	if turn.Role == model.RoleContext {
		session.Sources = append(session.Sources, model.SourceRecord{
			URL:        turn.Page.URL,
			Title:      turn.Page.Title,
			CapturedAt: turn.Page.CapturedAt,
		})
	}
	session.UpdatedAt = time.Now().UTC()

	return turn, nil
}

func (s *MemoryStore) Turns(_ context.Context, sessionID string) ([]model.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copyTurns(session.Turns), nil
}

func (s *MemoryStore) RemoveSource(_ context.Context, sessionID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if !session.HasSource(url) {
		return ErrSourceNotFound
	}

	sources := session.Sources[:0]
	for _, rec := range session.Sources {
		if rec.URL != url {
			sources = append(sources, rec)
		}
	}
	session.Sources = sources

	turns := session.Turns[:0]
	for _, t := range session.Turns {
		if t.Role == model.RoleContext && t.Page != nil && t.Page.URL == url {
			continue
		}
		turns = append(turns, t)
	}
	session.Turns = turns
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// validateTurn rejects shape errors that would break the store invariants.
// This is the programming-error boundary: data-level gaps (missing titles,
// timestamps) are tolerated and patched downstream.
func validateTurn(turn model.Turn) error {
	switch turn.Role {
	case model.RoleUser, model.RoleModel:
		return nil
	case model.RoleContext:
		if turn.Page == nil || turn.Page.URL == "" {
			return ErrInvalidTurn
		}
		return nil
	default:
		return ErrInvalidTurn
	}
}

func copySession(session *model.Session) model.Session {
	out := *session
	out.Turns = copyTurns(session.Turns)
	out.Sources = append([]model.SourceRecord(nil), session.Sources...)
	return out
}

func copyTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	for i := range out {
		if out[i].Page != nil {
			page := *out[i].Page
			out[i].Page = &page
		}
	}
	return out
}
