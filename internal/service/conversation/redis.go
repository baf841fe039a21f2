package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	model "github.com/devhaln/pagepal/backend/internal/model/conversation"
)

const redisKeyPrefix = "pagepal:session:"

// RedisStore keeps each session as one JSON value so the panel's transcript
// survives backend restarts. Writes are whole-session swaps; the intended
// usage is one writer per session (the panel serializes sends), so no
// transaction fencing is needed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and pings the Redis backend. A zero ttl means
// sessions never expire.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) CreateSession(ctx context.Context, name string) (model.Session, error) {
	if name == "" {
		name = defaultSessionName
	}

	now := time.Now().UTC()
	session := model.Session{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, session); err != nil {
		return model.Session{}, err
	}
	return session, nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	return s.load(ctx, sessionID)
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	var (
		cursor   uint64
		sessions []model.Session
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			session, err := s.load(ctx, key[len(redisKeyPrefix):])
			if err != nil {
				if errors.Is(err, ErrSessionNotFound) {
					continue // expired between scan and load
				}
				return nil, err
			}
			sessions = append(sessions, session)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func (s *RedisStore) RenameSession(ctx context.Context, sessionID, name string) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if name == "" {
		name = defaultSessionName
	}
	session.Name = name
	session.UpdatedAt = time.Now().UTC()
	return s.save(ctx, session)
}

func (s *RedisStore) AppendTurn(ctx context.Context, sessionID string, turn model.Turn) (model.Turn, error) {
	if err := validateTurn(turn); err != nil {
		return model.Turn{}, err
	}

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return model.Turn{}, err
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

	if err := s.save(ctx, session); err != nil {
		return model.Turn{}, err
	}
	return turn, nil
}

func (s *RedisStore) Turns(ctx context.Context, sessionID string) ([]model.Turn, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Turns, nil
}

func (s *RedisStore) RemoveSource(ctx context.Context, sessionID, url string) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
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

	return s.save(ctx, session)
}

func (s *RedisStore) save(ctx context.Context, session model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+session.ID, data, s.ttl).Err()
}

func (s *RedisStore) load(ctx context.Context, sessionID string) (model.Session, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	var session model.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return model.Session{}, fmt.Errorf("corrupt session %s: %w", sessionID, err)
	}
	return session, nil
}
