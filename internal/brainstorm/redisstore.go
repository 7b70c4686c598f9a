package brainstorm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each snapshot as one JSON value under
// brainstorm:<session_id>, rewritten wholesale per mutation with the same
// last-writer-wins semantics as the file backend. A TTL, when set, stands in
// for the file backend's retention sweep.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
}

// NewRedisStore connects a store to the given redis instance.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
	}
}

// Ping verifies the connection; serve-time wiring calls this once at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

func key(id string) string { return "brainstorm:" + id }

func (s *RedisStore) CreateSession(ctx context.Context, id, transportSessionID, request string, branches []BranchSpec) (*State, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	st := newState(id, transportSessionID, request, branches)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, id)
}

func (s *RedisStore) Save(ctx context.Context, st *State) error {
	if err := ValidateSessionID(st.SessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, st)
}

func (s *RedisStore) AddQuestion(ctx context.Context, sessionID, branchID string, q BranchQuestion) error {
	return s.mutate(ctx, sessionID, func(st *State) error {
		return st.addQuestion(branchID, q)
	})
}

func (s *RedisStore) RecordAnswer(ctx context.Context, sessionID, branchID, questionID string, answer json.RawMessage) error {
	return s.mutate(ctx, sessionID, func(st *State) error {
		return st.recordAnswer(branchID, questionID, answer)
	})
}

func (s *RedisStore) CompleteBranch(ctx context.Context, sessionID, branchID, finding string) error {
	return s.mutate(ctx, sessionID, func(st *State) error {
		return st.completeBranch(branchID, finding)
	})
}

func (s *RedisStore) NextExploringBranch(ctx context.Context, sessionID string) (*Branch, error) {
	st, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return st.nextExploring(), nil
}

func (s *RedisStore) IsComplete(ctx context.Context, sessionID string) (bool, error) {
	st, err := s.Load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return st.complete(), nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.client.Del(ctx, key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) mutate(ctx context.Context, sessionID string, fn func(*State) error) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.write(ctx, st)
}

func (s *RedisStore) read(ctx context.Context, id string) (*State, error) {
	b, err := s.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &st, nil
}

func (s *RedisStore) write(ctx context.Context, st *State) error {
	st.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", st.SessionID, err)
	}
	if err := s.client.Set(ctx, key(st.SessionID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("write snapshot %s: %w", st.SessionID, err)
	}
	return nil
}
