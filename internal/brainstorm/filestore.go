package brainstorm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps one JSON document per session at <dir>/<session_id>.json.
// The in-process mutex is advisory: it serializes this store's own
// read-modify-write cycles, while concurrent external writers still resolve
// last-writer-wins, as the format intends.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "colloquy-brainstorms")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the snapshot directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) CreateSession(_ context.Context, id, transportSessionID, request string, branches []BranchSpec) (*State, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	st := newState(id, transportSessionID, request, branches)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *FileStore) Load(_ context.Context, id string) (*State, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) Save(_ context.Context, st *State) error {
	if err := ValidateSessionID(st.SessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(st)
}

func (s *FileStore) AddQuestion(ctx context.Context, sessionID, branchID string, q BranchQuestion) error {
	return s.mutate(sessionID, func(st *State) error {
		return st.addQuestion(branchID, q)
	})
}

func (s *FileStore) RecordAnswer(ctx context.Context, sessionID, branchID, questionID string, answer json.RawMessage) error {
	return s.mutate(sessionID, func(st *State) error {
		return st.recordAnswer(branchID, questionID, answer)
	})
}

func (s *FileStore) CompleteBranch(ctx context.Context, sessionID, branchID, finding string) error {
	return s.mutate(sessionID, func(st *State) error {
		return st.completeBranch(branchID, finding)
	})
}

func (s *FileStore) NextExploringBranch(ctx context.Context, sessionID string) (*Branch, error) {
	st, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return st.nextExploring(), nil
}

func (s *FileStore) IsComplete(ctx context.Context, sessionID string) (bool, error) {
	st, err := s.Load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return st.complete(), nil
}

func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	return nil
}

// mutate runs one load-modify-rewrite cycle under the advisory lock.
func (s *FileStore) mutate(sessionID string, fn func(*State) error) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read(sessionID)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.write(st)
}

func (s *FileStore) read(id string) (*State, error) {
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
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

func (s *FileStore) write(st *State) error {
	st.UpdatedAt = time.Now().UTC()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", st.SessionID, err)
	}
	if err := os.WriteFile(s.path(st.SessionID), b, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", st.SessionID, err)
	}
	return nil
}
