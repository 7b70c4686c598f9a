package brainstorm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind selects a snapshot store backend.
type Kind string

const (
	KindFile  Kind = "file"
	KindRedis Kind = "redis"
)

// Store persists brainstorm snapshots. Every mutating method loads the
// latest snapshot, applies the change in memory, and rewrites the whole
// snapshot: last-writer-wins, no optimistic concurrency. Methods referencing
// an absent session or branch fail with the NotFound sentinels.
type Store interface {
	CreateSession(ctx context.Context, id, transportSessionID, request string, branches []BranchSpec) (*State, error)
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, st *State) error
	AddQuestion(ctx context.Context, sessionID, branchID string, q BranchQuestion) error
	RecordAnswer(ctx context.Context, sessionID, branchID, questionID string, answer json.RawMessage) error
	CompleteBranch(ctx context.Context, sessionID, branchID, finding string) error
	// NextExploringBranch returns the first exploring branch in traversal
	// order, or nil when every branch is done.
	NextExploringBranch(ctx context.Context, sessionID string) (*Branch, error)
	IsComplete(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// StoreOptions carries backend-specific settings for NewStore.
type StoreOptions struct {
	// BaseDir is the snapshot directory for the file backend.
	BaseDir string
	// Redis connection settings for the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL expires redis snapshots; zero keeps them until explicit cleanup.
	TTL time.Duration
}

// NewStore builds the snapshot store selected by kind. An empty kind means
// file.
func NewStore(kind Kind, opts StoreOptions) (Store, error) {
	switch kind {
	case KindFile, "":
		return NewFileStore(opts.BaseDir)
	case KindRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported store kind: %s", kind)
	}
}
