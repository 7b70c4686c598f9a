// Package brainstorm holds the durable multi-branch Q&A state, its snapshot
// stores, and the deterministic branch-evaluation decision procedure. The
// aggregate here is independent of the live dialogue transport; keeping the
// two consistent with each other is the orchestration loop's job.
package brainstorm

import (
	"encoding/json"
	"time"

	"github.com/colloquy-ai/colloquy/internal/dialogue"
)

// BranchStatus is the lifecycle state of one branch.
type BranchStatus string

const (
	BranchExploring BranchStatus = "exploring"
	BranchDone      BranchStatus = "done"
)

// BranchQuestion is one prompt asked within a branch. Answer is set at most
// once and never cleared.
type BranchQuestion struct {
	ID         string                `json:"id"`
	Type       dialogue.QuestionType `json:"type"`
	Text       string                `json:"text"`
	Config     json.RawMessage       `json:"config,omitempty"`
	Answer     json.RawMessage       `json:"answer,omitempty"`
	AnsweredAt *time.Time            `json:"answered_at,omitempty"`
}

// Answered reports whether the question has received its answer.
func (q *BranchQuestion) Answered() bool { return len(q.Answer) > 0 }

// Branch is a named sub-exploration with its own scope and Q&A history.
type Branch struct {
	ID        string           `json:"id"`
	Scope     string           `json:"scope"`
	Status    BranchStatus     `json:"status"`
	Questions []BranchQuestion `json:"questions"`
	Finding   string           `json:"finding,omitempty"`
}

// BranchSpec seeds one branch at session creation.
type BranchSpec struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
}

// State is the full snapshot of one brainstorm session, rewritten wholesale
// on every mutation. BranchOrder is a permutation of the Branches keys and
// defines the deterministic traversal order.
type State struct {
	SessionID          string             `json:"session_id"`
	TransportSessionID *string            `json:"transport_session_id"`
	Request            string             `json:"request"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Branches           map[string]*Branch `json:"branches"`
	BranchOrder        []string           `json:"branch_order"`
}

func newState(id, transportSessionID, request string, specs []BranchSpec) *State {
	now := time.Now().UTC()
	st := &State{
		SessionID: id,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
		Branches:  make(map[string]*Branch, len(specs)),
	}
	if transportSessionID != "" {
		st.TransportSessionID = &transportSessionID
	}
	for _, spec := range specs {
		bid := spec.ID
		if bid == "" {
			bid = dialogue.NewID("br")
		}
		st.Branches[bid] = &Branch{ID: bid, Scope: spec.Scope, Status: BranchExploring}
		st.BranchOrder = append(st.BranchOrder, bid)
	}
	return st
}

// branch resolves a branch id inside the snapshot.
func (st *State) branch(id string) (*Branch, error) {
	b, ok := st.Branches[id]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return b, nil
}

func (st *State) addQuestion(branchID string, q BranchQuestion) error {
	b, err := st.branch(branchID)
	if err != nil {
		return err
	}
	b.Questions = append(b.Questions, q)
	return nil
}

func (st *State) recordAnswer(branchID, questionID string, answer json.RawMessage) error {
	b, err := st.branch(branchID)
	if err != nil {
		return err
	}
	for i := range b.Questions {
		if b.Questions[i].ID != questionID {
			continue
		}
		if b.Questions[i].Answered() {
			return ErrAlreadyAnswered
		}
		now := time.Now().UTC()
		b.Questions[i].Answer = answer
		b.Questions[i].AnsweredAt = &now
		return nil
	}
	return ErrQuestionNotFound
}

func (st *State) completeBranch(branchID, finding string) error {
	b, err := st.branch(branchID)
	if err != nil {
		return err
	}
	b.Status = BranchDone
	b.Finding = finding
	return nil
}

// nextExploring walks BranchOrder and returns the first branch still
// exploring, or nil when every branch is done.
func (st *State) nextExploring() *Branch {
	for _, id := range st.BranchOrder {
		if b := st.Branches[id]; b != nil && b.Status == BranchExploring {
			return b
		}
	}
	return nil
}

func (st *State) complete() bool {
	for _, b := range st.Branches {
		if b.Status != BranchDone {
			return false
		}
	}
	return true
}
