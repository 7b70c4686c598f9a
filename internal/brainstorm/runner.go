package brainstorm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/colloquy-ai/colloquy/internal/dialogue"
)

// Runner is the orchestration loop stitching the two aggregates together:
// it opens a dialogue session for a brainstorm, routes incoming answers into
// the snapshot store, and acts on the evaluator's verdicts. Retry policy
// lives here, not in the stores or the coordinator.
type Runner struct {
	store    Store
	manager  *dialogue.Manager
	evaluate Evaluator
	log      *log.Logger
}

// NewRunner wires a runner. evaluate may be nil, which selects the built-in
// rule-based Evaluate.
func NewRunner(store Store, manager *dialogue.Manager, evaluate Evaluator, logger *log.Logger) *Runner {
	if evaluate == nil {
		evaluate = Evaluate
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[BRAINSTORM] ", log.LstdFlags)
	}
	return &Runner{store: store, manager: manager, evaluate: evaluate, log: logger}
}

// CreateSession starts a dialogue session, snapshots the brainstorm state
// bound to it, and seeds every branch with its opening question.
func (r *Runner) CreateSession(ctx context.Context, request string, branches []BranchSpec) (*State, error) {
	start, err := r.manager.StartSession(request)
	if err != nil {
		return nil, fmt.Errorf("start dialogue session: %w", err)
	}

	id := dialogue.NewID("bs")
	st, err := r.store.CreateSession(ctx, id, start.SessionID, request, branches)
	if err != nil {
		r.manager.EndSession(start.SessionID)
		return nil, err
	}

	for _, bid := range st.BranchOrder {
		if err := r.seedBranch(ctx, st, st.Branches[bid]); err != nil {
			return nil, err
		}
	}
	return r.store.Load(ctx, id)
}

// seedBranch pushes a branch's opening free-text question.
func (r *Runner) seedBranch(ctx context.Context, st *State, b *Branch) error {
	text := fmt.Sprintf("What is the most important consideration for %s?", b.Scope)
	cfg := dialogue.TextConfig(text, "")
	qid, err := r.manager.PushQuestion(*st.TransportSessionID, dialogue.TypeText, cfg.Raw())
	if err != nil {
		return fmt.Errorf("seed branch %s: %w", b.ID, err)
	}
	return r.store.AddQuestion(ctx, st.SessionID, b.ID, BranchQuestion{
		ID:     qid,
		Type:   dialogue.TypeText,
		Text:   text,
		Config: cfg.Raw(),
	})
}

// HandleAnswer records one answer, re-evaluates the branch, and either
// completes it or pushes the proposed follow-up.
func (r *Runner) HandleAnswer(ctx context.Context, sessionID, branchID, questionID string, answer json.RawMessage) error {
	if err := r.store.RecordAnswer(ctx, sessionID, branchID, questionID, answer); err != nil {
		return err
	}
	st, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	b, err := st.branch(branchID)
	if err != nil {
		return err
	}

	ev := r.evaluate(b)
	switch {
	case ev.Done:
		r.log.Printf("branch %s done: %s", branchID, ev.Finding)
		return r.store.CompleteBranch(ctx, sessionID, branchID, ev.Finding)
	case ev.Question != nil:
		return r.pushFollowUp(ctx, st, branchID, ev.Question)
	default:
		// Still waiting on other answers in this branch.
		return nil
	}
}

func (r *Runner) pushFollowUp(ctx context.Context, st *State, branchID string, p *Proposed) error {
	if st.TransportSessionID == nil {
		return fmt.Errorf("brainstorm %s has no dialogue session", st.SessionID)
	}
	raw := p.Config.Raw()
	qid, err := r.manager.PushQuestion(*st.TransportSessionID, p.Type, raw)
	if err != nil {
		return fmt.Errorf("push follow-up for branch %s: %w", branchID, err)
	}
	return r.store.AddQuestion(ctx, st.SessionID, branchID, BranchQuestion{
		ID:     qid,
		Type:   p.Type,
		Text:   p.Text,
		Config: raw,
	})
}

// Run consumes answers from the dialogue session until every branch is done
// or ctx is cancelled, then ends the dialogue session. Session-level wait
// timeouts just re-arm the wait.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	st, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if st.TransportSessionID == nil {
		return fmt.Errorf("brainstorm %s has no dialogue session", sessionID)
	}
	dialogueID := *st.TransportSessionID

	for {
		done, err := r.store.IsComplete(ctx, sessionID)
		if err != nil {
			return err
		}
		if done {
			r.manager.EndSession(dialogueID)
			r.log.Printf("brainstorm %s complete", sessionID)
			return nil
		}

		res, err := r.manager.GetNextAnswer(ctx, dialogueID, true, 0)
		if err != nil {
			return err
		}
		switch res.Status {
		case dialogue.NextAnswered:
			branchID, ok := r.branchFor(ctx, sessionID, res.Question.ID)
			if !ok {
				r.log.Printf("answer for question %s matches no branch, skipping", res.Question.ID)
				continue
			}
			if err := r.HandleAnswer(ctx, sessionID, branchID, res.Question.ID, res.Answer); err != nil {
				return err
			}
		case dialogue.NextTimeout:
			// Respondent is idle; keep waiting.
		case dialogue.NextNone:
			return fmt.Errorf("brainstorm %s stalled: no questions pending and branches remain", sessionID)
		}
	}
}

// branchFor locates the branch that asked a question.
func (r *Runner) branchFor(ctx context.Context, sessionID, questionID string) (string, bool) {
	st, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return "", false
	}
	for _, b := range st.Branches {
		for _, q := range b.Questions {
			if q.ID == questionID {
				return b.ID, true
			}
		}
	}
	return "", false
}
