// Package dialogue coordinates multi-round question/answer exchanges between
// calling agents and a human respondent reachable over a reconnect-tolerant
// transport. It owns the session and question lifecycle and the blocking
// answer-retrieval operations built on the waiter registry.
package dialogue

import (
	"encoding/json"
	"time"
)

// QuestionType tags the interaction shape of a question. The coordinator
// never interprets the config payload itself; the type tag tells the client
// how to render it and the evaluator how to read its answer.
type QuestionType string

const (
	TypeConfirm     QuestionType = "confirm"
	TypeSelect      QuestionType = "select"
	TypeMultiSelect QuestionType = "multiselect"
	TypeText        QuestionType = "text"
	TypeSlider      QuestionType = "slider"
	TypeRank        QuestionType = "rank"
	TypeRate        QuestionType = "rate"
)

// Status is the lifecycle state of a question. A question transitions out of
// StatusPending exactly once and never again afterwards.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnswered  Status = "answered"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether s is one of the three terminal statuses.
func (s Status) Terminal() bool {
	return s == StatusAnswered || s == StatusCancelled || s == StatusTimeout
}

// Question is a single prompt posed within a session. Config is opaque to
// the coordinator beyond what the typed helpers in config.go read out of it.
type Question struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Type       QuestionType    `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	AnsweredAt *time.Time      `json:"answered_at,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`

	// retrieved marks answers already handed out by GetNextAnswer.
	retrieved bool
}

// Summary is the list_questions row: the question minus its payloads.
type Summary struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Type       QuestionType `json:"type"`
	Status     Status       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	AnsweredAt *time.Time   `json:"answered_at,omitempty"`
}

func (q *Question) summary() Summary {
	return Summary{
		ID:         q.ID,
		SessionID:  q.SessionID,
		Type:       q.Type,
		Status:     q.Status,
		CreatedAt:  q.CreatedAt,
		AnsweredAt: q.AnsweredAt,
	}
}
