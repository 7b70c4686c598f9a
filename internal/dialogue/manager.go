package dialogue

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/colloquy-ai/colloquy/internal/waiter"
)

// DefaultTimeout bounds blocking answer waits when the caller does not
// supply one.
const DefaultTimeout = 5 * time.Minute

// Observer receives lifecycle notifications, typically backed by metrics.
// All methods must be non-blocking.
type Observer interface {
	SessionStarted()
	SessionEnded()
	QuestionPushed(qtype QuestionType)
	QuestionResolved(status Status)
}

// Options configures a Manager.
type Options struct {
	// Transport binds a network endpoint per session. Required.
	Transport TransportFactory
	// DefaultTimeout overrides DefaultTimeout when positive.
	DefaultTimeout time.Duration
	// OnOpen, when set, is invoked in a goroutine after a session starts so
	// an external collaborator can open the UI. Skipped when nil (headless).
	OnOpen func(sessionID, url string)
	// OnReconnect, when set, fires best-effort whenever a question is pushed
	// while no client is attached.
	OnReconnect func(sessionID, url string)
	Observer    Observer
	Logger      *log.Logger
}

// StartResult is the outcome of StartSession.
type StartResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// AnswerResult is the outcome of GetAnswer. Completed is true only for an
// answered question; timeout and cancellation are normal outcomes the caller
// branches on, not errors.
type AnswerResult struct {
	Completed  bool            `json:"completed"`
	Status     Status          `json:"status"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	AnsweredAt *time.Time      `json:"answered_at,omitempty"`
}

// NextStatus classifies a GetNextAnswer outcome.
type NextStatus string

const (
	NextAnswered NextStatus = "answered"
	NextPending  NextStatus = "pending"
	NextNone     NextStatus = "none_pending"
	NextTimeout  NextStatus = "timeout"
)

// NextResult is the outcome of GetNextAnswer.
type NextResult struct {
	Status   NextStatus      `json:"status"`
	Question *Summary        `json:"question,omitempty"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

type answeredEvent struct {
	question Summary
	answer   json.RawMessage
}

type session struct {
	id          string
	title       string
	createdAt   time.Time
	transport   Transport
	questions   map[string]*Question
	pushOrder   []string
	answerOrder []string
}

func (s *session) pendingCount() int {
	n := 0
	for _, q := range s.questions {
		if q.Status == StatusPending {
			n++
		}
	}
	return n
}

// Manager owns sessions and their questions. All session/question state is
// held by the instance, never in package globals, so multiple managers can
// coexist in one process.
type Manager struct {
	mu sync.Mutex

	newTransport   TransportFactory
	defaultTimeout time.Duration
	onOpen         func(sessionID, url string)
	onReconnect    func(sessionID, url string)
	observer       Observer
	log            *log.Logger

	sessions      map[string]*session
	questionIndex map[string]string // question id -> session id

	// questionWaiters fans out per-question terminal results (notify-all);
	// answerWaiters hands each newly answered question in a session to
	// exactly one blocked GetNextAnswer caller (notify-first).
	questionWaiters *waiter.Registry[AnswerResult]
	answerWaiters   *waiter.Registry[answeredEvent]
}

// NewManager constructs a Manager from opts. opts.Transport must be set.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[DIALOGUE] ", log.LstdFlags)
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		newTransport:    opts.Transport,
		defaultTimeout:  timeout,
		onOpen:          opts.OnOpen,
		onReconnect:     opts.OnReconnect,
		observer:        opts.Observer,
		log:             logger,
		sessions:        make(map[string]*session),
		questionIndex:   make(map[string]string),
		questionWaiters: waiter.New[AnswerResult](),
		answerWaiters:   waiter.New[answeredEvent](),
	}
}

// StartSession allocates a session bound to a fresh transport endpoint and
// returns its id and URL. The only failure mode is the transport failing to
// bind.
func (m *Manager) StartSession(title string) (StartResult, error) {
	id := NewID("sess")

	ts, err := m.newTransport(TransportCallbacks{
		OnConnect:  func() { m.flushBacklog(id) },
		OnResponse: func(qid string, answer json.RawMessage) { m.handleResponse(qid, answer) },
	})
	if err != nil {
		return StartResult{}, err
	}

	m.mu.Lock()
	m.sessions[id] = &session{
		id:        id,
		title:     title,
		createdAt: time.Now(),
		transport: ts,
		questions: make(map[string]*Question),
	}
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.SessionStarted()
	}
	m.log.Printf("session %s started at %s", id, ts.URL())

	if m.onOpen != nil {
		go m.onOpen(id, ts.URL())
	}
	return StartResult{SessionID: id, URL: ts.URL()}, nil
}

// PushQuestion creates a pending question in the session. If a client is
// attached the question is forwarded immediately; otherwise it stays queued
// for the next connect, and the reconnect hook fires best-effort.
func (m *Manager) PushQuestion(sessionID string, qtype QuestionType, config json.RawMessage) (string, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", ErrSessionNotFound
	}
	q := &Question{
		ID:        NewID("q"),
		SessionID: sessionID,
		Type:      qtype,
		Config:    config,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	sess.questions[q.ID] = q
	sess.pushOrder = append(sess.pushOrder, q.ID)
	m.questionIndex[q.ID] = sessionID
	ts := sess.transport
	connected := ts != nil && ts.Connected()
	m.mu.Unlock()

	if connected {
		if err := ts.SendQuestion(q.ID, string(qtype), config); err != nil {
			m.log.Printf("forward question %s: %v", q.ID, err)
		}
	} else if m.onReconnect != nil {
		// Fire-and-forget: failures here never reach the caller.
		go m.onReconnect(sessionID, ts.URL())
	}

	if m.observer != nil {
		m.observer.QuestionPushed(qtype)
	}
	return q.ID, nil
}

// GetAnswer retrieves the outcome of one question. Non-blocking calls report
// the current status instantly. Blocking calls resolve with whichever fires
// first: the client's response, an explicit cancellation, or the timeout.
// The timeout path is the only one that mutates the question's status as a
// side effect. An unknown id resolves immediately as cancelled; a question
// already in a terminal state resolves immediately with that state.
func (m *Manager) GetAnswer(ctx context.Context, questionID string, block bool, timeout time.Duration) (AnswerResult, error) {
	m.mu.Lock()
	q := m.lookupQuestion(questionID)
	if q == nil {
		m.mu.Unlock()
		return AnswerResult{Status: StatusCancelled}, nil
	}
	if q.Status.Terminal() {
		res := resultFor(q)
		m.mu.Unlock()
		return res, nil
	}
	if !block {
		m.mu.Unlock()
		return AnswerResult{Status: StatusPending}, nil
	}

	ch := make(chan AnswerResult, 1)
	cancelWait := m.questionWaiters.Register(questionID, func(r AnswerResult) { ch <- r })
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		if !cancelWait() {
			// Either a notification won the race (its buffered send already
			// committed) or the session was torn down and the waiter cleared.
			select {
			case res := <-ch:
				return res, nil
			default:
			}
		}
		return AnswerResult{}, ctx.Err()
	case <-timer.C:
		if !cancelWait() {
			select {
			case res := <-ch:
				return res, nil
			default:
			}
		}
		return m.timeoutQuestion(questionID), nil
	}
}

// timeoutQuestion transitions a still-pending question to timeout. If the
// question reached a terminal state between the timer firing and the lock
// being taken, that state wins.
func (m *Manager) timeoutQuestion(questionID string) AnswerResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.lookupQuestion(questionID)
	if q == nil {
		return AnswerResult{Status: StatusCancelled}
	}
	if q.Status.Terminal() {
		return resultFor(q)
	}
	q.Status = StatusTimeout
	if m.observer != nil {
		m.observer.QuestionResolved(StatusTimeout)
	}
	return AnswerResult{Status: StatusTimeout}
}

// GetNextAnswer returns an answered-but-unretrieved question from the
// session in answer-arrival order, marking it retrieved. With none available
// it reports pending (or blocks for the next answer) while any question is
// still open, and none_pending once nothing remains. A session-level timeout
// reports NextTimeout without mutating any question.
func (m *Manager) GetNextAnswer(ctx context.Context, sessionID string, block bool, timeout time.Duration) (NextResult, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return NextResult{}, ErrSessionNotFound
	}
	if res, ok := takeNextRetrieved(sess); ok {
		m.mu.Unlock()
		return res, nil
	}
	if sess.pendingCount() == 0 {
		m.mu.Unlock()
		return NextResult{Status: NextNone}, nil
	}
	if !block {
		m.mu.Unlock()
		return NextResult{Status: NextPending}, nil
	}

	ch := make(chan answeredEvent, 1)
	cancelWait := m.answerWaiters.Register(sessionID, func(ev answeredEvent) { ch <- ev })
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return NextResult{Status: NextAnswered, Question: &ev.question, Answer: ev.answer}, nil
	case <-ctx.Done():
		if !cancelWait() {
			select {
			case ev := <-ch:
				return NextResult{Status: NextAnswered, Question: &ev.question, Answer: ev.answer}, nil
			default:
			}
		}
		return NextResult{}, ctx.Err()
	case <-timer.C:
		if !cancelWait() {
			select {
			case ev := <-ch:
				return NextResult{Status: NextAnswered, Question: &ev.question, Answer: ev.answer}, nil
			default:
			}
		}
		// A session-level wait timing out does not mutate any question.
		return NextResult{Status: NextTimeout}, nil
	}
}

// takeNextRetrieved pops the earliest answered-but-unretrieved question in
// answer-arrival order. Caller holds m.mu.
func takeNextRetrieved(sess *session) (NextResult, bool) {
	for _, qid := range sess.answerOrder {
		q := sess.questions[qid]
		if q == nil || q.Status != StatusAnswered || q.retrieved {
			continue
		}
		q.retrieved = true
		s := q.summary()
		return NextResult{Status: NextAnswered, Question: &s, Answer: q.Answer}, true
	}
	return NextResult{}, false
}

// CancelQuestion transitions a pending question to cancelled, notifies the
// client, and resolves every blocked GetAnswer caller with the cancellation.
// It reports false for unknown ids and questions already terminal.
func (m *Manager) CancelQuestion(questionID string) bool {
	m.mu.Lock()
	q := m.lookupQuestion(questionID)
	if q == nil || q.Status != StatusPending {
		m.mu.Unlock()
		return false
	}
	q.Status = StatusCancelled
	sess := m.sessions[q.SessionID]
	var ts Transport
	if sess != nil {
		ts = sess.transport
	}
	m.questionWaiters.NotifyAll(questionID, AnswerResult{Status: StatusCancelled})
	m.mu.Unlock()

	if ts != nil && ts.Connected() {
		if err := ts.SendCancel(questionID); err != nil {
			m.log.Printf("send cancel for %s: %v", questionID, err)
		}
	}
	if m.observer != nil {
		m.observer.QuestionResolved(StatusCancelled)
	}
	return true
}

// ListQuestions returns summaries sorted by creation time, newest first.
// sessionID narrows the listing; empty means all sessions.
func (m *Manager) ListQuestions(sessionID string) []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Summary
	if sessionID != "" {
		if sess, ok := m.sessions[sessionID]; ok {
			for _, q := range sess.questions {
				out = append(out, q.summary())
			}
		}
	} else {
		for _, sess := range m.sessions {
			for _, q := range sess.questions {
				out = append(out, q.summary())
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// EndSession tears a session down: notifies any attached client, stops the
// listener, and drops question state and outstanding question-level waiters
// without resolving them; callers blocked on this session unblock via their
// own timeouts. Returns false when the session is unknown; calling twice is
// safe.
func (m *Manager) EndSession(sessionID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	for qid := range sess.questions {
		delete(m.questionIndex, qid)
		m.questionWaiters.Clear(qid)
	}
	m.answerWaiters.Clear(sessionID)
	ts := sess.transport
	m.mu.Unlock()

	if ts != nil {
		// Best-effort teardown notifications; never propagated.
		if err := ts.SendEnd(); err != nil {
			m.log.Printf("send end for %s: %v", sessionID, err)
		}
		if err := ts.Stop(); err != nil {
			m.log.Printf("stop transport for %s: %v", sessionID, err)
		}
	}
	if m.observer != nil {
		m.observer.SessionEnded()
	}
	m.log.Printf("session %s ended", sessionID)
	return true
}

// flushBacklog forwards every still-pending question, in push order, to a
// freshly connected client. This is what makes reconnect-after-drop lossless.
func (m *Manager) flushBacklog(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	ts := sess.transport
	var backlog []*Question
	for _, qid := range sess.pushOrder {
		if q := sess.questions[qid]; q != nil && q.Status == StatusPending {
			backlog = append(backlog, q)
		}
	}
	m.mu.Unlock()

	for _, q := range backlog {
		if err := ts.SendQuestion(q.ID, string(q.Type), q.Config); err != nil {
			m.log.Printf("flush question %s: %v", q.ID, err)
			return
		}
	}
	if len(backlog) > 0 {
		m.log.Printf("session %s: flushed %d pending questions on connect", sessionID, len(backlog))
	}
}

// handleResponse applies a client response. Only a pending question may
// transition to answered; late or duplicate responses are dropped silently.
func (m *Manager) handleResponse(questionID string, answer json.RawMessage) {
	m.mu.Lock()
	q := m.lookupQuestion(questionID)
	if q == nil || q.Status != StatusPending {
		m.mu.Unlock()
		m.log.Printf("dropping response for non-pending question %s", questionID)
		return
	}
	now := time.Now()
	q.Status = StatusAnswered
	q.Answer = answer
	q.AnsweredAt = &now

	sess := m.sessions[q.SessionID]
	sess.answerOrder = append(sess.answerOrder, q.ID)

	res := resultFor(q)
	m.questionWaiters.NotifyAll(questionID, res)
	// Hand the answer to exactly one blocked session-level caller; doing the
	// retrieved-marking here, under the lock, is what makes each answer reach
	// exactly one retriever.
	if m.answerWaiters.NotifyFirst(q.SessionID, answeredEvent{question: q.summary(), answer: answer}) {
		q.retrieved = true
	}
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.QuestionResolved(StatusAnswered)
	}
}

// lookupQuestion resolves a question through the question→session index.
// Caller holds m.mu.
func (m *Manager) lookupQuestion(questionID string) *Question {
	sid, ok := m.questionIndex[questionID]
	if !ok {
		return nil
	}
	sess, ok := m.sessions[sid]
	if !ok {
		return nil
	}
	return sess.questions[questionID]
}

func resultFor(q *Question) AnswerResult {
	return AnswerResult{
		Completed:  q.Status == StatusAnswered,
		Status:     q.Status,
		Answer:     q.Answer,
		AnsweredAt: q.AnsweredAt,
	}
}
