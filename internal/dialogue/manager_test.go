package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

type sentQuestion struct {
	id     string
	qtype  string
	config json.RawMessage
}

// fakeTransport stands in for the websocket session so manager behavior can
// be driven without a network.
type fakeTransport struct {
	mu        sync.Mutex
	cb        TransportCallbacks
	connected bool
	questions []sentQuestion
	cancels   []string
	ends      int
	stops     int
}

func (f *fakeTransport) URL() string { return "http://127.0.0.1:0/fake" }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendQuestion(id string, qtype string, config json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, sentQuestion{id: id, qtype: qtype, config: config})
	return nil
}

func (f *fakeTransport) SendCancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakeTransport) SendEnd() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

// connect simulates a client attaching, firing the coordinator's hook the way
// the real transport does on a websocket upgrade.
func (f *fakeTransport) connect() {
	f.mu.Lock()
	f.connected = true
	cb := f.cb
	f.mu.Unlock()
	if cb.OnConnect != nil {
		cb.OnConnect()
	}
}

// respond simulates a client answer frame.
func (f *fakeTransport) respond(questionID string, answer string) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb.OnResponse(questionID, json.RawMessage(answer))
}

func (f *fakeTransport) sentQuestionIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.questions))
	for i, q := range f.questions {
		out[i] = q.id
	}
	return out
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) new(cb TransportCallbacks) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := &fakeTransport{cb: cb, connected: true}
	f.transports = append(f.transports, ts)
	return ts, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[len(f.transports)-1]
}

func newTestManager(t *testing.T, opts Options) (*Manager, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	opts.Transport = factory.new
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return NewManager(opts), factory
}

func mustStart(t *testing.T, m *Manager, title string) StartResult {
	t.Helper()
	res, err := m.StartSession(title)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return res
}

func mustPush(t *testing.T, m *Manager, sessionID string, qtype QuestionType) string {
	t.Helper()
	qid, err := m.PushQuestion(sessionID, qtype, TextConfig("prompt", "").Raw())
	if err != nil {
		t.Fatalf("PushQuestion: %v", err)
	}
	return qid
}

func TestPushForwardsWhenConnected(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	ts := factory.last()

	qid := mustPush(t, m, sess.SessionID, TypeText)

	sent := ts.sentQuestionIDs()
	if len(sent) != 1 || sent[0] != qid {
		t.Fatalf("sent = %v, want [%s]", sent, qid)
	}
}

func TestPushUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	if _, err := m.PushQuestion("sess_missing", TypeText, nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestListQuestionsNewestFirst(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, mustPush(t, m, sess.SessionID, TypeText))
		time.Sleep(2 * time.Millisecond)
	}

	got := m.ListQuestions(sess.SessionID)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, s := range got {
		want := ids[len(ids)-1-i]
		if s.ID != want {
			t.Errorf("got[%d].ID = %s, want %s", i, s.ID, want)
		}
	}
	if all := m.ListQuestions(""); len(all) != 3 {
		t.Fatalf("all sessions len = %d, want 3", len(all))
	}
}

func TestGetAnswerNonBlocking(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeConfirm)

	res, err := m.GetAnswer(context.Background(), qid, false, 0)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if res.Status != StatusPending || res.Completed {
		t.Fatalf("res = %+v, want pending", res)
	}

	factory.last().respond(qid, `{"confirmed":true}`)

	res, err = m.GetAnswer(context.Background(), qid, false, 0)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if !res.Completed || res.Status != StatusAnswered {
		t.Fatalf("res = %+v, want answered", res)
	}
	if string(res.Answer) != `{"confirmed":true}` {
		t.Fatalf("answer = %s", res.Answer)
	}
	if res.AnsweredAt == nil {
		t.Fatal("AnsweredAt not set")
	}
}

func TestGetAnswerUnknownIsCancelled(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	res, err := m.GetAnswer(context.Background(), "q_missing", true, time.Second)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if res.Status != StatusCancelled || res.Completed {
		t.Fatalf("res = %+v, want cancelled", res)
	}
}

func TestConcurrentGetAnswerSameResult(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	const n = 16
	results := make(chan AnswerResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.GetAnswer(context.Background(), qid, true, 5*time.Second)
			if err != nil {
				t.Errorf("GetAnswer: %v", err)
				return
			}
			results <- res
		}()
	}

	time.Sleep(50 * time.Millisecond)
	factory.last().respond(qid, `{"text":"hi"}`)
	wg.Wait()
	close(results)

	count := 0
	for res := range results {
		count++
		if !res.Completed || res.Status != StatusAnswered || string(res.Answer) != `{"text":"hi"}` {
			t.Fatalf("res = %+v", res)
		}
	}
	if count != n {
		t.Fatalf("resolved %d waiters, want %d", count, n)
	}
}

func TestGetAnswerTimeout(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	start := time.Now()
	res, err := m.GetAnswer(context.Background(), qid, true, 100*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if res.Status != StatusTimeout || res.Completed {
		t.Fatalf("res = %+v, want timeout", res)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("returned after %v, before the timeout", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("returned after %v, long past the timeout", elapsed)
	}

	// Timeout is terminal: re-reading reports it without blocking.
	res, err = m.GetAnswer(context.Background(), qid, true, time.Second)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if res.Status != StatusTimeout {
		t.Fatalf("res = %+v, want timeout", res)
	}
}

func TestLateResponseDropped(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	if _, err := m.GetAnswer(context.Background(), qid, true, 50*time.Millisecond); err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	factory.last().respond(qid, `{"text":"too late"}`)

	res, err := m.GetAnswer(context.Background(), qid, false, 0)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if res.Status != StatusTimeout || res.Answer != nil {
		t.Fatalf("res = %+v, want timeout with no answer", res)
	}
}

func TestDuplicateResponseDropped(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	ts := factory.last()
	ts.respond(qid, `{"text":"first"}`)
	ts.respond(qid, `{"text":"second"}`)

	res, err := m.GetAnswer(context.Background(), qid, false, 0)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if string(res.Answer) != `{"text":"first"}` {
		t.Fatalf("answer = %s, want first response kept", res.Answer)
	}
}

func TestCancelQuestion(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	done := make(chan AnswerResult, 1)
	go func() {
		res, err := m.GetAnswer(context.Background(), qid, true, 5*time.Second)
		if err != nil {
			t.Errorf("GetAnswer: %v", err)
		}
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)

	if !m.CancelQuestion(qid) {
		t.Fatal("CancelQuestion = false, want true")
	}
	res := <-done
	if res.Status != StatusCancelled || res.Completed {
		t.Fatalf("res = %+v, want cancelled", res)
	}

	ts := factory.last()
	ts.mu.Lock()
	cancels := append([]string(nil), ts.cancels...)
	ts.mu.Unlock()
	if len(cancels) != 1 || cancels[0] != qid {
		t.Fatalf("cancels = %v, want [%s]", cancels, qid)
	}

	// Already terminal: a second cancel and an unknown id both report false.
	if m.CancelQuestion(qid) {
		t.Fatal("second CancelQuestion = true, want false")
	}
	if m.CancelQuestion("q_missing") {
		t.Fatal("CancelQuestion(unknown) = true, want false")
	}
}

func TestGetNextAnswerArrivalOrder(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")

	q1 := mustPush(t, m, sess.SessionID, TypeText)
	q2 := mustPush(t, m, sess.SessionID, TypeText)
	q3 := mustPush(t, m, sess.SessionID, TypeText)

	ts := factory.last()
	ts.respond(q3, `{"text":"three"}`)
	ts.respond(q1, `{"text":"one"}`)

	for i, want := range []string{q3, q1} {
		res, err := m.GetNextAnswer(context.Background(), sess.SessionID, false, 0)
		if err != nil {
			t.Fatalf("GetNextAnswer #%d: %v", i, err)
		}
		if res.Status != NextAnswered || res.Question == nil || res.Question.ID != want {
			t.Fatalf("#%d: res = %+v, want answered %s", i, res, want)
		}
	}

	// q2 is still open, so the session reports pending, not none_pending.
	res, err := m.GetNextAnswer(context.Background(), sess.SessionID, false, 0)
	if err != nil {
		t.Fatalf("GetNextAnswer: %v", err)
	}
	if res.Status != NextPending {
		t.Fatalf("res = %+v, want pending", res)
	}

	m.CancelQuestion(q2)
	res, err = m.GetNextAnswer(context.Background(), sess.SessionID, false, 0)
	if err != nil {
		t.Fatalf("GetNextAnswer: %v", err)
	}
	if res.Status != NextNone {
		t.Fatalf("res = %+v, want none_pending", res)
	}
}

func TestConcurrentGetNextAnswerDistinct(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")

	const n = 8
	qids := make([]string, n)
	for i := range qids {
		qids[i] = mustPush(t, m, sess.SessionID, TypeText)
	}

	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.GetNextAnswer(context.Background(), sess.SessionID, true, 5*time.Second)
			if err != nil {
				t.Errorf("GetNextAnswer: %v", err)
				return
			}
			if res.Status != NextAnswered {
				t.Errorf("res = %+v, want answered", res)
				return
			}
			results <- res.Question.ID
		}()
	}

	time.Sleep(50 * time.Millisecond)
	ts := factory.last()
	for i, qid := range qids {
		ts.respond(qid, fmt.Sprintf(`{"text":"%d"}`, i))
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Fatalf("question %s delivered to two callers", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("delivered %d distinct answers, want %d", len(seen), n)
	}
}

func TestGetNextAnswerTimeoutMutatesNothing(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	res, err := m.GetNextAnswer(context.Background(), sess.SessionID, true, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("GetNextAnswer: %v", err)
	}
	if res.Status != NextTimeout {
		t.Fatalf("res = %+v, want timeout", res)
	}

	// The session-level wait expiring leaves the question untouched.
	ans, err := m.GetAnswer(context.Background(), qid, false, 0)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if ans.Status != StatusPending {
		t.Fatalf("question status = %s, want pending", ans.Status)
	}
}

func TestGetNextAnswerUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	if _, err := m.GetNextAnswer(context.Background(), "sess_missing", false, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestBacklogFlushedOnReconnect(t *testing.T) {
	reconnects := make(chan string, 4)
	m, factory := newTestManager(t, Options{
		OnReconnect: func(sessionID, url string) { reconnects <- sessionID },
	})
	sess := mustStart(t, m, "demo")

	ts := factory.last()
	ts.mu.Lock()
	ts.connected = false
	ts.mu.Unlock()

	q1 := mustPush(t, m, sess.SessionID, TypeText)
	q2 := mustPush(t, m, sess.SessionID, TypeConfirm)

	select {
	case sid := <-reconnects:
		if sid != sess.SessionID {
			t.Fatalf("reconnect hook fired for %s, want %s", sid, sess.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("reconnect hook never fired")
	}
	if got := ts.sentQuestionIDs(); len(got) != 0 {
		t.Fatalf("sent while disconnected: %v", got)
	}

	ts.connect()

	got := ts.sentQuestionIDs()
	if len(got) != 2 || got[0] != q1 || got[1] != q2 {
		t.Fatalf("flushed = %v, want [%s %s] in push order", got, q1, q2)
	}
}

func TestEndSession(t *testing.T) {
	m, factory := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	if !m.EndSession(sess.SessionID) {
		t.Fatal("EndSession = false, want true")
	}
	if m.EndSession(sess.SessionID) {
		t.Fatal("second EndSession = true, want false")
	}

	ts := factory.last()
	ts.mu.Lock()
	ends, stops := ts.ends, ts.stops
	ts.mu.Unlock()
	if ends != 1 || stops != 1 {
		t.Fatalf("ends = %d, stops = %d, want 1 and 1", ends, stops)
	}

	// Question state is gone with the session.
	res, err := m.GetAnswer(context.Background(), qid, false, 0)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("res = %+v, want cancelled for dropped question", res)
	}
	if _, err := m.GetNextAnswer(context.Background(), sess.SessionID, false, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestEndSessionUnblocksWaitersByTimeout(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	sess := mustStart(t, m, "demo")
	qid := mustPush(t, m, sess.SessionID, TypeText)

	done := make(chan AnswerResult, 1)
	go func() {
		res, err := m.GetAnswer(context.Background(), qid, true, 200*time.Millisecond)
		if err != nil {
			t.Errorf("GetAnswer: %v", err)
		}
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)

	m.EndSession(sess.SessionID)

	select {
	case res := <-done:
		// The waiter was dropped without a result, so the caller's own
		// timeout resolves it and the question no longer exists.
		if res.Status != StatusCancelled && res.Status != StatusTimeout {
			t.Fatalf("res = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetAnswer still blocked after EndSession")
	}
}
