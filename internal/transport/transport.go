// Package transport serves one session's network endpoint: a static
// respondent document on plain fetch plus a websocket path exchanging
// question/answer frames with at most one live client. Disconnects do not
// touch session state; a later reconnect receives the pending backlog
// through the OnConnect hook.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/colloquy-ai/colloquy/internal/dialogue"
)

// ErrNoClient is returned by the send methods when no client is attached.
var ErrNoClient = errors.New("no client connected")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The listener only binds loopback; origin checks add nothing here.
		return true
	},
}

// Options configures a transport session.
type Options struct {
	// Host to bind; defaults to loopback. The port is always ephemeral.
	Host string
	// Document overrides the respondent page served on "/".
	Document []byte
	Logger   *log.Logger
}

// Session is one live transport endpoint. It implements dialogue.Transport.
type Session struct {
	echo       *echo.Echo
	url        string
	log        *log.Logger
	onConnect  func()
	onResponse func(questionID string, answer json.RawMessage)

	mu     sync.Mutex
	conn   *websocket.Conn
	connID string
}

type outboundQuestion struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

type outboundFrame struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Question *outboundQuestion `json:"question,omitempty"`
}

type inboundFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// Factory returns a dialogue.TransportFactory that binds a new Session per
// call with the shared options.
func Factory(opts Options) dialogue.TransportFactory {
	return func(cb dialogue.TransportCallbacks) (dialogue.Transport, error) {
		return New(opts, cb)
	}
}

// New binds an ephemeral listener and starts serving. The bind failure is
// propagated; everything after that is reported through the logger.
func New(opts Options, cb dialogue.TransportCallbacks) (*Session, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("bind transport listener: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[TRANSPORT] ", log.LstdFlags)
	}
	doc := opts.Document
	if len(doc) == 0 {
		doc = []byte(defaultDocument)
	}

	s := &Session{
		log:        logger,
		url:        fmt.Sprintf("http://%s", l.Addr().String()),
		onConnect:  cb.OnConnect,
		onResponse: cb.OnResponse,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/", func(c echo.Context) error {
		return c.HTMLBlob(http.StatusOK, doc)
	})
	e.GET("/ws", s.handleWS)
	e.Listener = l
	s.echo = e

	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("transport server at %s stopped: %v", s.url, err)
		}
	}()
	return s, nil
}

// URL returns the endpoint address for the respondent.
func (s *Session) URL() string { return s.url }

// Connected reports whether a client is currently attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// SendQuestion forwards a question frame to the attached client.
func (s *Session) SendQuestion(id string, qtype string, config json.RawMessage) error {
	return s.write(outboundFrame{
		Type:     "question",
		Question: &outboundQuestion{ID: id, Type: qtype, Config: config},
	})
}

// SendCancel tells the client a question was withdrawn.
func (s *Session) SendCancel(id string) error {
	return s.write(outboundFrame{Type: "cancel", ID: id})
}

// SendEnd tells the client the session is over.
func (s *Session) SendEnd() error {
	return s.write(outboundFrame{Type: "end"})
}

// Stop closes the listener and any attached client connection.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.connID = ""
	}
	s.mu.Unlock()
	return s.echo.Close()
}

// write serializes frame writes; gorilla connections do not allow
// concurrent writers.
func (s *Session) write(f outboundFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNoClient
	}
	return s.conn.WriteJSON(f)
}

func (s *Session) handleWS(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Printf("websocket upgrade failed: %v", err)
		return err
	}
	connID := uuid.NewString()

	// A new connection simply replaces the tracked one; there is no
	// multi-client fan-out per session.
	s.mu.Lock()
	old := s.conn
	s.conn = ws
	s.connID = connID
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	s.log.Printf("client %s connected", connID)

	if s.onConnect != nil {
		s.onConnect()
	}
	s.readLoop(ws, connID)
	return nil
}

func (s *Session) readLoop(ws *websocket.Conn, connID string) {
	defer func() {
		s.mu.Lock()
		if s.connID == connID {
			s.conn = nil
			s.connID = ""
		}
		s.mu.Unlock()
		_ = ws.Close()
		s.log.Printf("client %s disconnected", connID)
	}()

	for {
		var f inboundFrame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "response":
			if f.ID == "" {
				s.log.Printf("client %s sent response without question id", connID)
				continue
			}
			if s.onResponse != nil {
				s.onResponse(f.ID, f.Answer)
			}
		case "connected":
			// Informational handshake.
			s.log.Printf("client %s handshake", connID)
		default:
			s.log.Printf("client %s sent unknown frame type %q", connID, f.Type)
		}
	}
}
