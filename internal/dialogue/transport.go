package dialogue

import "encoding/json"

// Transport is the network-facing half of a session: one endpoint serving
// the respondent document and exchanging question/answer frames with at most
// one live client. The manager never assumes a concrete implementation so
// tests can substitute an in-process fake.
type Transport interface {
	// URL is the address the respondent opens in a browser.
	URL() string
	// Connected reports whether a client is currently attached.
	Connected() bool
	// SendQuestion forwards a question frame to the attached client.
	SendQuestion(id string, qtype string, config json.RawMessage) error
	// SendCancel tells the client a question was withdrawn.
	SendCancel(id string) error
	// SendEnd tells the client the session is over.
	SendEnd() error
	// Stop closes the listener. Session state survives independently.
	Stop() error
}

// TransportCallbacks are the hooks a transport fires into the coordinator.
type TransportCallbacks struct {
	// OnConnect fires each time a client attaches, including reconnects.
	OnConnect func()
	// OnResponse fires for every response frame; the answer payload is
	// opaque to the transport.
	OnResponse func(questionID string, answer json.RawMessage)
}

// TransportFactory binds a new transport endpoint for one session. A bind
// failure is the only hard failure of session creation.
type TransportFactory func(cb TransportCallbacks) (Transport, error)
