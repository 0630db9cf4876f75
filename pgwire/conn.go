package pgwire

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lucaslimafernandes/pggo/pgwire/protocol"
)

// Status is the lifecycle state of a connection. Requests are only accepted
// in StatusIdle; the Busy state itself is what enforces the one-in-flight-
// request rule of the protocol, no external locking is involved.
type Status int

const (
	StatusConnecting Status = iota
	StatusAuthenticating
	StatusIdle
	StatusBusy
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusAuthenticating:
		return "authenticating"
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is a single client connection to a backend. It is established by
// Connect and drives the startup handshake, then serves Exec/Query
// requests strictly one at a time. A Conn is not safe for concurrent use;
// distinct connections are fully independent.
type Conn struct {
	cfg       *Config
	transport *Transport
	log       *logrus.Entry

	status   Status
	txStatus byte

	backendPID uint32
	secretKey  uint32
	params     map[string]string

	scram *scramClient

	// deadErr is the terminal failure that closed this connection. Every
	// subsequent request observes the same error without touching the
	// network again.
	deadErr *Error
}

// Connect establishes a connection described by cfg and performs the
// startup handshake: optional TLS negotiation, startup message,
// authentication, and the parameter/key-data exchange up to the first
// ReadyForQuery.
func Connect(cfg *Config) (*Conn, error) {
	log := cfg.logger().WithFields(logrus.Fields{
		"conn": uuid.New().String(),
		"host": cfg.Host,
	})

	transport, err := dialTransport(cfg, log)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:       cfg,
		transport: transport,
		log:       log,
		status:    StatusConnecting,
		txStatus:  protocol.TxIdle,
		params:    map[string]string{},
	}

	if err := c.startup(); err != nil {
		transport.Close()
		c.status = StatusClosed
		return nil, err
	}

	c.log.WithField("pid", c.backendPID).Debug("connection established")
	return c, nil
}

func (c *Conn) startup() error {
	err := c.transport.WriteMessage(protocol.StartupMessage(c.cfg.startupArgs()))
	if err != nil {
		return err
	}
	c.status = StatusAuthenticating

	authenticated := false
	for {
		m, err := c.transport.ReadMessage()
		if err != nil {
			return err
		}

		switch m.Type() {
		case protocol.AuthenticationRequest:
			authenticated, err = c.authenticate(m)
			if err != nil {
				return err
			}

		case protocol.ParameterStatus:
			name, value, err := m.ParameterStatusArgs()
			if err != nil {
				return ProtocolErr("%v", err)
			}
			c.params[name] = value

		case protocol.BackendKeyData:
			c.backendPID, c.secretKey, err = m.KeyData()
			if err != nil {
				return ProtocolErr("%v", err)
			}

		case protocol.ErrorResponse:
			return errFromMessage(m, true)

		case protocol.NoticeResponse:
			c.logNotice(m)

		case protocol.ReadyForQuery:
			if !authenticated {
				return ProtocolErr("ready for query before authentication completed")
			}
			status, err := m.ReadyStatus()
			if err != nil {
				return ProtocolErr("%v", err)
			}
			c.txStatus = status
			c.status = StatusIdle
			return nil

		default:
			// tolerate unknown messages during startup; the framing makes
			// them skippable
			c.log.WithField("type", string(m.Type())).Debug("skipping unexpected startup message")
		}
	}
}

// Close terminates the connection. A Terminate message is sent best-effort
// before the socket is released. Close is idempotent; closing an already
// failed connection is not an error.
func (c *Conn) Close() error {
	if c.status == StatusClosed {
		return nil
	}
	if c.status == StatusIdle {
		// orderly shutdown; ignore failures, the socket is going away anyway
		_ = c.transport.WriteMessage(protocol.TerminateMessage())
	}
	c.status = StatusClosed
	c.log.Debug("connection closed")
	return c.transport.Close()
}

// CancelRequest opens a dedicated throwaway stream to the backend and sends
// the cancel key obtained at startup. Delivery is best-effort: the backend
// may or may not interrupt whatever the session is running.
func (c *Conn) CancelRequest() error {
	t, err := dialTransport(c.cfg, c.log.WithField("cancel", true))
	if err != nil {
		return err
	}
	defer t.Close()
	return t.WriteMessage(protocol.CancelRequest(c.backendPID, c.secretKey))
}

// Status reports the lifecycle state of the connection.
func (c *Conn) Status() Status { return c.status }

// TxStatus reports the last transaction status indicator observed on a
// ReadyForQuery message: 'I' idle, 'T' in transaction, 'E' failed
// transaction.
func (c *Conn) TxStatus() byte { return c.txStatus }

// BackendPID reports the server process id attached to this session.
func (c *Conn) BackendPID() uint32 { return c.backendPID }

// ParameterStatus reports a run-time parameter value announced by the
// server (server_version, client_encoding, ...).
func (c *Conn) ParameterStatus(name string) string { return c.params[name] }

// startRequest transitions Idle -> Busy, refusing the request in any other
// state. The Busy state is the only guard against overlapping requests: per
// the protocol there is exactly one in-flight request per connection.
func (c *Conn) startRequest() error {
	switch c.status {
	case StatusIdle:
		c.status = StatusBusy
		return nil
	case StatusBusy:
		return ProtocolErr("connection busy with another request")
	case StatusClosed:
		if c.deadErr != nil {
			return c.deadErr
		}
		return IOErr("connection closed")
	default:
		return ProtocolErr("connection not ready (%s)", c.status)
	}
}

// fail records a fatal error, closes the transport and makes the error
// terminal: all in-flight and subsequent callers receive it.
func (c *Conn) fail(err *Error) *Error {
	if c.deadErr == nil {
		c.deadErr = err
	}
	c.status = StatusClosed
	c.transport.Close()
	c.log.WithField("kind", err.K).WithError(err).Debug("connection failed")
	return c.deadErr
}

// readMessage reads the next backend message, escalating transport and
// framing failures to terminal connection errors.
func (c *Conn) readMessage() (protocol.Message, error) {
	m, err := c.transport.ReadMessage()
	if err != nil {
		if e, ok := err.(*Error); ok && e.Fatal() {
			return nil, c.fail(e)
		}
		return nil, err
	}
	return m, nil
}

func (c *Conn) logNotice(m protocol.Message) {
	fields, err := m.ErrorFields()
	if err != nil {
		return
	}
	c.log.WithFields(logrus.Fields{
		"severity": fields['S'],
		"code":     fields['C'],
	}).Info(fields['M'])
}
