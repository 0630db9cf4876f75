package pgwire

import (
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucaslimafernandes/pggo/pgwire/protocol"
)

// maxMessageSize bounds the length prefix of an incoming message. Anything
// larger is treated as a framing violation rather than an allocation
// request.
const maxMessageSize = 1 << 26 // 64 MiB

// Transport owns the byte stream to a single backend and provides framed
// read/write of protocol messages. It is created by dialTransport and holds
// exactly one OS socket (or TLS session) for the connection's lifetime.
// Any read/write failure permanently invalidates the owning connection.
type Transport struct {
	conn      net.Conn
	log       *logrus.Entry
	ioTimeout time.Duration

	closeOnce sync.Once
}

// dialTransport opens the stream described by cfg, negotiating TLS via an
// SSLRequest when the ssl mode asks for it. The backend answers an
// SSLRequest with a single 'S' or 'N' byte before any regular framing
// starts.
func dialTransport(cfg *Config, log *logrus.Entry) (*Transport, error) {
	network, addr := cfg.Addr()

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.Dial(network, addr)
	if err != nil {
		return nil, ConnectErr("dial %s %s: %v", network, addr, err).WithCause(err)
	}

	t := &Transport{conn: conn, log: log, ioTimeout: cfg.IOTimeout}

	if cfg.SSLMode != SSLDisable && network != "unix" {
		if err := t.upgradeTLS(cfg); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *Transport) upgradeTLS(cfg *Config) error {
	if err := t.WriteMessage(protocol.SSLRequest()); err != nil {
		return ConnectErr("ssl negotiation: %v", err).WithCause(err)
	}

	resp := make([]byte, 1)
	if _, err := io.ReadFull(t.conn, resp); err != nil {
		return ConnectErr("ssl negotiation: %v", err).WithCause(err)
	}

	switch resp[0] {
	case 'S':
	case 'N':
		return ConnectErr("server refused TLS and sslmode is %q", cfg.SSLMode)
	default:
		return ProtocolErr("unexpected ssl negotiation response %q", resp[0])
	}

	tlsCfg := &tls.Config{ServerName: cfg.Host}
	if cfg.SSLMode == SSLRequire {
		tlsCfg.InsecureSkipVerify = true
	}

	tlsConn := tls.Client(t.conn, tlsCfg)
	if err := tlsConn.Handshake(); err != nil {
		return ConnectErr("tls handshake: %v", err).WithCause(err)
	}

	t.log.Debug("stream upgraded to TLS")
	t.conn = tlsConn
	return nil
}

// ReadMessage reads a single typed message from the stream: a type byte,
// an Int32 body-length (N) inclusive of the length itself, followed by N-4
// bytes of the actual body. The returned Message retains the full wire
// image including the type and length prefix.
func (t *Transport) ReadMessage() (protocol.Message, error) {
	if err := t.setDeadline(); err != nil {
		return nil, err
	}

	header := make([]byte, 5)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, t.ioErr("read message header", err)
	}

	length := int(binary.BigEndian.Uint32(header[1:5]))
	if length < 4 || length > maxMessageSize {
		return nil, ProtocolErr("invalid message length %d for type %q", length, header[0])
	}

	// rebuild the original message in its entirety: type byte, length, body
	msg := make([]byte, 1+length)
	copy(msg, header)
	if _, err := io.ReadFull(t.conn, msg[5:]); err != nil {
		return nil, t.ioErr("read message body", err)
	}
	return protocol.Message(msg), nil
}

// WriteMessage writes a single message to the stream.
func (t *Transport) WriteMessage(m protocol.Message) error {
	return t.WriteMessages(m)
}

// WriteMessages writes the provided messages back-to-back in a single
// write, which is how the extended-query batch (Parse/Bind/.../Sync) goes
// out.
func (t *Transport) WriteMessages(ms ...protocol.Message) error {
	if err := t.setDeadline(); err != nil {
		return err
	}

	var buf []byte
	for _, m := range ms {
		buf = append(buf, m...)
	}
	if _, err := t.conn.Write(buf); err != nil {
		return t.ioErr("write", err)
	}
	return nil
}

// Close releases the underlying socket. It is idempotent and safe to call
// from any state.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

// RemoteAddr reports the endpoint this transport is connected to.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *Transport) setDeadline() error {
	if t.ioTimeout == 0 {
		return nil
	}
	if err := t.conn.SetDeadline(time.Now().Add(t.ioTimeout)); err != nil {
		return t.ioErr("set deadline", err)
	}
	return nil
}

func (t *Transport) ioErr(op string, err error) *Error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return IOErr("%s: deadline exceeded", op).WithCause(err)
	}
	return IOErr("%s: %v", op, err).WithCause(err)
}
