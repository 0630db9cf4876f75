package protocol

// Message is just an alias for a slice of bytes that exposes common
// operations on Postgres' client-server protocol messages. Typed messages
// start with a single-byte type identifier followed by an Int32 length of
// the message contents (inclusive of the length itself); the startup family
// of messages is untyped and starts directly with the length.
// see: https://www.postgresql.org/docs/current/protocol-message-formats.html
// for postgres specific list of message formats
type Message []byte

// Type returns a single-char byte representing the message type. The full
// list of available types is available in the aforementioned documentation.
func (m Message) Type() byte {
	var b byte
	if len(m) > 0 {
		b = m[0]
	}
	return b
}

// Body returns the message payload, skipping the type byte and the 4-byte
// length prefix.
func (m Message) Body() []byte {
	if len(m) < 5 {
		return nil
	}
	return m[5:]
}

// IsAuthenticationRequest determines if the message is an authentication
// request ('R'), sent by the backend during the startup handshake.
func (m Message) IsAuthenticationRequest() bool {
	return m.Type() == AuthenticationRequest
}

// IsError determines if the message is an ErrorResponse
func (m Message) IsError() bool {
	return m.Type() == ErrorResponse
}

// IsNotice determines if the message is a NoticeResponse, which may arrive
// asynchronously at any point of a query cycle.
func (m Message) IsNotice() bool {
	return m.Type() == NoticeResponse
}

// IsReadyForQuery determines if the message marks the end of a request
// cycle.
func (m Message) IsReadyForQuery() bool {
	return m.Type() == ReadyForQuery
}
