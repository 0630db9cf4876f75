package pgwire

import (
	"fmt"
	"strconv"

	"github.com/jackc/pgerrcode"

	"github.com/lucaslimafernandes/pggo/pgwire/protocol"
)

// Kind partitions everything that can go wrong into the classes callers are
// expected to dispatch on. The fatal kinds (connect, auth, protocol, io)
// leave the connection closed; a query error leaves it usable.
type Kind string

const (
	KindConnect       Kind = "ConnectError"
	KindAuth          Kind = "AuthError"
	KindProtocol      Kind = "ProtocolError"
	KindIO            Kind = "IOError"
	KindQuery         Kind = "QueryError"
	KindInvalidHandle Kind = "InvalidHandle"
)

// Fatal reports whether an error of this kind invalidates the connection it
// occurred on.
func (k Kind) Fatal() bool {
	return k == KindConnect || k == KindAuth || k == KindProtocol || k == KindIO
}

// Error is the single error type surfaced by this package. Server-reported
// failures additionally carry the SQLSTATE code and the optional
// detail/hint/position fields of the ErrorResponse that produced them.
type Error struct {
	K Kind   // Kind
	M string // Message
	S string // SQLSTATE code, when reported by the server
	D string // Detail
	H string // Hint
	P int    // Position, -1 when not reported
	c error  // wrapped cause, if any
}

func (e *Error) Error() string  { return e.M }
func (e *Error) Kind() Kind     { return e.K }
func (e *Error) SQLState() string { return e.S }
func (e *Error) Detail() string { return e.D }
func (e *Error) Hint() string   { return e.H }
func (e *Error) Position() int  { return e.P }
func (e *Error) Unwrap() error  { return e.c }

// Fatal reports whether this error invalidates the connection it occurred
// on.
func (e *Error) Fatal() bool { return e.K.Fatal() }

func (e *Error) WithCause(err error) *Error { e.c = err; return e }
func (e *Error) WithDetail(detail string, args ...interface{}) *Error {
	e.D = fmt.Sprintf(detail, args...)
	return e
}
func (e *Error) WithHint(hint string, args ...interface{}) *Error {
	e.H = fmt.Sprintf(hint, args...)
	return e
}

// ConnectErr indicates that a connection could not be established: bad
// endpoint, dial failure, TLS negotiation failure or a server rejection
// during startup.
func ConnectErr(msg string, args ...interface{}) *Error {
	return &Error{K: KindConnect, M: fmt.Sprintf(msg, args...), P: -1}
}

// AuthErr indicates rejected credentials or an authentication mechanism the
// client does not implement.
func AuthErr(msg string, args ...interface{}) *Error {
	return &Error{K: KindAuth, M: fmt.Sprintf(msg, args...), P: -1}
}

// ProtocolErr indicates a malformed or out-of-order message; the framing
// can no longer be trusted so the connection is closed.
func ProtocolErr(msg string, args ...interface{}) *Error {
	return &Error{K: KindProtocol, M: fmt.Sprintf(msg, args...), P: -1}
}

// IOErr indicates a transport read/write failure or an expired deadline.
func IOErr(msg string, args ...interface{}) *Error {
	return &Error{K: KindIO, M: fmt.Sprintf(msg, args...), P: -1}
}

// QueryErr indicates a request that failed without invalidating the
// connection, such as parameters that cannot be serialized.
func QueryErr(msg string, args ...interface{}) *Error {
	return &Error{K: KindQuery, M: fmt.Sprintf(msg, args...), P: -1}
}

// InvalidHandleErr indicates an operation on an unknown or already-closed
// handle. It is purely local and carries no connection impact.
func InvalidHandleErr(handle uint64) *Error {
	return &Error{K: KindInvalidHandle, M: fmt.Sprintf("invalid handle %d", handle), P: -1}
}

// serverErr maps the field set of an ErrorResponse to an *Error. During a
// query cycle every server error is a QueryError; during startup the
// authentication SQLSTATE classes are folded into AuthError so that a bad
// password is distinguishable from an unreachable server.
func serverErr(fields map[byte]string, startup bool) *Error {
	e := &Error{K: KindQuery, M: fields['M'], S: fields['C'], D: fields['D'], H: fields['H'], P: -1}
	if p, err := strconv.Atoi(fields['P']); err == nil {
		e.P = p
	}

	if startup {
		switch e.S {
		case pgerrcode.InvalidPassword, pgerrcode.InvalidAuthorizationSpecification:
			e.K = KindAuth
		default:
			e.K = KindConnect
		}
	}
	return e
}

// errFromMessage parses an ErrorResponse message into an *Error, falling
// back to a protocol error when the payload cannot be parsed.
func errFromMessage(m protocol.Message, startup bool) *Error {
	fields, err := m.ErrorFields()
	if err != nil {
		return ProtocolErr("malformed error response: %v", err)
	}
	return serverErr(fields, startup)
}
