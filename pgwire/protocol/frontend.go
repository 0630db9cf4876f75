package protocol

import (
	"github.com/jackc/pgio"
)

// StartupMessage is the first message a client sends after the stream is
// established (and possibly TLS-upgraded). It is untyped: an Int32 length,
// the protocol version, and a set of NULL-terminated key/value pairs
// (user, database, etc.) closed by a final NULL.
func StartupMessage(args map[string]string) Message {
	msg := make([]byte, 4)
	msg = pgio.AppendUint32(msg, ProtocolVersion)

	for k, v := range args {
		msg = append(msg, k...)
		msg = append(msg, 0)
		msg = append(msg, v...)
		msg = append(msg, 0)
	}
	msg = append(msg, 0)

	pgio.SetInt32(msg, int32(len(msg)))
	return msg
}

// SSLRequest asks the backend to upgrade the stream to TLS before startup.
// The backend answers with a single 'S' or 'N' byte rather than a regular
// message.
func SSLRequest() Message {
	msg := make([]byte, 0, 8)
	msg = pgio.AppendInt32(msg, 8)
	msg = pgio.AppendUint32(msg, sslRequestCode)
	return msg
}

// CancelRequest is sent over a dedicated connection to ask the backend to
// cancel the query currently running on the session identified by the
// provided process ID and secret key.
func CancelRequest(pid, secret uint32) Message {
	msg := make([]byte, 0, 16)
	msg = pgio.AppendInt32(msg, 16)
	msg = pgio.AppendUint32(msg, cancelRequestCode)
	msg = pgio.AppendUint32(msg, pid)
	msg = pgio.AppendUint32(msg, secret)
	return msg
}

// PasswordMessage carries a password response during authentication. The
// same 'p' message is used for cleartext and MD5 answers; only the payload
// differs.
func PasswordMessage(password string) Message {
	msg := []byte{Password}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, password...)
	msg = append(msg, 0)

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// SASLInitialResponse opens a SASL authentication exchange, naming the
// selected mechanism and carrying the client-first message.
func SASLInitialResponse(mechanism string, data []byte) Message {
	msg := []byte{Password}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, mechanism...)
	msg = append(msg, 0)
	msg = pgio.AppendInt32(msg, int32(len(data)))
	msg = append(msg, data...)

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// SASLResponse carries a follow-up client message of an ongoing SASL
// exchange.
func SASLResponse(data []byte) Message {
	msg := []byte{Password}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, data...)

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// QueryMessage carries a raw SQL text over the simple-query protocol.
func QueryMessage(sql string) Message {
	msg := []byte{SimpleQuery}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, sql...)
	msg = append(msg, 0)

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// ParseMessage asks the backend to parse sql into a prepared statement with
// the given name (empty for the unnamed statement). Parameter type OIDs may
// be left zero to let the backend infer them.
func ParseMessage(name, sql string, paramOIDs []uint32) Message {
	msg := []byte{Parse}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, name...)
	msg = append(msg, 0)
	msg = append(msg, sql...)
	msg = append(msg, 0)
	msg = pgio.AppendUint16(msg, uint16(len(paramOIDs)))
	for _, oid := range paramOIDs {
		msg = pgio.AppendUint32(msg, oid)
	}

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// BindMessage binds parameter values to a prepared statement, producing a
// portal. All parameters are sent in the text format; a nil value is
// encoded with length -1, representing SQL NULL. Result columns are
// requested in the text format as well (an empty result-format list).
func BindMessage(portal, statement string, params [][]byte) Message {
	msg := []byte{Bind}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, portal...)
	msg = append(msg, 0)
	msg = append(msg, statement...)
	msg = append(msg, 0)

	// parameter format codes; none means every parameter is text
	msg = pgio.AppendUint16(msg, 0)

	msg = pgio.AppendUint16(msg, uint16(len(params)))
	for _, p := range params {
		if p == nil {
			msg = pgio.AppendInt32(msg, -1)
			continue
		}
		msg = pgio.AppendInt32(msg, int32(len(p)))
		msg = append(msg, p...)
	}

	// result format codes; none means every column is text
	msg = pgio.AppendUint16(msg, 0)

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// DescribeMessage requests the description of a prepared statement ('S') or
// a portal ('P'), producing a RowDescription (or NoData) response.
func DescribeMessage(objectType byte, name string) Message {
	msg := []byte{Describe}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, objectType)
	msg = append(msg, name...)
	msg = append(msg, 0)

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// ExecuteMessage runs a bound portal. A maxRows of zero means no limit.
func ExecuteMessage(portal string, maxRows uint32) Message {
	msg := []byte{Execute}
	sp := len(msg)
	msg = pgio.AppendInt32(msg, -1)
	msg = append(msg, portal...)
	msg = append(msg, 0)
	msg = pgio.AppendUint32(msg, maxRows)

	pgio.SetInt32(msg[sp:], int32(len(msg[sp:])))
	return msg
}

// SyncMessage closes an extended-query cycle, asking the backend to issue
// ReadyForQuery once everything before it has been processed.
func SyncMessage() Message {
	return Message{Sync, 0, 0, 0, 4}
}

// TerminateMessage announces an orderly shutdown of the session.
func TerminateMessage() Message {
	return Message{Terminate, 0, 0, 0, 4}
}
