package pgwire

import (
	"strconv"
	"strings"

	"github.com/lucaslimafernandes/pggo/pgwire/protocol"
)

// CommandTag is the completion tag attached to every finished command,
// e.g. "INSERT 0 1" or "SELECT 5".
type CommandTag struct {
	Raw string
}

// RowsAffected extracts the affected-row count from the tag. Tags without a
// count (SET, BEGIN, CREATE TABLE, ...) report zero.
func (t CommandTag) RowsAffected() int64 {
	idx := strings.LastIndexByte(t.Raw, ' ')
	if idx == -1 {
		return 0
	}
	n, err := strconv.ParseInt(t.Raw[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Kind returns the command word of the tag (INSERT, UPDATE, SELECT, ...).
func (t CommandTag) Kind() string {
	if idx := strings.IndexByte(t.Raw, ' '); idx != -1 {
		return t.Raw[:idx]
	}
	return t.Raw
}

func (t CommandTag) String() string { return t.Raw }

// Result is the complete, immutable outcome of a query: the row
// description, the decoded rows aligned to it, and the command tag. It is
// fully materialized before Query returns; a multi-statement simple query
// accumulates all row groups and keeps the last tag.
type Result struct {
	Fields []protocol.Field
	Rows   [][]interface{}
	Tag    CommandTag
}

// Columns returns the column names of the row description, in order.
func (r *Result) Columns() []string {
	cols := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Exec runs sql and returns its command tag without materializing rows.
// With an empty params it uses the simple-query protocol; otherwise the
// extended parse/bind/execute cycle with the values bound positionally to
// the $1..$n placeholders.
func (c *Conn) Exec(sql string, params []interface{}) (CommandTag, error) {
	res, err := c.run(sql, params, false)
	if err != nil {
		return CommandTag{}, err
	}
	return res.Tag, nil
}

// Query runs sql and returns the full result set plus the command tag.
// Protocol selection follows the same rule as Exec.
func (c *Conn) Query(sql string, params []interface{}) (*Result, error) {
	return c.run(sql, params, true)
}

func (c *Conn) run(sql string, params []interface{}, wantRows bool) (*Result, error) {
	if err := c.startRequest(); err != nil {
		return nil, err
	}

	var res *Result
	var err error
	if len(params) == 0 {
		err = c.transport.WriteMessage(protocol.QueryMessage(sql))
	} else {
		err = c.sendExtended(sql, params)
	}
	if err != nil {
		if e, ok := err.(*Error); ok && e.Fatal() {
			return nil, c.fail(e)
		}
		c.status = StatusIdle
		return nil, err
	}

	res, err = c.collectResults(wantRows)
	if c.status == StatusBusy {
		c.status = StatusIdle
	}
	return res, err
}

// sendExtended writes the whole extended-query batch in one go: parse the
// unnamed statement, bind the unnamed portal with text-format values,
// describe the portal, execute without a row limit, and sync.
func (c *Conn) sendExtended(sql string, params []interface{}) error {
	values := make([][]byte, len(params))
	for i, p := range params {
		v, err := encodeParam(p)
		if err != nil {
			return QueryParamErr(i+1, err)
		}
		values[i] = v
	}

	return c.transport.WriteMessages(
		protocol.ParseMessage("", sql, nil),
		protocol.BindMessage("", "", values),
		protocol.DescribeMessage('P', ""),
		protocol.ExecuteMessage("", 0),
		protocol.SyncMessage(),
	)
}

// collectResults consumes backend messages until ReadyForQuery, assembling
// the result. On a server error it keeps draining so the connection ends
// the cycle in a usable state, then surfaces the error.
func (c *Conn) collectResults(wantRows bool) (*Result, error) {
	res := &Result{}
	var qerr *Error

	for {
		m, err := c.readMessage()
		if err != nil {
			return nil, err
		}

		switch m.Type() {
		case protocol.ReadyForQuery:
			status, err := m.ReadyStatus()
			if err != nil {
				return nil, c.fail(ProtocolErr("%v", err))
			}
			c.txStatus = status
			if qerr != nil {
				return nil, qerr
			}
			return res, nil

		case protocol.ErrorResponse:
			// the request is aborted, but control returns only after the
			// backend reports ReadyForQuery, keeping the stream in sync
			if qerr == nil {
				qerr = errFromMessage(m, false)
			}

		case protocol.RowDescription:
			fields, err := m.RowDescriptionFields()
			if err != nil {
				return nil, c.fail(ProtocolErr("%v", err))
			}
			res.Fields = fields

		case protocol.DataRow:
			if qerr != nil || !wantRows {
				continue
			}
			raw, err := m.DataRowValues()
			if err != nil {
				return nil, c.fail(ProtocolErr("%v", err))
			}
			row, err := decodeRow(res.Fields, raw)
			if err != nil {
				return nil, c.fail(ProtocolErr("%v", err))
			}
			res.Rows = append(res.Rows, row)

		case protocol.CommandComplete:
			tag, err := m.CommandTag()
			if err != nil {
				return nil, c.fail(ProtocolErr("%v", err))
			}
			res.Tag = CommandTag{Raw: tag}

		case protocol.EmptyQueryResponse:
			res.Tag = CommandTag{}

		case protocol.ParseComplete, protocol.BindComplete, protocol.CloseComplete,
			protocol.NoData, protocol.PortalSuspended, protocol.ParameterDescription:
			// bookkeeping acknowledgements of the extended-query cycle

		case protocol.ParameterStatus:
			name, value, err := m.ParameterStatusArgs()
			if err == nil {
				c.params[name] = value
			}

		case protocol.NoticeResponse:
			c.logNotice(m)

		case protocol.NotificationResponse:
			// LISTEN/NOTIFY payloads are outside this client's scope

		case protocol.CopyInResponse, protocol.CopyOutResponse:
			return nil, c.fail(ProtocolErr("COPY is not supported"))

		default:
			// unknown message tags are skipped for forward compatibility;
			// their length framing already consumed the payload
			c.log.WithField("type", string(m.Type())).Debug("skipping unknown message")
		}
	}
}

// QueryParamErr builds the error for a parameter that cannot be encoded.
func QueryParamErr(position int, err error) *Error {
	return &Error{
		K: KindQuery,
		M: "cannot encode parameter $" + strconv.Itoa(position) + ": " + err.Error(),
		P: -1,
		c: err,
	}
}
