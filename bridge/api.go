package bridge

import (
	"encoding/json"
	"strings"

	"github.com/lucaslimafernandes/pggo/pgwire"
)

// registry is the process-wide handle table behind the exported entry
// points.
var registry Registry

// errorPayload is the structured failure half of every boundary response.
type errorPayload struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	SQLState string `json:"sqlstate,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// Connect establishes a new connection described by conninfo and returns
// {"handle": N} or a structured error payload.
func Connect(conninfo string) []byte {
	cfg, err := pgwire.ParseConfig(conninfo)
	if err != nil {
		return errJSON(err)
	}

	conn, err := pgwire.Connect(cfg)
	if err != nil {
		return errJSON(err)
	}

	handle := registry.Register(conn)
	return okJSON(map[string]interface{}{"handle": handle})
}

// Close terminates the connection behind handle and invalidates it. A
// second close of the same handle reports InvalidHandle rather than
// touching a foreign connection.
func Close(handle uint64) []byte {
	conn, err := registry.Remove(handle)
	if err != nil {
		return errJSON(err)
	}
	if err := conn.Close(); err != nil {
		return errJSON(err)
	}
	return okJSON(map[string]interface{}{"ok": true})
}

// Execute runs sql with the JSON-encoded positional parameters and returns
// the command tag and affected-row count.
func Execute(handle uint64, sql, paramsJSON string) []byte {
	conn, err := registry.Lookup(handle)
	if err != nil {
		return errJSON(err)
	}

	params, err := parseParams(paramsJSON)
	if err != nil {
		return errJSON(pgwire.QueryErr("%v", err))
	}

	tag, err := conn.Exec(sql, params)
	if err != nil {
		return errJSON(err)
	}
	return okJSON(map[string]interface{}{
		"command_tag":   tag.String(),
		"rows_affected": tag.RowsAffected(),
	})
}

// Query runs sql with the JSON-encoded positional parameters and returns
// the columns, rows and command tag. format selects the row rendering:
// "json" produces one object per row keyed by column name; anything else
// produces positional arrays.
func Query(handle uint64, sql, paramsJSON, format string) []byte {
	conn, err := registry.Lookup(handle)
	if err != nil {
		return errJSON(err)
	}

	params, err := parseParams(paramsJSON)
	if err != nil {
		return errJSON(pgwire.QueryErr("%v", err))
	}

	res, err := conn.Query(sql, params)
	if err != nil {
		return errJSON(err)
	}

	cols := res.Columns()
	var rows interface{}
	if strings.EqualFold(format, "json") {
		rows = rowsToObjects(cols, res.Rows)
	} else {
		rows = rowsToLists(res.Rows)
	}

	return okJSON(map[string]interface{}{
		"columns":     cols,
		"rows":        rows,
		"command_tag": res.Tag.String(),
	})
}

func rowsToLists(rows [][]interface{}) [][]interface{} {
	if rows == nil {
		return [][]interface{}{}
	}
	return rows
}

func rowsToObjects(cols []string, rows [][]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]interface{}, len(row))
		for i, v := range row {
			obj[cols[i]] = v
		}
		out = append(out, obj)
	}
	return out
}

func okJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// a response we built ourselves failed to marshal; report instead
		// of handing garbage across the boundary
		return errJSON(err)
	}
	return data
}

func errJSON(err error) []byte {
	p := errorPayload{Kind: "Error", Message: err.Error()}
	if e, ok := err.(*pgwire.Error); ok {
		p.Kind = string(e.Kind())
		p.SQLState = e.SQLState()
		p.Detail = e.Detail()
		p.Hint = e.Hint()
	}

	data, mErr := json.Marshal(map[string]errorPayload{"error": p})
	if mErr != nil {
		return []byte(`{"error":{"kind":"Error","message":"failed to encode error"}}`)
	}
	return data
}
