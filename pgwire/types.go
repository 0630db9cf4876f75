package pgwire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lucaslimafernandes/pggo/pgwire/protocol"
)

// textDecoders is the decode table keyed by type OID. Every decoder takes
// the text-format wire value; OIDs absent from the table degrade to raw
// text so unknown server types never fail a decode.
var textDecoders = map[uint32]func([]byte) (interface{}, error){
	protocol.TypesOid["BOOL"]:   decodeBool,
	protocol.TypesOid["INT2"]:   decodeInt,
	protocol.TypesOid["INT4"]:   decodeInt,
	protocol.TypesOid["INT8"]:   decodeInt,
	protocol.TypesOid["OID"]:    decodeInt,
	protocol.TypesOid["FLOAT4"]: decodeFloat,
	protocol.TypesOid["FLOAT8"]: decodeFloat,
	protocol.TypesOid["BYTEA"]:  decodeBytea,
}

func decodeBool(v []byte) (interface{}, error) {
	switch string(v) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return nil, fmt.Errorf("invalid bool value %q", v)
}

func decodeInt(v []byte) (interface{}, error) {
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer value %q", v)
	}
	return n, nil
}

func decodeFloat(v []byte) (interface{}, error) {
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid float value %q", v)
	}
	return f, nil
}

// decodeBytea parses the "\x..." hex output format.
func decodeBytea(v []byte) (interface{}, error) {
	s := string(v)
	if !strings.HasPrefix(s, `\x`) {
		// escape output format; hand it back verbatim
		return s, nil
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("invalid bytea value %q", v)
	}
	return b, nil
}

// decodeRow decodes one wire row according to the row description: per
// column, the declared format (text unless binary was negotiated) and type
// OID select the decoder. NULL columns stay nil.
func decodeRow(fields []protocol.Field, raw [][]byte) ([]interface{}, error) {
	if len(fields) != len(raw) {
		return nil, fmt.Errorf("row has %d columns, description has %d", len(raw), len(fields))
	}

	row := make([]interface{}, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}

		if fields[i].Format == 1 {
			val, err := decodeBinaryValue(fields[i].TypeOID, v)
			if err != nil {
				return nil, err
			}
			row[i] = val
			continue
		}

		dec, ok := textDecoders[fields[i].TypeOID]
		if !ok {
			row[i] = string(v)
			continue
		}
		val, err := dec(v)
		if err != nil {
			return nil, err
		}
		row[i] = val
	}
	return row, nil
}

// decodeBinaryValue covers the handful of fixed-width binary encodings a
// backend may send even though this client always requests text results.
func decodeBinaryValue(oid uint32, v []byte) (interface{}, error) {
	switch oid {
	case protocol.TypesOid["BOOL"]:
		if len(v) != 1 {
			return nil, fmt.Errorf("invalid binary bool length %d", len(v))
		}
		return v[0] != 0, nil
	case protocol.TypesOid["INT2"]:
		if len(v) != 2 {
			return nil, fmt.Errorf("invalid binary int2 length %d", len(v))
		}
		return int64(int16(uint16(v[0])<<8 | uint16(v[1]))), nil
	case protocol.TypesOid["INT4"]:
		if len(v) != 4 {
			return nil, fmt.Errorf("invalid binary int4 length %d", len(v))
		}
		return int64(int32(beUint32(v))), nil
	case protocol.TypesOid["INT8"]:
		if len(v) != 8 {
			return nil, fmt.Errorf("invalid binary int8 length %d", len(v))
		}
		return int64(beUint64(v)), nil
	case protocol.TypesOid["FLOAT4"]:
		if len(v) != 4 {
			return nil, fmt.Errorf("invalid binary float4 length %d", len(v))
		}
		return float64(math.Float32frombits(beUint32(v))), nil
	case protocol.TypesOid["FLOAT8"]:
		if len(v) != 8 {
			return nil, fmt.Errorf("invalid binary float8 length %d", len(v))
		}
		return math.Float64frombits(beUint64(v)), nil
	case protocol.TypesOid["BYTEA"]:
		return append([]byte(nil), v...), nil
	default:
		return append([]byte(nil), v...), nil
	}
}

func beUint32(v []byte) uint32 {
	return uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
}

func beUint64(v []byte) uint64 {
	return uint64(beUint32(v[:4]))<<32 | uint64(beUint32(v[4:]))
}

// encodeParam serializes a single statement parameter to its text-format
// wire value. nil maps to SQL NULL (wire length -1). The accepted kinds
// cover what a JSON boundary can deliver: booleans, numbers (including
// json.Number), strings, raw bytes, and anything JSON-marshalable as a
// last resort (arrays, objects).
func encodeParam(p interface{}) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return []byte(v), nil
	case []byte:
		return []byte(`\x` + hex.EncodeToString(v)), nil
	case json.Number:
		return []byte(v.String()), nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported parameter type %T", p)
		}
		return b, nil
	}
}
