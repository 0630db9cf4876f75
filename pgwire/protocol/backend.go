package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Field describes a single column of an incoming row set, as delivered by a
// RowDescription message.
type Field struct {
	Name     string
	TableOID uint32
	AttrNum  uint16
	TypeOID  uint32
	TypeSize int16
	TypeMod  int32
	Format   uint16
}

// AuthCode returns the authentication request code carried by an 'R'
// message. The code selects the mechanism the backend expects the client to
// satisfy (0 meaning the client is already authenticated).
func (m Message) AuthCode() (uint32, error) {
	if m.Type() != AuthenticationRequest {
		return 0, fmt.Errorf("not an authentication request message: %q", m.Type())
	}
	if len(m) < 9 {
		return 0, fmt.Errorf("authentication request too short: %d bytes", len(m))
	}
	return binary.BigEndian.Uint32(m[5:9]), nil
}

// MD5Salt returns the 4-byte salt of an AuthenticationMD5Password request.
func (m Message) MD5Salt() ([4]byte, error) {
	var salt [4]byte
	code, err := m.AuthCode()
	if err != nil {
		return salt, err
	}
	if code != AuthMD5Password || len(m) < 13 {
		return salt, fmt.Errorf("not an MD5 password request")
	}
	copy(salt[:], m[9:13])
	return salt, nil
}

// SASLMechanisms returns the list of SASL mechanism names advertised by an
// AuthenticationSASL request, in the backend's order of preference.
func (m Message) SASLMechanisms() ([]string, error) {
	code, err := m.AuthCode()
	if err != nil {
		return nil, err
	}
	if code != AuthSASL {
		return nil, fmt.Errorf("not a SASL authentication request")
	}

	var mechanisms []string
	buff := m[9:]
	for len(buff) > 0 {
		idx := bytes.IndexByte(buff, 0)
		if idx <= 0 {
			break // final terminator (or malformed trailer), we're done.
		}
		mechanisms = append(mechanisms, string(buff[:idx]))
		buff = buff[idx+1:]
	}
	return mechanisms, nil
}

// SASLData returns the mechanism-specific payload of an
// AuthenticationSASLContinue or AuthenticationSASLFinal request.
func (m Message) SASLData() ([]byte, error) {
	code, err := m.AuthCode()
	if err != nil {
		return nil, err
	}
	if code != AuthSASLContinue && code != AuthSASLFinal {
		return nil, fmt.Errorf("not a SASL continuation request: code %d", code)
	}
	return m[9:], nil
}

// ParameterStatusArgs returns the name/value pair reported by a
// ParameterStatus ('S') message. The backend reports these at startup and
// whenever a run-time parameter it considers interesting changes.
func (m Message) ParameterStatusArgs() (name, value string, err error) {
	if m.Type() != ParameterStatus {
		return "", "", fmt.Errorf("not a parameter status message: %q", m.Type())
	}

	buff := m.Body()
	idx := bytes.IndexByte(buff, 0)
	if idx == -1 {
		return "", "", fmt.Errorf("malformed parameter status message")
	}
	name = string(buff[:idx])

	buff = buff[idx+1:]
	idx = bytes.IndexByte(buff, 0)
	if idx == -1 {
		return "", "", fmt.Errorf("malformed parameter status message")
	}
	return name, string(buff[:idx]), nil
}

// KeyData returns the backend process ID and the secret key delivered by a
// BackendKeyData ('K') message. The pair is later required to issue a
// cancel request for this session.
func (m Message) KeyData() (pid, secret uint32, err error) {
	if m.Type() != BackendKeyData {
		return 0, 0, fmt.Errorf("not a backend key data message: %q", m.Type())
	}
	if len(m) < 13 {
		return 0, 0, fmt.Errorf("backend key data too short: %d bytes", len(m))
	}
	pid = binary.BigEndian.Uint32(m[5:9])
	secret = binary.BigEndian.Uint32(m[9:13])
	return pid, secret, nil
}

// RowDescriptionFields parses a RowDescription ('T') message into the
// ordered list of column descriptors the subsequent DataRow messages align
// to.
func (m Message) RowDescriptionFields() ([]Field, error) {
	if m.Type() != RowDescription {
		return nil, fmt.Errorf("not a row description message: %q", m.Type())
	}

	buff := m.Body()
	if len(buff) < 2 {
		return nil, fmt.Errorf("malformed row description message")
	}
	count := int(binary.BigEndian.Uint16(buff[:2]))
	buff = buff[2:]

	fields := make([]Field, 0, count)
	for i := 0; i < count; i++ {
		idx := bytes.IndexByte(buff, 0)
		if idx == -1 || len(buff) < idx+1+18 {
			return nil, fmt.Errorf("malformed row description field %d", i)
		}
		f := Field{Name: string(buff[:idx])}
		buff = buff[idx+1:]

		f.TableOID = binary.BigEndian.Uint32(buff[0:4])
		f.AttrNum = binary.BigEndian.Uint16(buff[4:6])
		f.TypeOID = binary.BigEndian.Uint32(buff[6:10])
		f.TypeSize = int16(binary.BigEndian.Uint16(buff[10:12]))
		f.TypeMod = int32(binary.BigEndian.Uint32(buff[12:16]))
		f.Format = binary.BigEndian.Uint16(buff[16:18])
		buff = buff[18:]

		fields = append(fields, f)
	}
	return fields, nil
}

// DataRowValues parses a DataRow ('D') message into its raw column values.
// A column sent with length -1 represents SQL NULL and decodes as nil.
func (m Message) DataRowValues() ([][]byte, error) {
	if m.Type() != DataRow {
		return nil, fmt.Errorf("not a data row message: %q", m.Type())
	}

	buff := m.Body()
	if len(buff) < 2 {
		return nil, fmt.Errorf("malformed data row message")
	}
	count := int(binary.BigEndian.Uint16(buff[:2]))
	buff = buff[2:]

	values := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if len(buff) < 4 {
			return nil, fmt.Errorf("malformed data row column %d", i)
		}
		size := int32(binary.BigEndian.Uint32(buff[:4]))
		buff = buff[4:]

		if size < 0 {
			values = append(values, nil)
			continue
		}
		if len(buff) < int(size) {
			return nil, fmt.Errorf("malformed data row column %d", i)
		}
		v := make([]byte, size)
		copy(v, buff[:size])
		values = append(values, v)
		buff = buff[size:]
	}
	return values, nil
}

// CommandTag returns the completed-command tag of a CommandComplete ('C')
// message, e.g. "INSERT 0 1" or "SELECT 5".
func (m Message) CommandTag() (string, error) {
	if m.Type() != CommandComplete {
		return "", fmt.Errorf("not a command complete message: %q", m.Type())
	}
	buff := m.Body()
	idx := bytes.IndexByte(buff, 0)
	if idx == -1 {
		idx = len(buff)
	}
	return string(buff[:idx]), nil
}

// ReadyStatus returns the transaction status indicator of a ReadyForQuery
// ('Z') message: TxIdle, TxActive or TxFailed.
func (m Message) ReadyStatus() (byte, error) {
	if m.Type() != ReadyForQuery {
		return 0, fmt.Errorf("not a ready for query message: %q", m.Type())
	}
	if len(m) < 6 {
		return 0, fmt.Errorf("malformed ready for query message")
	}
	return m[5], nil
}

// ErrorFields parses the field list of an ErrorResponse or NoticeResponse
// into a map keyed by the single-byte field identifiers ('S' severity,
// 'C' sqlstate code, 'M' message, 'D' detail, 'H' hint, 'P' position, ...).
// see: https://www.postgresql.org/docs/current/protocol-error-fields.html
func (m Message) ErrorFields() (map[byte]string, error) {
	if !m.IsError() && !m.IsNotice() {
		return nil, fmt.Errorf("not an error or notice message: %q", m.Type())
	}

	fields := make(map[byte]string)
	buff := m.Body()
	for len(buff) > 0 && buff[0] != 0 {
		key := buff[0]
		buff = buff[1:]

		idx := bytes.IndexByte(buff, 0)
		if idx == -1 {
			break
		}
		fields[key] = string(buff[:idx])
		buff = buff[idx+1:]
	}
	return fields, nil
}
