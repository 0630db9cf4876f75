package protocol

// Frontend message types. These are the single-byte identifiers of the
// messages a client may send to the backend after startup.
// see: https://www.postgresql.org/docs/current/protocol-message-formats.html
const (
	Bind        = 'B'
	Describe    = 'D'
	Execute     = 'E'
	Flush       = 'H'
	Parse       = 'P'
	Password    = 'p'
	SimpleQuery = 'Q'
	Sync        = 'S'
	Terminate   = 'X'
)

// Backend message types. These identify the messages the server sends back
// during startup, authentication and query cycles.
const (
	AuthenticationRequest = 'R'
	BackendKeyData        = 'K'
	BindComplete          = '2'
	CloseComplete         = '3'
	CommandComplete       = 'C'
	CopyInResponse        = 'G'
	CopyOutResponse       = 'H'
	DataRow               = 'D'
	EmptyQueryResponse    = 'I'
	ErrorResponse         = 'E'
	NoData                = 'n'
	NoticeResponse        = 'N'
	NotificationResponse  = 'A'
	ParameterDescription  = 't'
	ParameterStatus       = 'S'
	ParseComplete         = '1'
	PortalSuspended       = 's'
	ReadyForQuery         = 'Z'
	RowDescription        = 'T'
)

// Authentication request codes carried in the payload of an 'R' message.
const (
	AuthOK                = 0
	AuthKerberosV5        = 2
	AuthCleartextPassword = 3
	AuthMD5Password       = 5
	AuthSCMCredential     = 6
	AuthGSS               = 7
	AuthGSSContinue       = 8
	AuthSSPI              = 9
	AuthSASL              = 10
	AuthSASLContinue      = 11
	AuthSASLFinal         = 12
)

// Transaction status indicators reported by ReadyForQuery.
const (
	TxIdle   = 'I'
	TxActive = 'T'
	TxFailed = 'E'
)

// ProtocolVersion is the only frontend/backend protocol version this
// package speaks, encoded as two consecutive 2-byte integers (3.0).
const ProtocolVersion = 196608

// Special "version numbers" used by the negotiation requests that precede
// the real startup message.
const (
	sslRequestCode    = 80877103
	cancelRequestCode = 80877102
)

// TypesOid maps between a type name to its corresponding OID
var TypesOid = map[string]uint32{
	"BOOL":        16,
	"BYTEA":       17,
	"CHAR":        18,
	"NAME":        19,
	"INT8":        20,
	"INT2":        21,
	"INT4":        23,
	"TEXT":        25,
	"OID":         26,
	"JSON":        114,
	"XML":         142,
	"FLOAT4":      700,
	"FLOAT8":      701,
	"UNKNOWN":     705,
	"BPCHAR":      1042,
	"VARCHAR":     1043,
	"DATE":        1082,
	"TIME":        1083,
	"TIMESTAMP":   1114,
	"TIMESTAMPTZ": 1184,
	"INTERVAL":    1186,
	"NUMERIC":     1700,
	"UUID":        2950,
	"JSONB":       3802,
	"ANY":         2276,
}
