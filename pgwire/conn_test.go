package pgwire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

// startServer runs a scripted backend on a loopback listener. The script
// drives one accepted connection through pgproto3, the reference codec, so
// every exchange is validated against an independent implementation of the
// wire format. Script failures surface through the returned channel.
func startServer(t *testing.T, script func(be *pgproto3.Backend) error) (conninfo string, errc chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	errc = make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errc <- err
			return
		}
		defer conn.Close()
		errc <- script(pgproto3.NewBackend(conn, conn))
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	conninfo = fmt.Sprintf("host=127.0.0.1 port=%d user=u password=pw dbname=db sslmode=disable", port)
	return conninfo, errc
}

func acceptStartup(be *pgproto3.Backend) (*pgproto3.StartupMessage, error) {
	m, err := be.ReceiveStartupMessage()
	if err != nil {
		return nil, err
	}
	startup, ok := m.(*pgproto3.StartupMessage)
	if !ok {
		return nil, fmt.Errorf("expected startup message, got %T", m)
	}
	return startup, nil
}

func finishStartup(be *pgproto3.Backend) error {
	be.Send(&pgproto3.AuthenticationOk{})
	be.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.2"})
	be.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	be.Send(&pgproto3.BackendKeyData{ProcessID: 4242, SecretKey: 1717})
	be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return be.Flush()
}

func connectTo(t *testing.T, conninfo string) *Conn {
	t.Helper()

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)
	cfg.Logger = nil

	conn, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnectTrust(t *testing.T) {
	startups := make(chan *pgproto3.StartupMessage, 1)
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		startup, err := acceptStartup(be)
		if err != nil {
			return err
		}
		startups <- startup
		if err := finishStartup(be); err != nil {
			return err
		}

		// an orderly close ends with a Terminate message
		m, err := be.Receive()
		if err != nil {
			return err
		}
		if _, ok := m.(*pgproto3.Terminate); !ok {
			return fmt.Errorf("expected terminate, got %T", m)
		}
		return nil
	})

	conn := connectTo(t, conninfo)

	startup := <-startups
	require.Equal(t, uint32(196608), startup.ProtocolVersion)
	require.Equal(t, "u", startup.Parameters["user"])
	require.Equal(t, "db", startup.Parameters["database"])

	require.Equal(t, StatusIdle, conn.Status())
	require.Equal(t, byte('I'), conn.TxStatus())
	require.Equal(t, uint32(4242), conn.BackendPID())
	require.Equal(t, "16.2", conn.ParameterStatus("server_version"))
	require.Equal(t, "UTF8", conn.ParameterStatus("client_encoding"))

	require.NoError(t, conn.Close())
	require.NoError(t, <-errc)
	require.Equal(t, StatusClosed, conn.Status())

	// Close is idempotent
	require.NoError(t, conn.Close())
}

func TestConnectCleartextPassword(t *testing.T) {
	passwords := make(chan string, 1)
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}

		be.Send(&pgproto3.AuthenticationCleartextPassword{})
		if err := be.Flush(); err != nil {
			return err
		}

		be.SetAuthType(pgproto3.AuthTypeCleartextPassword)
		m, err := be.Receive()
		if err != nil {
			return err
		}
		pm, ok := m.(*pgproto3.PasswordMessage)
		if !ok {
			return fmt.Errorf("expected password message, got %T", m)
		}
		passwords <- pm.Password
		return finishStartup(be)
	})

	conn := connectTo(t, conninfo)
	require.Equal(t, StatusIdle, conn.Status())
	require.Equal(t, "pw", <-passwords)

	conn.Close()
	require.NoError(t, <-errc)
}

func TestConnectMD5Password(t *testing.T) {
	salt := [4]byte{0xde, 0xad, 0xbe, 0xef}

	passwords := make(chan string, 1)
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}

		be.Send(&pgproto3.AuthenticationMD5Password{Salt: salt})
		if err := be.Flush(); err != nil {
			return err
		}

		be.SetAuthType(pgproto3.AuthTypeMD5Password)
		m, err := be.Receive()
		if err != nil {
			return err
		}
		pm, ok := m.(*pgproto3.PasswordMessage)
		if !ok {
			return fmt.Errorf("expected password message, got %T", m)
		}
		passwords <- pm.Password
		return finishStartup(be)
	})

	conn := connectTo(t, conninfo)
	require.Equal(t, StatusIdle, conn.Status())
	require.Equal(t, md5Response("u", "pw", salt), <-passwords)

	conn.Close()
	require.NoError(t, <-errc)
}

// scramServerScript implements the backend side of SCRAM-SHA-256 for the
// configured password, verifying the client proof the same way a real
// server would.
func scramServerScript(password string) func(be *pgproto3.Backend) error {
	return func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}

		be.Send(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{"SCRAM-SHA-256"}})
		if err := be.Flush(); err != nil {
			return err
		}

		be.SetAuthType(pgproto3.AuthTypeSASL)
		m, err := be.Receive()
		if err != nil {
			return err
		}
		initial, ok := m.(*pgproto3.SASLInitialResponse)
		if !ok {
			return fmt.Errorf("expected SASL initial response, got %T", m)
		}
		if initial.AuthMechanism != "SCRAM-SHA-256" {
			return fmt.Errorf("unexpected mechanism %q", initial.AuthMechanism)
		}

		clientFirst := string(initial.Data)
		if !strings.HasPrefix(clientFirst, "n,,") {
			return fmt.Errorf("missing GS2 header in %q", clientFirst)
		}
		clientFirstBare := clientFirst[3:]
		attrs, err := parseScramAttrs(clientFirstBare)
		if err != nil {
			return err
		}

		salt := []byte("0123456789abcdef")
		const iterations = 4096
		serverNonce := attrs["r"] + "3rfcNHYJY1ZVvWVs7j"
		serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d",
			serverNonce, base64.StdEncoding.EncodeToString(salt), iterations)

		be.Send(&pgproto3.AuthenticationSASLContinue{Data: []byte(serverFirst)})
		if err := be.Flush(); err != nil {
			return err
		}

		be.SetAuthType(pgproto3.AuthTypeSASLContinue)
		m, err = be.Receive()
		if err != nil {
			return err
		}
		resp, ok := m.(*pgproto3.SASLResponse)
		if !ok {
			return fmt.Errorf("expected SASL response, got %T", m)
		}

		clientFinal := string(resp.Data)
		finalAttrs, err := parseScramAttrs(clientFinal)
		if err != nil {
			return err
		}
		if finalAttrs["r"] != serverNonce {
			return fmt.Errorf("nonce mismatch in client final %q", clientFinal)
		}
		proof, err := base64.StdEncoding.DecodeString(finalAttrs["p"])
		if err != nil {
			return err
		}

		withoutProof := clientFinal[:strings.LastIndex(clientFinal, ",p=")]
		authMessage := clientFirstBare + "," + serverFirst + "," + withoutProof

		salted := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
		clientKey := scramHMAC(salted, "Client Key")
		storedKey := sha256.Sum256(clientKey)
		signature := scramHMAC(storedKey[:], authMessage)

		recovered := make([]byte, len(proof))
		for i := range proof {
			recovered[i] = proof[i] ^ signature[i]
		}
		if !hmac.Equal(recovered, clientKey) {
			return fmt.Errorf("client proof verification failed")
		}

		serverKey := scramHMAC(salted, "Server Key")
		serverSignature := scramHMAC(serverKey, authMessage)
		be.Send(&pgproto3.AuthenticationSASLFinal{
			Data: []byte("v=" + base64.StdEncoding.EncodeToString(serverSignature)),
		})
		if err := finishStartup(be); err != nil {
			return err
		}
		return nil
	}
}

func TestConnectSCRAM(t *testing.T) {
	conninfo, errc := startServer(t, scramServerScript("pw"))

	conn := connectTo(t, conninfo)
	require.Equal(t, StatusIdle, conn.Status())

	conn.Close()
	require.NoError(t, <-errc)
}

func TestConnectSCRAMForeignNonce(t *testing.T) {
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}

		be.Send(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{"SCRAM-SHA-256"}})
		if err := be.Flush(); err != nil {
			return err
		}

		be.SetAuthType(pgproto3.AuthTypeSASL)
		if _, err := be.Receive(); err != nil {
			return err
		}

		be.Send(&pgproto3.AuthenticationSASLContinue{
			Data: []byte("r=whatever,s=MDEyMzQ1Njc4OWFiY2RlZg==,i=4096"),
		})
		return be.Flush()
	})

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)

	// a nonce the client did not choose means a man in the middle
	_, err = Connect(cfg)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindAuth, e.Kind())
	require.Contains(t, e.Error(), "nonce")
	<-errc
}

func TestConnectUnsupportedSASLMechanism(t *testing.T) {
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}
		be.Send(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{"SCRAM-SHA-256-PLUS"}})
		return be.Flush()
	})

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)

	_, err = Connect(cfg)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindAuth, e.Kind())
	require.Contains(t, e.Error(), "unsupported SASL mechanisms")
	<-errc
}

func TestConnectUnsupportedAuthCode(t *testing.T) {
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}
		be.Send(&pgproto3.AuthenticationGSS{})
		return be.Flush()
	})

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)

	_, err = Connect(cfg)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindAuth, e.Kind())
	require.Contains(t, e.Error(), "GSSAPI")
	<-errc
}

func TestConnectAuthRejected(t *testing.T) {
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}

		be.Send(&pgproto3.AuthenticationCleartextPassword{})
		if err := be.Flush(); err != nil {
			return err
		}

		be.SetAuthType(pgproto3.AuthTypeCleartextPassword)
		if _, err := be.Receive(); err != nil {
			return err
		}

		be.Send(&pgproto3.ErrorResponse{
			Severity: "FATAL",
			Code:     "28P01",
			Message:  `password authentication failed for user "u"`,
		})
		return be.Flush()
	})

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)

	_, err = Connect(cfg)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindAuth, e.Kind())
	require.Equal(t, "28P01", e.SQLState())
	require.NoError(t, <-errc)
}

func TestConnectUnknownDatabase(t *testing.T) {
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}
		be.Send(&pgproto3.ErrorResponse{
			Severity: "FATAL",
			Code:     "3D000",
			Message:  `database "db" does not exist`,
		})
		return be.Flush()
	})

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)

	_, err = Connect(cfg)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindConnect, e.Kind())
	require.Equal(t, "3D000", e.SQLState())
	require.NoError(t, <-errc)
}

func TestConnectReadyBeforeAuth(t *testing.T) {
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		if _, err := acceptStartup(be); err != nil {
			return err
		}
		be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		return be.Flush()
	})

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)

	_, err = Connect(cfg)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindProtocol, e.Kind())
	require.NoError(t, <-errc)
}

func TestConnectServerHangsUp(t *testing.T) {
	conninfo, errc := startServer(t, func(be *pgproto3.Backend) error {
		_, err := acceptStartup(be)
		return err
	})

	cfg, err := ParseConfig(conninfo)
	require.NoError(t, err)

	_, err = Connect(cfg)
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindIO, e.Kind())
	require.NoError(t, <-errc)
}
