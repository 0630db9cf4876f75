package pgwire

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const scramSHA256 = "SCRAM-SHA-256"

// scramClient implements the client side of SCRAM-SHA-256 (RFC 5802 /
// RFC 7677) without channel binding, which is what the SASL authentication
// exchange of the wire protocol carries. The password is used as-is;
// SASLprep normalization of exotic passwords is not applied.
type scramClient struct {
	user     string
	password string

	clientNonce     string
	clientFirstBare string
	authMessage     []byte
	saltedPassword  []byte
}

// newScramClient creates a client with a fresh random nonce.
func newScramClient(user, password string) (*scramClient, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return newScramClientWithNonce(user, password, base64.StdEncoding.EncodeToString(raw)), nil
}

func newScramClientWithNonce(user, password, nonce string) *scramClient {
	return &scramClient{user: user, password: password, clientNonce: nonce}
}

// clientFirstMessage produces the SCRAM client-first-message, including the
// "n,," GS2 header declaring that no channel binding is used. The user name
// is left empty per convention: the backend takes it from the startup
// message.
func (s *scramClient) clientFirstMessage() []byte {
	s.clientFirstBare = fmt.Sprintf("n=,r=%s", s.clientNonce)
	return []byte("n,," + s.clientFirstBare)
}

// clientFinalMessage consumes the server-first-message (nonce, salt,
// iteration count) and produces the client-final-message carrying the
// proof.
func (s *scramClient) clientFinalMessage(serverFirst []byte) ([]byte, error) {
	attrs, err := parseScramAttrs(string(serverFirst))
	if err != nil {
		return nil, err
	}

	serverNonce := attrs["r"]
	if !strings.HasPrefix(serverNonce, s.clientNonce) {
		return nil, fmt.Errorf("server nonce does not extend the client nonce")
	}

	salt, err := base64.StdEncoding.DecodeString(attrs["s"])
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %v", err)
	}
	iterations, err := strconv.Atoi(attrs["i"])
	if err != nil || iterations < 1 {
		return nil, fmt.Errorf("invalid iteration count %q", attrs["i"])
	}

	s.saltedPassword = pbkdf2.Key([]byte(s.password), salt, iterations, sha256.Size, sha256.New)

	// "biws" is base64("n,,"), echoing the GS2 header
	withoutProof := fmt.Sprintf("c=biws,r=%s", serverNonce)
	s.authMessage = []byte(s.clientFirstBare + "," + string(serverFirst) + "," + withoutProof)

	clientKey := scramHMAC(s.saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	signature := scramHMAC(storedKey[:], string(s.authMessage))

	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ signature[i]
	}

	final := fmt.Sprintf("%s,p=%s", withoutProof, base64.StdEncoding.EncodeToString(proof))
	return []byte(final), nil
}

// verifyServerFinal checks the server signature of the server-final-message,
// proving the backend knew the password too.
func (s *scramClient) verifyServerFinal(serverFinal []byte) error {
	attrs, err := parseScramAttrs(string(serverFinal))
	if err != nil {
		return err
	}
	if e, ok := attrs["e"]; ok {
		return fmt.Errorf("server rejected the exchange: %s", e)
	}

	expected, err := base64.StdEncoding.DecodeString(attrs["v"])
	if err != nil {
		return fmt.Errorf("invalid server signature encoding: %v", err)
	}

	serverKey := scramHMAC(s.saltedPassword, "Server Key")
	signature := scramHMAC(serverKey, string(s.authMessage))
	if !hmac.Equal(signature, expected) {
		return fmt.Errorf("server signature mismatch")
	}
	return nil
}

func scramHMAC(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// parseScramAttrs splits a SCRAM message of the form "k1=v1,k2=v2,..."
// into its attribute map. Values may themselves contain '=' (base64), so
// only the first '=' of each pair separates.
func parseScramAttrs(msg string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, part := range bytes.Split([]byte(msg), []byte(",")) {
		if len(part) == 0 {
			continue
		}
		kv := bytes.SplitN(part, []byte("="), 2)
		if len(kv) != 2 || len(kv[0]) != 1 {
			return nil, fmt.Errorf("malformed SCRAM attribute %q", part)
		}
		attrs[string(kv[0])] = string(kv[1])
	}
	return attrs, nil
}
