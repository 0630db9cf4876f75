package pgwire

import (
	"crypto/md5"
	"fmt"

	"github.com/lucaslimafernandes/pggo/pgwire/protocol"
)

// authMechName maps an authentication request code to the name used in
// error messages when the mechanism is not supported.
func authMechName(code uint32) string {
	switch code {
	case protocol.AuthKerberosV5:
		return "KerberosV5"
	case protocol.AuthSCMCredential:
		return "SCMCredential"
	case protocol.AuthGSS, protocol.AuthGSSContinue:
		return "GSSAPI"
	case protocol.AuthSSPI:
		return "SSPI"
	default:
		return fmt.Sprintf("code %d", code)
	}
}

// md5Response computes the answer to an AuthenticationMD5Password request:
// concat('md5', md5(concat(md5(concat(password, username)), random-salt))).
func md5Response(user, password string, salt [4]byte) string {
	pu := md5.Sum([]byte(password + user))
	puHex := fmt.Sprintf("%x", pu)

	salted := append([]byte(puHex), salt[:]...)
	return fmt.Sprintf("md5%x", md5.Sum(salted))
}

// authenticate satisfies a single authentication request message and
// reports whether the handshake reached AuthenticationOk. It is driven in
// a loop by Connect: the backend may issue several requests (e.g. the
// SASL continue/final sequence) before declaring the client authenticated.
func (c *Conn) authenticate(m protocol.Message) (ok bool, err error) {
	code, err := m.AuthCode()
	if err != nil {
		return false, ProtocolErr("%v", err)
	}

	switch code {
	case protocol.AuthOK:
		return true, nil

	case protocol.AuthCleartextPassword:
		c.log.Debug("authenticating with cleartext password")
		return false, c.transport.WriteMessage(protocol.PasswordMessage(c.cfg.Password))

	case protocol.AuthMD5Password:
		salt, err := m.MD5Salt()
		if err != nil {
			return false, ProtocolErr("%v", err)
		}
		c.log.Debug("authenticating with md5 password")
		resp := md5Response(c.cfg.User, c.cfg.Password, salt)
		return false, c.transport.WriteMessage(protocol.PasswordMessage(resp))

	case protocol.AuthSASL:
		mechanisms, err := m.SASLMechanisms()
		if err != nil {
			return false, ProtocolErr("%v", err)
		}
		return false, c.startSASL(mechanisms)

	case protocol.AuthSASLContinue:
		data, err := m.SASLData()
		if err != nil {
			return false, ProtocolErr("%v", err)
		}
		return false, c.continueSASL(data)

	case protocol.AuthSASLFinal:
		data, err := m.SASLData()
		if err != nil {
			return false, ProtocolErr("%v", err)
		}
		// the final server message carries the signature proving the
		// backend also knows the password; AuthenticationOk follows.
		return false, c.finishSASL(data)

	default:
		return false, AuthErr("unsupported authentication mechanism %s", authMechName(code))
	}
}

func (c *Conn) startSASL(mechanisms []string) error {
	supported := false
	for _, mech := range mechanisms {
		if mech == scramSHA256 {
			supported = true
			break
		}
	}
	if !supported {
		return AuthErr("unsupported SASL mechanisms %v", mechanisms)
	}

	sc, err := newScramClient(c.cfg.User, c.cfg.Password)
	if err != nil {
		return AuthErr("scram init: %v", err).WithCause(err)
	}
	c.scram = sc

	c.log.WithField("mechanism", scramSHA256).Debug("authenticating with SASL")
	first := sc.clientFirstMessage()
	return c.transport.WriteMessage(protocol.SASLInitialResponse(scramSHA256, first))
}

func (c *Conn) continueSASL(serverFirst []byte) error {
	if c.scram == nil {
		return ProtocolErr("SASL continuation without an initial exchange")
	}

	final, err := c.scram.clientFinalMessage(serverFirst)
	if err != nil {
		return AuthErr("scram exchange: %v", err).WithCause(err)
	}
	return c.transport.WriteMessage(protocol.SASLResponse(final))
}

func (c *Conn) finishSASL(serverFinal []byte) error {
	if c.scram == nil {
		return ProtocolErr("SASL completion without an initial exchange")
	}
	defer func() { c.scram = nil }()

	if err := c.scram.verifyServerFinal(serverFinal); err != nil {
		return AuthErr("scram server verification: %v", err).WithCause(err)
	}
	return nil
}
