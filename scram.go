package mqttc

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 kept for SCRAM-SHA-1 compatibility
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAM errors.
var (
	ErrSCRAMProtocol      = errors.New("malformed SCRAM server message")
	ErrSCRAMServerProof   = errors.New("SCRAM server signature verification failed")
	ErrSCRAMNonceMismatch = errors.New("SCRAM server nonce does not extend client nonce")
)

// SCRAMHash selects the hash algorithm for SCRAM authentication.
type SCRAMHash int

const (
	// SCRAMHashSHA1 uses SHA-1, for legacy servers only.
	SCRAMHashSHA1 SCRAMHash = iota
	// SCRAMHashSHA256 uses SHA-256 (recommended).
	SCRAMHashSHA256
	// SCRAMHashSHA512 uses SHA-512.
	SCRAMHashSHA512
)

// String returns the MQTT authentication method name for this hash.
func (h SCRAMHash) String() string {
	switch h {
	case SCRAMHashSHA1:
		return "SCRAM-SHA-1"
	case SCRAMHashSHA512:
		return "SCRAM-SHA-512"
	default:
		return "SCRAM-SHA-256"
	}
}

func (h SCRAMHash) hashFunc() func() hash.Hash {
	switch h {
	case SCRAMHashSHA1:
		return sha1.New
	case SCRAMHashSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

func (h SCRAMHash) keySize() int {
	switch h {
	case SCRAMHashSHA1:
		return 20
	case SCRAMHashSHA512:
		return 64
	default:
		return 32
	}
}

// scramClientState carries the exchange state between AUTH round trips.
type scramClientState struct {
	clientNonce string
	clientFirst string
	serverSig   []byte
}

// SCRAMClientAuthenticator implements the client side of SCRAM enhanced
// authentication: client-first in CONNECT, client-final in response to the
// server-first AUTH, and server signature verification on the final AUTH
// or CONNACK data.
type SCRAMClientAuthenticator struct {
	username string
	password string
	hashType SCRAMHash
}

// NewSCRAMClientAuthenticator creates a SCRAM client authenticator for the
// given credentials and hash algorithm.
func NewSCRAMClientAuthenticator(username, password string, hashType SCRAMHash) *SCRAMClientAuthenticator {
	return &SCRAMClientAuthenticator{
		username: username,
		password: password,
		hashType: hashType,
	}
}

// AuthMethod returns the SCRAM mechanism name.
func (a *SCRAMClientAuthenticator) AuthMethod() string {
	return a.hashType.String()
}

// AuthStart produces the client-first-message for the CONNECT properties.
func (a *SCRAMClientAuthenticator) AuthStart(_ context.Context) (*EnhancedAuthResult, error) {
	nonce, err := generateScramNonce()
	if err != nil {
		return nil, err
	}

	bare := fmt.Sprintf("n=%s,r=%s", scramEscape(a.username), nonce)
	first := "n,," + bare

	return &EnhancedAuthResult{
		AuthData: []byte(first),
		State: &scramClientState{
			clientNonce: nonce,
			clientFirst: bare,
		},
	}, nil
}

// AuthContinue answers the server-first-message with the
// client-final-message, and verifies the server-final-message.
func (a *SCRAMClientAuthenticator) AuthContinue(_ context.Context, authCtx *EnhancedAuthContext) (*EnhancedAuthResult, error) {
	state, ok := authCtx.State.(*scramClientState)
	if !ok || state == nil {
		return nil, ErrSCRAMProtocol
	}

	msg := string(authCtx.AuthData)

	// Server-final-message: verify the server signature computed earlier.
	if strings.HasPrefix(msg, "v=") {
		sig, err := base64.StdEncoding.DecodeString(msg[2:])
		if err != nil {
			return nil, ErrSCRAMProtocol
		}
		if !hmac.Equal(sig, state.serverSig) {
			return nil, ErrSCRAMServerProof
		}
		return &EnhancedAuthResult{Done: true, State: state}, nil
	}

	// Server-first-message: r=<nonce>,s=<salt>,i=<iterations>
	serverNonce, salt, iterations, err := parseScramServerFirst(msg)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(serverNonce, state.clientNonce) {
		return nil, ErrSCRAMNonceMismatch
	}

	hashFunc := a.hashType.hashFunc()

	saltedPassword := pbkdf2.Key([]byte(a.password), salt, iterations, a.hashType.keySize(), hashFunc)

	clientKeyHMAC := hmac.New(hashFunc, saltedPassword)
	clientKeyHMAC.Write([]byte("Client Key"))
	clientKey := clientKeyHMAC.Sum(nil)

	h := hashFunc()
	h.Write(clientKey)
	storedKey := h.Sum(nil)

	withoutProof := fmt.Sprintf("c=%s,r=%s",
		base64.StdEncoding.EncodeToString([]byte("n,,")), serverNonce)
	authMessage := state.clientFirst + "," + msg + "," + withoutProof

	clientSigHMAC := hmac.New(hashFunc, storedKey)
	clientSigHMAC.Write([]byte(authMessage))
	clientSignature := clientSigHMAC.Sum(nil)

	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	serverKeyHMAC := hmac.New(hashFunc, saltedPassword)
	serverKeyHMAC.Write([]byte("Server Key"))
	serverKey := serverKeyHMAC.Sum(nil)

	serverSigHMAC := hmac.New(hashFunc, serverKey)
	serverSigHMAC.Write([]byte(authMessage))
	state.serverSig = serverSigHMAC.Sum(nil)

	final := withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)

	return &EnhancedAuthResult{
		AuthData: []byte(final),
		State:    state,
	}, nil
}

// parseScramServerFirst extracts nonce, salt and iteration count from a
// server-first-message.
func parseScramServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 {
			continue
		}
		switch part[:2] {
		case "r=":
			nonce = part[2:]
		case "s=":
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, ErrSCRAMProtocol
			}
		case "i=":
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", nil, 0, ErrSCRAMProtocol
			}
		}
	}

	if nonce == "" || len(salt) == 0 || iterations <= 0 {
		return "", nil, 0, ErrSCRAMProtocol
	}
	return nonce, salt, iterations, nil
}

// scramEscape applies the SCRAM username escaping rules.
func scramEscape(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	return strings.ReplaceAll(s, ",", "=2C")
}

// generateScramNonce creates a cryptographically secure random nonce.
func generateScramNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
