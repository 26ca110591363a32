package mqttc

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/pbkdf2"
)

// scramServer mimics the broker side of one SCRAM-SHA-256 exchange for the
// stored password.
type scramServer struct {
	password   string
	salt       []byte
	iterations int
	hashType   SCRAMHash

	authMessage string
}

func (s *scramServer) serverFirst(clientFirst string) string {
	// client-first: n,,n=<user>,r=<nonce>
	bare := strings.TrimPrefix(clientFirst, "n,,")
	var clientNonce string
	for _, part := range strings.Split(bare, ",") {
		if strings.HasPrefix(part, "r=") {
			clientNonce = part[2:]
		}
	}

	serverNonce := clientNonce + "srv-extension"
	first := fmt.Sprintf("r=%s,s=%s,i=%d",
		serverNonce, base64.StdEncoding.EncodeToString(s.salt), s.iterations)

	s.authMessage = bare + "," + first + "," +
		fmt.Sprintf("c=%s,r=%s", base64.StdEncoding.EncodeToString([]byte("n,,")), serverNonce)
	return first
}

func (s *scramServer) verifyAndFinal(t *testing.T, clientFinal string) string {
	t.Helper()

	var proofB64 string
	for _, part := range strings.Split(clientFinal, ",") {
		if strings.HasPrefix(part, "p=") {
			proofB64 = part[2:]
		}
	}
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	require.NoError(t, err)

	hashFunc := s.hashType.hashFunc()
	salted := pbkdf2.Key([]byte(s.password), s.salt, s.iterations, s.hashType.keySize(), hashFunc)

	ckHMAC := hmac.New(hashFunc, salted)
	ckHMAC.Write([]byte("Client Key"))
	clientKey := ckHMAC.Sum(nil)

	h := hashFunc()
	h.Write(clientKey)
	storedKey := h.Sum(nil)

	sigHMAC := hmac.New(hashFunc, storedKey)
	sigHMAC.Write([]byte(s.authMessage))
	clientSig := sigHMAC.Sum(nil)

	recovered := make([]byte, len(proof))
	for i := range proof {
		recovered[i] = proof[i] ^ clientSig[i]
	}

	rh := hashFunc()
	rh.Write(recovered)
	require.Equal(t, storedKey, rh.Sum(nil), "client proof does not verify")

	skHMAC := hmac.New(hashFunc, salted)
	skHMAC.Write([]byte("Server Key"))
	serverKey := skHMAC.Sum(nil)

	ssHMAC := hmac.New(hashFunc, serverKey)
	ssHMAC.Write([]byte(s.authMessage))
	return "v=" + base64.StdEncoding.EncodeToString(ssHMAC.Sum(nil))
}

func TestSCRAMFullExchange(t *testing.T) {
	ctx := context.Background()
	auth := NewSCRAMClientAuthenticator("alice", "hunter2", SCRAMHashSHA256)
	assert.Equal(t, "SCRAM-SHA-256", auth.AuthMethod())

	server := &scramServer{
		password:   "hunter2",
		salt:       []byte("0123456789abcdef"),
		iterations: 4096,
		hashType:   SCRAMHashSHA256,
	}

	start, err := auth.AuthStart(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(start.AuthData), "n,,n=alice,r="))

	serverFirst := server.serverFirst(string(start.AuthData))

	next, err := auth.AuthContinue(ctx, &EnhancedAuthContext{
		AuthData: []byte(serverFirst),
		State:    start.State,
	})
	require.NoError(t, err)
	assert.False(t, next.Done)

	serverFinal := server.verifyAndFinal(t, string(next.AuthData))

	done, err := auth.AuthContinue(ctx, &EnhancedAuthContext{
		AuthData: []byte(serverFinal),
		State:    next.State,
	})
	require.NoError(t, err)
	assert.True(t, done.Done)
}

func TestSCRAMRejectsBadServerSignature(t *testing.T) {
	ctx := context.Background()
	auth := NewSCRAMClientAuthenticator("alice", "hunter2", SCRAMHashSHA256)

	server := &scramServer{
		password:   "hunter2",
		salt:       []byte("0123456789abcdef"),
		iterations: 4096,
		hashType:   SCRAMHashSHA256,
	}

	start, err := auth.AuthStart(ctx)
	require.NoError(t, err)

	next, err := auth.AuthContinue(ctx, &EnhancedAuthContext{
		AuthData: []byte(server.serverFirst(string(start.AuthData))),
		State:    start.State,
	})
	require.NoError(t, err)

	forged := "v=" + base64.StdEncoding.EncodeToString([]byte("not the signature"))
	_, err = auth.AuthContinue(ctx, &EnhancedAuthContext{
		AuthData: []byte(forged),
		State:    next.State,
	})
	assert.ErrorIs(t, err, ErrSCRAMServerProof)
}

func TestSCRAMRejectsForeignNonce(t *testing.T) {
	ctx := context.Background()
	auth := NewSCRAMClientAuthenticator("alice", "pw", SCRAMHashSHA256)

	start, err := auth.AuthStart(ctx)
	require.NoError(t, err)

	// A server nonce that does not extend the client nonce is a replay.
	bogus := fmt.Sprintf("r=%s,s=%s,i=4096",
		"unrelated-nonce", base64.StdEncoding.EncodeToString([]byte("salt")))
	_, err = auth.AuthContinue(ctx, &EnhancedAuthContext{
		AuthData: []byte(bogus),
		State:    start.State,
	})
	assert.ErrorIs(t, err, ErrSCRAMNonceMismatch)
}

func TestSCRAMEscapesUsername(t *testing.T) {
	auth := NewSCRAMClientAuthenticator("a=b,c", "pw", SCRAMHashSHA512)
	start, err := auth.AuthStart(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(start.AuthData), "n=a=3Db=2Cc")
	assert.Equal(t, "SCRAM-SHA-512", auth.AuthMethod())
}

func TestSCRAMMalformedServerFirst(t *testing.T) {
	auth := NewSCRAMClientAuthenticator("a", "pw", SCRAMHashSHA256)
	start, err := auth.AuthStart(context.Background())
	require.NoError(t, err)

	_, err = auth.AuthContinue(context.Background(), &EnhancedAuthContext{
		AuthData: []byte("i=nope"),
		State:    start.State,
	})
	assert.ErrorIs(t, err, ErrSCRAMProtocol)
}
