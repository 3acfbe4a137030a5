package oauth2

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestStateRoundTrip(t *testing.T) {
	s := newStateSigner(secret, time.Minute)
	state, nonce, err := s.issue(time.Now())
	require.NoError(t, err)
	assert.NoError(t, s.verify(state, nonce))
	assert.Error(t, s.verify(state, "other-nonce"))
	assert.Error(t, s.verify(state, ""))
	assert.Error(t, s.verify("", nonce))
}

func TestStateExpires(t *testing.T) {
	s := newStateSigner(secret, time.Minute)
	state, nonce, err := s.issue(time.Now().Add(-2 * time.Minute))
	require.NoError(t, err)
	assert.Error(t, s.verify(state, nonce))
}

func TestStateRejectsOtherKeys(t *testing.T) {
	s := newStateSigner(secret, time.Minute)
	other := newStateSigner([]byte("ffffffffffffffffffffffffffffffff"), time.Minute)
	state, nonce, err := other.issue(time.Now())
	require.NoError(t, err)
	assert.Error(t, s.verify(state, nonce))
}

func TestStateRejectsNoneAlg(t *testing.T) {
	s := newStateSigner(secret, time.Minute)
	claims := stateClaims{
		Nonce: "n",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Error(t, s.verify(state, "n"))
}

func TestStateRequiresSecret(t *testing.T) {
	_, _, err := newStateSigner(nil, time.Minute).issue(time.Now())
	assert.Error(t, err)
}

func TestNoncesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n, err := generateNonce()
		require.NoError(t, err)
		assert.False(t, seen[n])
		seen[n] = true
	}
}
