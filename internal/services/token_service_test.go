package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qms-platform/signoff/internal/workflow"
	"github.com/qms-platform/signoff/pkg/metrics"
)

func newTestTokenService(secret string) *TokenService {
	return NewTokenService(secret, "qms", time.Hour, zap.NewNop(), metrics.NewMetricsCollector())
}

func TestTokenRoundTrip(t *testing.T) {
	ts := newTestTokenService("s3cret")
	caller := workflow.CallerIdentity{ID: "usr-1", Username: "alice", Email: "alice@co.com", FullName: "Alice Martin", Role: "operator"}

	token, err := ts.IssueToken(caller)
	require.NoError(t, err)

	got, err := ts.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, caller, got)
}

func TestTokenRejected(t *testing.T) {
	ts := newTestTokenService("s3cret")
	token, err := newTestTokenService("other").IssueToken(workflow.CallerIdentity{ID: "usr-1"})
	require.NoError(t, err)

	_, err = ts.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ts.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	ts.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := ts.IssueToken(workflow.CallerIdentity{ID: "usr-1"})
	require.NoError(t, err)
	ts.now = time.Now
	_, err = ts.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWrongIssuerOrAlgorithm(t *testing.T) {
	ts := newTestTokenService("s3cret")

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "usr-1", Issuer: "elsewhere"},
	})
	signed, err := foreign.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ts.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "usr-1", Issuer: "qms"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
