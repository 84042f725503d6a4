package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/qms-platform/signoff/internal/workflow"
	"github.com/qms-platform/signoff/pkg/metrics"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carried by session tokens of the authentication service.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService turns bearer tokens into a CallerIdentity. Logging in and
// issuing tokens to users is done elsewhere; IssueToken exists for tooling.
type TokenService struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	now     func() time.Time
}

func NewTokenService(secret, issuer string, ttl time.Duration, logger *zap.Logger, metrics *metrics.MetricsCollector) *TokenService {
	return &TokenService{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		logger:  logger.With(zap.String("service", "token_service")),
		metrics: metrics,
		now:     time.Now,
	}
}

func (ts *TokenService) IssueToken(caller workflow.CallerIdentity) (string, error) {
	now := ts.now()
	claims := Claims{
		Username: caller.Username,
		Email:    caller.Email,
		FullName: caller.FullName,
		Role:     caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (ts *TokenService) Verify(token string) (workflow.CallerIdentity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil || !parsed.Valid {
		ts.metrics.IncrementCounter("auth.token_rejected", nil)
		ts.logger.Debug("Token rejected", zap.Error(err))
		return workflow.CallerIdentity{}, ErrInvalidToken
	}
	if ts.issuer != "" && !claims.VerifyIssuer(ts.issuer, true) {
		ts.metrics.IncrementCounter("auth.token_rejected", map[string]string{"reason": "issuer"})
		return workflow.CallerIdentity{}, ErrInvalidToken
	}

	caller := workflow.CallerIdentity{
		ID:       claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
	}
	if caller.IsZero() {
		return workflow.CallerIdentity{}, ErrInvalidToken
	}
	return caller, nil
}
