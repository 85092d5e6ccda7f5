package service

import (
	"fmt"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Reviewer tokens: guard POST /v1/alerts/{alertId}/feedback
// ============================================================

const reviewerIssuer = "risk-engine"

// ReviewerClaims are the claims carried by a reviewer access token.
type ReviewerClaims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ReviewerAuth issues and validates HMAC-signed reviewer tokens.
type ReviewerAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewReviewerAuth creates the signer; ttl <= 0 means one hour.
func NewReviewerAuth(secret string, ttl time.Duration) *ReviewerAuth {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ReviewerAuth{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for reviewerID.
func (a *ReviewerAuth) Issue(reviewerID string) (string, error) {
	now := a.now()
	claims := ReviewerClaims{
		Sub:  reviewerID,
		Role: "reviewer",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Issuer:    reviewerIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate parses tokenString and returns its claims.
func (a *ReviewerAuth) Validate(tokenString string) (*ReviewerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ReviewerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(reviewerIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*ReviewerClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Sub == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	// A well-formed token for another role authenticates but may not review.
	if claims.Role != "reviewer" {
		return nil, &domain.ErrForbidden{Action: "submit alert feedback"}
	}
	return claims, nil
}
