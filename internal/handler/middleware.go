package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/service"

	"go.uber.org/zap"
)

type reviewerKey struct{}

// RequireReviewer guards feedback routes. Requests without a usable bearer
// token get 401; a valid token whose role cannot review gets 403. The
// reviewer ID from the token is available downstream via ReviewerIDFromContext.
func RequireReviewer(auth *service.ReviewerAuth, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, reason := bearerToken(r.Header.Get("Authorization"))
			if reason != "" {
				logger.Info("feedback rejected",
					zap.String("reason", reason),
					zap.String("route", r.URL.Path),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: reason}, logger)
				return
			}

			claims, err := auth.Validate(token)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}

			ctx := context.WithValue(r.Context(), reviewerKey{}, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the credential of an "Authorization: Bearer <token>"
// header, or a reason it could not be read.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "no credentials supplied"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "authorization scheme must be Bearer"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "empty bearer token"
	}
	return token, ""
}

// ReviewerIDFromContext returns the reviewer set by RequireReviewer, or "".
func ReviewerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(reviewerKey{}).(string)
	return id
}
