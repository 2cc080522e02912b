package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/auth"
)

// CallerAddressHeader names the caller directly when JWT auth is disabled.
const CallerAddressHeader = "X-Caller-Address"

// CallerMiddleware resolves the caller address of a request and stores it in
// the request context with domain.WithCaller. With a JWT manager the address
// comes from a bearer token's address claim; without one it is read from
// CallerAddressHeader. Requests without credentials pass through anonymously.
func CallerMiddleware(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				caller domain.Address
				err    error
			)

			if jwtManager != nil {
				caller, err = callerFromToken(jwtManager, r.Header.Get("Authorization"))
			} else if raw := r.Header.Get(CallerAddressHeader); raw != "" {
				caller, err = domain.ParseAddress(raw)
			}

			if err != nil {
				writeJSONError(w, statusForCallerError(err), err.Error())
				return
			}
			if caller == "" {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(domain.WithCaller(r.Context(), caller)))
		})
	}
}

// RequireCaller rejects requests that carry no resolved caller.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := domain.CallerFromContext(r.Context()); !ok {
			writeJSONError(w, http.StatusUnauthorized, "caller required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFromToken(jwtManager *auth.JWTManager, header string) (domain.Address, error) {
	if header == "" {
		return "", nil
	}

	// Parse Bearer token
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errInvalidAuthHeader
	}

	claims, err := jwtManager.Verify(parts[1])
	if err != nil {
		return "", err
	}
	return claims.Address, nil
}

var errInvalidAuthHeader = errors.New("invalid authorization header format")

func statusForCallerError(err error) int {
	if errors.Is(err, domain.ErrInvalidAddress) {
		return http.StatusBadRequest
	}
	return http.StatusUnauthorized
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
