// Package middleware provides HTTP middleware shared across services.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/dentflow/dentflow/pkg/auth"
	"github.com/dentflow/dentflow/pkg/httputil"
)

// Identity header names injected by the API gateway after it verifies the
// caller's session. Requests reaching this service without them are not
// authenticated.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// Identity extracts the gateway-asserted principal and attaches it to the
// request context. Requests without a parseable user ID get a 401; guards
// downstream assume a principal is always present.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderUserID)
		if raw == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			httputil.WriteUnauthorized(w, "invalid identity")
			return
		}

		principal := &auth.Principal{
			UserID: userID,
			Email:  r.Header.Get(HeaderUserEmail),
			Name:   r.Header.Get(HeaderUserName),
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// GetPrincipal returns the principal for the request, or nil.
func GetPrincipal(r *http.Request) *auth.Principal {
	return auth.FromContext(r.Context())
}
