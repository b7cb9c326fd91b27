package httpx

import (
	"net/http"

	"github.com/tokokita/storefront-api/internal/auth"
)

// Bearer token divalidasi gateway upstream; identitas sampai ke sini sudah
// berupa header. Tanpa header = belum login.
const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
)

func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "authentication required"})
			return
		}
		who := auth.Identity{UserID: userID, Role: r.Header.Get(headerUserRole)}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), who)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, ok := auth.FromContext(r.Context())
		if !ok || !who.IsAdmin() {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
