package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// AdminKeyHeader is accepted as an alternative to an Authorization bearer token.
const AdminKeyHeader = "X-Admin-Key"

// adminToken extracts the presented admin credential from r.
func adminToken(r *http.Request) string {
	if key := r.Header.Get(AdminKeyHeader); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// requireAdmin guards management routes. The flow endpoint is left out because
// Meta calls it anonymously and its payload is authenticated by the envelope.
// Without a configured token every management request is refused.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			slog.Warn("Server.requireAdmin: admin token not configured, refusing", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Admin API disabled: no admin token configured"))
			return
		}
		presented := adminToken(r)
		if presented == "" {
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing admin token"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.adminToken)) != 1 {
			slog.Warn("Server.requireAdmin: invalid admin token", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid admin token"))
			return
		}
		next(w, r)
	}
}
