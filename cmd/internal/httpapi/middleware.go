package httpapi

import (
	"net/http"
	"strings"
)

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// downloadToken also accepts the credential as the token query parameter.
// Only the export endpoints use it: browser-native download navigations
// cannot set headers. Everywhere else the query parameter carries domain
// tokens (QR tokens), so the fallback must not apply globally.
func downloadToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (h *Handler) rejectUnauthorized(w http.ResponseWriter, r *http.Request, role string) {
	h.log.Info("api.reject.auth", "role", role, "path", r.URL.Path, "remote", r.RemoteAddr)
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credential")
}

// requireRole gates next behind the static credential of one role.
func (h *Handler) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.roleTokens.Match(role, bearerToken(r)) {
			h.rejectUnauthorized(w, r, role)
			return
		}
		next(w, r)
	}
}

// requireAnyRole gates next behind the credential of any listed role.
func (h *Handler) requireAnyRole(roles []string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		for _, role := range roles {
			if h.roleTokens.Match(role, token) {
				next(w, r)
				return
			}
		}
		h.rejectUnauthorized(w, r, strings.Join(roles, ","))
	}
}

// requireDownloadRole is requireRole with the query-parameter credential
// fallback, for endpoints reached by browser downloads.
func (h *Handler) requireDownloadRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.roleTokens.Match(role, downloadToken(r)) {
			h.rejectUnauthorized(w, r, role)
			return
		}
		next(w, r)
	}
}

// requireMethod gates next behind one HTTP method.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		next(w, r)
	}
}
