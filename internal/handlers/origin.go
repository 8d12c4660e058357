package handlers

import (
	"log"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
)

// RequireSameOrigin rejects browser requests whose Origin is neither the
// API's own host nor one of the allowed host patterns. Requests without an
// Origin header (CLI clients, curl) pass through.
func (h *Handler) RequireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !h.originAllowed(r.Host, origin) {
			log.Printf("[http] rejected %s %s from origin %s", r.Method, r.URL.Path, logutil.SanitizeForLog(origin))
			writeError(w, http.StatusForbidden, "Cross-origin request rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) originAllowed(host, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, host) {
		return true
	}
	for _, pattern := range h.allowedOrigins {
		if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(u.Host)); ok {
			return true
		}
	}
	return false
}

// hasJSONBody reports whether the request declares a JSON body.
func hasJSONBody(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
