package gateway

import (
	"net/http"
	"strings"
)

// OriginPolicy decides which browser origins may use the gateway. Requests
// without an Origin header (curl, same-origin navigation) are allowed.
type OriginPolicy struct {
	any     bool
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from a list of origins; "*" allows all
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return p
}

// Allowed reports whether origin may connect
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	_, ok := p.allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

// Check is a websocket.Upgrader CheckOrigin func
func (p *OriginPolicy) Check(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"))
}

// Middleware adds CORS headers for allowed origins, answers preflight
// requests and rejects disallowed origins
func (p *OriginPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !p.Allowed(origin) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
