package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open a dashboard socket.
type OriginPolicy struct {
	allowed        map[string]struct{}
	allowLocalhost bool
}

// NewOriginPolicy allows the origin of appURL plus any extra origins.
// Entries that do not parse to scheme://host are ignored with a warning.
func NewOriginPolicy(appURL string, extra []string, allowLocalhost bool) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}), allowLocalhost: allowLocalhost}
	for _, raw := range append([]string{appURL}, extra...) {
		origin := normalizeOrigin(raw)
		if origin == "" {
			slog.Warn("Ignoring unusable websocket origin", "value", raw)
			continue
		}
		p.allowed[origin] = struct{}{}
	}
	return p
}

// Check is a gorilla Upgrader.CheckOrigin. Requests without an Origin
// header come from non-browser clients and are accepted.
func (p *OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[normalizeOrigin(origin)]; ok {
		return true
	}
	if p.allowLocalhost && isLoopback(origin) {
		return true
	}

	slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

// normalizeOrigin reduces a URL to lower-case scheme://host[:port].
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLoopback(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
