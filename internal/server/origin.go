package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/damso-chat/damso/internal/logging"
)

// newOriginChecker builds the upgrader's CheckOrigin from the configured
// allow-list. "*" allows every origin; a request without an Origin header
// (a non-browser client) is always allowed.
func newOriginChecker(origins []string) func(*http.Request) bool {
	normalized, allowAll := normalizeOrigins(origins)
	allowed := make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		allowed[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if header == "" || allowAll {
			return true
		}

		origin, ok := normalizeOrigin(header)
		if ok {
			if _, exists := allowed[origin]; exists {
				return true
			}
		}

		logging.L().Warn().Str("origin", header).Msg("blocked WebSocket upgrade from disallowed origin")
		return false
	}
}

func normalizeOrigins(origins []string) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		o, ok := normalizeOrigin(trimmed)
		if !ok {
			logging.L().Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		normalized = append(normalized, o)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
