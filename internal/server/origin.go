package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginChecker admits browser origins from a configured allow list.
// Requests without an Origin header come from non-browser clients and
// are always admitted.
type OriginChecker struct {
	logger   *zap.Logger
	allowed  map[string]struct{}
	allowAll bool
}

func NewOriginChecker(logger *zap.Logger, origins []string) *OriginChecker {
	checker := &OriginChecker{
		logger:  logger,
		allowed: make(map[string]struct{}),
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			checker.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid allowed origin", zap.String("origin", origin))
			continue
		}

		checker.allowed[normalized] = struct{}{}
	}

	return checker
}

func (c *OriginChecker) Allowed(origin string) bool {
	if origin == "" || c.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	_, exists := c.allowed[normalized]
	return exists
}

// Check matches the websocket.Upgrader CheckOrigin signature.
func (c *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if c.Allowed(origin) {
		return true
	}

	c.logger.Warn("blocked request from disallowed origin", zap.String("origin", origin))
	return false
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
