package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize caps any single header value.
const maxHeaderValueSize = 8 << 10

var (
	// Blocked outright when seen in query strings. Request bodies are
	// exempt from screening: segment source legitimately carries
	// markup-like delimiters, and static markup is sanitized again at
	// render time.
	scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)

	// Logged but never blocked; the data layer runs parameterized
	// queries, so a match here is a signal, not a verdict.
	sqlPattern = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)
)

// Sanitize returns middleware that screens the request line and headers
// for hostile input. Blocked requests receive a 400 with a message body.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger is Sanitize with a logger attached for the
// warn-only SQL heuristic.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if reason := screenPath(req.URL); reason != "" {
				return blockRequest(c, reason)
			}
			if reason := screenHeaders(req.Header); reason != "" {
				return blockRequest(c, reason)
			}
			if reason := screenQuery(req.URL.Query(), c, logger); reason != "" {
				return blockRequest(c, reason)
			}

			return next(c)
		}
	}
}

// screenPath inspects both the decoded and the raw request path, so a
// percent-encoded traversal cannot slip through decoding.
func screenPath(u *url.URL) string {
	raw := u.RawPath
	if raw == "" {
		raw = u.Path
	}
	for _, p := range []string{u.Path, raw} {
		if hasTraversal(p) {
			return "path traversal detected"
		}
		if hasNullByte(p) {
			return "null byte injection detected"
		}
	}
	return ""
}

func screenHeaders(h http.Header) string {
	for name, values := range h {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}
	return ""
}

func screenQuery(query url.Values, c echo.Context, logger zerolog.Logger) string {
	for key, values := range query {
		if hasNullByte(key) {
			return "null byte injection detected in query parameter"
		}
		if scriptPattern.MatchString(key) {
			return "script injection detected in query parameter"
		}
		for _, v := range values {
			if hasNullByte(v) {
				return "null byte injection detected in query parameter"
			}
			if scriptPattern.MatchString(v) {
				return "script injection detected in query parameter"
			}
			if sqlPattern.MatchString(v) {
				logger.Warn().
					Str("param", key).
					Str("path", c.Request().URL.Path).
					Str("remote_ip", c.RealIP()).
					Msg("potential SQL injection pattern detected in query parameter")
			}
		}
	}
	return ""
}

// hasTraversal matches ".." in literal, percent-encoded, and
// double-encoded forms.
func hasTraversal(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "..") ||
		strings.Contains(low, "%2e%2e") ||
		strings.Contains(low, "%252e")
}

func hasNullByte(s string) bool {
	low := strings.ToLower(s)
	return strings.ContainsRune(low, '\x00') || strings.Contains(low, "%00")
}

func blockRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"message": message,
	})
}
