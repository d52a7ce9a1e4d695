package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout returns middleware that puts a deadline on each request
// context and answers 504 when it expires. Dynamic segment execution
// carries its own tighter budget inside the script engine; this is the
// outer guard for everything else.
//
// The WebSocket endpoint is excluded; those connections stay open for
// the life of the subscription.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, "/ws") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			// The handler runs in its own goroutine so the deadline can
			// preempt it. Whichever side reports the expiry first, the
			// client sees the same 504.
			done := make(chan error, 1)
			go func() { done <- next(c) }()

			var err error
			select {
			case err = <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}

			if errors.Is(err, context.DeadlineExceeded) {
				if c.Response().Committed {
					return nil
				}
				return c.JSON(http.StatusGatewayTimeout, map[string]string{
					"message": "request processing exceeded the allowed time limit",
				})
			}
			return err
		}
	}
}
