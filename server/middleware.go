package server

import (
	"html"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/labstack/echo/v4"
)

// requestLogger logs each request. Query strings are dropped since they
// carry codes and tokens.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()

		err := next(c)

		res := c.Response()
		logger.Info("HTTP Response",
			logger.F("method", req.Method),
			logger.F("path", req.URL.Path),
			logger.F("remote", req.RemoteAddr),
			logger.F("status", res.Status),
			logger.F("size", res.Size),
			logger.F("duration", time.Since(start).String()))

		return err
	}
}

func htmlEscape(s string) string {
	return html.EscapeString(s)
}
