package middlewares

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

// Logger writes an access log line per request to the default slog logger
func Logger() gin.HandlerFunc {
	httpLogger := slog.Default().WithGroup("http")

	return slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		Filters: []slogGin.Filter{
			slogGin.IgnorePath("/healthz", "/metrics"),
		},
	})
}
