package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobdispatch/internal/server/handlers/api"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimiter limits requests per client ip. formattedRate is "<limit>-<period>", e.g. "100-M".
func RateLimiter(formattedRate string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		return nil, fmt.Errorf("rate %q: %w", formattedRate, err)
	}

	return mgin.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.PureJSON(http.StatusTooManyRequests, api.APIError{
				Code:    api.CodeRateLimited,
				Message: "rate limit exceeded",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.PureJSON(http.StatusInternalServerError, api.APIError{
				Code:    api.CodeInternalError,
				Message: err.Error(),
			})
		}),
	), nil
}
