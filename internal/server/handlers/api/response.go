package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobdispatch/internal/blob"
)

// AbortWithError aborts the request with a JSON error body
func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// AbortWithBlobError maps the blob error taxonomy to a status and code.
// fallbackCode is used for provider failures.
func AbortWithBlobError(ctx *gin.Context, fallbackCode string, err error) {
	switch {
	case errors.Is(err, blob.ErrUnresolvableKey):
		AbortWithError(ctx, http.StatusNotFound, CodeUnresolvableKey, err)
	case errors.Is(err, blob.ErrBlobNotFound):
		AbortWithError(ctx, http.StatusNotFound, CodeBlobNotFound, err)
	case errors.Is(err, blob.ErrUnknownProvider):
		AbortWithError(ctx, http.StatusInternalServerError, CodeUnknownProvider, err)
	case errors.Is(err, blob.ErrMisconfiguredDispatch):
		AbortWithError(ctx, http.StatusInternalServerError, CodeDispatchMisconfig, err)
	default:
		AbortWithError(ctx, http.StatusInternalServerError, fallbackCode, err)
	}
}
