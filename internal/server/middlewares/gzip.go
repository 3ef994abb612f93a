package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// blob content is streamed as stored
var excludedPaths = []string{
	"/api/v1/blobs/content",
}

// GZIP compresses responses, except blob content which is streamed as is
func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
	)
}
