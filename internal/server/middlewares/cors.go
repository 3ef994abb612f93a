package middlewares

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows cross-origin access to the API
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		ExposeHeaders:    []string{HeaderBlobKey, HeaderBlobProvider, HeaderBlobDigest},
		AllowCredentials: false,
	})
}

const (
	HeaderBlobKey      = "X-Blob-Key"
	HeaderBlobProvider = "X-Blob-Provider"
	HeaderBlobDigest   = "X-Blob-Digest"
)
