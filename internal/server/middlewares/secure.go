package middlewares

import (
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

// Secure sets the headers for serving user supplied content. HSTS and the https
// redirect are only turned on for a TLS listener.
func Secure(tls bool) gin.HandlerFunc {
	cfg := secure.Config{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		IENoOpen:              true,
		ContentSecurityPolicy: "default-src 'none'; sandbox",
	}
	if tls {
		cfg.SSLRedirect = true
		cfg.STSSeconds = 315360000
		cfg.STSIncludeSubdomains = true
		cfg.SSLProxyHeaders = map[string]string{"X-Forwarded-Proto": "https"}
	}
	return secure.New(cfg)
}
