package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobdispatch/internal/config"
	"github.com/openmined/blobdispatch/internal/docblob"
	"github.com/openmined/blobdispatch/internal/server/handlers/admin"
	"github.com/openmined/blobdispatch/internal/server/handlers/blob"
	"github.com/openmined/blobdispatch/internal/server/middlewares"
	"github.com/openmined/blobdispatch/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the HTTP handler for the blob API
func SetupRoutes(mgr *docblob.Manager, cfg *config.HTTPConfig) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB, larger parts spill to disk

	blobH := blob.New(mgr, cfg.MaxUploadSize)
	adminH := admin.New(mgr)

	uploadChain := []gin.HandlerFunc{}
	if cfg.UploadRate != "" {
		limiter, err := middlewares.RateLimiter(cfg.UploadRate)
		if err != nil {
			return nil, err
		}
		uploadChain = append(uploadChain, limiter)
	}
	uploadChain = append(uploadChain, blobH.Upload)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.Secure(cfg.CertFile != ""))
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(mgr.MetricsRegistry(), promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.Use(middlewares.JWTAuth(cfg.AuthSecret))
	{
		// blobs
		v1.POST("/blobs", uploadChain...)
		v1.GET("/blobs/content", blobH.Content)
		v1.GET("/blobs/info", blobH.Info)

		// dispatch
		v1.GET("/providers", adminH.Providers)
		v1.GET("/route", adminH.Route)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, version.Get())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
