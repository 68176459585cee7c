package proxy

import (
	"time"

	"logging_proxy/internal/logger"

	humanize "github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the proxy listener's engine. No routes are registered, so
// every method and path reaches the forwarder through NoRoute.
func NewRouter(f *Forwarder, log *logger.Logger, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = false
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(gin.Recovery(), AccessLog(log))
	router.Use(middleware...)
	router.NoRoute(f.Handle)
	return router
}

// AccessLog writes one line per proxied request: remote address, request
// line, status, latency and bytes in and out.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		bytesIn := c.Request.ContentLength
		if bytesIn < 0 {
			bytesIn = 0
		}
		bytesOut := c.Writer.Size()
		if bytesOut < 0 {
			bytesOut = 0
		}
		log.Infow("proxy_request",
			"remote", c.Request.RemoteAddr,
			"host", c.Request.Host,
			"request", c.Request.Method+" "+c.Request.URL.RequestURI()+" "+c.Request.Proto,
			"status", c.Writer.Status(),
			"latency_ms", humanize.FormatFloat("#,###.##", float64(elapsed.Microseconds())/1000),
			"bytes_in", humanize.Bytes(uint64(bytesIn)),
			"bytes_out", humanize.Bytes(uint64(bytesOut)),
		)
	}
}
