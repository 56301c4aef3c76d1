package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gookit/slog"
)

const shutdownTimeout = 3 * time.Second

// NewRouter builds the gin engine with all /api routes. Split from
// StartService so tests can drive it with httptest.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(corsMiddleware())

	api := r.Group("/api")
	{
		api.GET("/session", h.GetSession)

		api.GET("/connections", h.ListConnections)
		api.POST("/connections", h.RegisterConnection)
		api.PUT("/connections/:id", h.UpdateConnection)
		api.DELETE("/connections/:id", h.DeleteConnection)

		api.POST("/test-connection-params", h.TestConnectionParams)
		api.POST("/connect", h.Connect)
		api.POST("/connect-string", h.ConnectString)
		api.POST("/set-active-connection", h.SetActiveConnection)
		api.GET("/connection", h.ConnectionStatus)

		api.GET("/stats", h.Stats)
		api.GET("/resource-stats", h.ResourceStats)
		api.GET("/table-stats", h.TableStats)
		api.GET("/query-logs", h.QueryLogs)
		api.GET("/metric-history", h.MetricHistory)

		api.POST("/run-query", h.RunQuery)
		api.GET("/analyze", h.Analyze)
	}

	return r
}

// StartService serves the API on the given port and returns a stop function
// that shuts the server down gracefully.
func StartService(h *Handlers, port int) (stop func(), err error) {
	f, err := os.OpenFile("http.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open http log: %w", err)
	}
	gin.DefaultWriter = f
	gin.DefaultErrorWriter = f
	gin.SetMode(gin.ReleaseMode)

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	server := &http.Server{Handler: NewRouter(h)}
	var once sync.Once
	stop = func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(ctx)
			_ = listener.Close()
			_ = f.Close()
		})
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Errorf("http server error: %v", err)
		}
	}()
	slog.Infof("API listening on %s", addr)
	return stop, nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-Session-ID, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Session-ID, X-Query-Duration-Ms")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
