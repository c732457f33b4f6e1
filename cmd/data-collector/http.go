package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type readStore interface {
	shared.CacheReader
	shared.StatsReader
}

// NewRouter exposes the side-effect-free reads of the store.
func NewRouter(store readStore) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Data collector service is running"})
	})

	router.GET("/cache/last-message", func(c *gin.Context) {
		message, err := store.GetLastMessage(c.Request.Context())
		if err != nil {
			handleCacheError(c, err)
			return
		}
		c.JSON(http.StatusOK, message)
	})

	router.GET("/cache/last-message-metadata", func(c *gin.Context) {
		metadata, err := store.GetLastMessageMetadata(c.Request.Context())
		if err != nil {
			handleCacheError(c, err)
			return
		}
		c.JSON(http.StatusOK, metadata)
	})

	wrappers := router.Group("/wrappers/:wrapper_id")
	{
		wrappers.GET("/statistics", func(c *gin.Context) {
			wrapperID := c.Param("wrapper_id")
			stats, err := store.GetStats(c.Request.Context(), wrapperID)
			if err != nil {
				handleCacheError(c, err)
				return
			}
			if stats == nil {
				c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("No statistics found for wrapper %s", wrapperID)})
				return
			}
			c.JSON(http.StatusOK, stats)
		})

		wrappers.GET("/last-message", func(c *gin.Context) {
			wrapperID := c.Param("wrapper_id")
			message, err := store.GetWrapperLastMessage(c.Request.Context(), wrapperID)
			if err != nil {
				handleCacheError(c, err)
				return
			}
			if message == nil {
				c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("No messages found for wrapper %s", wrapperID)})
				return
			}
			c.JSON(http.StatusOK, message)
		})
	}
	return router
}

func handleCacheError(c *gin.Context, err error) {
	zap.S().Errorw("Cache error",
		"path", c.Request.URL.Path,
		"error", err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("Cache error: %s", err)})
}

// SetupRestAPI serves the read API in the background until ShutdownRestAPI is called.
func SetupRestAPI(store readStore, port int) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(store),
		ReadHeaderTimeout: internal.TenSeconds,
	}
	go func() {
		zap.S().Infof("Serving read API on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Error starting read API: %s", err)
		}
	}()
	return server
}

func ShutdownRestAPI(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
