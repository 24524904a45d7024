// Command relayd runs the CRDT state-synchronization relay.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/collabrelay/relay/internal/bus"
	"github.com/collabrelay/relay/internal/config"
	"github.com/collabrelay/relay/internal/logging"
	"github.com/collabrelay/relay/internal/relayroom"
	"github.com/collabrelay/relay/internal/relaywire"
	"github.com/collabrelay/relay/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// absence of a .env file is normal outside local dev
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.Development); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting relayd", zap.String("instance_id", cfg.InstanceID), zap.Int("port", cfg.Port))

	kv, err := store.New(cfg.RedisURL)
	if err != nil {
		logging.Error(ctx, "failed to connect to redis for persistence", zap.Error(err))
		os.Exit(1)
	}
	defer kv.Close()

	msgBus, err := bus.New(cfg.RedisURL)
	if err != nil {
		logging.Error(ctx, "failed to connect to redis for pub/sub", zap.Error(err))
		os.Exit(1)
	}
	defer msgBus.Close()

	manager, err := relayroom.NewManager(ctx, cfg.InstanceID, kv, msgBus)
	if err != nil {
		logging.Error(ctx, "failed to start room manager", zap.Error(err))
		os.Exit(1)
	}

	wsHandler := relaywire.NewHandler(manager, cfg.InstanceID)

	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	corsCfg.AllowAllOrigins = len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*"
	if !corsCfg.AllowAllOrigins {
		router.Use(cors.New(corsCfg))
	} else {
		router.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"*"},
		}))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"instanceId": cfg.InstanceID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ready",
			"instanceId":      cfg.InstanceID,
			"rooms":           manager.RoomCount(),
			"activeInstances": 1,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapH(wsHandler))

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	// Shutdown order: persist every room this instance holds, then close
	// the listener, then release the shared adapters (the deferred
	// Close calls on the bus and store).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.PersistAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "forced shutdown", zap.Error(err))
	}
	manager.CloseAll()

	logging.Info(ctx, "shutdown complete")
}
