package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"fleamarket/internal/api"
	"fleamarket/internal/auth"
	"fleamarket/internal/config"
	"fleamarket/internal/database"
	"fleamarket/internal/logging"
	"fleamarket/internal/scheduler"
	listingService "fleamarket/internal/services/listing"
	paymentService "fleamarket/internal/services/payment"
	shipmentService "fleamarket/internal/services/shipment"
	"fleamarket/internal/websocket"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.IsProduction())

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	// Initialize services
	authService := auth.NewService(db, cfg.JWTSecret)
	payment := paymentService.NewPaymentService(cfg.PaymentServiceURL, cfg.PaymentShopID, cfg.PaymentAPIKey)
	shipment := shipmentService.NewShipmentService(cfg.ShipmentServiceURL)
	listing := listingService.NewListingService(db, payment, shipment, cfg.BumpCharge)

	wsHub := websocket.NewHub()
	go wsHub.Run()
	listing.SetNotifier(wsHub)

	jobs := scheduler.New(listing)
	if err := jobs.Start(cfg.ShippingSyncSpec); err != nil {
		logrus.WithError(err).Fatal("Failed to schedule shipping sync")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, authService, listing)

	r.GET("/ws", websocket.HandleWebSocket(wsHub))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed to start")
		}
	}()
	logrus.Infof("Server starting on port %s", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	jobs.Stop()
	wsHub.Stop()

	logrus.Info("Server exited")
}
