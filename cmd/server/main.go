package main

import (
	"crypto/x509"
	"log"
	"os"
	"time"

	"entitlement-api/internal/api"
	"entitlement-api/internal/config"
	"entitlement-api/internal/database"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	// Set Gin mode
	gin.SetMode(config.AppConfig.Mode)

	// Build the validation pipeline
	validationService := services.NewValidationService(
		services.NewCertificateChainValidator(loadPinnedRoots()),
		services.NewSecurityPolicy(
			config.AppConfig.AppStoreBundleID,
			time.Duration(config.AppConfig.ReplayWindowMinutes)*time.Minute,
		),
		services.NewReceiptGateway(),
		services.NewRedisReplayCache(database.GetRedis(), 24*time.Hour),
	)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, api.NewHandler(validationService))

	// Start server
	port := config.AppConfig.Port
	logging.Infof("Starting server on port %s", port)

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// loadPinnedRoots loads the pinned Apple root certificate pool. Returns nil
// when no root is configured; the chain validator then falls back to
// intra-chain signature checks (development only).
func loadPinnedRoots() *x509.CertPool {
	path := config.AppConfig.AppleRootCAPath
	if path == "" {
		logging.Infof("APPLE_ROOT_CA_PATH not set, certificate chains will not be pinned to a root")
		return nil
	}

	pemData, err := os.ReadFile(path)
	if err != nil {
		log.Fatal("Failed to read pinned root certificate:", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		log.Fatal("No certificates found in " + path)
	}

	logging.Infof("Loaded pinned root certificates from %s", path)
	return pool
}
