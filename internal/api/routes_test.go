package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Entitlement{}, &models.ValidationAuditLog{}))

	previous := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = previous
		sqlDB.Close()
	})
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, h)
	return r
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(NewHandler(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestValidateSubscriptionMissingParams(t *testing.T) {
	router := newTestRouter(NewHandler(nil))

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"not JSON", `not json at all`},
		{"missing family_id", `{"transaction_data":"t","receipt_data":"r","product_id":"p"}`},
		{"missing transaction_data", `{"receipt_data":"r","product_id":"p","family_id":"f"}`},
		{"missing receipt_data", `{"transaction_data":"t","product_id":"p","family_id":"f"}`},
		{"missing product_id", `{"transaction_data":"t","receipt_data":"r","family_id":"f"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/subscription/validate",
				strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "InvalidRequest", body["error"])
		})
	}
}

func TestSubscriptionStatus(t *testing.T) {
	setupTestDB(t)
	router := newTestRouter(NewHandler(nil))

	// No record yet: still a 200, just inactive
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/subscription/status?family_id=family-1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body SubscriptionStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.False(t, body.IsActive)

	// Seed an active entitlement
	stored, err := database.UpsertEntitlement(&models.Entitlement{
		FamilyID:              "family-1",
		OriginalTransactionID: "txn-1",
		TransactionID:         "txn-1000",
		ProductID:             "com.screentimeapp.monthly",
		PurchaseDate:          time.Now().Add(-time.Hour),
		ExpirationDate:        time.Now().Add(30 * 24 * time.Hour),
		IsActive:              true,
		AutoRenewStatus:       true,
		Environment:           "production",
	})
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/subscription/status?family_id=family-1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.IsActive)
	assert.Equal(t, stored.EntitlementID, body.EntitlementID)
	assert.Equal(t, "com.screentimeapp.monthly", body.ProductID)
	assert.True(t, body.AutoRenew)
}

func TestSubscriptionStatusRequiresFamilyID(t *testing.T) {
	router := newTestRouter(NewHandler(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/subscription/status", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditEndpointRequiresAPIKey(t *testing.T) {
	router := newTestRouter(NewHandler(nil))

	// API key auth unconfigured: admin surface is unavailable, not open
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit?family_id=family-1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
