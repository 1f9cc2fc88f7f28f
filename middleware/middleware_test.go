package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lwie/config"
	"lwie/models"
	"lwie/utils"
)

const testSecret = "middleware-test-secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func protectedApp(db *gorm.DB) *fiber.App {
	app := fiber.New()
	app.Get("/me", Protected(db, testSecret), func(c *fiber.Ctx) error {
		user, ok := CurrentUser(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"id": user.ID, "user_id": c.Locals("userID")})
	})
	return app
}

func TestProtected(t *testing.T) {
	db := newTestDB(t)
	user := models.User{Email: "abebe@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	token, err := utils.GenerateJWTToken(&user, testSecret)
	require.NoError(t, err)

	app := protectedApp(db)

	tests := []struct {
		name   string
		header string
		cookie string
		want   int
	}{
		{"bearer token", "Bearer " + token, "", fiber.StatusOK},
		{"cookie token", "", token, fiber.StatusOK},
		{"missing", "", "", fiber.StatusUnauthorized},
		{"bad format", "Token " + token, "", fiber.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "access_token", Value: tt.cookie})
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestProtectedRejectsRevokedAndInactive(t *testing.T) {
	db := newTestDB(t)
	user := models.User{Email: "abebe@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	token, err := utils.GenerateJWTToken(&user, testSecret)
	require.NoError(t, err)
	app := protectedApp(db)

	call := func() int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.NoError(t, db.Model(&user).Update("token_version", 1).Error)
	assert.Equal(t, fiber.StatusUnauthorized, call())

	require.NoError(t, db.Model(&user).Updates(map[string]interface{}{"token_version": 0, "is_active": false}).Error)
	assert.Equal(t, fiber.StatusForbidden, call())
}

func TestCORSPreflight(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{
		AllowedOrigins:   []string{"https://lwie.et"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		MaxAge:           3600,
	}))
	app.Get("/payment/plans", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodOptions, "/payment/plans", nil)
	req.Header.Set("Origin", "https://lwie.et")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://lwie.et", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))
	assert.Equal(t, "GET,POST", resp.Header.Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/payment/plans", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func limitedApp(storage fiber.Storage) *fiber.App {
	app := fiber.New()
	app.Post("/payment/initiate",
		func(c *fiber.Ctx) error {
			user := &models.User{}
			user.ID = uint(c.QueryInt("user", 1))
			c.Locals("user", user)
			return c.Next()
		},
		InitiateRateLimiter(2, time.Minute, storage),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) },
	)
	return app
}

func postInitiate(t *testing.T, app *fiber.App, user int) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/payment/initiate?user=%d", user), nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestInitiateRateLimiterInMemory(t *testing.T) {
	app := limitedApp(nil)

	assert.Equal(t, fiber.StatusCreated, postInitiate(t, app, 1))
	assert.Equal(t, fiber.StatusCreated, postInitiate(t, app, 1))
	assert.Equal(t, fiber.StatusTooManyRequests, postInitiate(t, app, 1))
	assert.Equal(t, fiber.StatusCreated, postInitiate(t, app, 2), "limits are per account")
}

func TestInitiateRateLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	storage := NewRateLimitStorage(config.RedisConfig{Enabled: true, Address: mr.Addr()})
	require.NotNil(t, storage)
	defer storage.Close()

	app := limitedApp(storage)
	assert.Equal(t, fiber.StatusCreated, postInitiate(t, app, 1))
	assert.Equal(t, fiber.StatusCreated, postInitiate(t, app, 1))
	assert.Equal(t, fiber.StatusTooManyRequests, postInitiate(t, app, 1))

	assert.True(t, mr.Exists("ratelimit:initiate:user:1"))
}

func TestRedisStorageMissingKey(t *testing.T) {
	mr := miniredis.RunT(t)
	storage := NewRedisStorage(config.RedisConfig{Address: mr.Addr()})
	defer storage.Close()

	val, err := storage.Get("absent")
	assert.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, storage.Set("k", []byte("v"), time.Minute))
	val, err = storage.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, storage.Delete("k"))
	val, err = storage.Get("k")
	assert.NoError(t, err)
	assert.Nil(t, val)
}

func TestNewRateLimitStorageDisabled(t *testing.T) {
	assert.Nil(t, NewRateLimitStorage(config.RedisConfig{}))
}
