package middleware

import (
	"os"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/go-green-rwanda/admin-backend/internal/auth"
)

const testSecret = "test-jwt-secret-that-is-32-chars!!"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv(auth.SecretEnv, testSecret)
	os.Exit(m.Run())
}
