package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

func TestErrorHandlerMiddleware_HandlesAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(logging.NewNopLogger()))
	router.GET("/test", func(c *gin.Context) {
		SetError(c, errors.NewNotFoundError("blob not found"))
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body errors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.ErrorCodeNotFound, body.Code)
	assert.Equal(t, "blob not found", body.Message)
}

func TestErrorHandlerMiddleware_WrapsUnknownErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(logging.NewNopLogger()))
	router.GET("/test", func(c *gin.Context) {
		SetError(c, assert.AnError)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(errors.ErrorCodeInternal))
}

func TestErrorHandlerMiddleware_KeepsWrittenResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(logging.NewNopLogger()))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusAccepted, "partial")
		SetError(c, errors.NewUnavailableError("late failure"))
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}
