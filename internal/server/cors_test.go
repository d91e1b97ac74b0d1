package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCorsMiddlewareWildcardOmitsCredentials(t *testing.T) {
	router := gin.New()
	router.Use(corsMiddleware("*"))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	request.Header.Set("Origin", "http://localhost:8000")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow origin, got %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("expected no credentials header for wildcard, got %q", got)
	}
}

func TestCorsMiddlewareWildcardPreflightOmitsCredentials(t *testing.T) {
	router := gin.New()
	router.Use(corsMiddleware("*"))
	router.DELETE("/squares/a/notifications", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	request := httptest.NewRequest(http.MethodOptions, "/squares/a/notifications", nil)
	request.Header.Set("Origin", "https://evil.example")
	request.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow origin, got %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("expected no credentials on wildcard preflight, got %q", got)
	}
}

func TestCorsMiddlewareExplicitOriginAllowsCredentials(t *testing.T) {
	router := gin.New()
	router.Use(corsMiddleware("https://squares.example"))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	request.Header.Set("Origin", "https://squares.example")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://squares.example" {
		t.Fatalf("expected echoed origin, got %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials allowed, got %q", got)
	}
}

func TestCorsMiddlewareRejectsUnknownOrigin(t *testing.T) {
	router := gin.New()
	router.Use(corsMiddleware("https://squares.example"))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	request.Header.Set("Origin", "https://evil.example")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", recorder.Code)
	}
}

func TestCorsMiddlewareAnswersPreflight(t *testing.T) {
	router := gin.New()
	router.Use(corsMiddleware("https://squares.example"))
	router.POST("/squares/a/checkin", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := httptest.NewRequest(http.MethodOptions, "/squares/a/checkin", nil)
	request.Header.Set("Origin", "https://squares.example")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://squares.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
