package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodOptions, "/mesario/scan", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization, X-TAuth-Tenant")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSMiddlewareAllowsGateHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware())
	router.POST("/mesario/scan", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	recorder := preflight(router, "https://gate.example.com")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers"))
	for _, header := range []string{"authorization", "x-tauth-tenant"} {
		if !strings.Contains(allowHeaders, header) {
			t.Fatalf("expected Access-Control-Allow-Headers to include %s, got %q", header, allowHeaders)
		}
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("expected credentials to stay disabled without configured origins")
	}
}

func TestCORSMiddlewareRestrictsConfiguredOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware("https://gate.example.com"))
	router.POST("/mesario/scan", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	allowed := preflight(router, "https://gate.example.com")
	if allowed.Header().Get("Access-Control-Allow-Origin") != "https://gate.example.com" {
		t.Fatalf("expected configured origin to be echoed, got %q", allowed.Header().Get("Access-Control-Allow-Origin"))
	}
	if allowed.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials for a configured origin")
	}
	denied := preflight(router, "https://elsewhere.example.com")
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unlisted origin, got %d", denied.Code)
	}
	if denied.Header().Get("Access-Control-Allow-Credentials") != "" || denied.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no cors headers for unlisted origin, got %v", denied.Header())
	}
}

func TestDefaultHandlerNeverSendsCredentialsCrossOrigin(t *testing.T) {
	fixture := newServerFixture(t, RateLimits{})

	response := fixture.do(http.MethodOptions, "/me/balance", nil,
		withHeader("Origin", "https://evil.example.net"),
		withHeader("Access-Control-Request-Method", http.MethodGet),
	)
	if response.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("expected no credentials header, got %q", response.Header().Get("Access-Control-Allow-Credentials"))
	}
	if origin := response.Header().Get("Access-Control-Allow-Origin"); origin == "https://evil.example.net" {
		t.Fatalf("expected the caller origin not to be echoed")
	}
}
