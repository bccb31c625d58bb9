package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Time) (bool, error) {
	return false, errors.New("store offline")
}

func TestMemoryStoreLimitsPerKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 10, 11, 6, 0, 0, 0, time.UTC)

	for attempt := 1; attempt <= 3; attempt++ {
		if allowed, _ := store.Allow(ctx, "login:10.0.0.1", 3, now); !allowed {
			t.Fatalf("attempt %d should be allowed", attempt)
		}
	}
	if allowed, _ := store.Allow(ctx, "login:10.0.0.1", 3, now); allowed {
		t.Fatalf("fourth attempt in the same minute should be denied")
	}
	if allowed, _ := store.Allow(ctx, "login:10.0.0.2", 3, now); !allowed {
		t.Fatalf("other clients keep their own budget")
	}
	if allowed, _ := store.Allow(ctx, "login:10.0.0.1", 3, now.Add(20*time.Second)); !allowed {
		t.Fatalf("a token should refill after a third of a minute")
	}
	if store.Len() != 2 {
		t.Fatalf("expected two tracked keys, got %d", store.Len())
	}
}

func TestDatabaseStoreCountsFixedWindows(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Window{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewDatabaseStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 10, 11, 6, 0, 10, 0, time.UTC)

	for attempt := 1; attempt <= 2; attempt++ {
		allowed, err := store.Allow(ctx, "scan:10.0.0.1", 2, now)
		if err != nil || !allowed {
			t.Fatalf("attempt %d should be allowed (%v)", attempt, err)
		}
	}
	if allowed, err := store.Allow(ctx, "scan:10.0.0.1", 2, now.Add(40*time.Second)); err != nil || allowed {
		t.Fatalf("third hit in the window should be denied (%v)", err)
	}
	if allowed, err := store.Allow(ctx, "scan:10.0.0.1", 2, now.Add(time.Minute)); err != nil || !allowed {
		t.Fatalf("next window starts fresh (%v)", err)
	}

	var windows int64
	db.Model(&Window{}).Where("bucket_key = ?", "scan:10.0.0.1").Count(&windows)
	if windows != 1 {
		t.Fatalf("expired windows should be removed, found %d", windows)
	}
}

func TestGuardFailOpenPolicy(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
		want     bool
		level    zapcore.Level
	}{
		{name: "fail-open", failOpen: true, want: true, level: zapcore.WarnLevel},
		{name: "fail-closed", failOpen: false, want: false, level: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			guard, err := NewGuard(GuardConfig{Store: failingStore{}, FailOpen: tt.failOpen, Logger: zap.New(core)})
			if err != nil {
				t.Fatalf("failed to build guard: %v", err)
			}
			if got := guard.Allow(context.Background(), "login:10.0.0.1", 5); got != tt.want {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
			entries := logs.All()
			if len(entries) != 1 || entries[0].Level != tt.level {
				t.Fatalf("expected one %s log, got %#v", tt.level, entries)
			}
		})
	}
}

func TestGuardMiddlewareAnswersTooManyRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 10, 11, 6, 0, 0, 0, time.UTC)
	guard, err := NewGuard(GuardConfig{Store: NewMemoryStore(), Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("failed to build guard: %v", err)
	}
	router := gin.New()
	router.POST("/mesario/login", guard.Middleware("mesario_login", 1), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/mesario/login", http.NoBody))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first request should pass, got %d", first.Code)
	}
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/mesario/login", http.NoBody))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", second.Code)
	}
}

func TestNewGuardRequiresStore(t *testing.T) {
	if _, err := NewGuard(GuardConfig{}); err == nil {
		t.Fatalf("expected error without store")
	}
}
