package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/database"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/faces"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/imagecache"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/payouts"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/pricing"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testSessionSecret = "session-secret"
	testSessionIssuer = "tauth"
	testSessionCookie = "app_session"
	testMesarioSecret = "mesario-secret"
)

type stubOrigin struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (o *stubOrigin) Fetch(_ context.Context, requestURL *url.URL) (imagecache.Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return imagecache.Entry{}, o.err
	}
	return imagecache.Entry{Body: []byte("image:" + requestURL.String()), ContentType: "image/jpeg"}, nil
}

func (o *stubOrigin) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *stubOrigin) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type serverFixture struct {
	t          *testing.T
	now        time.Time
	db         *gorm.DB
	handler    http.Handler
	access     *access.Service
	images     *imagecache.Cache
	origin     *stubOrigin
	attendance *AttendanceDispatcher
	logs       *observer.ObservedLogs
}

type fixtureOption func(*Dependencies)

func withHeartbeat(every time.Duration) fixtureOption {
	return func(deps *Dependencies) { deps.HeartbeatEvery = every }
}

func newServerFixture(t *testing.T, limits RateLimits, options ...fixtureOption) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, time.October, 11, 6, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	seedMarketplace(t, db, now)

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSessionSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookie,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	mesarioTokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testMesarioSecret),
		Issuer:        "finishline-test",
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to build mesario token issuer: %v", err)
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build profile service: %v", err)
	}
	faceService, err := faces.NewService(faces.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build face service: %v", err)
	}
	pricingService, err := pricing.NewService(pricing.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build pricing service: %v", err)
	}
	payoutService, err := payouts.NewService(payouts.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &ids.Sequence{Prefix: "payout"},
	})
	if err != nil {
		t.Fatalf("failed to build payout service: %v", err)
	}
	dispatcher := NewAttendanceDispatcher()
	accessService, err := access.NewService(access.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &ids.Sequence{Prefix: "access"},
		QrSecret:   []byte("qr-secret"),
		Tokens:     mesarioTokens,
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build access service: %v", err)
	}
	origin := &stubOrigin{}
	images, err := imagecache.New(imagecache.Config{Fetcher: origin})
	if err != nil {
		t.Fatalf("failed to build image cache: %v", err)
	}
	guard, err := ratelimit.NewGuard(ratelimit.GuardConfig{
		Store:    ratelimit.NewMemoryStore(),
		FailOpen: true,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to build rate limit guard: %v", err)
	}

	deps := Dependencies{
		Sessions:       sessions,
		Profiles:       profileService,
		Faces:          faceService,
		Pricing:        pricingService,
		Payouts:        payoutService,
		Access:         accessService,
		MesarioTokens:  mesarioTokens,
		Images:         images,
		RateLimiter:    guard,
		Limits:         limits,
		Attendance:     dispatcher,
		HeartbeatEvery: time.Hour,
		Logger:         logger,
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &serverFixture{
		t:          t,
		now:        now,
		db:         db,
		handler:    handler,
		access:     accessService,
		images:     images,
		origin:     origin,
		attendance: dispatcher,
		logs:       logs,
	}
}

func seedMarketplace(t *testing.T, db *gorm.DB, now time.Time) {
	t.Helper()
	records := []interface{}{
		&profiles.Profile{ID: "ph-1", Subject: "ph-1", Role: profiles.RolePhotographer, DisplayName: "Ana Lente", Email: "ana@example.com", PixKey: "12345678909"},
		&profiles.Profile{ID: "admin-1", Subject: "admin-1", Role: profiles.RoleAdmin, DisplayName: "Org Admin"},
		&profiles.Profile{ID: "fan-1", Subject: "fan-1", Role: profiles.RoleAttendee, DisplayName: "Runner"},
		&catalog.Campaign{ID: "camp-1", OrganizationID: "org-1", Name: "City Marathon", ProgressiveDiscountEnabled: true},
		&catalog.EventApplication{CampaignID: "camp-1", PhotographerID: "ph-1", Status: catalog.ApplicationApproved},
		&payouts.RevenueShare{
			ID:                 "rs-1",
			PurchaseID:         "purchase-1",
			PhotographerID:     "ph-1",
			PhotographerAmount: decimal.RequireFromString("100.00"),
			PurchaseStatus:     payouts.PurchaseCompleted,
			PurchaseCreatedAt:  now.Add(-24 * time.Hour),
		},
	}
	for index := 1; index <= 6; index++ {
		photoID := "photo-" + string(rune('0'+index))
		records = append(records, &catalog.Photo{
			ID:             photoID,
			CampaignID:     "camp-1",
			PhotographerID: "ph-1",
			URL:            "https://cdn.example.com/camp-1/" + photoID + ".jpg",
			Price:          decimal.RequireFromString("10.00"),
		})
	}
	for _, record := range records {
		if err := db.Create(record).Error; err != nil {
			t.Fatalf("failed to seed %T: %v", record, err)
		}
	}
}

func (f *serverFixture) sessionCookie(userID string, roles ...string) *http.Cookie {
	f.t.Helper()
	claims := auth.SessionClaims{
		UserID:    userID,
		UserRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(f.now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionSecret))
	if err != nil {
		f.t.Fatalf("failed to sign session: %v", err)
	}
	return &http.Cookie{Name: testSessionCookie, Value: signed}
}

type requestOption func(*http.Request)

func withCookie(cookie *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(cookie) }
}

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withHeader(name, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(name, value) }
}

func (f *serverFixture) do(method, target string, body interface{}, options ...requestOption) *httptest.ResponseRecorder {
	f.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			f.t.Fatalf("failed to encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, target, &payload)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, option := range options {
		option(request)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	decoder := json.NewDecoder(recorder.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func descriptorOf(value float64) []float64 {
	descriptor := make([]float64, faces.DescriptorLength)
	for index := range descriptor {
		descriptor[index] = value
	}
	return descriptor
}
