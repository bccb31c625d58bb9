package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/faces"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/imagecache"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/payouts"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/pricing"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	profileContextKey       = "finishline_profile"
	mesarioClaimsContextKey = "finishline_mesario_claims"
	defaultHeartbeat        = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingProfiles         = errors.New("profile service dependency required")
	errMissingFaces            = errors.New("face service dependency required")
	errMissingPricing          = errors.New("pricing service dependency required")
	errMissingPayouts          = errors.New("payout service dependency required")
	errMissingAccess           = errors.New("access service dependency required")
	errMissingMesarioTokens    = errors.New("mesario token validator dependency required")
	errMissingImages           = errors.New("image cache dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionValidator authenticates marketplace users from their TAuth session.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// MesarioTokenValidator authenticates gate staff from the token issued at login.
type MesarioTokenValidator interface {
	Validate(token string) (auth.MesarioClaims, error)
}

// RateLimits sets per-minute budgets per client IP. Zero disables a limit.
type RateLimits struct {
	FaceSearchPerMinute int
	LoginPerMinute      int
	ScanPerMinute       int
}

type Dependencies struct {
	Sessions       SessionValidator
	Profiles       *profiles.Service
	Faces          *faces.Service
	Pricing        *pricing.Service
	Payouts        *payouts.Service
	Access         *access.Service
	MesarioTokens  MesarioTokenValidator
	Images         *imagecache.Cache
	RateLimiter    *ratelimit.Guard
	Limits         RateLimits
	Attendance     *AttendanceDispatcher
	HeartbeatEvery time.Duration
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Profiles == nil:
		return nil, errMissingProfiles
	case deps.Faces == nil:
		return nil, errMissingFaces
	case deps.Pricing == nil:
		return nil, errMissingPricing
	case deps.Payouts == nil:
		return nil, errMissingPayouts
	case deps.Access == nil:
		return nil, errMissingAccess
	case deps.MesarioTokens == nil:
		return nil, errMissingMesarioTokens
	case deps.Images == nil:
		return nil, errMissingImages
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attendance := deps.Attendance
	if attendance == nil {
		attendance = NewAttendanceDispatcher()
	}
	heartbeat := deps.HeartbeatEvery
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		profiles:      deps.Profiles,
		faces:         deps.Faces,
		pricing:       deps.Pricing,
		payouts:       deps.Payouts,
		access:        deps.Access,
		mesarioTokens: deps.MesarioTokens,
		images:        deps.Images,
		attendance:    attendance,
		heartbeat:     heartbeat,
		logger:        logger,
	}
	limit := func(route string, perMinute int) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return deps.RateLimiter.Middleware(route, perMinute)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/faces/search", limit("faces_search", deps.Limits.FaceSearchPerMinute), handler.handleFaceSearch)
	router.POST("/cart/quote", handler.handleCartQuote)
	router.GET("/images/*path", handler.handleImage)
	router.POST("/mesario/login", limit("mesario_login", deps.Limits.LoginPerMinute), handler.handleMesarioLogin)

	session := router.Group("/")
	session.Use(handler.authorizeSession)
	session.GET("/me/faces", handler.handleGetUserFaces)
	session.PUT("/me/faces", handler.handlePutUserFaces)

	photographer := router.Group("/")
	photographer.Use(handler.authorizeSession, handler.requireRole(profiles.RolePhotographer))
	photographer.PUT("/photos/:id/faces", handler.handlePutPhotoFaces)
	photographer.GET("/me/balance", handler.handleBalance)
	photographer.GET("/me/payouts", handler.handleListPayouts)
	photographer.POST("/me/payouts", handler.handleRequestPayout)
	photographer.GET("/me/pix-key", handler.handlePixStatus)
	photographer.POST("/me/pix-key", handler.handlePixChange)
	photographer.GET("/me/qr-token", handler.handleCurrentQrToken)
	photographer.POST("/me/qr-token", handler.handleRotateQrToken)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeSession, handler.requireRole(profiles.RoleAdmin))
	admin.POST("/payouts/:id/status", handler.handlePayoutStatus)
	admin.POST("/access-codes", handler.handleIssueAccessCode)
	router.POST("/images/cache", handler.authorizeSession, handler.requireRole(profiles.RoleAdmin), handler.handleImageControl)

	mesario := router.Group("/mesario")
	mesario.Use(handler.authorizeMesario)
	mesario.POST("/scan", limit("mesario_scan", deps.Limits.ScanPerMinute), handler.handleScan)
	mesario.POST("/attendance", handler.handleConfirmAttendance)
	mesario.GET("/attendance/stream", handler.handleAttendanceStream)

	return router, nil
}

type httpHandler struct {
	sessions      SessionValidator
	profiles      *profiles.Service
	faces         *faces.Service
	pricing       *pricing.Service
	payouts       *payouts.Service
	access        *access.Service
	mesarioTokens MesarioTokenValidator
	images        *imagecache.Cache
	attendance    *AttendanceDispatcher
	heartbeat     time.Duration
	logger        *zap.Logger
}

// corsMiddleware allows credentialed requests only from the configured origins. Without a list
// any origin may call the API, but never with cookies.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Cache-Control", "X-TAuth-Tenant"},
		ExposeHeaders: []string{"X-Cache"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	} else {
		config.AllowAllOrigins = true
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(started)),
			zap.String("client_ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request completed", fields...)
			return
		}
		logger.Debug("request completed", fields...)
	}
}

func (h *httpHandler) authorizeSession(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	profile, err := h.profiles.Resolve(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, profiles.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to resolve profile", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "profile_unavailable"})
		return
	}
	c.Set(profileContextKey, profile)
	c.Next()
}

func (h *httpHandler) requireRole(role profiles.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := currentProfile(c)
		if !ok || profile.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// authorizeMesario accepts the token as a bearer header, or as access_token for EventSource clients.
func (h *httpHandler) authorizeMesario(c *gin.Context) {
	var token string
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.mesarioTokens.Validate(token)
	if err != nil {
		h.logger.Info("mesario token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(access.OutcomeInvalid)})
		return
	}
	_, outcome, err := h.access.CheckSession(c.Request.Context(), claims.SessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_check_failed"})
		return
	}
	if outcome != access.OutcomeValid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(outcome)})
		return
	}
	c.Set(mesarioClaimsContextKey, claims)
	c.Next()
}

func currentProfile(c *gin.Context) (profiles.Profile, bool) {
	value, ok := c.Get(profileContextKey)
	if !ok {
		return profiles.Profile{}, false
	}
	profile, ok := value.(profiles.Profile)
	return profile, ok
}

func currentMesario(c *gin.Context) (auth.MesarioClaims, bool) {
	value, ok := c.Get(mesarioClaimsContextKey)
	if !ok {
		return auth.MesarioClaims{}, false
	}
	claims, ok := value.(auth.MesarioClaims)
	return claims, ok
}
