package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "FINISHLINE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "finishline.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultSessionIssuer     = "tauth"
	defaultMesarioTTLMinutes = 720
	defaultFaceThreshold     = 0.6
	defaultRateLimitStore    = RateLimitStoreMemory
	defaultLoginPerMinute    = 10
	defaultSearchPerMinute   = 30
	defaultScanPerMinute     = 120
	defaultMaxThumbImages    = 1000
	defaultMaxMediumImages   = 500
	defaultMaxLargeImages    = 200
	defaultPixTimezone       = "America/Sao_Paulo"
	defaultPixApplyMinutes   = 15
)

const (
	// RateLimitStoreMemory keeps rate limit state in process.
	RateLimitStoreMemory = "memory"
	// RateLimitStoreDatabase keeps rate limit windows in the database.
	RateLimitStoreDatabase = "database"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	AllowedOrigins  []string
	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string
	DatabasePath    string
	LogLevel        string

	MesarioSigningKey string
	MesarioTokenTTL   time.Duration
	QrSigningKey      string

	FaceThreshold float64

	RateLimitStore       string
	RateLimitFailOpen    bool
	FaceSearchesPerMin   int
	LoginAttemptsPerMin  int
	ScanRequestsPerMin   int
	ImageOriginURL       string
	MaxThumbnailImages   int
	MaxMediumImages      int
	MaxLargeImageEntries int

	PixLocation      *time.Location
	PixApplyInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("mesario.token_ttl_minutes", defaultMesarioTTLMinutes)
	configViper.SetDefault("faces.default_threshold", defaultFaceThreshold)
	configViper.SetDefault("ratelimit.store", defaultRateLimitStore)
	configViper.SetDefault("ratelimit.fail_open", true)
	configViper.SetDefault("ratelimit.face_search_per_minute", defaultSearchPerMinute)
	configViper.SetDefault("ratelimit.login_per_minute", defaultLoginPerMinute)
	configViper.SetDefault("ratelimit.scan_per_minute", defaultScanPerMinute)
	configViper.SetDefault("images.origin_url", "")
	configViper.SetDefault("images.max_thumbnail_entries", defaultMaxThumbImages)
	configViper.SetDefault("images.max_medium_entries", defaultMaxMediumImages)
	configViper.SetDefault("images.max_large_entries", defaultMaxLargeImages)
	configViper.SetDefault("pix.timezone", defaultPixTimezone)
	configViper.SetDefault("pix.apply_interval_minutes", defaultPixApplyMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	location, err := time.LoadLocation(strings.TrimSpace(configViper.GetString("pix.timezone")))
	if err != nil {
		return AppConfig{}, fmt.Errorf("pix.timezone: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       splitOrigins(configViper.GetStringSlice("http.allowed_origins")),
		TAuthSigningKey:      configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:      configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:          configViper.GetString("tauth.issuer"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		MesarioSigningKey:    configViper.GetString("mesario.signing_secret"),
		MesarioTokenTTL:      time.Duration(configViper.GetInt("mesario.token_ttl_minutes")) * time.Minute,
		QrSigningKey:         configViper.GetString("qr.signing_secret"),
		FaceThreshold:        configViper.GetFloat64("faces.default_threshold"),
		RateLimitStore:       strings.ToLower(strings.TrimSpace(configViper.GetString("ratelimit.store"))),
		RateLimitFailOpen:    configViper.GetBool("ratelimit.fail_open"),
		FaceSearchesPerMin:   configViper.GetInt("ratelimit.face_search_per_minute"),
		LoginAttemptsPerMin:  configViper.GetInt("ratelimit.login_per_minute"),
		ScanRequestsPerMin:   configViper.GetInt("ratelimit.scan_per_minute"),
		ImageOriginURL:       strings.TrimSpace(configViper.GetString("images.origin_url")),
		MaxThumbnailImages:   configViper.GetInt("images.max_thumbnail_entries"),
		MaxMediumImages:      configViper.GetInt("images.max_medium_entries"),
		MaxLargeImageEntries: configViper.GetInt("images.max_large_entries"),
		PixLocation:          location,
		PixApplyInterval:     time.Duration(configViper.GetInt("pix.apply_interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.MesarioSigningKey) == "" {
		return fmt.Errorf("mesario.signing_secret is required")
	}
	if strings.TrimSpace(c.QrSigningKey) == "" {
		return fmt.Errorf("qr.signing_secret is required")
	}
	if c.MesarioTokenTTL <= 0 {
		return fmt.Errorf("mesario.token_ttl_minutes must be positive")
	}
	if c.FaceThreshold < 0 || c.FaceThreshold > 1 {
		return fmt.Errorf("faces.default_threshold must be within [0,1], got %v", c.FaceThreshold)
	}
	switch c.RateLimitStore {
	case RateLimitStoreMemory, RateLimitStoreDatabase:
	default:
		return fmt.Errorf("ratelimit.store must be %q or %q, got %q", RateLimitStoreMemory, RateLimitStoreDatabase, c.RateLimitStore)
	}
	if c.FaceSearchesPerMin <= 0 || c.LoginAttemptsPerMin <= 0 || c.ScanRequestsPerMin <= 0 {
		return fmt.Errorf("ratelimit limits must be positive")
	}
	parsed, err := url.Parse(c.ImageOriginURL)
	if c.ImageOriginURL == "" || err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("images.origin_url must be an absolute url")
	}
	if c.MaxThumbnailImages <= 0 || c.MaxMediumImages <= 0 || c.MaxLargeImageEntries <= 0 {
		return fmt.Errorf("images bucket bounds must be positive")
	}
	if c.PixApplyInterval <= 0 {
		return fmt.Errorf("pix.apply_interval_minutes must be positive")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
