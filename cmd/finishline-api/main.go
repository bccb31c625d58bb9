package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/config"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/database"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/faces"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/imagecache"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/payouts"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/pricing"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	mesarioTokenIssuer = "finishline-api"
	shutdownTimeout    = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "finishline-api",
		Short: "Finishline marketplace backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newApplyPixCommand(), newIssueAccessCodeCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.StringSlice("allowed-origins", nil, "Origins allowed to send credentials (empty allows any origin without credentials)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("tauth-cookie-name", defaults.GetString("tauth.cookie_name"), "TAuth session cookie name")
	flags.String("tauth-issuer", defaults.GetString("tauth.issuer"), "Expected TAuth session issuer")
	flags.Int("mesario-token-ttl-minutes", defaults.GetInt("mesario.token_ttl_minutes"), "Mesario token TTL in minutes")
	flags.String("ratelimit-store", defaults.GetString("ratelimit.store"), "Rate limit store (memory, database)")
	flags.Bool("ratelimit-fail-open", defaults.GetBool("ratelimit.fail_open"), "Allow requests when the rate limit store fails")
	flags.String("image-origin-url", defaults.GetString("images.origin_url"), "Origin that serves campaign images")
	flags.String("pix-timezone", defaults.GetString("pix.timezone"), "Timezone used to count PIX business days")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "tauth.cookie_name", "tauth-cookie-name")
	bindFlag(cmd, "tauth.issuer", "tauth-issuer")
	bindFlag(cmd, "mesario.token_ttl_minutes", "mesario-token-ttl-minutes")
	bindFlag(cmd, "ratelimit.store", "ratelimit-store")
	bindFlag(cmd, "ratelimit.fail_open", "ratelimit-fail-open")
	bindFlag(cmd, "images.origin_url", "image-origin-url")
	bindFlag(cmd, "pix.timezone", "pix-timezone")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// runtime holds what every command needs: configuration, logger and database.
type runtime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

func openRuntime() (*runtime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, nil, err
	}
	closer := func() {
		sqlDB.Close() //nolint:errcheck
		logger.Sync() //nolint:errcheck
	}
	return &runtime{config: appConfig, logger: logger, db: db}, closer, nil
}

func (r *runtime) payoutService() (*payouts.Service, error) {
	return payouts.NewService(payouts.ServiceConfig{
		Database:   r.db,
		Clock:      time.Now,
		Location:   r.config.PixLocation,
		IDProvider: ids.NewUUIDProvider(),
		Logger:     r.logger,
	})
}

func (r *runtime) mesarioTokens() (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(r.config.MesarioSigningKey),
		Issuer:        mesarioTokenIssuer,
		TokenTTL:      r.config.MesarioTokenTTL,
	})
}

func (r *runtime) accessService(tokens access.TokenSigner, publisher access.AttendancePublisher) (*access.Service, error) {
	return access.NewService(access.ServiceConfig{
		Database:   r.db,
		Clock:      time.Now,
		IDProvider: ids.NewUUIDProvider(),
		QrSecret:   []byte(r.config.QrSigningKey),
		Tokens:     tokens,
		Publisher:  publisher,
		Logger:     r.logger,
	})
}

func (r *runtime) rateLimitStore() (ratelimit.Store, error) {
	if r.config.RateLimitStore == config.RateLimitStoreDatabase {
		return ratelimit.NewDatabaseStore(r.db)
	}
	return ratelimit.NewMemoryStore(), nil
}

func runServer(ctx context.Context) error {
	rt, closeRuntime, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRuntime()
	logger := rt.logger
	appConfig := rt.config

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}
	mesarioTokens, err := rt.mesarioTokens()
	if err != nil {
		return err
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: rt.db, Clock: time.Now})
	if err != nil {
		return err
	}
	faceService, err := faces.NewService(faces.ServiceConfig{
		Database:         rt.db,
		DefaultThreshold: &appConfig.FaceThreshold,
		Clock:            time.Now,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	pricingService, err := pricing.NewService(pricing.ServiceConfig{Database: rt.db, Logger: logger})
	if err != nil {
		return err
	}
	payoutService, err := rt.payoutService()
	if err != nil {
		return err
	}

	attendance := server.NewAttendanceDispatcher()
	accessService, err := rt.accessService(mesarioTokens, attendance)
	if err != nil {
		return err
	}

	fetcher, err := imagecache.NewHTTPFetcher(appConfig.ImageOriginURL, nil)
	if err != nil {
		return err
	}
	images, err := imagecache.New(imagecache.Config{
		Fetcher:             fetcher,
		MaxThumbnailEntries: appConfig.MaxThumbnailImages,
		MaxMediumEntries:    appConfig.MaxMediumImages,
		MaxLargeEntries:     appConfig.MaxLargeImageEntries,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	store, err := rt.rateLimitStore()
	if err != nil {
		return err
	}
	guard, err := ratelimit.NewGuard(ratelimit.GuardConfig{
		Store:    store,
		FailOpen: appConfig.RateLimitFailOpen,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:      sessions,
		Profiles:      profileService,
		Faces:         faceService,
		Pricing:       pricingService,
		Payouts:       payoutService,
		Access:        accessService,
		MesarioTokens: mesarioTokens,
		Images:        images,
		RateLimiter:   guard,
		Limits: server.RateLimits{
			FaceSearchPerMinute: appConfig.FaceSearchesPerMin,
			LoginPerMinute:      appConfig.LoginAttemptsPerMin,
			ScanPerMinute:       appConfig.ScanRequestsPerMin,
		},
		Attendance:     attendance,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go payouts.RunPixApplier(signalCtx, payoutService, appConfig.PixApplyInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		images.Wait()
		return err
	case err := <-errCh:
		return err
	}
}

func newApplyPixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-pix-changes",
		Short: "Apply every PIX key change whose waiting window has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, closeRuntime, err := openRuntime()
			if err != nil {
				return err
			}
			defer closeRuntime()

			payoutService, err := rt.payoutService()
			if err != nil {
				return err
			}
			applied, err := payoutService.ApplyDuePixChanges(cmd.Context())
			if err != nil {
				return err
			}
			rt.logger.Info("pix changes applied", zap.Int("applied", applied))
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d pix change(s)\n", applied)
			return nil
		},
	}
}

func newIssueAccessCodeCommand() *cobra.Command {
	var (
		campaignID     string
		organizationID string
		validFor       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-access-code",
		Short: "Issue a mesario access code for a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, closeRuntime, err := openRuntime()
			if err != nil {
				return err
			}
			defer closeRuntime()

			tokens, err := rt.mesarioTokens()
			if err != nil {
				return err
			}
			accessService, err := rt.accessService(tokens, nil)
			if err != nil {
				return err
			}
			session, err := accessService.IssueAccessCode(cmd.Context(), access.AccessCodeRequest{
				CampaignID:     campaignID,
				OrganizationID: organizationID,
				ExpiresAt:      time.Now().Add(validFor),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (expires %s)\n", session.Code, session.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "Campaign identifier")
	cmd.Flags().StringVar(&organizationID, "organization", "", "Organization that owns the campaign")
	cmd.Flags().DurationVar(&validFor, "valid-for", 12*time.Hour, "How long the code stays valid")
	_ = cmd.MarkFlagRequired("campaign")
	_ = cmd.MarkFlagRequired("organization")
	return cmd
}
