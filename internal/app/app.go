// Package app assembles the service from configuration: storage, outbound
// clients, background workers and the HTTP router. It also owns graceful
// shutdown.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/auth"
	"github.com/olly-social/olly/internal/billing"
	"github.com/olly-social/olly/internal/commenter"
	"github.com/olly-social/olly/internal/config"
	"github.com/olly-social/olly/internal/crm"
	"github.com/olly-social/olly/internal/db/memorystorage"
	"github.com/olly-social/olly/internal/db/postgresdb"
	"github.com/olly-social/olly/internal/dmautomation"
	"github.com/olly-social/olly/internal/instagram"
	"github.com/olly-social/olly/internal/ipchecker"
	"github.com/olly-social/olly/internal/llm"
	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/mailer"
	"github.com/olly-social/olly/internal/metrics"
	"github.com/olly-social/olly/internal/models"
	"github.com/olly-social/olly/internal/notify"
	"github.com/olly-social/olly/internal/router"
	"github.com/olly-social/olly/internal/scheduler"
	"github.com/olly-social/olly/internal/tokencipher"
	"github.com/olly-social/olly/internal/usagerecorder"
)

const (
	shutdownTimeout = 10 * time.Second

	jobInstagramDMAutomation = "instagram-dm-automation"
	jobSubscriptionExpiry    = "subscription-expiry"
)

type transactioner interface {
	BeginTransaction() (*sql.Tx, error)

	RollbackTransaction(transaction *sql.Tx) error

	CommitTransaction(transaction *sql.Tx) error
}

type creditKeeper interface {
	GetAPIKey(ctx context.Context, key string) (*models.APIKey, error)

	DeductCredits(ctx context.Context, apiKey string, amount int, description string) error

	AddCredits(ctx context.Context, userID string, amount int, description string, transaction *sql.Tx) error

	WithdrawCredits(ctx context.Context, userID string, amount int, reason string, transaction *sql.Tx) (int, error)

	GetAutoCommenterConfig(ctx context.Context, licenseKey string, platform string) (*models.AutoCommenterConfig, error)

	SaveAPIUsages(ctx context.Context, usages []models.APIUsage) error
}

type instagramKeeper interface {
	ListActiveOAuthTokens(ctx context.Context, platform string, now time.Time) ([]models.OAuthToken, error)

	MarkOAuthTokenInvalid(ctx context.Context, tokenID string) error

	UpdateOAuthToken(ctx context.Context, tokenID string, encryptedToken string, expiresAt time.Time) error

	ListEnabledDMAutomations(ctx context.Context, userID string) ([]models.DMAutomation, error)

	ListProcessedCommentIDs(ctx context.Context, automationID string) ([]string, error)

	SaveCommentHistory(ctx context.Context, entry *models.CommentHistory) error
}

type licenseKeeper interface {
	FindUserByEmail(ctx context.Context, email string, transaction *sql.Tx) (*models.User, error)

	UpsertUser(ctx context.Context, email string, username string, transaction *sql.Tx) (*models.User, error)

	UpsertLicenseKey(ctx context.Context, license *models.LicenseKey, transaction *sql.Tx) (*models.LicenseKey, error)

	FindLicenseKeyForUserProduct(
		ctx context.Context,
		userID string,
		productID int,
		transaction *sql.Tx,
	) (*models.LicenseKey, error)

	LinkUserLicenseKey(ctx context.Context, userID string, licenseKeyID string, transaction *sql.Tx) error

	CreateInstallation(ctx context.Context, licenseKeyID string, status string, transaction *sql.Tx) error

	EnsureLeaderboardEntry(ctx context.Context, userID string, transaction *sql.Tx) error

	CreateSubLicenses(ctx context.Context, subLicenses []models.SubLicense, transaction *sql.Tx) error

	UpdateSubLicensesStatus(
		ctx context.Context,
		mainKey string,
		status models.LicenseStatus,
		transaction *sql.Tx,
	) error
}

type subscriptionKeeper interface {
	UpsertPlan(ctx context.Context, plan *models.Plan, transaction *sql.Tx) (*models.Plan, error)

	CancelActiveSubscriptions(ctx context.Context, userID string, endDate time.Time, transaction *sql.Tx) error

	CreateSubscription(ctx context.Context, subscription *models.Subscription, transaction *sql.Tx) error

	FindSubscriptionByVendorID(
		ctx context.Context,
		vendorSubID string,
		transaction *sql.Tx,
	) (*models.Subscription, error)

	UpdateSubscription(ctx context.Context, subscription *models.Subscription, transaction *sql.Tx) error

	ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error)
}

type storage interface {
	transactioner
	creditKeeper
	instagramKeeper
	licenseKeeper
	subscriptionKeeper
	Ping(ctx context.Context) error
	GetInternalStats(ctx context.Context) (*models.InternalStats, error)
	Close() error
}

// App encapsulates the configuration, storage, background workers and
// HTTP handler of the service.
type App struct {
	cfg           *config.Config
	db            storage
	usageRecorder *usagerecorder.UsageRecorder
	stopRecorder  context.CancelFunc
	scheduler     *scheduler.Scheduler
	httpHandler   http.Handler
}

// New loads the configuration and builds every component. Background
// workers are started by Run.
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	cipher, err := tokencipher.New(app.cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/New(): error while `tokencipher.New()` calling: %w", err)
	}

	checker, err := ipchecker.New(app.cfg.TrustedSubnets)
	if err != nil {
		return nil, err
	}

	timeout := app.cfg.OutboundTimeout

	app.usageRecorder = usagerecorder.New(app.db, app.cfg.UsageQueueCapacity, app.cfg.UsageFlushInterval)

	comments := commenter.New(
		app.db,
		llm.NewClient(llm.Config{
			APIKey:  app.cfg.OpenAIAPIKey,
			BaseURL: app.cfg.OpenAIBaseURL,
			Model:   app.cfg.OpenAIModel,
		}),
		app.usageRecorder,
		commenter.NewSummaryClient(app.cfg.AppURL, timeout),
	)

	billingOptions := []billing.InitOption{}
	if app.cfg.TeamDiscordWebhook != "" {
		billingOptions = append(billingOptions, billing.WithTeamNotifier(notify.NewDiscord(app.cfg.TeamDiscordWebhook, timeout)))
	}
	webhooks := billing.New(
		app.db,
		billing.NewCatalog(
			app.cfg.LemonEnterpriseProductIDs,
			app.cfg.LemonAgencyProductIDs,
			app.cfg.LemonTeamProductIDs,
			app.cfg.LemonIndividualProductIDs,
		),
		notify.NewDiscord(app.cfg.DiscordWebhook, timeout),
		mailer.New(app.cfg.MailAPIURL, app.cfg.MailAPIKey, app.cfg.MailFrom, timeout),
		crm.NewBrevo(app.cfg.BrevoBaseURL, app.cfg.BrevoAPIKey, timeout),
		billingOptions...,
	)

	sweeper := dmautomation.New(
		app.db,
		instagram.NewClient(app.cfg.InstagramGraphURL, app.cfg.InstagramRateLimit, timeout),
		cipher,
		dmautomation.WithReplyObserver(metrics.ReplyObserver{}),
	)

	app.scheduler = scheduler.New()
	err = app.scheduler.Add(jobInstagramDMAutomation, app.cfg.DMSweepSchedule, func(ctx context.Context) error {
		_, err := sweeper.Run(ctx)
		if errors.Is(err, dmautomation.ErrSweepInProgress) {
			logger.Log.Infow("skipping scheduled DM sweep, another sweep is running")
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	err = app.scheduler.Add(jobSubscriptionExpiry, app.cfg.SubscriptionExpirySchedule, webhooks.ExpireSubscriptions)
	if err != nil {
		return nil, err
	}

	app.httpHandler = router.New(
		app.db,
		comments,
		webhooks,
		sweeper,
		auth.New(checker, []byte(app.cfg.OperatorSigningKey)),
		app.cfg.LemonWebhookSecret,
	)

	return app, nil
}

// Run starts the workers and the HTTP server and blocks until a shutdown
// signal or a server failure.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	a.stopRecorder = stopRecorder
	a.usageRecorder.ListenErrors(func(err error) {
		logger.Log.Errorw("Error passed from the `a.usageRecorder.ListenErrors()`", zap.Error(err))
	})
	a.usageRecorder.Run(recorderCtx)

	a.scheduler.Start()

	logger.Log.Infow("server running", "RunAddr", a.cfg.RunAddr, "scheduled_jobs", a.scheduler.Len())

	server := &http.Server{
		Addr:              a.cfg.RunAddr,
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Draining workers and exiting...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return a.shutdown(shutdownCtx, server)

	case err := <-serverErrCh:
		a.stopRecorder()
		return fmt.Errorf("server error: %w", err)
	}
}

func (a *App) shutdown(ctx context.Context, server *http.Server) error {
	var errs []error

	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown error: %w", err))
	}

	a.stopRecorder()
	select {
	case <-a.usageRecorder.Done():
	case <-ctx.Done():
		errs = append(errs, errors.New("usage recorder did not flush before the shutdown deadline"))
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)
	}

	memory, err := memorystorage.New()
	if err != nil {
		return nil, err
	}

	if cfg.MemorySeedFile != "" {
		if err := memory.LoadSeedFile(cfg.MemorySeedFile); err != nil {
			return nil, fmt.Errorf("in internal/app/app.go/getStorageByType(): error while `memory.LoadSeedFile()` calling: %w", err)
		}
	}

	logger.Log.Warnw("DATABASE_DSN is not set, using in-memory storage")

	return memory, nil
}
