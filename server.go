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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/restore_backend/config"
	"github.com/mmdatafocus/restore_backend/locket"
	"github.com/mmdatafocus/restore_backend/models"
	"github.com/mmdatafocus/restore_backend/notify"
	"github.com/mmdatafocus/restore_backend/restore"
	"github.com/mmdatafocus/restore_backend/utils"
	"github.com/sirupsen/logrus"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter counts requests per client IP in fixed windows.
type RateLimiter struct {
	limit  int64
	window time.Duration
	incr   func(ctx context.Context, key string, window time.Duration) (int64, error)
}

func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		incr:   config.IncrRedisCounter,
	}
}

// Middleware function to check rate limits. Requests pass when redis is
// unavailable.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := rateLimitPrefix + utils.ClientIP(c.Request, c.ClientIP())

	count, err := rl.incr(c.Request.Context(), key, rl.window)
	if err != nil {
		_ = c.Error(err)
		c.Next()
		return
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"msg":     fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

type app struct {
	settings   config.Settings
	logger     *logrus.Logger
	creds      *restore.CredentialHolder
	pipeline   *restore.Pipeline
	manager    *restore.Manager
	worker     *restore.Worker
	dispatcher *restore.Dispatcher
}

func newApp(settings config.Settings, logger *logrus.Logger) *app {
	client := locket.NewClient(settings.APIBaseURL, nil)
	auth := locket.NewFirebaseAuth(locket.AuthConfig{
		BaseURL:  settings.AuthBaseURL,
		APIKey:   settings.FirebaseAPIKey,
		Email:    settings.Email,
		Password: settings.Password,
	}, nil, logger)

	creds := restore.NewCredentialHolder(auth, settings.CallTimeout, logger)
	pipeline := restore.NewPipeline(client, creds, restore.PipelineConfig{
		CallTimeout:     settings.CallTimeout,
		SubscriptionIds: settings.SubscriptionIds,
	}, logger)

	store := restore.NewRequestStore()
	queue := restore.NewFIFOQueue()
	est := restore.NewEstimator(settings.EstimatorWindow, time.Duration(settings.EstimatorDefaultSeconds)*time.Second)

	var sinks []restore.Sink
	if tg := notify.NewTelegramSink(settings.TelegramBotToken, settings.TelegramChatId); tg.Enabled() {
		sinks = append(sinks, tg)
	} else {
		logger.WithField("field", "notify").Info("TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set; telegram notifications disabled")
	}
	if settings.EventsTopic != "" {
		sinks = append(sinks, notify.NewPubSubSink(settings.EventsTopic))
	}
	if config.DatabaseConfigured() {
		sinks = append(sinks, notify.NewAuditSink())
	}
	dispatcher := restore.NewDispatcher(logger, restore.DefaultDispatchBuffer, restore.DefaultSinkTimeout, sinks...)

	return &app{
		settings:   settings,
		logger:     logger,
		creds:      creds,
		pipeline:   pipeline,
		manager:    restore.NewManager(store, queue, est, creds),
		worker:     restore.NewWorker(store, queue, est, pipeline, dispatcher, logger),
		dispatcher: dispatcher,
	}
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		ctx = utils.SetClientIPInContext(ctx, utils.ClientIP(c.Request, c.ClientIP()))
		c.Request = c.Request.WithContext(ctx)
		c.Header("x-correlation-id", cid)
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	if config.IsProduction() {
		corsConfig.AllowOrigins = a.settings.CORSAllowedOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(a.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/", restore.SummaryHandler(a.manager))

	api := r.Group("/api")
	submit := []gin.HandlerFunc{}
	if config.RateLimitEnabled() {
		submit = append(submit, NewRateLimiter(a.settings.RateLimitMax, a.settings.RateLimitWindow).RateLimitMiddleware)
	}
	api.POST("/restore", append(submit, restore.RestoreHandler(a.manager))...)
	api.POST("/get-user-info", append(submit, restore.UserInfoHandler(a.manager, a.pipeline))...)
	api.POST("/queue/status", restore.QueueStatusHandler(a.manager))

	r.NoRoute(customNotFoundHandler)
	return r
}

// connectBackground brings up the optional dependencies and the first
// credential without blocking the listener.
func (a *app) connectBackground(ctx context.Context) {
	go a.creds.AcquireWithRetry(ctx)
	go config.ConnectRedisWithRetry(ctx, a.settings.RedisAddress)
	go func() {
		config.ConnectDatabaseWithRetry(ctx)
		db := config.GetDB()
		if db == nil {
			return
		}
		if config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
			a.logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
			return
		}
		if err := models.MigrateTable(db); err != nil {
			config.LogError(a.logger, "main", "connectBackground", "AutoMigrate failed", nil, err)
		}
	}()
	if a.settings.EventsTopic != "" {
		go func() {
			c, err := config.GetClient(ctx)
			if err != nil {
				config.LogError(a.logger, "main", "connectBackground", "pubsub unavailable", a.settings.EventsTopic, err)
				return
			}
			if _, err := config.CreateTopicIfNotExists(ctx, c, a.settings.EventsTopic); err != nil {
				config.LogError(a.logger, "main", "connectBackground", "ensure topic failed", a.settings.EventsTopic, err)
			}
		}()
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "msg": "route not found"})
}

// customErrorLogger logs every request that failed or attached errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if len(c.Errors) == 0 && status < http.StatusInternalServerError {
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		ip, _ := utils.GetClientIPFromContext(c.Request.Context())
		entry := logger.WithFields(logrus.Fields{
			"client_ip":      ip,
			"status":         status,
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        time.Since(start).String(),
			"correlation_id": cid,
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
			return
		}
		entry.Error("request failed")
	}
}

func main() {
	logger := config.GetLogger()

	settings, err := config.LoadSettings()
	if err != nil {
		// Keep serving: submissions answer 500 until a credential is acquired.
		logger.WithFields(logrus.Fields{
			"field":  "settings",
			"errors": utils.ProcessValidationErrors(err),
		}).Error("invalid settings: " + err.Error())
	}
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a := newApp(settings, logger)
	a.dispatcher.Start()
	a.worker.Start(sigCtx)

	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: a.router(),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	a.connectBackground(sigCtx)
	logger.WithFields(logrus.Fields{"field": "http", "port": settings.Port}).Info("server started")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Let the request in flight finish, then flush its notifications.
	a.worker.Stop()
	a.dispatcher.Close(shutdownCtx)

	config.CloseRedis()
	config.ClosePubSub()
	config.CloseDatabase()
}
