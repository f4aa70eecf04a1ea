package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homewatch-cloud/internal/alerts/application"
	alertpostgres "homewatch-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "homewatch-cloud/internal/alerts/interfaces/http"
	alertws "homewatch-cloud/internal/alerts/interfaces/ws"
	"homewatch-cloud/internal/alerts/notify"
	"homewatch-cloud/internal/auth"
	"homewatch-cloud/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	notifyCfg, err := notify.LoadConfig()
	if err != nil {
		logger.Fatal("notify config", zap.Error(err))
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}

	metrics.Init()

	alertRepo := alertpostgres.NewAlertRepository(db)
	historyRepo := alertpostgres.NewHistoryRepository(db)
	contactRepo := alertpostgres.NewContactRepository(db)

	hub := alertws.NewHub(logger.Named("ws"))

	channels, err := buildChannels(notifyCfg, logger.Named("notify"))
	if err != nil {
		logger.Fatal("notify channels", zap.Error(err))
	}
	dispatcherOpts := []notify.Option{
		notify.WithLogger(logger.Named("notify")),
		notify.WithQueueSize(notifyCfg.QueueSize),
		notify.WithSendTimeout(notifyCfg.SendTimeout),
	}
	if notifyCfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(notifyCfg.WebhookURL)
		if err != nil {
			logger.Fatal("webhook channel", zap.Error(err))
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithWebhook(webhook))
	}
	if notifyCfg.Template != "" {
		template, err := notify.NewTemplate(notifyCfg.Template)
		if err != nil {
			logger.Fatal("notify template", zap.Error(err))
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithTemplate(template))
	}
	dispatcher, err := notify.NewDispatcher(contactRepo, historyRepo, channels, dispatcherOpts...)
	if err != nil {
		logger.Fatal("dispatcher", zap.Error(err))
	}

	broadcaster := application.NewMultiBroadcaster(hub, eventLogBroadcaster{logger: logger.Named("events")})

	service, err := application.NewService(alertRepo, historyRepo, cfg.TenantID,
		application.WithBroadcaster(broadcaster),
		application.WithNotifier(dispatcher),
		application.WithLocation(notifyCfg.Location()),
		application.WithLogger(logger.Named("alerts")),
	)
	if err != nil {
		logger.Fatal("alert service", zap.Error(err))
	}

	handler, err := alerthttp.NewHandler(service, logger.Named("http"))
	if err != nil {
		logger.Fatal("alert handler", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy(
		[]string{"/healthz", "/metrics", "/api/v1/alerts/ingest", "/api/v1/alerts/stream"},
		nil,
	)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewDeviceTokenMiddleware(cfg.DeviceToken)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/alerts/ingest", ingestAuth.Wrap(handler))
	mux.Handle("/api/v1/alerts/stream", hub)
	mux.Handle("/api/v1/alerts/", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dispatcher.Run(ctx)
	go hub.Run(ctx)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger.Named("http")),
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
	TenantID    string
	JWTSecret   string
	DeviceToken string
}

func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:    getenvDefault("TENANT_ID", "tenant-demo"),
		JWTSecret:   getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		DeviceToken: os.Getenv("DEVICE_INGEST_TOKEN"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func buildChannels(cfg notify.Config, logger *zap.Logger) ([]notify.Channel, error) {
	var channels []notify.Channel
	for _, name := range cfg.Channels {
		switch name {
		case notify.ChannelEmail:
			channels = append(channels, notify.NewSimulatedEmailChannel(logger))
		case notify.ChannelSMS:
			channels = append(channels, notify.NewSimulatedSMSChannel(logger))
		case notify.ChannelPush:
			channels = append(channels, notify.NewSimulatedPushChannel(logger))
		default:
			return nil, errors.New("unknown notification channel: " + name)
		}
	}
	return channels, nil
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// eventLogBroadcaster records every published alert event in the service log,
// alongside the WebSocket fan-out.
type eventLogBroadcaster struct {
	logger *zap.Logger
}

func (b eventLogBroadcaster) Publish(_ context.Context, event application.Event) {
	b.logger.Info("alert event",
		zap.String("type", event.Type),
		zap.String("alert_id", event.Payload.ID),
		zap.String("severity", event.Payload.Severity),
		zap.String("state", event.Payload.State),
	)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
