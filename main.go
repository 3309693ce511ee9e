package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "carewatch-cloud/internal/alerts/application"
	"carewatch-cloud/internal/alerts/application/events"
	"carewatch-cloud/internal/alerts/catalog"
	alertrepo "carewatch-cloud/internal/alerts/infrastructure/postgres"
	alertinterfaces "carewatch-cloud/internal/alerts/interfaces"
	alerthttp "carewatch-cloud/internal/alerts/interfaces/http"
	alertnotify "carewatch-cloud/internal/alerts/notify"
	"carewatch-cloud/internal/audit"
	"carewatch-cloud/internal/auth"
	"carewatch-cloud/internal/eventing"
	"carewatch-cloud/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}

	metrics.Init(logger)

	overrides, err := catalog.LoadOverrides(cfg.CatalogConfig)
	if err != nil {
		logger.Fatalf("catalog config error: %v", err)
	}
	cat, err := catalog.Load(overrides)
	if err != nil {
		logger.Fatalf("catalog error: %v", err)
	}

	tpl, err := alertnotify.NewTemplate(cfg.NotifyTemplate)
	if err != nil {
		logger.Fatalf("notify template error: %v", err)
	}
	dispatcher, err := alertnotify.NewDispatcher(tpl)
	if err != nil {
		logger.Fatalf("notify dispatcher error: %v", err)
	}
	channelURLs := map[string]string{
		"push":              cfg.PushWebhookURL,
		"sms":               cfg.SMSWebhookURL,
		"voice_call":        cfg.VoiceCallWebhookURL,
		"emergency_contact": cfg.EmergencyWebhookURL,
	}
	for method, url := range channelURLs {
		if url == "" {
			continue
		}
		channel, err := alertnotify.NewWebhookChannel(url)
		if err != nil {
			logger.Fatalf("webhook channel %s error: %v", method, err)
		}
		if err := dispatcher.Register(method, channel); err != nil {
			logger.Fatalf("register channel %s error: %v", method, err)
		}
	}
	logger.Printf("delivery channels: %v", dispatcher.Methods())

	store := alertapp.NewAlertStore()
	scheduler, err := alertapp.NewScheduler(store, dispatcher, logger,
		alertapp.WithDeliveryTimeout(cfg.DeliveryTimeout),
	)
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}
	defer scheduler.Close()

	alertBroker := alerthttp.NewSSEBroker()
	notifier := alertnotify.NewMultiNotifier(alertBroker, alertnotify.NewLogNotifier(logger))

	serviceOpts := []alertapp.ServiceOption{
		alertapp.WithNotifier(notifier),
		alertapp.WithLogger(logger),
	}
	var archive *alertrepo.ArchiveRepository
	if db != nil {
		archive = alertrepo.NewArchiveRepository(db)
		serviceOpts = append(serviceOpts, alertapp.WithArchiver(archive))
	}
	alertService, err := alertapp.NewService(cat, store, scheduler, serviceOpts...)
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}

	bus := eventing.NewInMemoryBus()
	alertConsumer, err := alertinterfaces.NewVitalsReceivedConsumer(alertService)
	if err != nil {
		logger.Fatalf("alert consumer error: %v", err)
	}
	bus.Subscribe(eventing.EventTypeOf[events.VitalsReceived](), func(ctx context.Context, event any) error {
		evt, ok := event.(events.VitalsReceived)
		if !ok {
			return nil
		}
		return alertConsumer.Consume(ctx, evt)
	})

	var auditor audit.Logger
	if db != nil {
		auditor = audit.NewRepository(db)
	}
	alertHandler, err := alerthttp.NewHandler(alertService, bus, auditor)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			removed := alertService.CleanupExpiredAlerts(cfg.Retention)
			if removed > 0 {
				logger.Printf("expired %d alerts past retention", removed)
			}
		}
	}()

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/vitals", alertHandler)
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	if archive != nil {
		if exportHandler, err := alerthttp.NewExportHandler(archive); err == nil {
			mux.Handle("/api/v1/alerts/export", exportHandler)
		}
	}
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	JWTSecret           string
	CatalogConfig       string
	NotifyTemplate      string
	PushWebhookURL      string
	SMSWebhookURL       string
	VoiceCallWebhookURL string
	EmergencyWebhookURL string
	Retention           time.Duration
	CleanupInterval     time.Duration
	DeliveryTimeout     time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		CatalogConfig:       getenvDefault("ALERTS_CONFIG", ""),
		NotifyTemplate:      getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		PushWebhookURL:      getenvDefault("ALERT_PUSH_WEBHOOK_URL", ""),
		SMSWebhookURL:       getenvDefault("ALERT_SMS_WEBHOOK_URL", ""),
		VoiceCallWebhookURL: getenvDefault("ALERT_CALL_WEBHOOK_URL", ""),
		EmergencyWebhookURL: getenvDefault("ALERT_EMERGENCY_WEBHOOK_URL", ""),
		Retention:           getenvDuration("ALERT_RETENTION", 72*time.Hour),
		CleanupInterval:     getenvDuration("ALERT_CLEANUP_INTERVAL", time.Hour),
		DeliveryTimeout:     getenvDuration("ALERT_DELIVERY_TIMEOUT", 10*time.Second),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
