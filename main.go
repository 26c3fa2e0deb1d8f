package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	apihttp "restroom-cloud/internal/api/http"
	"restroom-cloud/internal/audit"
	"restroom-cloud/internal/auth"
	"restroom-cloud/internal/engine/application"
	enginerepo "restroom-cloud/internal/engine/infrastructure/postgres"
	"restroom-cloud/internal/eventing"
	eventingrepo "restroom-cloud/internal/eventing/infrastructure/postgres"
	"restroom-cloud/internal/history"
	historyinflux "restroom-cloud/internal/history/influx"
	historypostgres "restroom-cloud/internal/history/postgres"
	ingestmqtt "restroom-cloud/internal/ingest/mqtt"
	"restroom-cloud/internal/notify"
	"restroom-cloud/internal/observability/metrics"
	"restroom-cloud/internal/subscribers"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

type outboxStore interface {
	eventing.OutboxWriter
	eventing.OutboxStore
	metrics.QueueDepth
}

type deadLetterStore interface {
	eventing.DLQStore
	metrics.QueueDepth
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("env file: %v", err)
	}
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	} else {
		logger.Printf("DATABASE_URL not set; outbox and config stay in memory")
	}
	metrics.Init()

	// Engine config: YAML file and ENGINE_* env, then the persisted row.
	initial, err := application.LoadConfigFile(cfg.EngineConfigPath)
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}
	storeOpts := []application.ConfigStoreOption{application.WithConfigLogger(logger)}
	if db != nil {
		storeOpts = append(storeOpts, application.WithConfigRepository(enginerepo.NewConfigRepository(db)))
	}
	configs, err := application.NewConfigStore(initial, storeOpts...)
	if err != nil {
		logger.Fatalf("engine config store error: %v", err)
	}
	if err := configs.Restore(ctx); err != nil {
		logger.Printf("engine config restore failed, using file defaults: %v", err)
	}

	// Event plumbing.
	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	application.RegisterEvents(registry)

	var outbox outboxStore
	var dlq deadLetterStore
	if db != nil {
		outbox = eventingrepo.NewOutboxStore(db)
		dlq = eventingrepo.NewDLQStore(db)
	} else {
		outbox = eventing.NewMemoryOutbox(eventing.WithCapacity(cfg.OutboxCapacity))
		dlq = eventing.NewLogDLQ(logger)
	}
	metrics.RegisterQueueGauges(outbox, dlq, logger)
	dispatcher, err := eventing.NewDispatcher(bus, outbox, registry, dlq,
		eventing.WithDispatcherLogger(logger),
		eventing.WithPollInterval(cfg.OutboxPollInterval),
		eventing.WithHandlerTimeout(cfg.HandlerTimeout),
	)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}
	publisher := eventing.NewPublisher(outbox, dispatcher)

	service, err := application.NewService(configs, publisher,
		application.WithLogger(logger),
		application.WithPersistTimeout(cfg.PersistTimeout),
	)
	if err != nil {
		logger.Fatalf("engine service error: %v", err)
	}

	// History sinks.
	writer, closeHistory := buildHistoryWriter(cfg, db, logger)
	defer closeHistory()
	reporter, err := application.NewReporter(service, writer, logger)
	if err != nil {
		logger.Fatalf("reporter error: %v", err)
	}

	// Notifications and live stream.
	broker := apihttp.NewSSEBroker()
	noticeSinks := []application.NoticeSink{broker}
	notifier, closeDirectory := buildNotifier(ctx, cfg, logger)
	defer closeDirectory()
	if notifier != nil {
		noticeSinks = append(noticeSinks, notifier)
	}
	application.WireEngineEventBus(bus, reporter, noticeSinks, []application.LivenessSink{broker}, eventing.NewMemoryProcessedStore(cfg.ProcessedCapacity))

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Run(ctx)
	}()

	if cfg.MQTTBrokerURL != "" {
		mqttCfg := ingestmqtt.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Topic:     cfg.MQTTTopic,
			QoS:       byte(cfg.MQTTQoS),
		}
		client, err := ingestmqtt.Connect(mqttCfg, logger)
		if err != nil {
			logger.Fatalf("mqtt error: %v", err)
		}
		handler, err := ingestmqtt.NewHandler(service, logger)
		if err != nil {
			logger.Fatalf("mqtt handler error: %v", err)
		}
		subscriber, err := ingestmqtt.NewSubscriber(client, handler, mqttCfg, logger)
		if err != nil {
			logger.Fatalf("mqtt subscriber error: %v", err)
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := subscriber.Run(ctx); err != nil {
				logger.Printf("mqtt subscriber stopped: %v", err)
			}
		}()
	}

	// HTTP surface.
	ingestHandler := http.Handler(apihttp.NewIngestHandler(service, logger))
	if cfg.IngestSecret != "" {
		ingestHandler = auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second).Wrap(ingestHandler)
	}
	devicesHandler := apihttp.NewDevicesHandler(service)
	exportHandler := apihttp.NewExportHandler(service, cfg.Location, logger)

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestHandler)
	mux.Handle("/api/v1/devices", devicesHandler)
	mux.Handle("/api/v1/devices/", devicesHandler)
	mux.Handle("/api/v1/devices/export.xlsx", exportHandler)
	mux.Handle("/api/v1/devices/export.pdf", exportHandler)
	var auditLogger audit.Logger = audit.NewLogWriter(logger)
	if db != nil {
		repo, err := audit.NewRepository(db)
		if err != nil {
			logger.Fatalf("audit repository error: %v", err)
		}
		auditLogger = repo
	}
	mux.Handle("/api/v1/config", apihttp.NewConfigHandler(service, auditLogger))
	mux.Handle("/api/v1/events/stream", apihttp.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
		handler = auth.NewMiddleware([]byte(cfg.JWTSecret), policy, auth.WithMiddlewareLogger(logger)).Wrap(handler)
	} else {
		logger.Printf("AUTH_JWT_SECRET not set; API is unauthenticated")
	}
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowedHeaders:   []string{"Content-Type", "Authorization", auth.HeaderIngestTimestamp, auth.HeaderIngestSignature},
		AllowCredentials: true,
	}).Handler(handler)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(handler, logger), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
	workers.Wait()
}

func buildHistoryWriter(cfg config, db *sql.DB, logger *log.Logger) (history.Writer, func()) {
	var primary history.Writer
	var mirrors []history.Writer
	closeFn := func() {}

	if db != nil {
		pg, err := historypostgres.NewWriter(db)
		if err != nil {
			logger.Fatalf("history writer error: %v", err)
		}
		primary = pg
	}
	if cfg.InfluxURL != "" {
		influxWriter, client, err := historyinflux.Open(historyinflux.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			logger.Fatalf("influx error: %v", err)
		}
		closeFn = client.Close
		if primary == nil {
			primary = influxWriter
		} else {
			mirrors = append(mirrors, influxWriter)
		}
	}
	if primary == nil {
		logger.Printf("no history store configured; routine snapshots are discarded")
		primary = history.Discard{}
	}
	writer, err := history.NewMultiWriter(logger, primary, mirrors...)
	if err != nil {
		logger.Fatalf("history writer error: %v", err)
	}
	return writer, closeFn
}

func buildNotifier(ctx context.Context, cfg config, logger *log.Logger) (*notify.Notifier, func()) {
	closeFn := func() {}
	var transports []notify.Transport
	breakerSettings := notify.BreakerSettings{
		ConsecutiveFailures: cfg.NotifyBreakerFailures,
		OpenTimeout:         cfg.NotifyBreakerOpen,
	}
	if cfg.TelegramToken != "" {
		telegram, err := notify.NewTelegramTransport(cfg.TelegramToken, notify.WithBaseURL(cfg.TelegramAPIURL))
		if err != nil {
			logger.Fatalf("telegram transport error: %v", err)
		}
		breakerSettings.Name = "telegram"
		guarded, err := notify.NewBreakerTransport(telegram, breakerSettings)
		if err != nil {
			logger.Fatalf("telegram breaker error: %v", err)
		}
		transports = append(transports, guarded)
	}
	if cfg.NotifyWebhookURL != "" {
		webhook, err := notify.NewWebhookTransport(cfg.NotifyWebhookURL)
		if err != nil {
			logger.Fatalf("webhook transport error: %v", err)
		}
		breakerSettings.Name = "webhook"
		guarded, err := notify.NewBreakerTransport(webhook, breakerSettings)
		if err != nil {
			logger.Fatalf("webhook breaker error: %v", err)
		}
		transports = append(transports, guarded)
	}
	if len(transports) == 0 {
		logger.Printf("no notification transport configured; notices go to the live stream only")
		return nil, closeFn
	}

	directory, closeFn := buildDirectory(ctx, cfg, logger)
	templates, err := notify.NewTemplates(nil)
	if err != nil {
		logger.Fatalf("notify templates error: %v", err)
	}
	var transport notify.Transport = transports[0]
	channel := "telegram"
	if cfg.TelegramToken == "" {
		channel = "webhook"
	}
	if len(transports) > 1 {
		transport = notify.NewMultiTransport(transports...)
		channel = "multi"
	}
	notifier, err := notify.NewNotifier(directory, transport, templates,
		notify.WithLogger(logger),
		notify.WithChannelName(channel),
		notify.WithSendTimeout(cfg.NotifySendTimeout),
		notify.WithLocation(cfg.Location),
	)
	if err != nil {
		logger.Fatalf("notifier error: %v", err)
	}
	return notifier, closeFn
}

func buildDirectory(ctx context.Context, cfg config, logger *log.Logger) (subscribers.Directory, func()) {
	var directory subscribers.Directory
	closers := []func(){}

	switch cfg.SubscribersSource {
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Fatalf("SUBSCRIBERS_SOURCE=postgres requires DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("subscriber pool error: %v", err)
		}
		closers = append(closers, pool.Close)
		pgDirectory, err := subscribers.NewPostgresDirectory(pool)
		if err != nil {
			logger.Fatalf("subscriber directory error: %v", err)
		}
		directory = pgDirectory
	default:
		fileDirectory, err := subscribers.NewFileDirectory(cfg.SubscribersFile)
		if err != nil {
			logger.Fatalf("subscriber file error: %v", err)
		}
		directory = fileDirectory
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, func() { _ = client.Close() })
		cached, err := subscribers.NewCachedDirectory(directory, client,
			subscribers.WithCacheTTL(cfg.SubscribersCacheTTL),
			subscribers.WithCacheLogger(logger),
		)
		if err != nil {
			logger.Fatalf("subscriber cache error: %v", err)
		}
		directory = cached
	}
	return directory, func() {
		for _, fn := range closers {
			fn()
		}
	}
}

type config struct {
	DatabaseURL           string
	HTTPAddr              string
	EngineConfigPath      string
	Location              *time.Location
	OutboxCapacity        int
	OutboxPollInterval    time.Duration
	HandlerTimeout        time.Duration
	ProcessedCapacity     int
	ShutdownTimeout       time.Duration
	PersistTimeout        time.Duration
	InfluxURL             string
	InfluxToken           string
	InfluxOrg             string
	InfluxBucket          string
	TelegramToken         string
	TelegramAPIURL        string
	NotifyWebhookURL      string
	NotifySendTimeout     time.Duration
	NotifyBreakerFailures int
	NotifyBreakerOpen     time.Duration
	SubscribersSource     string
	SubscribersFile       string
	SubscribersCacheTTL   time.Duration
	RedisAddr             string
	RedisPassword         string
	MQTTBrokerURL         string
	MQTTClientID          string
	MQTTUsername          string
	MQTTPassword          string
	MQTTTopic             string
	MQTTQoS               int
	JWTSecret             string
	IngestSecret          string
	IngestSkewSeconds     int
	CORSOrigins           []string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:           getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:              getenvDefault("HTTP_ADDR", ":8080"),
		EngineConfigPath:      getenvDefault("ENGINE_CONFIG", ""),
		OutboxCapacity:        getenvIntDefault("OUTBOX_CAPACITY", 10000),
		OutboxPollInterval:    getenvDuration("OUTBOX_POLL_INTERVAL", time.Second),
		HandlerTimeout:        getenvDuration("EVENT_HANDLER_TIMEOUT", 30*time.Second),
		ProcessedCapacity:     getenvIntDefault("PROCESSED_CAPACITY", 50000),
		ShutdownTimeout:       getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		PersistTimeout:        getenvDuration("HISTORY_WRITE_TIMEOUT", 2*time.Minute),
		InfluxURL:             getenvDefault("INFLUX_URL", ""),
		InfluxToken:           getenvDefault("INFLUX_TOKEN", ""),
		InfluxOrg:             getenvDefault("INFLUX_ORG", ""),
		InfluxBucket:          getenvDefault("INFLUX_BUCKET", ""),
		TelegramToken:         getenvDefault("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:        getenvDefault("TELEGRAM_API_URL", ""),
		NotifyWebhookURL:      getenvDefault("NOTIFY_WEBHOOK_URL", ""),
		NotifySendTimeout:     getenvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
		NotifyBreakerFailures: getenvIntDefault("NOTIFY_BREAKER_FAILURES", 5),
		NotifyBreakerOpen:     getenvDuration("NOTIFY_BREAKER_OPEN", 30*time.Second),
		SubscribersSource:     strings.ToLower(getenvDefault("SUBSCRIBERS_SOURCE", "file")),
		SubscribersFile:       getenvDefault("SUBSCRIBERS_FILE", "subscribers.yaml"),
		SubscribersCacheTTL:   getenvDuration("SUBSCRIBERS_CACHE_TTL", time.Minute),
		RedisAddr:             getenvDefault("REDIS_ADDR", ""),
		RedisPassword:         getenvDefault("REDIS_PASSWORD", ""),
		MQTTBrokerURL:         getenvDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:          getenvDefault("MQTT_CLIENT_ID", "restroom-cloud"),
		MQTTUsername:          getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:          getenvDefault("MQTT_PASSWORD", ""),
		MQTTTopic:             getenvDefault("MQTT_TOPIC", ingestmqtt.DefaultTopic),
		MQTTQoS:               getenvIntDefault("MQTT_QOS", 1),
		JWTSecret:             getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:          getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:     getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		CORSOrigins:           splitList(getenvDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
	}
	loc, err := time.LoadLocation(getenvDefault("DISPLAY_TIMEZONE", "Asia/Jakarta"))
	if err != nil {
		log.Printf("DISPLAY_TIMEZONE invalid, using UTC: %v", err)
		loc = time.UTC
	}
	cfg.Location = loc
	if cfg.MQTTQoS < 0 || cfg.MQTTQoS > 2 {
		log.Fatal("MQTT_QOS must be 0, 1 or 2")
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

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

// Flush keeps the event stream working behind the logger.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
