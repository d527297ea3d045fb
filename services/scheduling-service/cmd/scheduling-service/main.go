package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/libs/grpcx"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicbook/libs/otel"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/lifecycle"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/people"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/phi"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9096")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	retry := storage.WithRetries(
		config.Duration("DB_COMMAND_TIMEOUT", 5*time.Second),
		config.Int("DB_MAX_RETRIES", 3),
		config.Duration("DB_RETRY_BASE", 100*time.Millisecond),
		config.Duration("DB_RETRY_MAX", 2*time.Second),
	)

	pool, err := db.Open(ctx, dbURL, db.Options{StatementTimeout: retry.CommandTimeout})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("MIGRATE_ON_START", true) {
		if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}

	gateway, err := phi.FromHexKey(config.String("PHI_ENCRYPTION_KEY", ""))
	if err != nil {
		logger.Error("invalid PHI_ENCRYPTION_KEY", "err", err)
		panic(err)
	}
	if _, plain := gateway.(phi.Plaintext); plain {
		logger.Warn("PHI_ENCRYPTION_KEY not set; appointment reasons are stored unencrypted")
	}

	brokers := config.List("KAFKA_BROKERS", "")
	var sink notify.Sink = notify.NewLogSink(logger)
	var kafkaSink *notify.KafkaSink
	if len(brokers) > 0 {
		kafkaSink = notify.NewKafkaSink(notify.KafkaConfig{
			Brokers:      brokers,
			TopicPrefix:  config.String("KAFKA_TOPIC_PREFIX", "scheduling"),
			QueueSize:    config.Int("KAFKA_QUEUE_SIZE", 256),
			WriteTimeout: config.Duration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		}, logger)
		sink = kafkaSink
		sinkCtx, cancelSink := context.WithCancel(context.Background())
		go kafkaSink.Run(sinkCtx)
		defer func() {
			cancelSink()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafkaSink.Close(closeCtx); err != nil {
				logger.Error("kafka sink close failed", "err", err)
			}
		}()
	}

	directory := people.NewPostgresStore(pool)
	repo := storage.NewAppointmentRepository(pool)
	finder := availability.NewFinder(directory, repo, retry, logger)
	bookingSvc := booking.NewService(directory, repo, gateway, sink, retry, logger)
	lifecycleSvc := lifecycle.NewService(repo, sink, retry, logger)

	var jwksClient *auth.JWKSClient
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		jwksClient = auth.NewJWKSClient(jwksURL, 10*time.Minute)
	}
	jwtSecret := config.String("JWT_SECRET", "")
	if jwtSecret == "" && jwksClient == nil {
		logger.Warn("neither JWT_SECRET nor JWKS_URL set; authenticated routes will reject every request")
	}

	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(limit, time.Minute)
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer rdb.Close()
		limiter = httpx.NewRedisLimiter(rdb, limit, time.Minute, "rl:scheduling:book")
	}
	bookingGuard := httpx.RateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if kafkaSink != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	schedulingHandler := handlers.NewSchedulingHandler(finder, bookingSvc, lifecycleSvc, logger)
	schedulingHandler.Register(mux, httpx.WithAuth(jwtSecret, jwksClient), bookingGuard)

	requestTimeout := time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := grpcx.NewServer(logger)
	go grpcserver.NewHealthReporter(healthServer, 10*time.Second, logger, checks...).Run(ctx)
	go func() {
		if err := grpcx.Serve(ctx, grpcServer, ":"+grpcPort, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
