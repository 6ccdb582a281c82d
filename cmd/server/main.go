// Command server runs the bridge: the client websocket gateway, the operator channel and
// the admin health server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/config"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/delivery"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/gateway"
	healthhandler "github.com/rouyesh1998/rouyeshno-bridge/internal/health/handler"
	identity "github.com/rouyesh1998/rouyeshno-bridge/internal/identity/service"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/logging"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator/telegram"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/policy/engine"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/registry"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/security"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/server"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/service"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry"
	otelsetup "github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry/otel"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry/producer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat, providers.LoggerProvider, cfg.ServiceName)
	slog.SetDefault(logger)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	store := service.NewStore(repo, cfg.StoreTimeout())
	defer store.Close()

	conns := registry.New()
	metrics, err := telemetry.NewMetrics(otel.Meter("rouyeshno.bridge"), conns.Len)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	store.OnMalformed = func(sessionID string, skipped int) {
		logger.Warn("skipped malformed history records", "session_id", sessionID, "skipped", skipped)
		metrics.Malformed(context.Background(), skipped)
	}

	events, kafkaProducer, err := newEventEmitter(cfg, providers)
	if err != nil {
		return fmt.Errorf("relay events: %w", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		logger.Info("relay events enabled", "kafka_topic", kafkaProducer.Topic())
	}

	evaluator, err := engine.NewOPAEvaluatorFromFile(ctx, cfg.InboundPolicyFile, cfg.OperatorChatID, logger)
	if err != nil {
		return fmt.Errorf("inbound policy: %w", err)
	}

	var (
		sender operator.Sender = operator.LogSender{Logger: logger}
		client *telegram.Client
	)
	if cfg.OperatorBotToken != "" {
		client = telegram.NewClient(cfg.OperatorBotToken, cfg.OperatorAPIURL)
		sender = client
	} else {
		logger.Warn("OPERATOR_BOT_TOKEN is not set; operator messages are only logged")
	}

	router := delivery.NewRouter(store, conns, sender, delivery.Config{
		DefaultRoute:           domain.Address{Chat: cfg.OperatorChatID, Thread: cfg.OperatorThreadID},
		TopicPerSession:        cfg.OperatorTopicPerSession,
		AckText:                cfg.AckText,
		NotifyOnPersistFailure: cfg.NotifyOnPersistFailure(),
		DedupeTTL:              cfg.DedupeTTL(),
	}, delivery.Options{
		Admission: evaluator,
		Events:    events,
		Metrics:   metrics,
		Logger:    logger,
	})

	var tokens identity.Tokens
	if cfg.SessionTokensEnabled() {
		signer, public, err := security.LoadKeyPair(cfg.SessionTokenPrivateKey, cfg.SessionTokenPublicKey)
		if err != nil {
			return fmt.Errorf("session token keys: %w", err)
		}
		st, err := security.NewSessionTokens(signer, public, cfg.SessionTokenTTL())
		if err != nil {
			return fmt.Errorf("session tokens: %w", err)
		}
		tokens = st
		logger.Info("signed session tokens enabled", "alg", security.KeyAlg(public))
	}
	resolver := identity.NewResolver(store, conns, tokens, logger).WithTelemetry(events, metrics)

	checker := healthhandler.NewChecker(store, evaluator, logger)
	go checker.Run(ctx, healthhandler.DefaultInterval)

	var webhook http.Handler
	switch cfg.OperatorInboundMode {
	case config.InboundWebhook:
		if cfg.OperatorWebhookSecret == "" {
			logger.Warn("OPERATOR_WEBHOOK_SECRET is not set; webhook requests are not authenticated")
		}
		webhook = telegram.NewWebhookHandler(cfg.OperatorWebhookSecret, router, logger)
	case config.InboundPoll:
		if client == nil {
			logger.Warn("operator polling disabled: no bot token")
			break
		}
		poller := telegram.NewPoller(client, router, cfg.OperatorPollTimeout(), logger)
		go func() {
			if err := poller.Run(ctx); err != nil {
				logger.Error("operator poller stopped", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: server.NewHTTPHandler(server.HTTPDeps{
			AllowOrigin: cfg.AllowOrigin,
			WebSocket:   gateway.NewHandler(resolver, router, gateway.Options{AllowedOrigins: cfg.AllowedOrigins(), Logger: logger}),
			Webhook:     webhook,
			Ready:       store.Ping,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var admin interface{ GracefulStop() }
	if cfg.AdminGRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.AdminGRPCAddr)
		if err != nil {
			return fmt.Errorf("admin listen: %w", err)
		}
		s := server.NewAdminServer(server.Deps{Health: checker.Server()}, logger)
		admin = s
		go func() {
			logger.Info("admin gRPC server listening", "addr", cfg.AdminGRPCAddr)
			if err := s.Serve(lis); err != nil {
				errCh <- fmt.Errorf("admin grpc: %w", err)
			}
		}()
	}

	go purgeLoop(ctx, store, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("server failed", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if admin != nil {
		admin.GracefulStop()
	}
	if err := router.Wait(shutdownCtx); err != nil {
		logger.Warn("operator sends still in flight at shutdown", "error", err)
	}
	// Let detached telemetry emits finish before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", "error", err)
	}
	logger.Info("server stopped")
	return err
}

// newEventEmitter fans relay events out to OTel logs and, when configured, Kafka.
func newEventEmitter(cfg *config.Config, providers *otelsetup.Providers) (telemetry.EventEmitter, *producer.KafkaProducer, error) {
	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	kp, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.RelayKafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	if kp != nil {
		emitters = append(emitters, kp)
	}
	return telemetry.Multi(emitters...), kp, nil
}
