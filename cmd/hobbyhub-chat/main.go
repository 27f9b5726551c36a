package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/tcriess/hobbyhub-chat/api"
	"github.com/tcriess/hobbyhub-chat/auth"
	"github.com/tcriess/hobbyhub-chat/chat"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/gemini"
	"github.com/tcriess/hobbyhub-chat/globals"
	"github.com/tcriess/hobbyhub-chat/hub"
	"github.com/tcriess/hobbyhub-chat/moderation"
	"github.com/tcriess/hobbyhub-chat/persistence"
	"github.com/tcriess/hobbyhub-chat/reports"
	"github.com/tcriess/hobbyhub-chat/rooms"
	"github.com/tcriess/hobbyhub-chat/telemetry"
	"github.com/tcriess/hobbyhub-chat/ws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load() // .env is optional

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	logger := globals.AppLogger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, globalConfig.TelemetryConfig)
	if err != nil {
		panic(err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("could not shut down tracing", "error", err)
		}
	}()

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	registry := hub.NewRegistry(logger.Named("hub"))
	if globalConfig.RedisConfig.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     globalConfig.RedisConfig.Addr,
			Password: globalConfig.RedisConfig.Password,
			DB:       globalConfig.RedisConfig.DB,
		})
		defer client.Close()
		relay := hub.NewRedisRelay(client, globalConfig.RedisConfig.ChannelPrefix, logger.Named("relay"))
		registry.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx, registry.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped", "error", err)
			}
		}()
		logger.Info("cross-instance relay enabled", "addr", globalConfig.RedisConfig.Addr)
	}
	if err := registry.StartJanitor(); err != nil {
		panic(err)
	}
	defer registry.StopJanitor()

	var sink reports.Sink = reports.NewLogSink(logger.Named("audit"))
	if len(globalConfig.KafkaConfig.Brokers) > 0 {
		sink = reports.MultiSink{sink, reports.NewKafkaSink(globalConfig.KafkaConfig)}
		logger.Info("forwarding reports to kafka", "topic", globalConfig.KafkaConfig.ReportsTopic)
	}
	defer sink.Close()

	opts := []chat.Option{chat.WithReportSink(sink)}
	var classifier moderation.Classifier
	geminiClient, err := gemini.New(ctx, globalConfig.GeminiConfig, globalConfig.BotConfig.UserName, logger.Named("gemini"))
	if err != nil {
		panic(err)
	}
	if geminiClient != nil {
		classifier = geminiClient
		opts = append(opts, chat.WithGenerator(geminiClient))
	} else {
		logger.Warn("no gemini api key configured, classifier and bot are disabled")
	}
	gate := moderation.NewGate(globalConfig.ModerationConfig, classifier, logger.Named("moderation"))

	svc, err := chat.New(globalConfig, persister, gate, registry, rooms.NewManager(persister, logger.Named("rooms"), rooms.WithHobbyFilter(gate)), logger.Named("chat"), opts...)
	if err != nil {
		panic(err)
	}
	defer svc.Close()

	accounts := auth.NewAccounts(persister, gate, logger.Named("accounts"))
	oidc := auth.NewOIDCAuthenticator(globalConfig.OIDCConfigs, logger.Named("oidc"))
	websocketHandler := ws.NewHandler(svc, oidc, accounts, globalConfig.RateLimitConfig, logger.Named("ws"))
	router := api.NewRouter(svc, accounts, websocketHandler, logger.Named("api"))

	server := &http.Server{
		Addr:    globalConfig.Addr,
		Handler: otelhttp.NewHandler(router, "hobbyhub-chat"),
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(sctx)
	}()

	logger.Info("listening", "addr", globalConfig.Addr)
	if *sslCert != "" && *sslKey != "" {
		err = server.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("stopped listening", "error", err)
		return
	}
	logger.Info("shut down")
}
