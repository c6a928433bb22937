package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/zlog"
	"google.golang.org/api/option"

	apirouter "github.com/autofeeder/bridge/internal/api/router"
	"github.com/autofeeder/bridge/internal/api/server"
	"github.com/autofeeder/bridge/internal/config"
	"github.com/autofeeder/bridge/internal/dispatcher"
	mqttclient "github.com/autofeeder/bridge/internal/mqtt"
	"github.com/autofeeder/bridge/internal/notify"
	feederrepo "github.com/autofeeder/bridge/internal/repository/feeder"
	schedulerepo "github.com/autofeeder/bridge/internal/repository/schedule"
	userrepo "github.com/autofeeder/bridge/internal/repository/user"
	"github.com/autofeeder/bridge/internal/router"
	"github.com/autofeeder/bridge/internal/worker"
	"github.com/autofeeder/bridge/pkg/email"
)

const inboundBuffer = 64

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()

	var fsOpts []option.ClientOption
	if cfg.Firestore.CredentialsFile != "" {
		fsOpts = append(fsOpts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
	}

	fsClient, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID, fsOpts...)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to firestore")
	}

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       dbNum,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	smtpPort, err := strconv.Atoi(cfg.Email.SMTPPort)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse email smtp port")
	}

	mailer := email.NewClient(
		cfg.Email.SMTPHost,
		smtpPort,
		cfg.Email.Username,
		cfg.Email.Password,
		cfg.Email.From,
	)

	feeders := feederrepo.NewRepository(fsClient)
	users := userrepo.NewRepository(fsClient)
	schedules := schedulerepo.NewRepository(fsClient)

	gateway := notify.New(users, mailer, rdb, cfg.Redis.UserCacheTTL, cfg.Retry)
	telemetry := router.New(feeders, gateway, cfg.MQTT.TopicPrefix, cfg.Router.LowFoodThreshold)

	inbound := make(chan mqttclient.Message, inboundBuffer)
	mc, err := mqttclient.Connect(cfg.MQTT, inbound)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to mqtt broker")
	}

	listener := worker.NewListener(telemetry)
	go listener.Run(ctx, inbound, cfg.Workers.Count)

	disp := dispatcher.New(schedules, mc, cfg.MQTT.TopicPrefix, cfg.Dispatcher.Interval)
	go disp.Run(ctx)

	r := apirouter.New()
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	mc.Disconnect()

	if err := rdb.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close redis client")
	}

	if err := fsClient.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close firestore client")
	}
}
