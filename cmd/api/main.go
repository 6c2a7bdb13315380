package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/wienernetze2mqtt/internal/adapter/actor"
	"github.com/berfenger/wienernetze2mqtt/internal/config"
	"github.com/berfenger/wienernetze2mqtt/internal/core/actor"
	"github.com/berfenger/wienernetze2mqtt/internal/core/service"
	"github.com/berfenger/wienernetze2mqtt/internal/metrics"
	"github.com/berfenger/wienernetze2mqtt/internal/server"
	"github.com/berfenger/wienernetze2mqtt/internal/store"
	"github.com/berfenger/wienernetze2mqtt/internal/util/actorutil"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// setupTimeout bounds authentication, meter point discovery and the first
// poll cycle at startup.
const setupTimeout = 3 * time.Minute

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	err = run(cfg, logger)
	if err != nil {
		logger.Error("exiting", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {

	m := metrics.New()

	client := wienernetze.NewClient(wienernetze.Credentials{
		ClientID:     cfg.WienerNetze.ClientId,
		ClientSecret: cfg.WienerNetze.ClientSecret,
		APIKey:       cfg.WienerNetze.ApiKey,
	},
		wienernetze.WithBaseURL(cfg.WienerNetze.BaseUrl),
		wienernetze.WithTokenURL(cfg.WienerNetze.TokenUrl),
		wienernetze.WithTimeout(cfg.WienerNetze.Timeout()),
		wienernetze.WithRateLimit(cfg.WienerNetze.RateLimitPerSecond, 1),
		wienernetze.WithRequestObserver(m.ObserveRequest),
		wienernetze.WithLogger(logger.With(zap.String("component", "wienernetze"))),
	)

	setupCtx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	meterPoints, err := service.Setup(setupCtx, client, cfg.WienerNetze.MeterPoints, logger)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	logger.Info("meter points selected", zap.String("title", service.EntryTitle(meterPoints)), zap.Int("count", len(meterPoints)))

	// reading history
	observers := []service.CycleObserver{m.ObserveCycle}
	coordinatorOpts := []service.CoordinatorOption{
		service.WithLogger(logger.With(zap.String("component", "coordinator"))),
	}
	var serverOpts []server.Option
	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("could not open reading history: %w", err)
		}
		defer db.Close()
		cache, err := server.NewHistoryCache(cfg.Store.CacheSize)
		if err != nil {
			return err
		}
		observers = append(observers, cache.ObserveCycle)
		coordinatorOpts = append(coordinatorOpts, service.WithReadingSink(db))
		serverOpts = append(serverOpts, server.WithHistory(db, cache))
	}
	coordinatorOpts = append(coordinatorOpts, service.WithCycleObserver(func(result string, d time.Duration, snapshot service.Snapshot) {
		for _, o := range observers {
			o(result, d, snapshot)
		}
	}))
	serverOpts = append(serverOpts, server.WithMetrics(m.Handler()))

	coordinator := service.NewCoordinator(client, meterPoints, coordinatorOpts...)

	// the first refresh must succeed before anything is published
	if err := coordinator.Refresh(setupCtx); err != nil {
		return fmt.Errorf("first refresh failed: %w", err)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, meterActorProvider(coordinator, logger), mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		as.Shutdown()
		return fmt.Errorf("could not spawn master actor: %w", err)
	}

	server := server.NewServer(*cfg, ctx, pid, coordinator, serverOpts...)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
	return nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => WIENERNETZE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("WIENERNETZE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("wienernetze")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// short names for the credentials
	_ = viper.BindEnv("wienernetze.client_id", "WIENERNETZE_CLIENT_ID")
	_ = viper.BindEnv("wienernetze.client_secret", "WIENERNETZE_CLIENT_SECRET")
	_ = viper.BindEnv("wienernetze.api_key", "WIENERNETZE_API_KEY")

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = config.ParseLogLevel(viper.GetString("log_level"))

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func meterActorProvider(coordinator *service.Coordinator, logger *zap.Logger) actor.MeterActorProvider {
	return func() *adactor.MeterActor {
		return adactor.NewMeterActor(coordinator, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("wienernetze.client_id", "")
	viper.SetDefault("wienernetze.client_secret", "")
	viper.SetDefault("wienernetze.api_key", "")
	viper.SetDefault("wienernetze.base_url", wienernetze.DefaultBaseURL)
	viper.SetDefault("wienernetze.token_url", wienernetze.DefaultTokenURL)
	viper.SetDefault("wienernetze.timeout_seconds", 30)
	viper.SetDefault("wienernetze.rate_limit_per_second", 2)
	viper.SetDefault("wienernetze.meter_points", []string{})
	viper.SetDefault("poll.interval_minutes", int(wienernetze.DefaultScanInterval/time.Minute))
	viper.SetDefault("store.path", "wienernetze.db")
	viper.SetDefault("store.cache_size", 128)
	viper.SetDefault("mqtt.host", "")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "wienernetze")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.WienerNetze.ClientSecret = "*redacted*"
	cfg.WienerNetze.ApiKey = "*redacted*"
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
