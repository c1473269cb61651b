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

	adactor "github.com/berfenger/otgw2mqtt/internal/adapter/actor"
	"github.com/berfenger/otgw2mqtt/internal/adapter/bus"
	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/internal/core/actor"
	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/state"
	"github.com/berfenger/otgw2mqtt/internal/monitor"
	"github.com/berfenger/otgw2mqtt/internal/server"
	"github.com/berfenger/otgw2mqtt/internal/util/actorutil"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge (default command)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// gracefulShutdown waits for SIGINT/SIGTERM and gives in-flight writes up to
// five seconds before the listener is closed.
func gracefulShutdown(apiServer *http.Server, done chan<- bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("shutting down, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("http server forced to shutdown: %v", err)
	}
	done <- true
}

func runServe(cmd *cobra.Command, args []string) error {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return err
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// schema and state
	reg, err := loadRegistry(schemaPath(cfg), logger)
	if err != nil {
		logger.Error("could not load schema", zap.Error(err))
		return err
	}
	store := newStore(reg)
	logger.Info("schema loaded",
		zap.Int("entities", len(reg.Entities())), zap.Int("messages", len(reg.Messages())), zap.Int("init", len(reg.InitMessages())))

	// metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(promRegistry, promRegistry)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, reg, store,
			gatewayActorProvider(cfg, reg, store, metrics, logger),
			mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return err
	}

	apiServer := server.NewServer(*cfg, ctx, pid, reg, store, metrics)
	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, done)

	logger.Info("http server listening", zap.Uint("port", cfg.Port))
	if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		ctx.Stop(pid)
		as.Shutdown()
		return fmt.Errorf("http server error: %w", err)
	}
	<-done

	// stopping the master closes the bus and disconnects from the broker
	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master actor did not stop cleanly", zap.Error(err))
	}
	as.Shutdown()
	log.Println("shutdown complete")
	return nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => OTGW_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("OTGW_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("otgw")
	viper.AutomaticEnv()

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

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// parse log level, "trace" is accepted as an alias of debug
	levelName := strings.ToLower(viper.GetString("log_level"))
	if levelName == "trace" {
		levelName = "debug"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		slog.Warn("unknown log level, using info", "log_level", levelName)
		level = zapcore.InfoLevel
	}
	cfg.LogLevel = level

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

	// check bounds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func newStore(reg *registry.Registry) *state.Store {
	ids := make([]string, 0, len(reg.Entities()))
	for _, e := range reg.Entities() {
		ids = append(ids, e.ID())
	}
	return state.NewStore(ids)
}

// every gateway incarnation gets a fresh transceiver, the previous one was
// closed when the actor stopped or restarted
func gatewayActorProvider(cfg *config.Config, reg *registry.Registry, store *state.Store, metrics *monitor.Metrics, logger *zap.Logger) actor.GatewayActorProvider {
	return func(es *eventstream.EventStream) *actor.GatewayActor {
		return actor.NewGatewayActor(cfg, reg, store, func() (opentherm.Transceiver, error) {
			return bus.FromConfig(cfg.Bus, logger)
		}, es, metrics, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("bus.transport", config.TRANSPORT_SERIAL)
	viper.SetDefault("bus.port", "/dev/ttyUSB0")
	viper.SetDefault("bus.baud", 9600)
	viper.SetDefault("bus.timeout_millis", 1000)
	viper.SetDefault("bus.modbus.unit_id", 1)
	viper.SetDefault("bus.modbus.request_register", 0)
	viper.SetDefault("bus.modbus.response_register", 2)
	viper.SetDefault("bus.modbus.status_register", 4)
	viper.SetDefault("bus.modbus.poll_millis", 20)
	viper.SetDefault("scheduler.tick_interval_millis", 1000)
	viper.SetDefault("scheduler.max_init_retries", 3)
	viper.SetDefault("scheduler.min_request_spacing_millis", 2000)
	viper.SetDefault("schema_file", "")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "otgw")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("republish_interval_seconds", 300)
	viper.SetDefault("http_log", false)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
