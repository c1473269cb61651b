package main

import (
	"fmt"
	"os"

	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// overrides schema_file from the configuration
	schemaFile string
)

var rootCmd = &cobra.Command{
	Use:   "otgw2mqtt",
	Short: "OpenTherm gateway to MQTT bridge",
	Long: `otgw2mqtt polls an OpenTherm boiler through a gateway adapter and publishes
every value described by the entity schema to MQTT, with optional Home
Assistant discovery.

Bus transports:
  serial:    bus.transport=serial bus.port=/dev/ttyUSB0 bus.baud=9600
  tcp:       bus.transport=tcp bus.address=otgw.local:25238
  websocket: bus.transport=websocket bus.url=ws://otgw.local/ws
  modbus:    bus.transport=modbus bus.address=bridge.local:502
  sim:       bus.transport=sim (in-memory demo boiler)

Configuration is read from OTGW_* environment variables, a .env file and
the YAML file named by CONFIG_FILE.`,
	Version: versioninfo.Short(),
	RunE:    runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&schemaFile, "schema", "s", "", "Entity schema YAML file (default: built-in schema)")
}

// loadRegistry parses the schema, logging every warning, and builds the
// message registry from it.
func loadRegistry(path string, logger *zap.Logger) (*registry.Registry, error) {
	var (
		entities []schema.Entity
		warnings []string
		err      error
	)
	if path == "" {
		entities, warnings, err = schema.Builtin()
	} else {
		entities, warnings, err = schema.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("schema warning", zap.String("schema", path), zap.String("warning", w))
	}
	return registry.Build(entities)
}

// cliLogger is used by the commands that do not load the configuration.
func cliLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return zap.Must(cfg.Build())
}

func schemaPath(cfg *config.Config) string {
	if schemaFile != "" {
		return schemaFile
	}
	if cfg != nil {
		return cfg.SchemaFile
	}
	return os.Getenv("OTGW_SCHEMA_FILE")
}
