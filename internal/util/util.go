package util

import (
	"github.com/berfenger/otgw2mqtt/internal/config"

	"go.uber.org/zap"
)

// LoadTestConfig returns a configuration that runs against the simulated boiler.
func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Bus: config.BusConfig{
			Transport:     config.TRANSPORT_SIM,
			TimeoutMillis: 1000,
		},
		Scheduler: config.SchedulerConfig{
			TickIntervalMillis:      50,
			MaxInitRetries:          2,
			MinRequestSpacingMillis: 0,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "otgw_test",
		},
		Port: 8080,
	}
}
