package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	TRANSPORT_SERIAL    = "serial"
	TRANSPORT_TCP       = "tcp"
	TRANSPORT_WEBSOCKET = "websocket"
	TRANSPORT_MODBUS    = "modbus"
	TRANSPORT_SIM       = "sim"
)

type Config struct {
	LogLevel                 zapcore.Level
	Bus                      BusConfig       `mapstructure:"bus"`
	Scheduler                SchedulerConfig `mapstructure:"scheduler"`
	SchemaFile               string          `mapstructure:"schema_file"`
	MQTT                     MQTTConfig      `mapstructure:"mqtt"`
	Port                     uint            `mapstructure:"port"`
	HttpLog                  bool            `mapstructure:"http_log"`
	RepublishIntervalSeconds uint32          `mapstructure:"republish_interval_seconds"`
}

type BusConfig struct {
	Transport     string
	Port          string
	Baud          int
	Address       string
	URL           string       `mapstructure:"url"`
	TimeoutMillis uint32       `mapstructure:"timeout_millis"`
	Modbus        ModbusConfig `mapstructure:"modbus"`
}

// ModbusConfig describes the register layout of an OpenTherm to Modbus bridge.
type ModbusConfig struct {
	UnitId           uint8  `mapstructure:"unit_id"`
	RequestRegister  uint16 `mapstructure:"request_register"`
	ResponseRegister uint16 `mapstructure:"response_register"`
	StatusRegister   uint16 `mapstructure:"status_register"`
	PollMillis       uint32 `mapstructure:"poll_millis"`
}

type SchedulerConfig struct {
	TickIntervalMillis      uint32 `mapstructure:"tick_interval_millis"`
	MaxInitRetries          int    `mapstructure:"max_init_retries"`
	MinRequestSpacingMillis uint32 `mapstructure:"min_request_spacing_millis"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c BusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMillis) * time.Millisecond
}

func (c SchedulerConfig) MinRequestSpacing() time.Duration {
	return time.Duration(c.MinRequestSpacingMillis) * time.Millisecond
}

func (c Config) RepublishInterval() time.Duration {
	return time.Duration(c.RepublishIntervalSeconds) * time.Second
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks bounds that viper cannot express.
func (c Config) Validate() error {
	switch c.Bus.Transport {
	case TRANSPORT_SERIAL:
		if c.Bus.Port == "" {
			return errors.New("config param bus.port is required for the serial transport")
		}
		if c.Bus.Baud <= 0 {
			return errors.New("config param bus.baud should be > 0")
		}
	case TRANSPORT_TCP, TRANSPORT_MODBUS:
		if c.Bus.Address == "" {
			return errors.New("config param bus.address is required for the " + c.Bus.Transport + " transport")
		}
	case TRANSPORT_WEBSOCKET:
		if !strings.HasPrefix(c.Bus.URL, "ws://") && !strings.HasPrefix(c.Bus.URL, "wss://") {
			return errors.New("config param bus.url should be a ws:// or wss:// url")
		}
	case TRANSPORT_SIM:
	default:
		return errors.New("config param bus.transport should be one of serial, tcp, websocket, modbus, sim")
	}
	if c.Bus.TimeoutMillis < 100 {
		return errors.New("config param bus.timeout_millis should be >= 100")
	}
	if c.Scheduler.TickIntervalMillis < 50 {
		return errors.New("config param scheduler.tick_interval_millis should be >= 50")
	}
	if c.Scheduler.MaxInitRetries < 0 {
		return errors.New("config param scheduler.max_init_retries should be >= 0")
	}
	if c.RepublishIntervalSeconds > 0 && c.RepublishIntervalSeconds < 10 {
		return errors.New("config param republish_interval_seconds should be 0 or >= 10")
	}
	return nil
}
