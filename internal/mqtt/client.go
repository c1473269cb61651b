package mqtt

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
	COMMAND_SWITCH       = "switch"
	COMMAND_NUMBER       = "number"
	DEFAULT_HA_DISCOVERY = "homeassistant"
)

// topic suffix on which each command kind is received
var commandSuffix = map[string]string{
	COMMAND_SWITCH: "command",
	COMMAND_NUMBER: "set",
}

var ErrNotACommand = errors.New("not a command topic")

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID("otgw2mqtt_" + uuid.NewString()[:8])
	// reconnection is driven by the actor supervisor
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetWill(bridgeStateTopic(cfg.MQTT.BaseTopic), MQTT_PAYLOAD_OFFLINE, 0, true)
	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:    mqtt.NewClient(opts),
		cfg:       cfg.MQTT,
		commandRe: commandExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client    mqtt.Client
	cfg       config.MQTTConfig
	commandRe *regexp.Regexp
}

// ParsedMQTTCommand is a message received on a switch command or number set
// topic. DeviceId is the entity key.
type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Param    string
	Payload  string
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) discoveryTopic() string {
	if c.cfg.HADiscoveryTopic == "" {
		return DEFAULT_HA_DISCOVERY
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MQTTClient) stateTopic(kind, key string) string {
	return fmt.Sprintf("%s/%s/%s/state", c.baseTopic(), kind, key)
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(key string) string {
	return c.stateTopic("sensor", key)
}

func (c *MQTTClient) BinarySensorStateTopic(key string) string {
	return c.stateTopic("binary_sensor", key)
}

func (c *MQTTClient) SwitchStateTopic(key string) string {
	return c.stateTopic(COMMAND_SWITCH, key)
}

func (c *MQTTClient) SwitchCommandTopic(key string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.baseTopic(), COMMAND_SWITCH, key, commandSuffix[COMMAND_SWITCH])
}

func (c *MQTTClient) InputNumberStateTopic(key string) string {
	return c.stateTopic(COMMAND_NUMBER, key)
}

func (c *MQTTClient) InputNumberCommandTopic(key string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.baseTopic(), COMMAND_NUMBER, key, commandSuffix[COMMAND_NUMBER])
}

// ParseMQTTCommand extracts the entity key from a command topic. Number
// payloads must parse as a float.
func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	m := c.commandRe.FindStringSubmatch(msg.Topic())
	if m == nil || commandSuffix[m[1]] != m[3] {
		return nil, fmt.Errorf("%s: %w", msg.Topic(), ErrNotACommand)
	}
	cmd := &ParsedMQTTCommand{
		DeviceId: m[2],
		Command:  m[1],
		Payload:  string(msg.Payload()),
	}
	if cmd.Command == COMMAND_NUMBER {
		if _, err := strconv.ParseFloat(cmd.Payload, 64); err != nil {
			return nil, fmt.Errorf("number %s: %w", cmd.DeviceId, err)
		}
	}
	return cmd, nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	await(c.client.Publish(topic, qos, retain, payload), "publish", timeout, continuation)
}

// SubscribeToCommandTopic only subscribes to command and set topics so the
// bridge does not receive its own state messages.
func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	filters := make(map[string]byte, len(commandSuffix))
	for kind, suffix := range commandSuffix {
		filters[fmt.Sprintf("%s/%s/+/%s", c.baseTopic(), kind, suffix)] = 1
	}
	await(c.client.SubscribeMultiple(filters, handler), "subscribe", timeout, continuation)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	await(c.client.Connect(), "connect", timeout, continuation)
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

// await calls continuation from a new goroutine once the token completes or
// the timeout expires.
func await(token mqtt.Token, op string, timeout time.Duration, continuation func(error)) {
	go func() {
		if !token.WaitTimeout(timeout) {
			continuation(fmt.Errorf("MQTT %s timed out", op))
			return
		}
		continuation(token.Error())
	}()
}

func commandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/(switch|number)/([a-zA-Z0-9_]+)/(command|set)$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return baseTopic + "/bridge/state"
}
