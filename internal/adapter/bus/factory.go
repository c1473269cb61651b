package bus

import (
	"fmt"

	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"go.uber.org/zap"
)

// FromConfig builds a new closed transceiver for the configured transport.
func FromConfig(cfg config.BusConfig, logger *zap.Logger) (opentherm.Transceiver, error) {
	switch cfg.Transport {
	case config.TRANSPORT_SERIAL:
		return NewLineTransceiver(fmt.Sprintf("serial:%s", cfg.Port), SerialDialer(cfg.Port, cfg.Baud), cfg.Timeout(), logger), nil
	case config.TRANSPORT_TCP:
		return NewLineTransceiver(fmt.Sprintf("tcp:%s", cfg.Address), TCPDialer(cfg.Address, cfg.Timeout()), cfg.Timeout(), logger), nil
	case config.TRANSPORT_WEBSOCKET:
		return NewLineTransceiver(fmt.Sprintf("websocket:%s", cfg.URL), WebSocketDialer(cfg.URL, cfg.Timeout()), cfg.Timeout(), logger), nil
	case config.TRANSPORT_MODBUS:
		return CreateModbusTransceiver(cfg.Address, cfg.Modbus, cfg.Timeout(), logger)
	case config.TRANSPORT_SIM:
		return opentherm.DemoBoiler(), nil
	}
	return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
}
