package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// Status register values of the OpenTherm to Modbus bridge.
const (
	MODBUS_STATUS_IDLE    = 0
	MODBUS_STATUS_BUSY    = 1
	MODBUS_STATUS_DONE    = 2
	MODBUS_STATUS_TIMEOUT = 3
	MODBUS_STATUS_PARITY  = 4
)

// registerClient is the part of *modbus.ModbusClient the bridge needs.
type registerClient interface {
	Open() error
	Close() error
	ReadRegister(addr uint16, regType modbus.RegType) (uint16, error)
	ReadUint32(addr uint16, regType modbus.RegType) (uint32, error)
	WriteUint32(addr uint16, value uint32) error
}

type ModbusInstrument struct {
	RecordTime func(fnName string, duration time.Duration)
}

// ModbusTransceiver drives a bridge that exposes the OpenTherm master through
// holding registers: the request frame is written as an u32, the status
// register is polled until the exchange ends, then the response is read.
// The bridge does not report thermostat traffic, so no unsolicited frames
// are ever delivered.
type ModbusTransceiver struct {
	client     registerClient
	cfg        config.ModbusConfig
	timeout    time.Duration
	instrument []ModbusInstrument
	logger     *zap.Logger

	mu      sync.Mutex
	handler func(opentherm.Frame)
}

func CreateModbusTransceiver(address string, cfg config.ModbusConfig, timeout time.Duration, logger *zap.Logger) (*ModbusTransceiver, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s", address),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(cfg.UnitId); err != nil {
		return nil, err
	}
	return newModbusTransceiver(client, cfg, timeout, logger), nil
}

func newModbusTransceiver(client registerClient, cfg config.ModbusConfig, timeout time.Duration, logger *zap.Logger) *ModbusTransceiver {
	logger = logger.With(zap.String("bus", "modbus"), zap.Uint8("unit", cfg.UnitId))
	var inst []ModbusInstrument
	if logInst := debugLoggerInstrumentation(logger); logInst != nil {
		inst = append(inst, *logInst)
	}
	return &ModbusTransceiver{
		client:     client,
		cfg:        cfg,
		timeout:    timeout,
		instrument: inst,
		logger:     logger,
	}
}

func (m *ModbusTransceiver) Open() error {
	return m.client.Open()
}

func (m *ModbusTransceiver) Close() error {
	return m.client.Close()
}

func (m *ModbusTransceiver) OnUnsolicitedFrame(handler func(opentherm.Frame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *ModbusTransceiver) SendRequest(ctx context.Context, id opentherm.DataID, t opentherm.MessageType, payload uint16) (opentherm.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := opentherm.NewRequest(id, t, payload)
	if err := m.writeUint32(m.cfg.RequestRegister, req.Pack()); err != nil {
		return opentherm.Frame{}, fmt.Errorf("modbus: write request: %w", err)
	}

	deadline := time.Now().Add(m.timeout)
	poll := time.Duration(m.cfg.PollMillis) * time.Millisecond
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	for {
		status, err := m.readRegister(m.cfg.StatusRegister)
		if err != nil {
			return opentherm.Frame{}, fmt.Errorf("modbus: read status: %w", err)
		}
		switch status {
		case MODBUS_STATUS_DONE:
			raw, err := m.readUint32(m.cfg.ResponseRegister)
			if err != nil {
				return opentherm.Frame{}, fmt.Errorf("modbus: read response: %w", err)
			}
			return opentherm.ParseFrame(raw)
		case MODBUS_STATUS_TIMEOUT:
			return opentherm.Frame{}, opentherm.ErrBusTimeout
		case MODBUS_STATUS_PARITY:
			return opentherm.Frame{}, opentherm.ErrBusParity
		}
		if time.Now().After(deadline) {
			return opentherm.Frame{}, opentherm.ErrBusTimeout
		}
		select {
		case <-ctx.Done():
			return opentherm.Frame{}, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (m *ModbusTransceiver) readRegister(addr uint16) (uint16, error) {
	defer RecordTimer("ReadRegister", m.instrument)()
	return m.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
}

func (m *ModbusTransceiver) readUint32(addr uint16) (uint32, error) {
	defer RecordTimer("ReadUint32", m.instrument)()
	return m.client.ReadUint32(addr, modbus.HOLDING_REGISTER)
}

func (m *ModbusTransceiver) writeUint32(addr uint16, value uint32) error {
	defer RecordTimer("WriteUint32", m.instrument)()
	return m.client.WriteUint32(addr, value)
}

func debugLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, duration time.Duration) {
			logger.Debug(fmt.Sprintf("modbus [%s]: %d millis", fnName, duration.Milliseconds()))
		},
	}
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

var _ opentherm.Transceiver = (*ModbusTransceiver)(nil)
