package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testModbusConfig = config.ModbusConfig{
	UnitId:           1,
	RequestRegister:  100,
	ResponseRegister: 102,
	StatusRegister:   104,
	PollMillis:       1,
}

// fakeBridge answers every request from the simulated boiler after a few
// busy polls.
type fakeBridge struct {
	mu         sync.Mutex
	boiler     *opentherm.SimulatedBoiler
	status     uint16
	response   uint32
	busyPolls  int
	failStatus uint16
	stuck      bool
	writes     int
}

func (b *fakeBridge) Open() error  { return nil }
func (b *fakeBridge) Close() error { return nil }

func (b *fakeBridge) WriteUint32(addr uint16, value uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr != testModbusConfig.RequestRegister {
		return errors.New("unexpected register")
	}
	b.writes++
	req, err := opentherm.ParseFrame(value)
	if err != nil {
		return err
	}
	resp, err := b.boiler.SendRequest(context.Background(), req.DataID, req.Type, req.Payload)
	if err != nil {
		return err
	}
	b.response = resp.Pack()
	b.status = MODBUS_STATUS_BUSY
	b.busyPolls = 2
	return nil
}

func (b *fakeBridge) ReadRegister(addr uint16, regType modbus.RegType) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr != testModbusConfig.StatusRegister || regType != modbus.HOLDING_REGISTER {
		return 0, errors.New("unexpected register")
	}
	if b.stuck {
		return MODBUS_STATUS_BUSY, nil
	}
	if b.status == MODBUS_STATUS_BUSY {
		if b.busyPolls > 0 {
			b.busyPolls--
			return MODBUS_STATUS_BUSY, nil
		}
		b.status = MODBUS_STATUS_DONE
		if b.failStatus != 0 {
			b.status = b.failStatus
		}
	}
	return b.status, nil
}

func (b *fakeBridge) ReadUint32(addr uint16, regType modbus.RegType) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr != testModbusConfig.ResponseRegister {
		return 0, errors.New("unexpected register")
	}
	return b.response, nil
}

func TestModbusTransceiver(t *testing.T) {

	assert := assert.New(t)

	boiler := opentherm.NewSimulatedBoiler(map[opentherm.DataID]uint16{
		opentherm.Tboiler: 0x2D40,
	})
	require.NoError(t, boiler.Open())
	bridge := &fakeBridge{boiler: boiler}

	tr := newModbusTransceiver(bridge, testModbusConfig, time.Second, zap.NewNop())
	require.NoError(t, tr.Open())
	defer tr.Close()

	resp, err := tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	require.NoError(t, err)
	assert.Equal(opentherm.ReadAck, resp.Type)
	assert.Equal(uint16(0x2D40), resp.Payload)

	resp, err = tr.SendRequest(context.Background(), opentherm.TSet, opentherm.WriteData, 0x3700)
	require.NoError(t, err)
	assert.Equal(opentherm.WriteAck, resp.Type)
	v, _ := boiler.Register(opentherm.TSet)
	assert.Equal(uint16(0x3700), v)
	assert.Equal(2, bridge.writes)

	bridge.failStatus = MODBUS_STATUS_TIMEOUT
	_, err = tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(err, opentherm.ErrBusTimeout)

	bridge.failStatus = MODBUS_STATUS_PARITY
	_, err = tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(err, opentherm.ErrBusParity)
}

func TestModbusTransceiverStuckBridge(t *testing.T) {

	boiler := opentherm.NewSimulatedBoiler(nil)
	require.NoError(t, boiler.Open())
	bridge := &fakeBridge{boiler: boiler}

	tr := newModbusTransceiver(bridge, testModbusConfig, 50*time.Millisecond, zap.NewNop())

	// the bridge never leaves the busy state
	bridge.stuck = true

	_, err := tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(t, err, opentherm.ErrBusTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.SendRequest(ctx, opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig(t *testing.T) {

	assert := assert.New(t)

	tr, err := FromConfig(config.BusConfig{Transport: config.TRANSPORT_SIM}, zap.NewNop())
	assert.NoError(err)
	assert.IsType(&opentherm.SimulatedBoiler{}, tr)

	tr, err = FromConfig(config.BusConfig{Transport: config.TRANSPORT_TCP, Address: "127.0.0.1:7686", TimeoutMillis: 500}, zap.NewNop())
	assert.NoError(err)
	assert.IsType(&LineTransceiver{}, tr)

	_, err = FromConfig(config.BusConfig{Transport: "carrier-pigeon"}, zap.NewNop())
	assert.Error(err)
}
