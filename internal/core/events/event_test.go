package events

import (
	"testing"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/internal/core/state"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
sensors:
  - key: t_boiler
    description: Boiler water temperature
    message: Tboiler
    message_data: f88
    unit_of_measurement: "°C"
    accuracy_decimals: 1
    device_class: temperature
    state_class: measurement
binary_sensors:
  - key: flame
    message: Status
    message_data: flag8_lb_3
text_sensors:
  - key: ch_mode
    message: Status
    message_data: flag8_lb_1_str
switches:
  - key: ch_enable
    message: Status
    message_data: flag8_hb_0
inputs:
  - key: t_set
    message: TSet
    message_data: f88
    range: [0, 100]
    accuracy_decimals: 1
`

func testRegistry(t *testing.T) *registry.Registry {
	entities, _, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	reg, err := registry.Build(entities)
	require.NoError(t, err)
	return reg
}

func TestEntityDiscovery(t *testing.T) {

	assert := assert.New(t)

	reg := testRegistry(t)
	device := BoilerDevice("otgw")
	sensors, switches, numbers := EntityDiscovery(reg, nil, device)

	if assert.Len(sensors, 3) {
		assert.Equal("t_boiler", sensors[0].Id)
		assert.Equal(SENSOR_TYPE_SENSOR, sensors[0].SensorType)
		assert.Equal("Boiler water temperature", sensors[0].Name)
		assert.Equal("°C", sensors[0].UnitOfMeasurement)
		if assert.NotNil(sensors[0].DisplayPrecision) {
			assert.Equal(1, *sensors[0].DisplayPrecision)
		}
		assert.Equal(SENSOR_TYPE_BINARY, sensors[1].SensorType)
		assert.Equal("flame", sensors[1].Name, "key when no description")
		assert.Equal(SENSOR_TYPE_SENSOR, sensors[2].SensorType, "text sensors are plain sensors")
	}
	if assert.Len(switches, 1) {
		assert.Equal("ch_enable", switches[0].Id)
	}
	if assert.Len(numbers, 1) {
		assert.Equal(0.0, numbers[0].Min)
		assert.Equal(100.0, numbers[0].Max)
		assert.InDelta(0.1, numbers[0].Step, 1e-9)
		assert.Equal(INPUT_NUMBER_MODE_BOX, numbers[0].Mode)
	}

	ids := map[string]bool{}
	for _, s := range sensors {
		ids[s.UniqueId] = true
	}
	ids[switches[0].UniqueId] = true
	ids[numbers[0].UniqueId] = true
	assert.Len(ids, 5, "unique ids do not collide")
}

func TestEntityDiscoveryUsesLearnedBounds(t *testing.T) {

	assert := assert.New(t)

	reg := testRegistry(t)
	store := state.NewStore([]string{"input.t_set"})
	assert.Equal(map[string][2]float64{"input.t_set": {0, 100}}, InputRanges(reg, store))

	store.SetLearned("input.t_set", true, 75)
	_, _, numbers := EntityDiscovery(reg, store, BoilerDevice("otgw"))
	if assert.Len(numbers, 1) {
		assert.Equal(0.0, numbers[0].Min, "static minimum kept")
		assert.Equal(75.0, numbers[0].Max)
	}
	assert.Equal(map[string][2]float64{"input.t_set": {0, 75}}, InputRanges(reg, store))
}

func TestBoilerDeviceIsReachedThroughBridge(t *testing.T) {

	assert := assert.New(t)

	bridge := BridgeDevice("otgw")
	boiler := BoilerDevice("otgw")

	assert.Equal(bridge.Id, boiler.ViaDevice)
	assert.NotEqual(bridge.Id, BridgeDevice("other").Id)
	assert.Equal(domain.Device{Id: boiler.Id, Name: boiler.Name}, IdDevice(boiler))
}

func TestUpdateToEvent(t *testing.T) {

	assert := assert.New(t)

	reg := testRegistry(t)
	at := time.Date(2024, 12, 25, 10, 30, 0, 0, time.UTC)
	entity := func(id string) schema.Entity {
		e, ok := reg.Entity(id)
		require.True(t, ok, id)
		return e
	}

	ev := UpdateToEvent(entity("sensor.t_boiler"), opentherm.Float(45.25), at)
	if f, ok := ev.(domain.FloatSensorUpdateEvent); assert.True(ok) {
		assert.Equal("t_boiler", f.SensorId())
		assert.Equal(45.25, f.Value)
		assert.Equal(uint(1), f.Decimals)
		assert.Equal(at, f.UpdatedAt())
	}

	ev = UpdateToEvent(entity("binary_sensor.flame"), opentherm.Bool(true), at)
	if b, ok := ev.(domain.BinarySensorUpdateEvent); assert.True(ok) {
		assert.True(b.Value)
	}

	ev = UpdateToEvent(entity("text_sensor.ch_mode"), opentherm.Text("ON"), at)
	if s, ok := ev.(domain.TextSensorUpdateEvent); assert.True(ok) {
		assert.Equal("ON", s.Value)
	}

	ev = UpdateToEvent(entity("switch.ch_enable"), opentherm.Bool(false), at)
	if s, ok := ev.(domain.SwitchSensorUpdateEvent); assert.True(ok) {
		assert.False(s.Value)
	}

	ev = UpdateToEvent(entity("input.t_set"), opentherm.Float(55), at)
	if n, ok := ev.(domain.InputNumberSensorUpdateEvent); assert.True(ok) {
		assert.Equal(55.0, n.Value)
	}

	assert.Nil(UpdateToEvent(entity("sensor.t_boiler"), opentherm.Text("n/a"), at))
}

func TestSnapshotEvents(t *testing.T) {

	assert := assert.New(t)

	reg := testRegistry(t)
	var ids []string
	for _, e := range reg.Entities() {
		ids = append(ids, e.ID())
	}
	store := state.NewStore(ids)
	now := time.Now()
	store.Set("input.t_set", opentherm.Float(40), now)
	store.Set("sensor.t_boiler", opentherm.Float(38.5), now)
	store.Set("binary_sensor.flame", opentherm.Bool(true), now)
	store.MarkUnavailable("binary_sensor.flame")

	events := SnapshotEvents(reg, store)
	if assert.Len(events, 2) {
		assert.Equal("t_boiler", events[0].SensorId(), "schema order")
		assert.Equal("t_set", events[1].SensorId())
	}
}
