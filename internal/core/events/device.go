package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"

	. "github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/internal/core/state"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE    = "bridge"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	ENTITY_CLASS_CONFIG       = "config"
	SENSOR_TYPE_SENSOR        = "sensor"
	SENSOR_TYPE_BINARY        = "binary_sensor"
	INPUT_NUMBER_MODE_BOX     = "box"
	INPUT_NUMBER_MODE_SLIDER  = "slider"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("otgw_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "otgw2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("OpenTherm gateway %s", md5HashShort(baseTopic)),
	}
}

// BoilerDevice groups every schema entity. It is reached through the bridge.
func BoilerDevice(baseTopic string) Device {
	bridge := BridgeDevice(baseTopic)
	return Device{
		Id:        fmt.Sprintf("otgw_boiler_%s", md5HashShort(baseTopic)),
		Model:     "OpenTherm boiler",
		Name:      "Boiler",
		ViaDevice: bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// EntityDiscovery describes every schema entity as a Home Assistant component.
// Sensors and text sensors become sensors, binary sensors keep their type,
// inputs become numbers advertising their effective range. store may be nil.
func EntityDiscovery(reg *registry.Registry, store *state.Store, device Device) ([]GenericSensor, []GenericSwitch, []GenericInputNumber) {
	var sensors []GenericSensor
	var switches []GenericSwitch
	var numbers []GenericInputNumber

	for _, e := range reg.Entities() {
		switch e.Kind {
		case schema.KindSensor, schema.KindTextSensor, schema.KindBinarySensor:
			sensor := GenericSensor{
				Device:            device,
				Id:                e.Key,
				SensorType:        SENSOR_TYPE_SENSOR,
				Name:              entityName(e),
				UniqueId:          uniqueId(device.Id, e.Key),
				UnitOfMeasurement: e.Unit,
				StateClass:        e.StateClass,
				DeviceClass:       e.DeviceClass,
				EntityCategory:    e.EntityCategory,
				Icon:              e.Icon,
			}
			switch e.Kind {
			case schema.KindBinarySensor:
				sensor.SensorType = SENSOR_TYPE_BINARY
				sensor.UniqueId = uniqueId(device.Id, "bin_"+e.Key)
			case schema.KindSensor:
				sensor.DisplayPrecision = optionalInt(e.AccuracyDecimals)
			}
			sensors = append(sensors, sensor)
		case schema.KindSwitch:
			switches = append(switches, GenericSwitch{
				Device:         device,
				Id:             e.Key,
				Name:           entityName(e),
				UniqueId:       uniqueId(device.Id, "sw_"+e.Key),
				Icon:           e.Icon,
				EntityCategory: e.EntityCategory,
			})
		case schema.KindInput:
			number := GenericInputNumber{
				Device:            device,
				Id:                e.Key,
				Name:              entityName(e),
				UniqueId:          uniqueId(device.Id, "num_"+e.Key),
				Icon:              e.Icon,
				UnitOfMeasurement: e.Unit,
				DeviceClass:       e.DeviceClass,
				EntityCategory:    e.EntityCategory,
				Step:              math.Pow10(-e.AccuracyDecimals),
				Mode:              INPUT_NUMBER_MODE_BOX,
			}
			if min, max, ok := InputRange(e, store); ok {
				number.Min = min
				number.Max = max
			}
			numbers = append(numbers, number)
		}
	}
	return sensors, switches, numbers
}

// InputRange is the static range of an input with the learned bounds, once
// known, taking precedence.
func InputRange(e schema.Entity, store *state.Store) (min, max float64, ok bool) {
	if e.Range == nil {
		return 0, 0, false
	}
	min, max = e.Range.Min, e.Range.Max
	if store != nil {
		learnedMin, learnedMax := store.Learned(e.ID())
		if learnedMin != nil {
			min = *learnedMin
		}
		if learnedMax != nil {
			max = *learnedMax
		}
	}
	return min, max, true
}

// InputRanges maps every ranged input to its current InputRange.
func InputRanges(reg *registry.Registry, store *state.Store) map[string][2]float64 {
	out := map[string][2]float64{}
	for _, e := range reg.Entities() {
		if e.Kind != schema.KindInput {
			continue
		}
		if min, max, ok := InputRange(e, store); ok {
			out[e.ID()] = [2]float64{min, max}
		}
	}
	return out
}

func entityName(e schema.Entity) string {
	if e.Description != "" {
		return e.Description
	}
	return e.Key
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalInt(value int) *int {
	return &value
}
