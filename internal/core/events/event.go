package events

import (
	"time"

	. "github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/internal/core/state"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"
)

// UpdateToEvent converts a decoded entity value into the event published for
// its kind. Values that cannot be represented for the kind yield nil.
func UpdateToEvent(e schema.Entity, v opentherm.Value, at time.Time) SensorUpdateEvent {
	mixIn := SensorUpdateEventMixIn{
		Id: e.Key,
		At: at,
	}
	switch e.Kind {
	case schema.KindSensor:
		n, ok := v.Number()
		if !ok {
			return nil
		}
		return FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: mixIn,
			Value:                  n,
			Decimals:               uint(e.AccuracyDecimals),
		}
	case schema.KindBinarySensor:
		b, ok := v.Flag()
		if !ok {
			return nil
		}
		return BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: mixIn,
			Value:                  b,
		}
	case schema.KindTextSensor:
		return TextSensorUpdateEvent{
			SensorUpdateEventMixIn: mixIn,
			Value:                  v.Format(e.AccuracyDecimals),
		}
	case schema.KindSwitch:
		b, ok := v.Flag()
		if !ok {
			return nil
		}
		return SwitchSensorUpdateEvent{
			SensorUpdateEventMixIn: mixIn,
			Value:                  b,
		}
	case schema.KindInput:
		n, ok := v.Number()
		if !ok {
			return nil
		}
		return InputNumberSensorUpdateEvent{
			SensorUpdateEventMixIn: mixIn,
			Value:                  n,
			Decimals:               uint(e.AccuracyDecimals),
		}
	}
	return nil
}

// SnapshotEvents returns one event per entity that has a value, in schema order.
func SnapshotEvents(reg *registry.Registry, store *state.Store) []SensorUpdateEvent {
	var events []SensorUpdateEvent
	for _, e := range reg.Entities() {
		snap, ok := store.Get(e.ID())
		if !ok || snap.Value == nil || !snap.Available {
			continue
		}
		if ev := UpdateToEvent(e, *snap.Value, snap.Updated); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

func BridgeStateEvent(online bool) SensorUpdateEvent {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_STATE,
			At: time.Now(),
		},
		Value: online,
	}
}
