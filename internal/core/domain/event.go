package domain

import (
	"fmt"
	"time"
)

type SensorUpdateEventMixIn struct {
	Id string
	At time.Time
}

// SensorUpdateEvent is published on the event stream whenever an entity
// value changes or is republished.
type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
	UpdatedAt() time.Time
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

func (e SensorUpdateEventMixIn) UpdatedAt() time.Time {
	return e.At
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}
