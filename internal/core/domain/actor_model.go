package domain

import (
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_GATEWAY      = "gateway"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type ActorRef actor.PID

// ActorRequest is implemented by every request message. A nil ReplyTo means
// the answer goes to the sender.
type ActorRequest interface {
	ReplyTo() *ActorRef
}

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef { return r.ReplyToRef }

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error
}

// Failed wraps err as the error part of a response.
func Failed(err error) ActorResponseMixIn {
	return ActorResponseMixIn{ResponseError: err}
}

func (r ActorResponseMixIn) GetResponseError() error { return r.ResponseError }

func (r ActorResponseMixIn) HasResponseError() bool { return r.ResponseError != nil }

// WriteEntityRequest asks the gateway to write a switch or input entity.
type WriteEntityRequest struct {
	ActorRequestMixIn
	EntityId string
	Value    opentherm.Value
}

// WriteEntityResponse carries the value the boiler acknowledged.
type WriteEntityResponse struct {
	ActorResponseMixIn
	EntityId string
	Value    opentherm.Value
}

// RepublishStateRequest asks for every known entity value to be published again.
type RepublishStateRequest struct {
	ActorRequestMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
