package actor

import (
	"fmt"
	"maps"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/events"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/state"
	"github.com/berfenger/otgw2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	haDiscoveryRetryInterval  = 5 * time.Second
	haDiscoveryBoundsInterval = 30 * time.Second
)

type HADiscoveryActor struct {
	config              *config.Config
	registry            *registry.Registry
	store               *state.Store
	behavior            actor.Behavior
	stash               *actorutil.Stash
	gatewayActor        *actor.PID
	mqttActor           *actor.PID
	gatewayActorHealthy bool
	mqttActorHealthy    bool
	healthyRecv         int
	timer               *scheduler.TimerScheduler

	// input ranges of the last published discovery
	advertised     map[string][2]float64
	boundsInterval time.Duration

	logger *zap.Logger
}

type checkHealth struct {
}

type checkBounds struct {
}

func NewHADiscoveryActor(config *config.Config, reg *registry.Registry, store *state.Store, gatewayActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:         config,
		registry:       reg,
		store:          store,
		gatewayActor:   gatewayActor,
		mqttActor:      mqttActor,
		behavior:       actor.NewBehavior(),
		stash:          &actorutil.Stash{},
		boundsInterval: haDiscoveryBoundsInterval,
		logger:         actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.timer = scheduler.NewTimerScheduler(ctx)
		state.requestHealth(ctx)
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case checkHealth:
		state.requestHealth(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_GATEWAY:
				state.gatewayActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.gatewayActorHealthy && state.mqttActorHealthy {
				state.publishDiscovery(ctx)
				state.behavior.Become(state.Done)
				state.timer.RequestOnce(state.boundsInterval, ctx.Self(), checkBounds{})
				state.stash.UnstashAll(ctx)
			} else {
				// the broker may come up later than the bridge
				state.logger.Info("hadiscovery@healthcheck gateway or MQTT not healthy, retrying",
					zap.Bool("gateway", state.gatewayActorHealthy), zap.Bool("mqtt", state.mqttActorHealthy))
				state.timer.RequestOnce(haDiscoveryRetryInterval, ctx.Self(), checkHealth{})
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Info("hadiscovery@done discovery published")
	case checkBounds:
		// learned bounds narrow the number ranges shown by Home Assistant
		if current := events.InputRanges(state.registry, state.store); !maps.Equal(current, state.advertised) {
			state.logger.Info("hadiscovery@done input ranges changed, republishing discovery")
			state.publishDiscovery(ctx)
		}
		state.timer.RequestOnce(state.boundsInterval, ctx.Self(), checkBounds{})
	}
}

func (state *HADiscoveryActor) requestHealth(ctx actor.Context) {
	state.healthyRecv = 0
	state.gatewayActorHealthy = false
	state.mqttActorHealthy = false
	// Gateway Actor Request
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.gatewayActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_GATEWAY,
			Healthy: false,
		}
	})
	// MQTT Actor Request
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
}

func (state *HADiscoveryActor) publishDiscovery(ctx actor.Context) {
	var sensors []domain.GenericSensor

	bridgeDevice := events.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, events.BridgeSensors(bridgeDevice)...)

	boilerDevice := events.BoilerDevice(state.config.MQTT.BaseTopic)
	state.advertised = events.InputRanges(state.registry, state.store)
	boilerSensors, switches, inputNumbers := events.EntityDiscovery(state.registry, state.store, boilerDevice)

	// only the first boiler component carries the full device description
	first := true
	for i := range boilerSensors {
		if !first {
			boilerSensors[i].Device = events.IdDevice(boilerDevice)
		}
		first = false
	}
	for i := range switches {
		if !first {
			switches[i].Device = events.IdDevice(boilerDevice)
		}
		first = false
	}
	for i := range inputNumbers {
		if !first {
			inputNumbers[i].Device = events.IdDevice(boilerDevice)
		}
		first = false
	}
	sensors = append(sensors, boilerSensors...)

	state.logger.Debug("hadiscovery@healthcheck publishing discovery",
		zap.Int("sensors", len(sensors)), zap.Int("switches", len(switches)), zap.Int("numbers", len(inputNumbers)))

	ctx.Request(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Switches:     switches,
		InputNumbers: inputNumbers,
	})
}
