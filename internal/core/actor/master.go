package actor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/otgw2mqtt/internal/adapter/actor"
	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/state"
	. "github.com/berfenger/otgw2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type GatewayActorProvider func(*eventstream.EventStream) *GatewayActor

type MasterOfPuppetsActor struct {
	config   config.Config
	registry *registry.Registry
	store    *state.Store
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck   healthCheckResult
	eventStream          *eventstream.EventStream
	gatewayActor         *actor.PID
	mqttActor            *actor.PID
	gatewayActorProvider GatewayActorProvider
	mqttActorProvider    MQTTActorProvider
	jobs                 quartz.Scheduler
	logger               *zap.Logger
}

type healthCheckResult struct {
	gatewayActorHealthy bool
	mqttActorHealthy    bool
	gatewayState        string
	checksReceived      int
	respondTo           *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, reg *registry.Registry, store *state.Store, gatewayActorProvider GatewayActorProvider, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:               config,
		registry:             reg,
		store:                store,
		behavior:             actor.NewBehavior(),
		stash:                &Stash{},
		logger:               ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:          &eventstream.EventStream{},
		gatewayActorProvider: gatewayActorProvider,
		mqttActorProvider:    mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

// EventStream carries entity updates from the gateway to the MQTT actor.
func (state *MasterOfPuppetsActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start MQTT child first so no update published by the gateway is lost
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start Gateway child
		gatewayActorPID, err := state.startGatewayActor(ctx)
		if err != nil {
			panic(err)
		}
		state.gatewayActor = gatewayActorPID

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		// schedule state republish
		if state.config.RepublishIntervalSeconds > 0 {
			if err := state.startRepublishJob(ctx); err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// Gateway Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.gatewayActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_GATEWAY,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// translate the command and send it to the gateway
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			req, err := ParsedMQTTCommandToWriteRequest(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Error(err))
				return
			}
			ctx.Request(state.gatewayActor, req)
		}
	case domain.WriteEntityRequest:
		// writes from the HTTP API keep their original sender
		state.logger.Debug("master@default WriteEntityRequest", zap.String("entity", msg.EntityId))
		ctx.Forward(state.gatewayActor)
	case domain.WriteEntityResponse:
		if msg.HasResponseError() {
			state.logger.Warn("master@default command rejected", zap.String("entity", msg.EntityId), zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Info("master@default command applied", zap.String("entity", msg.EntityId), zap.Stringer("value", msg.Value))
		}
	case domain.RepublishStateRequest:
		ctx.Forward(state.gatewayActor)
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			state.logger.Error("master@default discovery failed", zap.Error(msg.GetResponseError()))
		}
	case *actor.Stopping:
		state.stopRepublishJob()
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", ctx.Self().Id, domain.ACTOR_ID_GATEWAY) {
			state.logger.Error("master@default gateway terminated")
			panic(errors.New("gateway terminated"))
		}
	default:
		state.logger.Debug("master@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		switch msg.Id {
		case domain.ACTOR_ID_GATEWAY:
			state.currentHealthCheck.gatewayActorHealthy = msg.Healthy
			state.currentHealthCheck.gatewayState = msg.State
		case domain.ACTOR_ID_MQTT:
			state.currentHealthCheck.mqttActorHealthy = msg.Healthy
		}
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	case *actor.Stopping:
		state.stopRepublishJob()
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startGatewayActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	gatewayProps := actor.PropsFromProducer(func() actor.Actor {
		return state.gatewayActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	gatewayActorPID, err := ctx.SpawnNamed(gatewayProps, domain.ACTOR_ID_GATEWAY)
	if err != nil {
		return nil, err
	}

	return gatewayActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.registry, state.store, state.gatewayActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

// startRepublishJob periodically asks the gateway to publish every known
// value again, so late MQTT subscribers catch up.
func (state *MasterOfPuppetsActor) startRepublishJob(ctx actor.Context) error {
	jobs, err := quartz.NewStdScheduler()
	if err != nil {
		return err
	}
	root := ctx.ActorSystem().Root
	gateway := state.gatewayActor
	republish := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		root.Send(gateway, domain.RepublishStateRequest{})
		return true, nil
	})
	jobs.Start(context.Background())
	err = jobs.ScheduleJob(quartz.NewJobDetail(republish, quartz.NewJobKey("republish_state")),
		quartz.NewSimpleTrigger(state.config.RepublishInterval()))
	if err != nil {
		jobs.Stop()
		return err
	}
	state.jobs = jobs
	state.logger.Debug("master@starting republish job scheduled", zap.Duration("interval", state.config.RepublishInterval()))
	return nil
}

func (state *MasterOfPuppetsActor) stopRepublishJob() {
	if state.jobs == nil {
		return
	}
	state.jobs.Stop()
	state.jobs = nil
}

func (state *healthCheckResult) reset() {
	state.gatewayActorHealthy = false
	state.mqttActorHealthy = false
	state.gatewayState = ""
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 2
}

func (state *healthCheckResult) allHealthy() bool {
	return state.gatewayActorHealthy && state.mqttActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.gatewayState,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
