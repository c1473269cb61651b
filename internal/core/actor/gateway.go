package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/config"
	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/events"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	sched "github.com/berfenger/otgw2mqtt/internal/core/scheduler"
	"github.com/berfenger/otgw2mqtt/internal/core/state"
	"github.com/berfenger/otgw2mqtt/internal/monitor"
	. "github.com/berfenger/otgw2mqtt/internal/util/actorutil"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// BusProvider builds a new, closed transceiver for every gateway incarnation.
type BusProvider func() (opentherm.Transceiver, error)

// GatewayActor owns the OpenTherm bus. It drives the polling scheduler on a
// timer, applies frames seen on the bus and executes entity writes. At most
// one bus exchange runs at a time.
type GatewayActor struct {
	ActorWithStates
	config      *config.Config
	registry    *registry.Registry
	store       *state.Store
	busProvider BusProvider
	bus         opentherm.Transceiver
	scheduler   *sched.Scheduler
	timer       *scheduler.TimerScheduler
	cancelTick  scheduler.CancelFunc
	eventStream *eventstream.EventStream
	metrics     *monitor.Metrics
	stash       *Stash
	lastPhase   sched.Phase

	// frames seen while an exchange is in flight, applied in arrival order
	pendingFrames []unsolicitedFrame

	logger *zap.Logger
}

type gatewayTick struct {
}

type unsolicitedFrame struct {
	frame opentherm.Frame
	at    time.Time
}

type tickDone struct {
	result sched.TickResult
}

type writeDone struct {
	response domain.WriteEntityResponse
	replyTo  *actor.PID
}

func NewGatewayActor(config *config.Config, reg *registry.Registry, store *state.Store, busProvider BusProvider,
	eventStream *eventstream.EventStream, metrics *monitor.Metrics, logger *zap.Logger) *GatewayActor {
	act := &GatewayActor{
		config:      config,
		registry:    reg,
		store:       store,
		busProvider: busProvider,
		eventStream: eventStream,
		metrics:     metrics,
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_GATEWAY, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(GWStartingState{
		actor: act,
	})
	return act
}

func (state *GatewayActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// publish forwards scheduler updates to the event stream.
func (state *GatewayActor) publish(u sched.Update) {
	if state.eventStream == nil {
		return
	}
	if event := events.UpdateToEvent(u.Entity, u.Value, u.At); event != nil {
		state.eventStream.Publish(event)
	}
}

func (state *GatewayActor) tickInterval() time.Duration {
	return state.config.Scheduler.TickInterval()
}

func (state *GatewayActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	if dropped := state.stash.Drop(); dropped > 0 {
		state.logger.Warn("gateway: dropped stashed messages", zap.Int("count", dropped))
	}
	if state.bus != nil {
		state.logger.Debug("gateway: close bus")
		if err := state.bus.Close(); err != nil {
			state.logger.Warn("gateway: close bus", zap.Error(err))
		}
		state.bus = nil
	}
}

// Starting state

type GWStartingState struct {
	ActorState
	actor *GatewayActor
}

func (state GWStartingState) Name() string {
	return "starting"
}

func (state GWStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("gateway@starting started")

		bus, err := state.actor.busProvider()
		if err != nil {
			state.actor.logger.Error("gateway@starting could not create bus", zap.Error(err))
			panic(err)
		}
		if err := bus.Open(); err != nil {
			state.actor.logger.Error("gateway@starting could not open bus", zap.Error(err))
			panic(err)
		}
		state.actor.bus = bus

		root := ctx.ActorSystem().Root
		self := ctx.Self()
		bus.OnUnsolicitedFrame(func(f opentherm.Frame) {
			root.Send(self, unsolicitedFrame{frame: f, at: time.Now()})
		})

		state.actor.scheduler = sched.New(state.actor.registry, state.actor.store, bus, sched.PublisherFunc(state.actor.publish), sched.Config{
			MaxInitRetries:    state.actor.config.Scheduler.MaxInitRetries,
			MinRequestSpacing: state.actor.config.Scheduler.MinRequestSpacing(),
		}, state.actor.logger, state.actor.metrics)
		state.actor.lastPhase = state.actor.scheduler.Phase()
		state.actor.timer = scheduler.NewTimerScheduler(ctx)

		state.actor.Become(GWIdleState{
			actor: state.actor,
		})
		ctx.Send(self, gatewayTick{})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.stop()
	case *actor.Stopping:
		state.actor.stop()
	default:
		state.actor.logger.Debug("gateway@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state: no bus exchange in flight

type GWIdleState struct {
	ActorState
	actor *GatewayActor
}

func (state GWIdleState) Name() string {
	return "idle"
}

func (state GWIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("gateway@idle: ActorHealthRequest")
		state.actor.respondHealth(ctx)
	case gatewayTick:
		state.actor.cancelTick = nil
		state.actor.startTick(ctx)
	case unsolicitedFrame:
		state.actor.logger.Debug("gateway@idle: unsolicitedFrame", zap.Stringer("frame", msg.frame))
		state.actor.scheduler.Observe(msg.frame, msg.at)
		state.actor.checkPhase()
	case domain.WriteEntityRequest:
		state.actor.logger.Debug("gateway@idle: WriteEntityRequest", zap.String("entity", msg.EntityId), zap.Stringer("value", msg.Value))
		state.actor.startWrite(ctx, msg, ForRequest(msg).ReplyTo(ctx))
	case domain.RepublishStateRequest:
		snapshot := events.SnapshotEvents(state.actor.registry, state.actor.store)
		state.actor.logger.Debug("gateway@idle: RepublishStateRequest", zap.Int("entities", len(snapshot)))
		if state.actor.eventStream != nil {
			for _, event := range snapshot {
				state.actor.eventStream.Publish(event)
			}
		}
	case *actor.Restarting:
		state.actor.stop()
	case *actor.Stopping:
		state.actor.stop()
	default:
		state.actor.logger.Debug("gateway@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Waiting bus state: a tick or a write is running in the background

type GWWaitingBusState struct {
	ActorState
	actor *GatewayActor
}

func (state GWWaitingBusState) Name() string {
	return "waitingBus"
}

func (state GWWaitingBusState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("gateway@waitingBus: ActorHealthRequest")
		state.actor.respondHealth(ctx)
	case unsolicitedFrame:
		state.actor.pendingFrames = append(state.actor.pendingFrames, msg)
	case tickDone:
		state.actor.logTick(msg.result)
		state.actor.flushFrames()
		state.actor.checkPhase()
		state.actor.cancelTick = state.actor.timer.RequestOnce(state.actor.tickInterval(), ctx.Self(), gatewayTick{})
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case writeDone:
		if msg.response.HasResponseError() {
			state.actor.logger.Warn("gateway@waitingBus: write failed", zap.String("entity", msg.response.EntityId), zap.Error(msg.response.GetResponseError()))
		} else {
			state.actor.logger.Info("gateway@waitingBus: write acknowledged", zap.String("entity", msg.response.EntityId), zap.Stringer("value", msg.response.Value))
		}
		Reply(ctx, msg.replyTo, msg.response)
		state.actor.flushFrames()
		state.actor.checkPhase()
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.stop()
	case *actor.Stopping:
		state.actor.stop()
	default:
		state.actor.logger.Debug("gateway@waitingBus: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state *GatewayActor) startTick(ctx actor.Context) {
	s := state.scheduler
	NewBackgroundTaskCtx(ctx, func(c context.Context) (*tickDone, error) {
		return &tickDone{result: s.Tick(c, time.Now())}, nil
	}).Recover(func(err error) tickDone {
		return tickDone{result: sched.TickResult{Phase: s.Phase(), Err: err}}
	}).WithTimeout(2*state.config.Bus.Timeout() + time.Second).PipeTo(ctx.Self())
	state.BecomeStacked(GWWaitingBusState{
		actor: state,
	})
}

// A write may read two bound sources before the write itself.
func (state *GatewayActor) startWrite(ctx actor.Context, req domain.WriteEntityRequest, replyTo *actor.PID) {
	s := state.scheduler
	failed := func(err error) writeDone {
		return writeDone{
			response: domain.WriteEntityResponse{
				ActorResponseMixIn: domain.Failed(err),
				EntityId:           req.EntityId,
			},
			replyTo: replyTo,
		}
	}
	NewBackgroundTaskCtx(ctx, func(c context.Context) (*writeDone, error) {
		value, err := s.RequestWrite(c, req.EntityId, req.Value, time.Now())
		if err != nil {
			done := failed(err)
			return &done, nil
		}
		return &writeDone{
			response: domain.WriteEntityResponse{
				EntityId: req.EntityId,
				Value:    value,
			},
			replyTo: replyTo,
		}, nil
	}).Recover(failed).WithTimeout(4*state.config.Bus.Timeout() + time.Second).PipeTo(ctx.Self())
	state.BecomeStacked(GWWaitingBusState{
		actor: state,
	})
}

func (state *GatewayActor) respondHealth(ctx actor.Context) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_GATEWAY,
		Healthy: state.bus != nil,
		State:   fmt.Sprintf("%s/%s", state.StateName(), state.lastPhase),
	})
}

func (state *GatewayActor) logTick(result sched.TickResult) {
	switch {
	case result.Idle:
	case result.Err != nil:
		state.logger.Warn("gateway@waitingBus: tick failed",
			zap.Stringer("phase", result.Phase), zap.Stringer("message", result.DataID), zap.Error(result.Err))
	default:
		state.logger.Debug("gateway@waitingBus: tick",
			zap.Stringer("phase", result.Phase), zap.Stringer("message", result.DataID))
	}
}

func (state *GatewayActor) flushFrames() {
	for _, f := range state.pendingFrames {
		state.scheduler.Observe(f.frame, f.at)
	}
	state.pendingFrames = nil
}

func (state *GatewayActor) checkPhase() {
	phase := state.scheduler.Phase()
	if phase == state.lastPhase {
		return
	}
	state.lastPhase = phase
	unavailable := state.scheduler.Unavailable()
	names := make([]string, 0, len(unavailable))
	for _, id := range unavailable {
		names = append(names, id.String())
	}
	state.logger.Info("gateway: scheduler phase changed", zap.Stringer("phase", phase), zap.Strings("unavailable", names))
}
