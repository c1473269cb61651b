package actor

import (
	"testing"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/internal/util"
	"github.com/berfenger/otgw2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// healthyStub answers health checks and records discovery requests.
func healthyStub(id string, discoveries chan<- domain.PublishDiscoveryRequest) actor.ReceiveFunc {
	return func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: id, Healthy: true})
		case domain.PublishDiscoveryRequest:
			if discoveries != nil {
				discoveries <- msg
			}
			ctx.Respond(domain.PublishDiscoveryResponse{})
		}
	}
}

func nextDiscovery(t *testing.T, discoveries <-chan domain.PublishDiscoveryRequest) domain.PublishDiscoveryRequest {
	t.Helper()
	select {
	case req := <-discoveries:
		return req
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no discovery published")
		return domain.PublishDiscoveryRequest{}
	}
}

func inputNumber(req domain.PublishDiscoveryRequest, key string) (domain.GenericInputNumber, bool) {
	for _, n := range req.InputNumbers {
		if n.Id == key {
			return n, true
		}
	}
	return domain.GenericInputNumber{}, false
}

func TestHADiscoveryRepublishesLearnedBounds(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	root := as.Root

	entities, _, err := schema.Builtin()
	require.NoError(t, err)
	reg, err := registry.Build(entities)
	require.NoError(t, err)
	store := storeFor(reg)

	discoveries := make(chan domain.PublishDiscoveryRequest, 4)
	gatewayStub := root.Spawn(actor.PropsFromFunc(healthyStub(domain.ACTOR_ID_GATEWAY, nil)))
	mqttStub := root.Spawn(actor.PropsFromFunc(healthyStub(domain.ACTOR_ID_MQTT, discoveries)))

	root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		act := NewHADiscoveryActor(&cfg, reg, store, gatewayStub, mqttStub, logger)
		act.boundsInterval = 20 * time.Millisecond
		return act
	}))

	first := nextDiscovery(t, discoveries)
	if n, ok := inputNumber(first, "t_set"); assert.True(ok) {
		assert.Equal(0.0, n.Min)
		assert.Equal(100.0, n.Max)
	}

	// unchanged ranges are not republished
	time.Sleep(100 * time.Millisecond)
	assert.Empty(discoveries)

	store.SetLearned("input.t_set", true, 75)

	second := nextDiscovery(t, discoveries)
	if n, ok := inputNumber(second, "t_set"); assert.True(ok) {
		assert.Equal(0.0, n.Min)
		assert.Equal(75.0, n.Max)
	}
	if n, ok := inputNumber(second, "t_set_ch2"); assert.True(ok) {
		assert.Equal(100.0, n.Max, "bounds are learned per entity")
	}
}
