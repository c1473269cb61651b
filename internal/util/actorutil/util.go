package actorutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/internal/mqtt"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel, zap.PanicLevel, zap.FatalLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
			NoColor:    true,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToWriteRequest maps a command topic message to an entity
// write. Switch payloads are on/off, number payloads are decimal.
func ParsedMQTTCommandToWriteRequest(cmd mqtt.ParsedMQTTCommand) (domain.WriteEntityRequest, error) {
	switch cmd.Command {
	case mqtt.COMMAND_SWITCH:
		var on bool
		switch strings.ToLower(strings.TrimSpace(cmd.Payload)) {
		case mqtt.MQTT_PAYLOAD_ON:
			on = true
		case mqtt.MQTT_PAYLOAD_OFF:
			on = false
		default:
			return domain.WriteEntityRequest{}, fmt.Errorf("switch %s: invalid payload %q", cmd.DeviceId, cmd.Payload)
		}
		return domain.WriteEntityRequest{
			EntityId: string(schema.KindSwitch) + "." + cmd.DeviceId,
			Value:    opentherm.Bool(on),
		}, nil
	case mqtt.COMMAND_NUMBER:
		value, err := strconv.ParseFloat(strings.TrimSpace(cmd.Payload), 64)
		if err != nil {
			return domain.WriteEntityRequest{}, fmt.Errorf("number %s: %w", cmd.DeviceId, err)
		}
		return domain.WriteEntityRequest{
			EntityId: string(schema.KindInput) + "." + cmd.DeviceId,
			Value:    opentherm.Float(value),
		}, nil
	}
	return domain.WriteEntityRequest{}, fmt.Errorf("unsupported command %q", cmd.Command)
}
