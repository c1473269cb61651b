package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sensor(key string, msg opentherm.DataID, field opentherm.Encoding, initialize bool, poll time.Duration) schema.Entity {
	return schema.Entity{Key: key, Kind: schema.KindSensor, Message: msg, Field: field, Init: initialize, PollInterval: poll}
}

func TestBuildBuiltin(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	entities, _, err := schema.Builtin()
	require.NoError(err)
	reg, err := Build(entities)
	require.NoError(err)

	status := reg.ForMessage(opentherm.Status)
	assert.Len(status, 12, "5 switches and 7 binary sensors alias Status")
	assert.Equal("fault_indication", status[0].Key, "schema order")

	intervals := reg.PollIntervals()
	assert.Equal(60*time.Second, intervals[opentherm.Tboiler])
	assert.Equal(60*time.Second, intervals[opentherm.ASFflags], "smallest interval of aliased entities")
	_, polled := intervals[opentherm.Status]
	assert.False(polled)

	initIDs := reg.InitMessages()
	assert.Contains(initIDs, opentherm.MaxTSet, "bound source of t_set")
	assert.Contains(initIDs, opentherm.TdhwSetUBTdhwSetLB)
	assert.Contains(initIDs, opentherm.Date)
	assert.Contains(initIDs, opentherm.Year)
	assert.NotContains(initIDs, opentherm.TSet)

	seen := map[opentherm.DataID]bool{}
	for _, id := range initIDs {
		assert.False(seen[id], "distinct %s", id)
		seen[id] = true
	}

	targets := reg.BoundTargets(opentherm.TdhwSetUBTdhwSetLB)
	if assert.Len(targets, 2) {
		assert.Equal("t_dhw_set", targets[0].Entity.Key)
		assert.False(targets[0].Max)
		assert.True(targets[1].Max)
	}

	assert.Len(reg.DateEntities(), 1)
	assert.True(reg.Known(opentherm.Year))
	assert.False(reg.Known(opentherm.Tstorage))
}

func TestInitOrder(t *testing.T) {

	assert := assert.New(t)

	reg, err := Build([]schema.Entity{
		sensor("a", opentherm.Tret, opentherm.Fixed88(), true, 0),
		sensor("b", opentherm.Tboiler, opentherm.Fixed88(), true, 0),
		sensor("c", opentherm.Tret, opentherm.Fixed88(), true, 0),
		sensor("d", opentherm.Tdhw, opentherm.Fixed88(), false, time.Minute),
		{
			Key: "e", Kind: schema.KindInput, Message: opentherm.TSet, Field: opentherm.Fixed88(),
			Range:   &schema.Range{Min: 0, Max: 100},
			AutoMax: &schema.BoundSource{Message: opentherm.MaxTSet, Field: opentherm.Fixed88()},
		},
	})
	assert.NoError(err)
	assert.Equal([]opentherm.DataID{opentherm.Tret, opentherm.Tboiler, opentherm.MaxTSet}, reg.InitMessages())
	assert.Equal(0, reg.Rank(opentherm.Tret))
	assert.Equal(1, reg.Rank(opentherm.Tboiler))
}

func TestBuildValidation(t *testing.T) {

	assert := assert.New(t)

	bad := map[string]schema.Entity{
		"auto bound without range": {
			Key: "x", Kind: schema.KindInput, Message: opentherm.TSet, Field: opentherm.Fixed88(),
			AutoMax: &schema.BoundSource{Message: opentherm.MaxTSet, Field: opentherm.Fixed88()},
		},
		"min greater than max": {
			Key: "x", Kind: schema.KindInput, Message: opentherm.TSet, Field: opentherm.Fixed88(),
			Range: &schema.Range{Min: 10, Max: 5},
		},
		"bound field not numeric": {
			Key: "x", Kind: schema.KindInput, Message: opentherm.TSet, Field: opentherm.Fixed88(),
			Range:   &schema.Range{Min: 0, Max: 100},
			AutoMin: &schema.BoundSource{Message: opentherm.Status, Field: opentherm.Flag8(opentherm.LowByte, 0)},
		},
		"bad bit": {
			Key: "x", Kind: schema.KindBinarySensor, Message: opentherm.Status, Field: opentherm.Flag8(opentherm.LowByte, 8),
		},
		"writable date": {
			Key: "x", Kind: schema.KindInput, Message: opentherm.DayTime, Field: opentherm.Encoding{Kind: opentherm.KindDate},
		},
		"unknown kind": {
			Key: "x", Kind: "light", Message: opentherm.Tr, Field: opentherm.Fixed88(),
		},
	}
	for name, e := range bad {
		_, err := Build([]schema.Entity{e})
		var schemaErr *schema.SchemaError
		assert.True(errors.As(err, &schemaErr), name)
	}

	_, err := Build([]schema.Entity{
		sensor("a", opentherm.Tret, opentherm.Fixed88(), true, 0),
		sensor("a", opentherm.Tret, opentherm.Fixed88(), true, 0),
	})
	assert.Error(err, "duplicate ids")
}
