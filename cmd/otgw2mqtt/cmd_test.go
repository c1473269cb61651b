package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseHexFrame(t *testing.T) {

	assert := assert.New(t)

	for _, in := range []string{"C0192D40", "0xC0192D40", "BC0192D40", " c0192d40 "} {
		f, err := parseHexFrame(in)
		assert.NoError(err, in)
		assert.Equal(opentherm.Tboiler, f.DataID, in)
		assert.Equal(opentherm.ReadAck, f.Type, in)
		assert.Equal(uint16(0x2D40), f.Payload, in)
	}

	_, err := parseHexFrame("40192D40")
	assert.True(errors.Is(err, opentherm.ErrBusParity))

	_, err = parseHexFrame("123")
	assert.Error(err)
	_, err = parseHexFrame("ZZ192D40")
	assert.Error(err)
}

func TestDecodeFrame(t *testing.T) {

	assert := assert.New(t)

	reg, err := loadRegistry("", zap.NewNop())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, decodeFrame(&out, reg, "C0192D40"))
	assert.Contains(out.String(), "sensor.t_boiler = 45.25 °C")
}

func TestPrintPlan(t *testing.T) {

	assert := assert.New(t)

	reg, err := loadRegistry("", zap.NewNop())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printPlan(&out, reg))
	assert.Contains(out.String(), "sensor.t_boiler")
	assert.Contains(out.String(), "init:")
	assert.Contains(out.String(), "poll:")
	assert.Contains(out.String(), "Tboiler(25) every 1m0s")
}

func TestLoadRegistryLogsSchemaWarnings(t *testing.T) {

	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sensors:
  - key: t_boiler
    message: Tboiler
    message_data: f88
  - key: t_boiler
    message: Tret
    message_data: f88
`), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	reg, err := loadRegistry(path, zap.New(core))
	require.NoError(t, err)
	assert.Len(reg.Entities(), 1)

	entries := logs.FilterMessage("schema warning").All()
	if assert.Len(entries, 1) {
		assert.Equal(path, entries[0].ContextMap()["schema"])
	}
}
