package bus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (g *fakeGateway) expectRequest(t *testing.T) opentherm.Frame {
	line, err := g.reader.ReadString('\n')
	require.NoError(t, err)
	line = strings.TrimSpace(line)
	require.True(t, strings.HasPrefix(line, "R"), line)
	frame, err := parseFrameLine(line)
	require.NoError(t, err)
	return frame
}

func (g *fakeGateway) send(line string) {
	fmt.Fprintf(g.conn, "%s\r\n", line)
}

func newPipeTransceiver(t *testing.T, timeout time.Duration) (*LineTransceiver, *fakeGateway) {
	client, peer := net.Pipe()
	tr := NewLineTransceiver("pipe", func() (io.ReadWriteCloser, error) {
		return client, nil
	}, timeout, zap.NewNop())
	require.NoError(t, tr.Open())
	t.Cleanup(func() {
		tr.Close()
		peer.Close()
	})
	return tr, &fakeGateway{conn: peer, reader: bufio.NewReader(peer)}
}

func frameLine(prefix string, f opentherm.Frame) string {
	return fmt.Sprintf("%s%08X", prefix, f.Pack())
}

func TestLineTransceiverRequest(t *testing.T) {

	assert := assert.New(t)

	tr, gw := newPipeTransceiver(t, time.Second)

	go func() {
		req := gw.expectRequest(t)
		assert.Equal(opentherm.Tboiler, req.DataID)
		assert.Equal(opentherm.ReadData, req.Type)
		gw.send(frameLine("B", opentherm.Frame{DataID: opentherm.Tboiler, Type: opentherm.ReadAck, Payload: 0x2D40}))
	}()

	resp, err := tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	require.NoError(t, err)
	assert.Equal(opentherm.ReadAck, resp.Type)
	assert.Equal(uint16(0x2D40), resp.Payload)
}

func TestLineTransceiverUnsolicited(t *testing.T) {

	assert := assert.New(t)

	tr, gw := newPipeTransceiver(t, time.Second)

	var mu sync.Mutex
	var seen []opentherm.Frame
	tr.OnUnsolicitedFrame(func(f opentherm.Frame) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, f)
	})

	go func() {
		gw.expectRequest(t)
		// thermostat traffic interleaved with our exchange
		gw.send(frameLine("T", opentherm.Frame{DataID: opentherm.TSet, Type: opentherm.WriteData, Payload: 0x2800}))
		gw.send(frameLine("B", opentherm.Frame{DataID: opentherm.TSet, Type: opentherm.WriteAck, Payload: 0x2800}))
		gw.send("garbage")
		gw.send(frameLine("B", opentherm.Frame{DataID: opentherm.Tret, Type: opentherm.ReadAck, Payload: 0x2600}))
	}()

	resp, err := tr.SendRequest(context.Background(), opentherm.Tret, opentherm.ReadData, 0)
	require.NoError(t, err)
	assert.Equal(opentherm.Tret, resp.DataID)

	mu.Lock()
	defer mu.Unlock()
	if assert.Len(seen, 2) {
		assert.Equal(opentherm.WriteData, seen[0].Type)
		assert.Equal(opentherm.WriteAck, seen[1].Type)
	}
}

func TestLineTransceiverErrors(t *testing.T) {

	assert := assert.New(t)

	tr, gw := newPipeTransceiver(t, 200*time.Millisecond)

	go func() {
		gw.expectRequest(t)
		gw.send("E01:TIMEOUT")
	}()
	_, err := tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(err, opentherm.ErrBusTimeout)

	go func() {
		gw.expectRequest(t)
		gw.send("E02:PARITY")
	}()
	_, err = tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(err, opentherm.ErrBusParity)

	go func() {
		gw.expectRequest(t)
		raw := opentherm.Frame{DataID: opentherm.Tboiler, Type: opentherm.ReadAck, Payload: 0x2D40}.Pack() ^ 0x1
		gw.send(fmt.Sprintf("B%08X", raw))
	}()
	_, err = tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(err, opentherm.ErrBusParity)

	// no answer at all
	go func() {
		gw.expectRequest(t)
	}()
	start := time.Now()
	_, err = tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(err, opentherm.ErrBusTimeout)
	assert.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
}

func TestLineTransceiverNotOpen(t *testing.T) {

	tr := NewLineTransceiver("closed", func() (io.ReadWriteCloser, error) {
		return nil, fmt.Errorf("unreachable")
	}, time.Second, zap.NewNop())
	assert.Error(t, tr.Open())

	_, err := tr.SendRequest(context.Background(), opentherm.Tboiler, opentherm.ReadData, 0)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestParseFrameLine(t *testing.T) {

	assert := assert.New(t)

	f := opentherm.Frame{DataID: opentherm.Status, Type: opentherm.ReadAck, Payload: 0x030A}
	parsed, err := parseFrameLine(frameLine("B", f))
	assert.NoError(err)
	assert.Equal(f, parsed)

	_, err = parseFrameLine("B1234")
	assert.Error(err)
	_, err = parseFrameLine("BXYZXYZXY")
	assert.Error(err)
}
