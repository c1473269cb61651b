package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"go.uber.org/zap"
)

// Line protocol spoken by OpenTherm gateway firmwares:
//
//	host -> adapter  R%08X            request frame
//	adapter -> host  B%08X            boiler frame
//	adapter -> host  T%08X            thermostat frame
//	adapter -> host  E%02X:TIMEOUT    the pending request got no answer
//	adapter -> host  E%02X:PARITY     the answer failed the parity check
const (
	LINE_REQUEST    = 'R'
	LINE_BOILER     = 'B'
	LINE_THERMOSTAT = 'T'
	LINE_ERROR      = 'E'
)

var ErrNotOpen = errors.New("bus: not open")

// Dialer opens the byte stream the line protocol runs over.
type Dialer func() (io.ReadWriteCloser, error)

type lineResult struct {
	frame opentherm.Frame
	err   error
}

// LineTransceiver exchanges frames with a gateway speaking the line protocol.
type LineTransceiver struct {
	name    string
	dial    Dialer
	timeout time.Duration
	logger  *zap.Logger

	// serialises SendRequest, one frame on the wire at a time
	sendMu sync.Mutex

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	pending *pendingRequest
	handler func(opentherm.Frame)
	done    chan struct{}
}

type pendingRequest struct {
	id     opentherm.DataID
	result chan lineResult
}

func NewLineTransceiver(name string, dial Dialer, timeout time.Duration, logger *zap.Logger) *LineTransceiver {
	return &LineTransceiver{
		name:    name,
		dial:    dial,
		timeout: timeout,
		logger:  logger.With(zap.String("bus", name)),
	}
}

func (l *LineTransceiver) Open() error {
	conn, err := l.dial()
	if err != nil {
		return fmt.Errorf("%s: %w", l.name, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go l.readLoop(conn, done)
	return nil
}

func (l *LineTransceiver) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (l *LineTransceiver) OnUnsolicitedFrame(handler func(opentherm.Frame)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
}

func (l *LineTransceiver) SendRequest(ctx context.Context, id opentherm.DataID, t opentherm.MessageType, payload uint16) (opentherm.Frame, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	return l.exchange(ctx, opentherm.NewRequest(id, t, payload))
}

func (l *LineTransceiver) exchange(ctx context.Context, req opentherm.Frame) (opentherm.Frame, error) {
	pending := &pendingRequest{
		id:     req.DataID,
		result: make(chan lineResult, 1),
	}

	l.mu.Lock()
	conn, done := l.conn, l.done
	if conn == nil {
		l.mu.Unlock()
		return opentherm.Frame{}, ErrNotOpen
	}
	l.pending = pending
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.pending == pending {
			l.pending = nil
		}
		l.mu.Unlock()
	}()

	line := fmt.Sprintf("%c%08X\r\n", LINE_REQUEST, req.Pack())
	l.logger.Debug("bus: send", zap.String("line", strings.TrimSpace(line)), zap.Stringer("frame", req))
	if _, err := io.WriteString(conn, line); err != nil {
		return opentherm.Frame{}, fmt.Errorf("%s: write: %w", l.name, err)
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case res := <-pending.result:
		return res.frame, res.err
	case <-timer.C:
		return opentherm.Frame{}, opentherm.ErrBusTimeout
	case <-ctx.Done():
		return opentherm.Frame{}, ctx.Err()
	case <-done:
		return opentherm.Frame{}, fmt.Errorf("%s: connection closed", l.name)
	}
}

func (l *LineTransceiver) readLoop(conn io.Reader, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		l.handleLine(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warn("bus: read loop ended", zap.Error(err))
	} else {
		l.logger.Info("bus: connection closed by peer")
	}
}

func (l *LineTransceiver) handleLine(line string) {
	if len(line) < 2 {
		return
	}
	switch line[0] {
	case LINE_BOILER:
		frame, err := parseFrameLine(line)
		if err != nil {
			if errors.Is(err, opentherm.ErrBusParity) {
				l.resolve(nil, lineResult{err: opentherm.ErrBusParity})
				return
			}
			l.logger.Debug("bus: ignored line", zap.String("line", line), zap.Error(err))
			return
		}
		if !l.resolve(&frame, lineResult{frame: frame}) {
			l.unsolicited(frame)
		}
	case LINE_THERMOSTAT:
		frame, err := parseFrameLine(line)
		if err != nil {
			l.logger.Debug("bus: ignored line", zap.String("line", line), zap.Error(err))
			return
		}
		l.unsolicited(frame)
	case LINE_ERROR:
		switch {
		case strings.HasSuffix(line, ":TIMEOUT"):
			l.resolve(nil, lineResult{err: opentherm.ErrBusTimeout})
		case strings.HasSuffix(line, ":PARITY"):
			l.resolve(nil, lineResult{err: opentherm.ErrBusParity})
		default:
			l.logger.Warn("bus: adapter error", zap.String("line", line))
		}
	default:
		l.logger.Debug("bus: ignored line", zap.String("line", line))
	}
}

// resolve completes the pending request. A boiler frame only answers the
// pending request when the data ids match, anything else belongs to an
// exchange started by the thermostat.
func (l *LineTransceiver) resolve(frame *opentherm.Frame, res lineResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return false
	}
	if frame != nil && frame.DataID != l.pending.id {
		return false
	}
	select {
	case l.pending.result <- res:
	default:
	}
	l.pending = nil
	return true
}

func (l *LineTransceiver) unsolicited(frame opentherm.Frame) {
	l.mu.Lock()
	handler := l.handler
	l.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}

func parseFrameLine(line string) (opentherm.Frame, error) {
	if len(line) != 9 {
		return opentherm.Frame{}, fmt.Errorf("malformed frame line %q", line)
	}
	raw, err := strconv.ParseUint(line[1:], 16, 32)
	if err != nil {
		return opentherm.Frame{}, fmt.Errorf("malformed frame line %q: %w", line, err)
	}
	return opentherm.ParseFrame(uint32(raw))
}

var _ opentherm.Transceiver = (*LineTransceiver)(nil)
