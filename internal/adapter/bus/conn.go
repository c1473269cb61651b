package bus

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// SerialDialer opens a serial port at 8N1.
func SerialDialer(portName string, baudRate int) Dialer {
	return func() (io.ReadWriteCloser, error) {
		mode := &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
		}
		return port, nil
	}
}

func TCPDialer(address string, timeout time.Duration) Dialer {
	return func() (io.ReadWriteCloser, error) {
		conn, err := net.DialTimeout("tcp", address, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
		}
		return conn, nil
	}
}

// WebSocketDialer connects to a gateway exposing its line protocol over a
// websocket. Every message carries one or more lines.
func WebSocketDialer(wsURL string, timeout time.Duration) Dialer {
	return func() (io.ReadWriteCloser, error) {
		u, err := url.Parse(wsURL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss":
		default:
			return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
		}

		dialer := websocket.Dialer{
			HandshakeTimeout: timeout,
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("websocket connection failed: %w", err)
		}
		return &webSocketConnection{conn: conn}, nil
	}
}

// webSocketConnection turns websocket messages into a byte stream.
type webSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
}

func (w *webSocketConnection) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}
		if data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *webSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *webSocketConnection) Close() error {
	return w.conn.Close()
}
