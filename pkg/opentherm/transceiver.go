package opentherm

import "context"

// Transceiver exchanges frames with an OpenTherm adapter. SendRequest blocks
// until the slave answers, ctx expires or the adapter reports a bus error
// (ErrBusTimeout, ErrBusParity). Frames seen on the bus that do not answer a
// pending request are passed to the unsolicited handler in arrival order.
type Transceiver interface {
	Open() error
	Close() error
	SendRequest(ctx context.Context, id DataID, t MessageType, payload uint16) (Frame, error)
	OnUnsolicitedFrame(handler func(Frame))
}
