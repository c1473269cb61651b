package opentherm

import (
	"context"
	"fmt"
	"sync"
)

// SimulatedBoiler is an in-memory slave answering from a register map.
type SimulatedBoiler struct {
	mu        sync.Mutex
	registers map[DataID]uint16
	unknown   map[DataID]bool
	invalid   map[DataID]bool
	silent    map[DataID]bool
	requests  []Frame
	handler   func(Frame)
	open      bool
}

func NewSimulatedBoiler(registers map[DataID]uint16) *SimulatedBoiler {
	regs := make(map[DataID]uint16, len(registers))
	for k, v := range registers {
		regs[k] = v
	}
	return &SimulatedBoiler{
		registers: regs,
		unknown:   map[DataID]bool{},
		invalid:   map[DataID]bool{},
		silent:    map[DataID]bool{},
	}
}

// DemoBoiler returns a boiler with plausible values for the built-in schema.
func DemoBoiler() *SimulatedBoiler {
	return NewSimulatedBoiler(map[DataID]uint16{
		Status:                     0x000A,
		SConfigSMemberIDcode:       0x2B05,
		ASFflags:                   0x0000,
		TSet:                       0x2D00,
		TrOverride:                 0x0000,
		TdhwSet:                    0x3200,
		MaxTSet:                    0x4B00,
		TdhwSetUBTdhwSetLB:         0x3C28,
		MaxTSetUBMaxTSetLB:         0x5014,
		RelModLevel:                0x2180,
		CHPressure:                 0x0180,
		DHWFlowRate:                0x0000,
		Tboiler:                    0x2D40,
		Tdhw:                       0x2F00,
		Toutside:                   0x0C80,
		Tret:                       0x2600,
		Texhaust:                   0x0041,
		OEMDiagnosticCode:          0x0000,
		OpenThermVersionSlave:      0x0233,
		BurnerStarts:               0x1234,
		CHPumpStarts:               0x0456,
		DHWPumpValveStarts:         0x0789,
		BurnerOperationHours:       0x0ABC,
		CHPumpOperationHours:       0x0DEF,
		DHWPumpValveOperationHours: 0x0111,
		DHWBurnerOperationHours:    0x0222,
	})
}

// SetRegister changes the value returned for id.
func (s *SimulatedBoiler) SetRegister(id DataID, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registers[id] = value
}

func (s *SimulatedBoiler) Register(id DataID) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.registers[id]
	return v, ok
}

// Unknown makes the boiler answer UNKNOWN_DATA_ID for id.
func (s *SimulatedBoiler) Unknown(id DataID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unknown[id] = true
}

// Invalid makes the boiler answer DATA_INVALID for id.
func (s *SimulatedBoiler) Invalid(id DataID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid[id] = true
}

// Silent makes every request for id time out.
func (s *SimulatedBoiler) Silent(id DataID, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[id] = silent
}

// Requests returns the frames sent so far.
func (s *SimulatedBoiler) Requests() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.requests...)
}

func (s *SimulatedBoiler) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *SimulatedBoiler) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *SimulatedBoiler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *SimulatedBoiler) OnUnsolicitedFrame(handler func(Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Inject delivers a frame to the unsolicited handler as if a thermostat
// had put it on the bus.
func (s *SimulatedBoiler) Inject(f Frame) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(f)
	}
}

func (s *SimulatedBoiler) SendRequest(ctx context.Context, id DataID, t MessageType, payload uint16) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return Frame{}, fmt.Errorf("simulated boiler: not open")
	}
	s.requests = append(s.requests, NewRequest(id, t, payload))

	if s.silent[id] {
		return Frame{}, ErrBusTimeout
	}
	if s.unknown[id] {
		return Frame{DataID: id, Type: UnknownDataId, Payload: payload}, nil
	}
	if s.invalid[id] {
		return Frame{DataID: id, Type: DataInvalid, Payload: payload}, nil
	}

	switch t {
	case ReadData:
		v, ok := s.registers[id]
		if !ok {
			return Frame{DataID: id, Type: UnknownDataId, Payload: payload}, nil
		}
		if id == Status {
			// the master flags are echoed back in the high byte
			v = payload&0xFF00 | v&0x00FF
			s.registers[id] = v
		}
		return Frame{DataID: id, Type: ReadAck, Payload: v}, nil
	case WriteData:
		s.registers[id] = payload
		return Frame{DataID: id, Type: WriteAck, Payload: payload}, nil
	}
	return Frame{DataID: id, Type: DataInvalid, Payload: payload}, nil
}

var _ Transceiver = (*SimulatedBoiler)(nil)
