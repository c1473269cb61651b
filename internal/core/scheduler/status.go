package scheduler

import (
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"
)

// Master status bits that only make sense with a non-zero setpoint.
const (
	bitCHEnable      = 0
	bitCoolingEnable = 2
	bitCH2Enable     = 4
)

var setpointGates = map[uint8]opentherm.DataID{
	bitCHEnable:      opentherm.TSet,
	bitCoolingEnable: opentherm.CoolingControl,
	bitCH2Enable:     opentherm.TsetCH2,
}

func isMasterStatusFlag(e schema.Entity) bool {
	return e.Message == opentherm.Status && e.Field.Kind == opentherm.KindFlag8 && e.Field.Byte == opentherm.HighByte
}

// masterStatus builds the Status request payload. Each master flag is on only
// if the thermostat asks for it, the matching switch allows it and its
// setpoint, when known, is above zero. The low byte is always zero.
func (s *Scheduler) masterStatus() uint16 {
	raw, rawKnown := s.store.Raw(opentherm.Status)
	var flags uint8
	for bit := uint8(0); bit < 8; bit++ {
		if s.masterFlag(bit, uint8(raw>>8), rawKnown) && s.setpointAllows(bit) {
			flags |= 1 << bit
		}
	}
	return uint16(flags) << 8
}

func (s *Scheduler) masterFlag(bit, rawHigh uint8, rawKnown bool) bool {
	wanted, hasDesired := s.desired[bit]
	if !hasDesired && !s.thermostatSeen {
		return rawKnown && rawHigh&(1<<bit) != 0
	}
	on := true
	if hasDesired {
		on = wanted
	}
	if s.thermostatSeen {
		on = on && s.thermostat&(1<<bit) != 0
	}
	return on
}

func (s *Scheduler) setpointAllows(bit uint8) bool {
	id, gated := setpointGates[bit]
	if !gated {
		return true
	}
	raw, ok := s.store.Raw(id)
	if !ok {
		return true
	}
	n, _ := opentherm.Decode(opentherm.Fixed88(), raw).Number()
	return n > 0
}
