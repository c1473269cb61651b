package scheduler

import (
	"fmt"

	"github.com/berfenger/otgw2mqtt/pkg/opentherm"
)

// dateAssembler combines DayTime, Date and Year into one text value.
type dateAssembler struct {
	hour, minute int
	day, month   int
	year         int
	hasTime      bool
	hasDate      bool
	hasYear      bool
}

func (d *dateAssembler) update(id opentherm.DataID, payload uint16) {
	switch id {
	case opentherm.DayTime:
		d.hour = int(payload>>8) & 0x1F
		d.minute = int(payload & 0xFF)
		d.hasTime = true
	case opentherm.Date:
		d.month = int(payload >> 8)
		d.day = int(payload & 0xFF)
		d.hasDate = true
	case opentherm.Year:
		d.year = int(payload)
		d.hasYear = true
	}
}

// text is "HH:MM DD/MM/YYYY" once all three parts are known.
func (d *dateAssembler) text() (string, bool) {
	if !d.hasTime || !d.hasDate || !d.hasYear {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d %02d/%02d/%04d", d.hour, d.minute, d.day, d.month, d.year), true
}
