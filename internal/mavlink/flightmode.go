package mavlink

import (
	"fmt"
	"strings"
)

// flightModes is the core's simplified custom_mode table. It is
// intentionally smaller than a full ArduCopter/ArduPlane mode table:
// this core surfaces one unified name per numeric mode rather than
// branching on autopilot/vehicle type.
var flightModes = map[uint32]string{
	0:  "STABILIZE",
	1:  "ACRO",
	2:  "ALT_HOLD",
	3:  "AUTO",
	4:  "GUIDED",
	5:  "LOITER",
	6:  "RTL",
	7:  "CIRCLE",
	9:  "LAND",
	16: "POSHOLD",
	17: "BRAKE",
}

// FlightModeName maps a HEARTBEAT custom_mode to its name. Unmapped
// values surface as MODE_<n> rather than an error.
func FlightModeName(customMode uint32) string {
	if name, ok := flightModes[customMode]; ok {
		return name
	}
	return fmt.Sprintf("MODE_%d", customMode)
}

// ModeNumberByName reverse-looks-up a custom_mode number from a
// case-insensitive name match against the table (§4.1). ok is false
// for names outside the table.
func ModeNumberByName(name string) (uint32, bool) {
	upper := strings.ToUpper(name)
	for num, modeName := range flightModes {
		if modeName == upper {
			return num, true
		}
	}
	return 0, false
}
