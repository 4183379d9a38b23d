package board

import "github.com/soapboxderby/derbynet-agent/internal/constants"

var dipLanes = map[string]int{
	"1000": 1,
	"1001": 2,
	"1010": 3,
	"1011": 4,
}

// DecodeLane maps a DIP switch code to a lane number, or 0 when the code is
// not a lane.
func DecodeLane(dip string) int {
	return dipLanes[dip]
}

// ColourBits returns which of the red, green and blue channels are lit for colour.
func ColourBits(colour string) (r, g, b bool) {
	switch colour {
	case constants.LEDRed:
		return true, false, false
	case constants.LEDGreen:
		return false, true, false
	case constants.LEDBlue:
		return false, false, true
	case constants.LEDWhite:
		return true, true, true
	case constants.LEDPurple:
		return true, false, true
	case constants.LEDYellow:
		return true, true, false
	default:
		return false, false, false
	}
}

// BatteryPercent converts a raw ADC reading to 0..100.
func BatteryPercent(raw, minRaw, maxRaw int) float64 {
	if maxRaw <= minRaw {
		return 0
	}
	pct := float64(raw-minRaw) / float64(maxRaw-minRaw) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}
