package display

import (
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
)

// LowBatteryPercent is the level below which a stopped lane shows BATT.
const LowBatteryPercent = 20.0

// ReadyToRace reports whether the lane is ready: green, or blue with the
// toggle switched on.
func ReadyToRace(led string, toggle bool) bool {
	return led == constants.LEDGreen || (toggle && led == constants.LEDBlue)
}

// NormalizePinny keeps the first four characters of a car number and pads it with zeros.
func NormalizePinny(pinny string) string {
	return utils.ZeroPad(pinny, constants.PinnyWidth)
}

// Render picks what the lane display shows for the current lane state.
func Render(led, pinny string, ready bool, batteryPercent float64) Frame {
	switch {
	case led == constants.LEDBlue && !ready:
		return Frame{Text: "flip", Brightness: 4}
	case led == constants.LEDRed && batteryPercent < LowBatteryPercent:
		return Frame{Text: "BATT", Brightness: 3}
	case led == constants.LEDRed:
		return Frame{Text: "stop", Brightness: 1}
	default:
		return Frame{Text: NormalizePinny(pinny), Brightness: 7}
	}
}
