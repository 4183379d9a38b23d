package constants

// RaceState is the coordinator's view of the current heat.
type RaceState string

const (
	RaceStopped RaceState = "STOPPED"
	RaceStaging RaceState = "STAGING"
	RaceRacing  RaceState = "RACING"
)

// Lane LED colours understood by the finish timers.
const (
	LEDRed    = "red"
	LEDGreen  = "green"
	LEDBlue   = "blue"
	LEDWhite  = "white"
	LEDPurple = "purple"
	LEDYellow = "yellow"
	LEDOff    = "off"
)

// Start gate signals.
const (
	StartSignalGo   = "GO"
	StartSignalStop = "STOP"
)

// TimerMessageRunning is the timer-state message DerbyNet reports while a heat runs.
const TimerMessageRunning = "Race running"

// PinnyWidth is the number of digits on a lane display.
const PinnyWidth = 4
