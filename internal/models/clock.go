package models

// RaceTime is the wall-clock tick broadcast for scoreboards.
type RaceTime struct {
	Timestamp   int64   `json:"timestamp"`
	Datetime    string  `json:"datetime"`
	ClockHour   int     `json:"clockhr"`
	ClockMinute int     `json:"clockmin"`
	ClockSecond int     `json:"clocksecond"`
	Uptime      float64 `json:"uptime"`
}
