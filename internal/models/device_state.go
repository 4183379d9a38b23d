package models

// ToggleState is published by a finish timer whenever its toggle changes.
type ToggleState struct {
	Toggle    bool   `json:"toggle"`
	Time      int64  `json:"time,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	HWID      string `json:"hwid,omitempty"`
	DIP       string `json:"dip,omitempty"`
	Lane      int    `json:"lane,omitempty"`
}

// EventTime returns the device-side time of the event, or fallback when absent.
func (s ToggleState) EventTime(fallback int64) int64 {
	switch {
	case s.Time != 0:
		return s.Time
	case s.Timestamp != 0:
		return s.Timestamp
	default:
		return fallback
	}
}

// StartSignal is published retained by the start gate.
type StartSignal struct {
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}
