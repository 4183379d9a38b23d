package derbynet

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// LaneAssignment is a racer scheduled in a lane of the current heat.
type LaneAssignment struct {
	Lane      int    `json:"lane"`
	Name      string `json:"name"`
	CarNumber string `json:"carnumber"`
}

// RaceStatus is the part of poll.coordinator the timer cares about.
type RaceStatus struct {
	Active       bool             `json:"now_racing"`
	RoundID      int              `json:"roundid"`
	Heat         int              `json:"heat"`
	Class        string           `json:"class"`
	LaneCount    int              `json:"lane_count"`
	Lanes        []LaneAssignment `json:"racers"`
	TimerState   string           `json:"timer_state"`
	TimerMessage string           `json:"timer_message"`
}

// LaneNumbers returns the lanes that have a racer, in order.
func (s *RaceStatus) LaneNumbers() []int {
	lanes := make([]int, 0, len(s.Lanes))
	for _, l := range s.Lanes {
		if l.Lane > 0 {
			lanes = append(lanes, l.Lane)
		}
	}
	sort.Ints(lanes)
	return lanes
}

var (
	nowRacingPath    = jp.C("current-heat").C("now_racing")
	roundIDPath      = jp.C("current-heat").C("roundid")
	heatPath         = jp.C("current-heat").C("heat")
	classPath        = jp.C("current-heat").C("class")
	laneCountPath    = jp.C("race_info").C("lane_count")
	racersPath       = jp.C("racers")
	timerStatePath   = jp.C("timer-state").C("state")
	timerMessagePath = jp.C("timer-state").C("message")
)

// ParseRaceStatus decodes a poll.coordinator response. DerbyNet versions
// disagree on whether numbers and flags are strings, so every field is read
// loosely.
func ParseRaceStatus(body []byte) (*RaceStatus, error) {
	doc, err := oj.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse race status: %w", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("failed to parse race status: unexpected %T document", doc)
	}

	status := &RaceStatus{
		Active:       asBool(nowRacingPath.First(doc)),
		RoundID:      asInt(roundIDPath.First(doc)),
		Heat:         asInt(heatPath.First(doc)),
		Class:        asString(classPath.First(doc)),
		LaneCount:    asInt(laneCountPath.First(doc)),
		TimerState:   asString(timerStatePath.First(doc)),
		TimerMessage: asString(timerMessagePath.First(doc)),
	}

	if racers, ok := racersPath.First(doc).([]any); ok {
		for _, r := range racers {
			racer, ok := r.(map[string]any)
			if !ok {
				continue
			}
			status.Lanes = append(status.Lanes, LaneAssignment{
				Lane:      asInt(racer["lane"]),
				Name:      asString(racer["name"]),
				CarNumber: asString(racer["carnumber"]),
			})
		}
	}
	return status, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}
