package state_managers

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/derbynet"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

// FinishOutcome says what happened to a lane finish event.
type FinishOutcome int

const (
	FinishRecorded FinishOutcome = iota
	FinishNotRacing
	FinishUnknownLane
	FinishDuplicate
)

func (o FinishOutcome) String() string {
	switch o {
	case FinishRecorded:
		return "recorded"
	case FinishNotRacing:
		return "not_racing"
	case FinishUnknownLane:
		return "unknown_lane"
	case FinishDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// RaceUpdate is the result of applying a polled race status.
type RaceUpdate struct {
	Previous constants.RaceState
	State    constants.RaceState
	LED      string
	Aborted  bool // a running heat was deactivated before every lane finished
}

// persistedRace is the on-disk form of an in-flight heat.
type persistedRace struct {
	State     constants.RaceState `json:"state"`
	StartTime time.Time           `json:"start_time"`
	LaneTimes map[int]float64     `json:"lane_times"`
	RoundID   int                 `json:"roundid"`
	Heat      int                 `json:"heat"`
	Class     string              `json:"class"`
	Lanes     []int               `json:"lanes"`
}

// RaceStateManager owns the coordinator's race state. All methods are safe
// for concurrent use from MQTT callbacks and the poll loop.
type RaceStateManager struct {
	mu sync.Mutex

	state     constants.RaceState
	led       string
	startTime time.Time
	laneTimes map[int]float64
	timers    map[int]models.TimerHeartbeat

	roundID   int
	heat      int
	class     string
	laneCount int
	expected  []int

	configuredLanes int
	heartbeatWindow time.Duration

	stateFile  string
	fileClient file.FileOperations
	logger     zerolog.Logger
}

// NewRaceStateManager creates a stopped race. When stateFile is set, a heat
// that was running when the process stopped is restored from it.
func NewRaceStateManager(laneCount int, heartbeatWindow time.Duration, stateFile string,
	fileClient file.FileOperations, logger zerolog.Logger) *RaceStateManager {
	m := &RaceStateManager{
		state:           constants.RaceStopped,
		led:             constants.LEDRed,
		laneTimes:       make(map[int]float64),
		timers:          make(map[int]models.TimerHeartbeat),
		laneCount:       laneCount,
		expected:        lo.RangeFrom(1, laneCount),
		configuredLanes: laneCount,
		heartbeatWindow: heartbeatWindow,
		stateFile:       stateFile,
		fileClient:      fileClient,
		logger:          logger,
	}
	m.restore()
	return m
}

// ApplyStatus folds a DerbyNet poll into the race state.
func (m *RaceStateManager) ApplyStatus(status *derbynet.RaceStatus) RaceUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	update := RaceUpdate{Previous: m.state}

	m.roundID = status.RoundID
	m.heat = status.Heat
	m.class = status.Class
	m.laneCount = m.configuredLanes
	if status.LaneCount > 0 {
		m.laneCount = status.LaneCount
	}
	if lanes := status.LaneNumbers(); len(lanes) > 0 {
		m.expected = lanes
	} else {
		m.expected = lo.RangeFrom(1, m.laneCount)
	}

	switch {
	case !status.Active:
		if m.state == constants.RaceRacing {
			update.Aborted = true
			m.logger.Warn().Int("roundid", m.roundID).Int("heat", m.heat).
				Interface("lane_times", m.laneTimes).Msg("Heat deactivated while racing, discarding lane times")
		}
		m.reset()
		m.led = constants.LEDRed
	case m.state == constants.RaceStopped, m.state == constants.RaceStaging:
		m.state = constants.RaceStaging
		m.led = constants.LEDBlue
		if status.TimerMessage == constants.TimerMessageRunning {
			m.led = constants.LEDGreen
		}
	case m.state == constants.RaceRacing:
		m.led = constants.LEDGreen
	}

	if update.Previous != m.state {
		m.logger.Info().Str("from", string(update.Previous)).Str("to", string(m.state)).
			Int("roundid", m.roundID).Int("heat", m.heat).Msg("Race state changed")
		m.persist()
	}

	update.State = m.state
	update.LED = m.led
	return update
}

// Start begins timing a heat. It returns false when a heat is already running.
func (m *RaceStateManager) Start(at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == constants.RaceRacing {
		return false
	}

	m.state = constants.RaceRacing
	m.led = constants.LEDGreen
	m.startTime = at
	m.laneTimes = make(map[int]float64)
	m.persist()

	m.logger.Info().Int("roundid", m.roundID).Int("heat", m.heat).Ints("lanes", m.expected).Msg("Race started")
	return true
}

// Finish records a lane crossing the line. When the last expected lane
// finishes the heat result is returned and the race stops.
func (m *RaceStateManager) Finish(lane int, at time.Time) (*models.RaceResult, FinishOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != constants.RaceRacing {
		return nil, FinishNotRacing
	}
	if !lo.Contains(m.expected, lane) {
		return nil, FinishUnknownLane
	}
	if _, done := m.laneTimes[lane]; done {
		return nil, FinishDuplicate
	}

	elapsed := math.Round(at.Sub(m.startTime).Seconds()*1000) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	m.laneTimes[lane] = elapsed
	m.logger.Info().Int("lane", lane).Float64("elapsed", elapsed).Msg("Lane finished")

	if len(m.laneTimes) < len(m.expected) {
		m.persist()
		return nil, FinishRecorded
	}

	result := &models.RaceResult{
		RoundID:   m.roundID,
		Heat:      m.heat,
		LaneTimes: m.laneTimes,
		StartTime: m.startTime,
	}
	m.reset()
	m.led = constants.LEDRed
	m.persist()
	return result, FinishRecorded
}

// IsStale reports whether a device event stamped eventUnix (seconds) happened
// before the running heat started. Zero means the device sent no time.
func (m *RaceStateManager) IsStale(eventUnix int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state == constants.RaceRacing && eventUnix > 0 && eventUnix < m.startTime.Unix()
}

// RecordHeartbeat notes that a lane's timer is alive and reports whether
// every known timer has been heard from within the heartbeat window.
func (m *RaceStateManager) RecordHeartbeat(lane int, ready bool, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timers[lane] = models.TimerHeartbeat{LastSeen: at, Ready: ready}
	return lo.EveryBy(lo.Values(m.timers), func(hb models.TimerHeartbeat) bool {
		return at.Sub(hb.LastSeen) <= m.heartbeatWindow
	})
}

// AllReady reports whether every expected lane has a fresh, ready timer.
func (m *RaceStateManager) AllReady(at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.expected) > 0 && lo.EveryBy(m.expected, func(lane int) bool {
		hb, ok := m.timers[lane]
		return ok && hb.Ready && at.Sub(hb.LastSeen) <= m.heartbeatWindow
	})
}

// State returns the current race state.
func (m *RaceStateManager) State() constants.RaceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LED returns the colour every lane should currently show.
func (m *RaceStateManager) LED() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.led
}

// Snapshot returns a copy of the race state for publishing.
func (m *RaceStateManager) Snapshot() models.RaceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := models.RaceSnapshot{
		State:     m.state,
		RoundID:   m.roundID,
		Heat:      m.heat,
		Class:     m.class,
		LaneCount: m.laneCount,
		Lanes:     append([]int(nil), m.expected...),
		LaneTimes: make(map[int]float64, len(m.laneTimes)),
		Timers:    make(map[int]models.TimerHeartbeat, len(m.timers)),
		LED:       m.led,
	}
	for lane, t := range m.laneTimes {
		snap.LaneTimes[lane] = t
	}
	for lane, hb := range m.timers {
		snap.Timers[lane] = hb
	}
	if !m.startTime.IsZero() {
		start := m.startTime
		snap.StartTime = &start
	}
	return snap
}

// reset clears the heat. Callers hold mu.
func (m *RaceStateManager) reset() {
	m.state = constants.RaceStopped
	m.startTime = time.Time{}
	m.laneTimes = make(map[int]float64)
}

// persist writes the in-flight heat to the state file. Callers hold mu.
func (m *RaceStateManager) persist() {
	if m.stateFile == "" {
		return
	}
	snap := persistedRace{
		State:     m.state,
		StartTime: m.startTime,
		LaneTimes: m.laneTimes,
		RoundID:   m.roundID,
		Heat:      m.heat,
		Class:     m.class,
		Lanes:     m.expected,
	}
	if err := m.fileClient.WriteJsonFile(m.stateFile, snap); err != nil {
		m.logger.Error().Err(err).Str("file", m.stateFile).Msg("Failed to persist race state")
	}
}

func (m *RaceStateManager) restore() {
	if m.stateFile == "" {
		return
	}
	exists, err := m.fileClient.IsFileExists(m.stateFile)
	if err != nil || !exists {
		return
	}

	var snap persistedRace
	if err := m.fileClient.ReadJsonFile(m.stateFile, &snap); err != nil {
		m.logger.Warn().Err(err).Str("file", m.stateFile).Msg("Ignoring unreadable race state")
		return
	}
	if snap.State != constants.RaceRacing {
		return
	}

	m.state = constants.RaceRacing
	m.led = constants.LEDGreen
	m.startTime = snap.StartTime
	m.roundID = snap.RoundID
	m.heat = snap.Heat
	m.class = snap.Class
	if snap.LaneTimes != nil {
		m.laneTimes = snap.LaneTimes
	}
	if len(snap.Lanes) > 0 {
		m.expected = snap.Lanes
		sort.Ints(m.expected)
	}
	m.logger.Info().Int("roundid", m.roundID).Int("heat", m.heat).
		Int("finished", len(m.laneTimes)).Msg("Restored running heat")
}
