package services

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/board"
)

// RemoteDevice is what the relay knows about one finish timer.
type RemoteDevice struct {
	HWID     string    `json:"hwid"`
	Lane     int       `json:"lane"`
	Version  string    `json:"version,omitempty"`
	Outdated bool      `json:"outdated,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// LaneRelayService maps per-device finish timer topics onto per-lane topics
// using each device's DIP switch.
type LaneRelayService struct {
	qos            int
	minVersion     *semver.Version
	devices        cmap.ConcurrentMap[string, RemoteDevice]
	mqttMiddleware mqtt_middleware.MQTTMiddleware
	logger         zerolog.Logger
	now            func() time.Time

	mu      sync.Mutex
	running bool
}

// NewLaneRelayService creates a relay. minDeviceVersion may be empty to
// disable the firmware check.
func NewLaneRelayService(qos int, minDeviceVersion string,
	mqttMiddleware mqtt_middleware.MQTTMiddleware, logger zerolog.Logger) (*LaneRelayService, error) {

	s := &LaneRelayService{
		qos:            qos,
		devices:        cmap.New[RemoteDevice](),
		mqttMiddleware: mqttMiddleware,
		logger:         logger,
		now:            time.Now,
	}
	if minDeviceVersion != "" {
		v, err := semver.NewVersion(minDeviceVersion)
		if err != nil {
			return nil, errors.Join(errors.New("invalid min_device_version"), err)
		}
		s.minVersion = v
	}
	return s, nil
}

// Start subscribes to device telemetry and state.
func (s *LaneRelayService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("lane relay service is already running")
	}

	if err := s.mqttMiddleware.Subscribe(constants.DeviceTelemetryWildcard, byte(s.qos), s.HandleTelemetry); err != nil {
		s.logger.Error().Err(err).Str("topic", constants.DeviceTelemetryWildcard).Msg("Failed to subscribe to MQTT topic")
		return err
	}
	if err := s.mqttMiddleware.Subscribe(constants.DeviceStateWildcard, byte(s.qos), s.HandleState); err != nil {
		s.logger.Error().Err(err).Str("topic", constants.DeviceStateWildcard).Msg("Failed to subscribe to MQTT topic")
		_ = s.mqttMiddleware.Unsubscribe(constants.DeviceTelemetryWildcard)
		return err
	}

	s.running = true
	s.logger.Info().Msg("LaneRelayService started successfully")
	return nil
}

// Stop unsubscribes from device topics.
func (s *LaneRelayService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("lane relay service is not running")
	}
	s.running = false

	if err := s.mqttMiddleware.Unsubscribe(constants.DeviceTelemetryWildcard, constants.DeviceStateWildcard); err != nil {
		s.logger.Error().Err(err).Msg("Failed to unsubscribe from MQTT topics")
		return err
	}
	s.logger.Info().Msg("LaneRelayService stopped successfully")
	return nil
}

// Devices returns the known finish timers ordered by lane.
func (s *LaneRelayService) Devices() []RemoteDevice {
	out := make([]RemoteDevice, 0, s.devices.Count())
	for item := range s.devices.IterBuffered() {
		out = append(out, item.Val)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lane != out[j].Lane {
			return out[i].Lane < out[j].Lane
		}
		return out[i].HWID < out[j].HWID
	})
	return out
}

// HandleTelemetry relays derbynet/device/{hwid}/telemetry to the device's lane.
func (s *LaneRelayService) HandleTelemetry(_ MQTT.Client, msg MQTT.Message) {
	hwid := deviceFromTopic(msg.Topic())

	var telemetry models.DeviceTelemetry
	if err := json.Unmarshal(msg.Payload(), &telemetry); err != nil {
		s.logger.Warn().Err(err).Str("hwid", hwid).Msg("Ignoring malformed device telemetry")
		return
	}
	lane, ok := s.laneFor(hwid, telemetry.DIPCode())
	if !ok {
		return
	}

	now := s.now()
	outdated := s.isOutdated(telemetry.Version)
	s.track(RemoteDevice{HWID: hwid, Lane: lane, Version: telemetry.Version, Outdated: outdated, LastSeen: now})

	out := models.LaneTelemetry{
		Lane:       lane,
		HWID:       hwid,
		LastUpdate: now.Unix(),
		RSSI:       -100,
		Ready:      telemetry.ReadyToRace,
		Version:    telemetry.Version,
		Outdated:   outdated,
	}
	if telemetry.Time != 0 {
		out.LastUpdate = telemetry.Time
	}
	if telemetry.WifiRSSI != nil {
		out.RSSI = *telemetry.WifiRSSI
	}
	if telemetry.Uptime != nil {
		out.Uptime = *telemetry.Uptime
	}
	if telemetry.BatteryLevel != nil {
		out.BatteryLevel = *telemetry.BatteryLevel
	}

	s.publish(constants.LaneTopic(lane, constants.LeafTelemetry), out)
}

// HandleState relays derbynet/device/{hwid}/state toggle events to the device's lane.
func (s *LaneRelayService) HandleState(_ MQTT.Client, msg MQTT.Message) {
	hwid := deviceFromTopic(msg.Topic())
	if hwid == constants.StartTimerID {
		return
	}
	if msg.Retained() {
		s.logger.Debug().Str("hwid", hwid).Msg("Skipping retained device state")
		return
	}

	var state models.ToggleState
	if err := json.Unmarshal(msg.Payload(), &state); err != nil {
		s.logger.Warn().Err(err).Str("hwid", hwid).Msg("Ignoring malformed device state")
		return
	}

	// State messages carry the DIP code; fall back to the lane seen in telemetry.
	lane := board.DecodeLane(state.DIP)
	if lane == 0 {
		if dev, ok := s.devices.Get(hwid); ok {
			lane = dev.Lane
		}
	}
	if lane == 0 {
		s.logger.Warn().Str("hwid", hwid).Str("dip", state.DIP).Msg("State from a device with no lane, not relaying")
		return
	}

	s.publish(constants.LaneTopic(lane, constants.LeafState), models.LaneState{
		Time:   state.EventTime(s.now().Unix()),
		Toggle: state.Toggle,
	})
}

func (s *LaneRelayService) laneFor(hwid, dip string) (int, bool) {
	lane := board.DecodeLane(dip)
	if lane == 0 {
		s.logger.Warn().Str("hwid", hwid).Str("dip", dip).Msg("Invalid DIP switch code, not relaying")
		return 0, false
	}
	return lane, true
}

func (s *LaneRelayService) track(dev RemoteDevice) {
	prev, known := s.devices.Get(dev.HWID)
	if !known || prev.Lane != dev.Lane {
		for item := range s.devices.IterBuffered() {
			if item.Key != dev.HWID && item.Val.Lane == dev.Lane {
				s.logger.Warn().Int("lane", dev.Lane).Str("hwid", dev.HWID).Str("other_hwid", item.Key).
					Msg("Two devices claim the same lane")
			}
		}
		s.logger.Info().Str("hwid", dev.HWID).Int("lane", dev.Lane).Str("version", dev.Version).Msg("Device mapped to lane")
	}
	if dev.Outdated && (!known || !prev.Outdated) {
		s.logger.Warn().Str("hwid", dev.HWID).Str("version", dev.Version).
			Str("min_version", s.minVersion.String()).Msg("Device firmware is older than the minimum version")
	}
	s.devices.Set(dev.HWID, dev)
}

func (s *LaneRelayService) isOutdated(version string) bool {
	if s.minVersion == nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return true
	}
	return v.LessThan(s.minVersion)
}

func (s *LaneRelayService) publish(topic string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to serialize lane message")
		return
	}
	if err := s.mqttMiddleware.Publish(topic, byte(s.qos), false, data); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish lane message")
	}
}

// deviceFromTopic returns the hwid segment of derbynet/device/{hwid}/{leaf}.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
