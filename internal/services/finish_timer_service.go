package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/board"
	"github.com/soapboxderby/derbynet-agent/pkg/display"
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
)

// FinishTimerOptions configures a FinishTimerService.
type FinishTimerOptions struct {
	QOS             int
	WatchInterval   time.Duration
	RefreshInterval time.Duration
	PostStep        time.Duration // zero skips the power-on self test
	BatteryMinRaw   int
	BatteryMaxRaw   int
	BatterySamples  int
}

// Power-on self test steps. The last display step shows the lane label.
var postColours = []string{
	constants.LEDWhite, constants.LEDRed, constants.LEDGreen,
	constants.LEDBlue, constants.LEDPurple, constants.LEDYellow,
}

var postTexts = []string{"----", "err-", "stop", "0000", "batt"}

// FinishTimerService runs a lane's finish timer PCB. It publishes toggle
// changes and shows the LED colour and pinny the coordinator assigns.
type FinishTimerService struct {
	opts           FinishTimerOptions
	board          board.Board
	display        display.Display
	deviceInfo     identity.DeviceInfoInterface
	mqttMiddleware mqtt_middleware.MQTTMiddleware
	logger         zerolog.Logger
	now            func() time.Time

	mu      sync.Mutex
	led     string
	pinny   string
	toggle  bool
	dip     string
	lane    int
	battery []int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFinishTimerService initializes a new FinishTimerService.
func NewFinishTimerService(opts FinishTimerOptions, pcb board.Board, disp display.Display,
	deviceInfo identity.DeviceInfoInterface, mqttMiddleware mqtt_middleware.MQTTMiddleware,
	logger zerolog.Logger) *FinishTimerService {
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 10 * time.Millisecond
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Second
	}
	if opts.BatterySamples <= 0 {
		opts.BatterySamples = 1
	}
	if disp == nil {
		disp = display.Discard{}
	}

	return &FinishTimerService{
		opts:           opts,
		board:          pcb,
		display:        disp,
		deviceInfo:     deviceInfo,
		mqttMiddleware: mqttMiddleware,
		logger:         logger,
		now:            time.Now,
		led:            constants.LEDWhite,
	}
}

// Lane returns the lane selected on the DIP switch, or 0 when the code is invalid.
func (f *FinishTimerService) Lane() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lane
}

// Start reads the DIP switch, runs the self test, subscribes to the lane's
// LED and pinny topics and starts watching the toggle.
func (f *FinishTimerService) Start() error {
	if f.ctx != nil {
		f.logger.Warn().Msg("FinishTimerService is already running")
		return errors.New("finish timer service is already running")
	}

	dip, err := f.board.DIP()
	if err != nil {
		return fmt.Errorf("failed to read DIP switch: %w", err)
	}
	toggle, err := f.board.Toggle()
	if err != nil {
		return fmt.Errorf("failed to read toggle: %w", err)
	}
	lane := board.DecodeLane(dip)

	f.mu.Lock()
	f.dip = dip
	f.lane = lane
	f.toggle = toggle
	f.pinny = laneLabel(lane)
	f.mu.Unlock()

	if lane == 0 {
		f.logger.Warn().Str("dip", dip).Msg("DIP switch is not a lane, LED and pinny will not be received")
	} else {
		f.logger.Info().Str("dip", dip).Int("lane", lane).Msg("Lane selected")
	}

	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.runPostSequence(lane)

	if lane != 0 {
		for _, leaf := range []string{constants.LeafLED, constants.LeafPinny} {
			topic := constants.LaneTopic(lane, leaf)
			if err := f.mqttMiddleware.Subscribe(topic, byte(f.opts.QOS), f.HandleLaneMessage); err != nil {
				f.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
				f.cancel()
				f.ctx = nil
				return err
			}
		}
	}

	f.Refresh()

	f.wg.Add(2)
	go f.watchToggle()
	go f.refreshLoop()

	f.logger.Info().Msg("FinishTimerService started successfully")
	return nil
}

// Stop stops watching the toggle and leaves the board showing yellow and "----".
func (f *FinishTimerService) Stop() error {
	if f.ctx == nil {
		f.logger.Warn().Msg("FinishTimerService is not running")
		return errors.New("finish timer service is not running")
	}

	f.cancel()
	f.wg.Wait()

	var errs []error
	if lane := f.Lane(); lane != 0 {
		errs = append(errs, f.mqttMiddleware.Unsubscribe(
			constants.LaneTopic(lane, constants.LeafLED), constants.LaneTopic(lane, constants.LeafPinny)))
	}
	errs = append(errs,
		f.board.SetLED(constants.LEDYellow),
		f.display.Show(display.Frame{Text: "----", Brightness: 7}),
	)
	f.ctx = nil
	f.cancel = nil

	f.logger.Info().Msg("FinishTimerService stopped successfully")
	return errors.Join(errs...)
}

// HandleLaneMessage applies an LED colour or pinny from the coordinator.
func (f *FinishTimerService) HandleLaneMessage(_ MQTT.Client, msg MQTT.Message) {
	value := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
	topic := msg.Topic()

	f.mu.Lock()
	switch {
	case strings.HasSuffix(topic, "/"+constants.LeafLED):
		f.led = value
	case strings.HasSuffix(topic, "/"+constants.LeafPinny):
		f.pinny = value
	default:
		f.mu.Unlock()
		f.logger.Warn().Str("topic", topic).Msg("Unknown lane topic")
		return
	}
	f.mu.Unlock()

	f.logger.Debug().Str("topic", topic).Str("value", value).Msg("Lane update received")
	f.Refresh()
}

// Refresh pushes the current LED colour and display frame to the board.
func (f *FinishTimerService) Refresh() {
	f.mu.Lock()
	led, pinny, toggle := f.led, f.pinny, f.toggle
	f.mu.Unlock()

	if err := f.board.SetLED(led); err != nil {
		f.logger.Warn().Err(err).Str("led", led).Msg("Failed to set LED")
	}
	frame := display.Render(led, pinny, display.ReadyToRace(led, toggle), f.BatteryPercent())
	if err := f.display.Show(frame); err != nil {
		f.logger.Warn().Err(err).Str("text", frame.Text).Msg("Failed to update display")
	}
}

// BatteryPercent is the average of the recent battery samples as a percentage.
// It is 100 when no samples have been read.
func (f *FinishTimerService) BatteryPercent() float64 {
	raw, ok := f.batteryRaw()
	if !ok {
		return 100
	}
	return board.BatteryPercent(raw, f.opts.BatteryMinRaw, f.opts.BatteryMaxRaw)
}

// TelemetryFields adds the lane state to the device telemetry.
func (f *FinishTimerService) TelemetryFields() map[string]interface{} {
	f.mu.Lock()
	fields := map[string]interface{}{
		"dip":         f.dip,
		"lane":        f.lane,
		"toggle":      f.toggle,
		"led":         f.led,
		"pinny":       display.NormalizePinny(f.pinny),
		"readyToRace": display.ReadyToRace(f.led, f.toggle),
	}
	f.mu.Unlock()

	if raw, ok := f.batteryRaw(); ok {
		fields["battery_raw"] = raw
		fields["battery_level"] = board.BatteryPercent(raw, f.opts.BatteryMinRaw, f.opts.BatteryMaxRaw)
	}
	return fields
}

func (f *FinishTimerService) batteryRaw() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.battery) == 0 {
		return 0, false
	}
	return lo.Sum(f.battery) / len(f.battery), true
}

func (f *FinishTimerService) sampleBattery() {
	raw, err := f.board.BatteryRaw()
	if err != nil {
		f.logger.Debug().Err(err).Msg("Failed to read battery")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.battery = append(f.battery, raw)
	if len(f.battery) > f.opts.BatterySamples {
		f.battery = f.battery[len(f.battery)-f.opts.BatterySamples:]
	}
}

func (f *FinishTimerService) runPostSequence(lane int) {
	if f.opts.PostStep <= 0 {
		return
	}
	f.logger.Debug().Msg("Running power-on self test")

	texts := append(append([]string(nil), postTexts...), laneLabel(lane))
	for i, colour := range postColours {
		if err := f.board.SetLED(colour); err != nil {
			f.logger.Warn().Err(err).Msg("Self test LED failed")
		}
		if err := f.display.Show(display.Frame{Text: texts[i], Brightness: 7}); err != nil {
			f.logger.Warn().Err(err).Msg("Self test display failed")
		}
		select {
		case <-time.After(f.opts.PostStep):
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *FinishTimerService) watchToggle() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.opts.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			on, err := f.board.Toggle()
			if err != nil {
				continue
			}
			f.mu.Lock()
			changed := on != f.toggle
			f.toggle = on
			f.mu.Unlock()
			if changed {
				f.publishToggle(on)
				f.Refresh()
			}
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *FinishTimerService) publishToggle(on bool) {
	now := f.now().Unix()
	f.mu.Lock()
	state := models.ToggleState{
		Toggle:    on,
		Time:      now,
		Timestamp: now,
		HWID:      f.deviceInfo.GetDeviceID(),
		DIP:       f.dip,
		Lane:      f.lane,
	}
	f.mu.Unlock()

	f.logger.Info().Bool("toggle", on).Int("lane", state.Lane).Msg("Toggle changed")

	data, err := json.Marshal(state)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to serialize toggle state")
		return
	}
	topic := constants.DeviceTopic(state.HWID, constants.LeafState)
	if err := f.mqttMiddleware.Publish(topic, byte(f.opts.QOS), true, data); err != nil {
		f.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish toggle state")
	}
}

func (f *FinishTimerService) refreshLoop() {
	defer f.wg.Done()

	f.sampleBattery()
	ticker := time.NewTicker(f.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.sampleBattery()
			f.Refresh()
		case <-f.ctx.Done():
			return
		}
	}
}

func laneLabel(lane int) string {
	return fmt.Sprintf("LAN%d", lane)
}
