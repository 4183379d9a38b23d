package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/internal/state_managers"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/board"
	"github.com/soapboxderby/derbynet-agent/pkg/derbynet"
	"github.com/soapboxderby/derbynet-agent/pkg/display"
)

var startSignalTopic = constants.DeviceTopic(constants.StartTimerID, constants.LeafState)

// CoordinatorOptions configures a CoordinatorService.
type CoordinatorOptions struct {
	QOS               int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Workers           int

	// StartButton is an optional local start input, polled every ButtonPoll.
	StartButton board.Input
	ButtonPoll  time.Duration
}

// CoordinatorService runs the race: it follows DerbyNet's current heat,
// drives the lane LEDs and pinnies, times lanes from start to finish and
// reports results back to DerbyNet.
type CoordinatorService struct {
	opts           CoordinatorOptions
	api            derbynet.API
	race           *state_managers.RaceStateManager
	mqttMiddleware mqtt_middleware.MQTTMiddleware
	logger         zerolog.Logger
	now            func() time.Time

	mu            sync.Mutex
	laneLED       map[int]string
	lanePinny     map[int]string
	raceLED       string
	lastSnapshot  []byte
	lastHeartbeat time.Time

	pool   *utils.WorkerPool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinatorService initializes a new CoordinatorService.
func NewCoordinatorService(opts CoordinatorOptions, api derbynet.API, race *state_managers.RaceStateManager,
	mqttMiddleware mqtt_middleware.MQTTMiddleware, logger zerolog.Logger) *CoordinatorService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ButtonPoll <= 0 {
		opts.ButtonPoll = 20 * time.Millisecond
	}

	return &CoordinatorService{
		opts:           opts,
		api:            api,
		race:           race,
		mqttMiddleware: mqttMiddleware,
		logger:         logger,
		now:            time.Now,
		laneLED:        make(map[int]string),
		lanePinny:      make(map[int]string),
	}
}

// Start subscribes to lane and start gate topics and begins polling DerbyNet.
func (c *CoordinatorService) Start() error {
	if c.ctx != nil {
		c.logger.Warn().Msg("CoordinatorService is already running")
		return errors.New("coordinator service is already running")
	}

	subscriptions := []struct {
		topic   string
		handler MQTT.MessageHandler
	}{
		{constants.LaneTelemetryWildcard, c.HandleLaneTelemetry},
		{constants.LaneStateWildcard, c.HandleLaneState},
		{startSignalTopic, c.HandleStartSignal},
	}
	subscribed := make([]string, 0, len(subscriptions))
	for _, sub := range subscriptions {
		if err := c.mqttMiddleware.Subscribe(sub.topic, byte(c.opts.QOS), sub.handler); err != nil {
			c.logger.Error().Err(err).Str("topic", sub.topic).Msg("Failed to subscribe to MQTT topic")
			if len(subscribed) > 0 {
				_ = c.mqttMiddleware.Unsubscribe(subscribed...)
			}
			return err
		}
		subscribed = append(subscribed, sub.topic)
	}

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.pool = utils.NewWorkerPool(c.opts.Workers)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runPollLoop()

	if c.opts.StartButton != nil {
		c.wg.Add(1)
		go c.watchStartButton()
	}

	c.logger.Info().Dur("poll_interval", c.opts.PollInterval).Msg("CoordinatorService started successfully")
	return nil
}

// Stop unsubscribes, stops polling and waits for queued API calls.
func (c *CoordinatorService) Stop() error {
	if c.ctx == nil {
		c.logger.Warn().Msg("CoordinatorService is not running")
		return errors.New("coordinator service is not running")
	}

	err := c.mqttMiddleware.Unsubscribe(constants.LaneTelemetryWildcard, constants.LaneStateWildcard, startSignalTopic)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to unsubscribe from MQTT topics")
	}

	c.cancel()
	c.wg.Wait()
	c.pool.Shutdown()

	c.mu.Lock()
	c.ctx = nil
	c.cancel = nil
	c.pool = nil
	c.mu.Unlock()

	c.logger.Info().Msg("CoordinatorService stopped successfully")
	return err
}

func (c *CoordinatorService) runPollLoop() {
	defer c.wg.Done()

	_ = c.Poll(c.ctx)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.Poll(c.ctx)
		case <-c.ctx.Done():
			return
		}
	}
}

// Poll fetches the current heat from DerbyNet and republishes whatever changed.
// On error the race state is left as it was.
func (c *CoordinatorService) Poll(ctx context.Context) error {
	status, err := c.api.GetRaceStatus(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to poll DerbyNet race status")
		return err
	}

	update := c.race.ApplyStatus(status)
	if update.Aborted {
		c.logger.Warn().Msg("Running heat was deactivated in DerbyNet")
	}

	c.publishLaneLEDs(update.LED)
	c.publishPinnies(status)
	c.publishRace()
	return nil
}

// StartRace starts timing the current heat.
func (c *CoordinatorService) StartRace(source string) {
	if !c.race.Start(c.now()) {
		c.logger.Debug().Str("source", source).Msg("Start ignored, race already running")
		return
	}
	c.logger.Info().Str("source", source).Msg("Race started")

	c.publishLaneLEDs(constants.LEDGreen)
	c.publishRace()
	c.submit(func(ctx context.Context) error { return c.api.SendStart(ctx) }, "start")
}

// HandleStartSignal starts the race when the start gate reports GO.
func (c *CoordinatorService) HandleStartSignal(_ MQTT.Client, msg MQTT.Message) {
	// The gate publishes retained; a replayed GO is not a new start.
	if msg.Retained() {
		c.logger.Debug().Msg("Skipping retained start signal")
		return
	}
	var signal models.StartSignal
	if err := json.Unmarshal(msg.Payload(), &signal); err != nil {
		c.logger.Warn().Err(err).Str("payload", string(msg.Payload())).Msg("Ignoring malformed start signal")
		return
	}
	if !strings.EqualFold(signal.State, constants.StartSignalGo) {
		return
	}
	c.StartRace("start_timer")
}

// HandleLaneState records a finish for the lane while a heat is running.
func (c *CoordinatorService) HandleLaneState(_ MQTT.Client, msg MQTT.Message) {
	lane, ok := laneFromTopic(msg.Topic())
	if !ok {
		c.logger.Warn().Str("topic", msg.Topic()).Msg("Lane state on an unexpected topic")
		return
	}
	if msg.Retained() {
		c.logger.Debug().Int("lane", lane).Msg("Skipping retained lane state")
		return
	}
	var state models.LaneState
	if err := json.Unmarshal(msg.Payload(), &state); err == nil && c.race.IsStale(state.Time) {
		c.logger.Warn().Int("lane", lane).Int64("time", state.Time).Msg("Ignoring lane state from before the start")
		return
	}

	result, outcome := c.race.Finish(lane, c.now())
	switch outcome {
	case state_managers.FinishRecorded:
	case state_managers.FinishNotRacing:
		c.logger.Debug().Int("lane", lane).Msg("Lane state while not racing")
		return
	default:
		c.logger.Warn().Int("lane", lane).Str("outcome", outcome.String()).Msg("Ignoring lane finish")
		return
	}

	if result != nil {
		c.logger.Info().Int("roundid", result.RoundID).Int("heat", result.Heat).
			Interface("lane_times", result.LaneTimes).Msg("All lanes finished")
		c.publishLaneLEDs(constants.LEDRed)
		c.submit(func(ctx context.Context) error {
			return c.api.SendFinish(ctx, result.RoundID, result.Heat, result.LaneTimes)
		}, "finish")
	}
	c.publishRace()
}

// HandleLaneTelemetry treats relayed lane telemetry as a timer heartbeat.
func (c *CoordinatorService) HandleLaneTelemetry(_ MQTT.Client, msg MQTT.Message) {
	lane, ok := laneFromTopic(msg.Topic())
	if !ok {
		return
	}
	var telemetry models.LaneTelemetry
	if err := json.Unmarshal(msg.Payload(), &telemetry); err != nil {
		c.logger.Warn().Err(err).Int("lane", lane).Msg("Ignoring malformed lane telemetry")
		return
	}

	now := c.now()
	if !c.race.RecordHeartbeat(lane, telemetry.Ready, now) {
		return
	}

	c.mu.Lock()
	due := now.Sub(c.lastHeartbeat) >= c.opts.HeartbeatInterval
	if due {
		c.lastHeartbeat = now
	}
	c.mu.Unlock()

	if due {
		c.submit(func(ctx context.Context) error { return c.api.SendTimerHeartbeat(ctx) }, "heartbeat")
	}
}

func (c *CoordinatorService) watchStartButton() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.ButtonPoll)
	defer ticker.Stop()

	var pressed bool
	for {
		select {
		case <-ticker.C:
			on, err := c.opts.StartButton.Read()
			if err != nil {
				c.logger.Debug().Err(err).Msg("Failed to read start button")
				continue
			}
			if on && !pressed {
				c.StartRace("start_button")
			}
			pressed = on
		case <-c.ctx.Done():
			return
		}
	}
}

// submit runs an API call on the worker pool so MQTT callbacks never wait on HTTP.
func (c *CoordinatorService) submit(call func(ctx context.Context) error, name string) {
	c.mu.Lock()
	ctx, pool := c.ctx, c.pool
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	task := func() {
		if err := call(ctx); err != nil {
			c.logger.Error().Err(err).Str("action", name).Msg("DerbyNet call failed")
			return
		}
		c.logger.Debug().Str("action", name).Msg("DerbyNet call succeeded")
	}
	if pool == nil || !pool.Submit(task) {
		task()
	}
}

func (c *CoordinatorService) publishLaneLEDs(led string) {
	snap := c.race.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	for lane := 1; lane <= snap.LaneCount; lane++ {
		if c.laneLED[lane] == led {
			continue
		}
		if c.publishLocked(constants.LaneTopic(lane, constants.LeafLED), []byte(led)) {
			c.laneLED[lane] = led
		}
	}
}

func (c *CoordinatorService) publishPinnies(status *derbynet.RaceStatus) {
	pinnies := make(map[int]string)
	for _, l := range status.Lanes {
		pinnies[l.Lane] = l.CarNumber
	}
	snap := c.race.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	for lane := 1; lane <= snap.LaneCount; lane++ {
		pinny := display.NormalizePinny(pinnies[lane])
		if c.lanePinny[lane] == pinny {
			continue
		}
		if c.publishLocked(constants.LaneTopic(lane, constants.LeafPinny), []byte(pinny)) {
			c.lanePinny[lane] = pinny
		}
	}
}

func (c *CoordinatorService) publishRace() {
	snap := c.race.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to serialize race state")
		return
	}
	led := raceLEDName(snap.LED)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !bytes.Equal(c.lastSnapshot, data) && c.publishLocked(constants.RaceStateTopic, data) {
		c.lastSnapshot = data
	}
	if c.raceLED != led && c.publishLocked(constants.RaceLEDTopic, []byte(led)) {
		c.raceLED = led
	}
}

// publishLocked publishes retained. Callers hold mu.
func (c *CoordinatorService) publishLocked(topic string, payload []byte) bool {
	if err := c.mqttMiddleware.Publish(topic, byte(c.opts.QOS), true, payload); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish")
		return false
	}
	return true
}

// raceLEDName capitalises a colour for the scoreboard ("red" -> "Red").
func raceLEDName(led string) string {
	if led == "" {
		return ""
	}
	return strings.ToUpper(led[:1]) + led[1:]
}

// laneFromTopic returns n from derbynet/lane/{n}/{leaf}.
func laneFromTopic(topic string) (int, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return 0, false
	}
	lane, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || lane < 1 {
		return 0, false
	}
	return lane, true
}
