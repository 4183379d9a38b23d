package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/board"
)

// StartTimerService runs on the start gate. It watches the gate input and
// publishes GO when it goes high and STOP when it drops, retained, on the
// start signal topic the coordinator listens to.
type StartTimerService struct {
	QOS            int
	PollInterval   time.Duration
	Gate           board.Input
	MqttMiddleware mqtt_middleware.MQTTMiddleware
	Logger         zerolog.Logger

	now    func() time.Time
	mu     sync.Mutex
	last   bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStartTimerService initializes a new StartTimerService.
func NewStartTimerService(gate board.Input, pollInterval time.Duration, qos int,
	mqttMiddleware mqtt_middleware.MQTTMiddleware, logger zerolog.Logger) *StartTimerService {

	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &StartTimerService{
		QOS:            qos,
		PollInterval:   pollInterval,
		Gate:           gate,
		MqttMiddleware: mqttMiddleware,
		Logger:         logger,
		now:            time.Now,
	}
}

// Topic returns the start signal topic.
func (s *StartTimerService) Topic() string {
	return constants.DeviceTopic(constants.StartTimerID, constants.LeafState)
}

// Start samples the gate and watches it for changes. The level at start is
// the baseline and is not published.
func (s *StartTimerService) Start() error {
	if s.ctx != nil {
		s.Logger.Warn().Msg("StartTimerService is already running")
		return errors.New("start timer service is already running")
	}

	level, err := s.Gate.Read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.last = level
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.watchGate()

	s.Logger.Info().Str("topic", s.Topic()).Bool("gate", level).Msg("StartTimerService started successfully")
	return nil
}

// Stop stops watching the gate.
func (s *StartTimerService) Stop() error {
	if s.ctx == nil {
		s.Logger.Warn().Msg("StartTimerService is not running")
		return errors.New("start timer service is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil

	s.Logger.Info().Msg("StartTimerService stopped successfully")
	return nil
}

// Check reads the gate once and publishes the signal when the level changed.
// It reports whether a signal was published.
func (s *StartTimerService) Check() (bool, error) {
	level, err := s.Gate.Read()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	changed := level != s.last
	s.last = level
	s.mu.Unlock()
	if !changed {
		return false, nil
	}

	signal := models.StartSignal{State: constants.StartSignalStop, Timestamp: s.now().Unix()}
	if level {
		signal.State = constants.StartSignalGo
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		return true, err
	}
	if err := s.MqttMiddleware.Publish(s.Topic(), byte(s.QOS), true, payload); err != nil {
		return true, err
	}
	s.Logger.Info().Str("state", signal.State).Int64("timestamp", signal.Timestamp).Msg("Start signal published")
	return true, nil
}

func (s *StartTimerService) watchGate() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Check(); err != nil {
				s.Logger.Error().Err(err).Msg("Failed to check start gate")
			}
		case <-s.ctx.Done():
			return
		}
	}
}
