package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
)

// StatusService keeps the retained device status topic at "online" while the
// agent runs. The broker's last will flips it to "offline" on a lost connection.
type StatusService struct {
	Interval       time.Duration
	QOS            int
	DeviceInfo     identity.DeviceInfoInterface
	MqttMiddleware mqtt_middleware.MQTTMiddleware
	Logger         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusService initializes a new StatusService.
func NewStatusService(interval time.Duration, qos int, deviceInfo identity.DeviceInfoInterface,
	mqttMiddleware mqtt_middleware.MQTTMiddleware, logger zerolog.Logger) *StatusService {

	return &StatusService{
		Interval:       interval,
		QOS:            qos,
		DeviceInfo:     deviceInfo,
		MqttMiddleware: mqttMiddleware,
		Logger:         logger,
	}
}

// Topic returns the retained status topic for this device.
func (s *StatusService) Topic() string {
	return constants.DeviceTopic(s.DeviceInfo.GetDeviceID(), constants.LeafStatus)
}

// Start publishes "online" and keeps refreshing it in a separate goroutine.
func (s *StatusService) Start() error {
	if s.ctx != nil {
		s.Logger.Warn().Msg("StatusService is already running")
		return errors.New("status service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.PublishStatus(constants.StatusOnline)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runStatusLoop()
	}()

	s.Logger.Info().Str("topic", s.Topic()).Msg("StatusService started successfully")
	return nil
}

// Stop publishes "offline" and stops the refresh loop.
func (s *StatusService) Stop() error {
	if s.ctx == nil {
		s.Logger.Warn().Msg("StatusService is not running")
		return errors.New("status service is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.PublishStatus(constants.StatusOffline)

	s.ctx = nil
	s.cancel = nil

	s.Logger.Info().Msg("StatusService stopped successfully")
	return nil
}

// PublishStatus publishes status retained on the device status topic.
func (s *StatusService) PublishStatus(status string) {
	if err := s.MqttMiddleware.Publish(s.Topic(), byte(s.QOS), true, []byte(status)); err != nil {
		s.Logger.Error().Err(err).Str("status", status).Msg("Failed to publish device status")
		return
	}
	s.Logger.Debug().Str("status", status).Msg("Device status published")
}

// HandleReconnect republishes "online" after the broker connection comes back.
func (s *StatusService) HandleReconnect() {
	if s.ctx == nil {
		return
	}
	s.PublishStatus(constants.StatusOnline)
}

func (s *StatusService) runStatusLoop() {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.PublishStatus(constants.StatusOnline)
		case <-s.ctx.Done():
			return
		}
	}
}
