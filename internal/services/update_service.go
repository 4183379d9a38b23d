package services

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
)

// UpdateService runs the device update script when the update trigger arrives
// on derbynet/device/{hwid}/update.
type UpdateService struct {
	script           string
	qos              int
	outputSizeLimit  int
	maxExecutionTime time.Duration

	mqttMiddleware mqtt_middleware.MQTTMiddleware
	deviceInfo     identity.DeviceInfoInterface
	logger         zerolog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	running  bool
	inFlight bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewUpdateService initializes a new UpdateService.
func NewUpdateService(script string, qos, outputSizeLimit int, maxExecutionTime time.Duration,
	mqttMiddleware mqtt_middleware.MQTTMiddleware, deviceInfo identity.DeviceInfoInterface, logger zerolog.Logger) *UpdateService {
	if outputSizeLimit == 0 {
		outputSizeLimit = constants.DefaultOutputSizeLimit
	}
	if maxExecutionTime == 0 {
		maxExecutionTime = constants.DefaultMaxExecutionTime
	}

	return &UpdateService{
		script:           script,
		qos:              qos,
		outputSizeLimit:  outputSizeLimit,
		maxExecutionTime: maxExecutionTime,
		mqttMiddleware:   mqttMiddleware,
		deviceInfo:       deviceInfo,
		logger:           logger,
	}
}

func (u *UpdateService) topic() string {
	return constants.DeviceTopic(u.deviceInfo.GetDeviceID(), constants.LeafUpdate)
}

// Start subscribes to the update topic.
func (u *UpdateService) Start() error {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return errors.New("update service is already running")
	}
	u.ctx, u.cancel = context.WithCancel(context.Background())
	u.running = true
	u.mu.Unlock()

	topic := u.topic()
	if err := u.mqttMiddleware.Subscribe(topic, byte(u.qos), u.HandleUpdate); err != nil {
		u.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		u.mu.Lock()
		u.running = false
		u.cancel()
		u.mu.Unlock()
		return err
	}

	u.logger.Info().Str("topic", topic).Msg("UpdateService started successfully")
	return nil
}

// Stop unsubscribes and waits for a running update to finish or be cancelled.
func (u *UpdateService) Stop() error {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return errors.New("update service is not running")
	}
	u.running = false
	u.cancel()
	u.mu.Unlock()

	u.wg.Wait()

	if err := u.mqttMiddleware.Unsubscribe(u.topic()); err != nil {
		u.logger.Error().Err(err).Msg("Failed to unsubscribe from MQTT topic")
		return err
	}

	u.logger.Info().Msg("UpdateService stopped successfully")
	return nil
}

// HandleUpdate starts the update script for an "update" payload. Other
// payloads, and triggers that arrive while an update runs, are ignored.
func (u *UpdateService) HandleUpdate(_ MQTT.Client, msg MQTT.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	if !strings.EqualFold(payload, constants.UpdateTrigger) {
		u.logger.Debug().Str("payload", payload).Msg("Ignoring unknown update payload")
		return
	}

	u.mu.Lock()
	if !u.running || u.inFlight {
		u.mu.Unlock()
		u.logger.Warn().Msg("Update requested while stopping or already updating, ignoring")
		return
	}
	u.inFlight = true
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		defer func() {
			u.mu.Lock()
			u.inFlight = false
			u.mu.Unlock()
		}()

		status := constants.DeviceTopic(u.deviceInfo.GetDeviceID(), constants.LeafStatus)
		if err := u.mqttMiddleware.Publish(status, byte(u.qos), true, []byte(constants.StatusUpdating)); err != nil {
			u.logger.Error().Err(err).Msg("Failed to publish updating status")
		}

		output, err := u.ExecuteScript(u.ctx)
		if err != nil {
			u.logger.Error().Err(err).Str("output", output).Msg("Update script failed")
			return
		}
		u.logger.Info().Str("output", output).Msg("Update script finished")
	}()
}

// ExecuteScript runs the update script and returns its truncated output.
func (u *UpdateService) ExecuteScript(ctx context.Context) (string, error) {
	u.logger.Info().Str("script", u.script).Msg("Running update script")

	ctx, cancel := context.WithTimeout(ctx, u.maxExecutionTime)
	defer cancel()

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "/bin/sh", "-c", u.script)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = time.Second

	err := command.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return u.truncate(stdout.String()), ctx.Err()
		}
		return u.truncate(stderr.String()), err
	}
	return u.truncate(stdout.String()), nil
}

func (u *UpdateService) truncate(output string) string {
	if len(output) > u.outputSizeLimit {
		u.logger.Warn().Int("limit", u.outputSizeLimit).Msg("Update output truncated due to size limit")
		return output[:u.outputSizeLimit] + "... (truncated)"
	}
	return output
}
