package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	"github.com/soapboxderby/derbynet-agent/internal/metrics_collectors"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
)

// TelemetryContributor adds device specific fields to the telemetry payload.
type TelemetryContributor interface {
	TelemetryFields() map[string]interface{}
}

// TelemetryService collects host metrics and publishes them, retained, on the
// device telemetry topic.
type TelemetryService struct {
	interval       time.Duration
	timeout        time.Duration
	qos            int
	config         *models.TelemetryConfig
	deviceInfo     identity.DeviceInfoInterface
	mqttMiddleware mqtt_middleware.MQTTMiddleware
	logger         zerolog.Logger
	registry       *metrics_collectors.MetricsRegistry
	workerPool     *utils.WorkerPool
	retryDelay     time.Duration

	mu           sync.Mutex
	contributors []TelemetryContributor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelemetryService initializes and returns a new instance of TelemetryService.
func NewTelemetryService(
	interval, timeout time.Duration,
	qos int,
	config *models.TelemetryConfig,
	registry *metrics_collectors.MetricsRegistry,
	deviceInfo identity.DeviceInfoInterface,
	mqttMiddleware mqtt_middleware.MQTTMiddleware,
	logger zerolog.Logger,
) *TelemetryService {
	return &TelemetryService{
		interval:       interval,
		timeout:        timeout,
		qos:            qos,
		config:         config,
		registry:       registry,
		deviceInfo:     deviceInfo,
		mqttMiddleware: mqttMiddleware,
		logger:         logger,
		retryDelay:     time.Second,
	}
}

// AddContributor registers extra fields to merge into every payload.
func (t *TelemetryService) AddContributor(c TelemetryContributor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contributors = append(t.contributors, c)
}

// SetRetryDelay changes the base delay between publish attempts.
func (t *TelemetryService) SetRetryDelay(d time.Duration) {
	t.retryDelay = d
}

// Start initiates periodic telemetry collection and publishing.
func (t *TelemetryService) Start() error {
	if t.ctx != nil {
		t.logger.Warn().Msg("TelemetryService is already running")
		return errors.New("telemetry service is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.workerPool = utils.NewWorkerPool(4)

	t.wg.Add(1)
	go t.runTelemetryLoop()

	t.logger.Info().Str("topic", t.topic()).Strs("collectors", t.registry.Names()).
		Msg("TelemetryService started successfully")
	return nil
}

// Stop gracefully stops the telemetry service.
func (t *TelemetryService) Stop() error {
	if t.ctx == nil {
		t.logger.Warn().Msg("TelemetryService is not running")
		return errors.New("telemetry service is not running")
	}

	t.cancel()
	t.wg.Wait()
	t.workerPool.Shutdown()
	t.ctx = nil
	t.cancel = nil

	t.logger.Info().Msg("TelemetryService stopped successfully")
	return nil
}

func (t *TelemetryService) topic() string {
	return constants.DeviceTopic(t.deviceInfo.GetDeviceID(), constants.LeafTelemetry)
}

func (t *TelemetryService) runTelemetryLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload := t.Collect(t.ctx)
			if err := t.publish(payload); err != nil {
				t.logger.Error().Err(err).Msg("Failed to publish telemetry")
			}
		case <-t.ctx.Done():
			return
		}
	}
}

// Collect builds one telemetry payload. Collectors run concurrently and any
// that do not answer within the timeout are left out.
func (t *TelemetryService) Collect(parent context.Context) map[string]interface{} {
	id := t.deviceInfo.GetDeviceIdentity()
	payload := map[string]interface{}{
		"hwid":        id.HWID,
		"hostname":    id.Hostname,
		"device_type": id.Role,
		"version":     constants.AgentVersion,
		"time":        time.Now().Unix(),
	}
	if payload["hostname"] == "" {
		if h, err := os.Hostname(); err == nil {
			payload["hostname"] = h
		}
	}

	ctx, cancel := context.WithTimeout(parent, t.timeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, collector := range t.registry.GetCollectors() {
		if !collector.IsEnabled(t.config) {
			continue
		}
		name, collector := name, collector
		wg.Add(1)
		task := func() {
			defer wg.Done()
			value := collector.Collect(ctx)
			if value == nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if fields, ok := value.(map[string]interface{}); ok {
				for k, v := range fields {
					payload[k] = v
				}
				return
			}
			payload[name] = value
		}
		if t.workerPool == nil || !t.workerPool.Submit(task) {
			task()
		}
	}
	wg.Wait()

	t.mu.Lock()
	contributors := append([]TelemetryContributor(nil), t.contributors...)
	t.mu.Unlock()
	for _, c := range contributors {
		for k, v := range c.TelemetryFields() {
			payload[k] = v
		}
	}

	t.logger.Debug().Interface("telemetry", payload).Msg("Telemetry collected")
	return payload
}

func (t *TelemetryService) publish(payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize telemetry: %w", err)
	}

	retries := 3
	for i := 0; i < retries; i++ {
		err = t.mqttMiddleware.Publish(t.topic(), byte(t.qos), true, data)
		if err == nil {
			t.logger.Debug().Msg("Telemetry published successfully")
			return nil
		}
		t.logger.Warn().Err(err).Int("retry", i+1).Msg("Retrying to publish telemetry...")
		select {
		case <-time.After(time.Duration(i+1) * t.retryDelay):
		case <-t.ctx.Done():
			return t.ctx.Err()
		}
	}

	return fmt.Errorf("failed to publish telemetry after %d retries: %w", retries, err)
}
