package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/metrics_collectors"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/registry"
	"github.com/soapboxderby/derbynet-agent/internal/services"
	"github.com/soapboxderby/derbynet-agent/internal/state_managers"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/board"
	"github.com/soapboxderby/derbynet-agent/pkg/derbynet"
	"github.com/soapboxderby/derbynet-agent/pkg/display"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
	"github.com/soapboxderby/derbynet-agent/pkg/mqtt"
)

// connectNotifier is implemented by clients that can report reconnects.
type connectNotifier interface {
	OnConnect(fn func())
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	fileClient  file.FileOperations
	Logger      zerolog.Logger

	middleware   mqtt_middleware.MQTTMiddleware
	offlineQueue *mqtt_middleware.OfflineQueueMiddleware
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		fileClient: fileClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns the registered services in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// Get returns a registered service by name.
func (sr *ServiceRegistry) Get(name string) (registry.Service, bool) {
	svc, ok := sr.services[name]
	return svc, ok
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

func (sr *ServiceRegistry) componentLogger(name string, deviceInfo identity.DeviceInfoInterface) zerolog.Logger {
	return sr.Logger.With().Str("component", name).Str("hwid", deviceInfo.GetDeviceID()).Logger()
}

// RegisterServices initializes and registers enabled services based on configuration.
// The middleware chain is built first so every service publishes through it.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deviceInfo identity.DeviceInfoInterface) error {
	middleware, err := sr.InitializeMiddlewares(config, deviceInfo)
	if err != nil {
		return err
	}
	sr.middleware = middleware

	var (
		telemetryService *services.TelemetryService
		finishTimer      *services.FinishTimerService
	)
	svcs := config.Services

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func(logger zerolog.Logger) (registry.Service, error)
	}{
		{
			name:    "offline_queue",
			enabled: sr.offlineQueue != nil,
			constructor: func(zerolog.Logger) (registry.Service, error) {
				return sr.offlineQueue, nil
			},
		},
		{
			name:    "status",
			enabled: svcs.Status.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				return services.NewStatusService(svcs.Status.Interval, svcs.Status.QOS, deviceInfo, middleware, logger), nil
			},
		},
		{
			name:    "telemetry",
			enabled: svcs.Telemetry.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				metrics := svcs.Telemetry.Metrics
				telemetryService = services.NewTelemetryService(
					svcs.Telemetry.Interval,
					svcs.Telemetry.Timeout,
					svcs.Telemetry.QOS,
					&metrics,
					metrics_collectors.NewDefaultRegistry(&metrics, sr.fileClient, logger),
					deviceInfo,
					middleware,
					logger,
				)
				return telemetryService, nil
			},
		},
		{
			name:    "finish_timer",
			enabled: svcs.FinishTimer.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				ft := svcs.FinishTimer
				pcb := board.NewSysfsBoard(board.Config{
					BasePath:    ft.GPIO.BasePath,
					TogglePin:   ft.GPIO.TogglePin,
					DIPPins:     ft.GPIO.DIPPins,
					RedPin:      ft.GPIO.LEDPins.Red,
					GreenPin:    ft.GPIO.LEDPins.Green,
					BluePin:     ft.GPIO.LEDPins.Blue,
					BatteryFile: ft.Battery.File,
				}, sr.fileClient)

				var disp display.Display = display.Discard{}
				if ft.Display.Port != "" {
					serial, err := display.OpenSerial(ft.Display.Port, ft.Display.Baud)
					if err != nil {
						return nil, err
					}
					disp = serial
				}

				finishTimer = services.NewFinishTimerService(services.FinishTimerOptions{
					QOS:             ft.QOS,
					WatchInterval:   ft.WatchInterval,
					RefreshInterval: ft.RefreshInterval,
					PostStep:        ft.PostStep,
					BatteryMinRaw:   ft.Battery.MinRaw,
					BatteryMaxRaw:   ft.Battery.MaxRaw,
					BatterySamples:  ft.Battery.Samples,
				}, pcb, disp, deviceInfo, middleware, logger)
				return finishTimer, nil
			},
		},
		{
			name:    "update",
			enabled: svcs.Update.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				return services.NewUpdateService(
					svcs.Update.Script,
					svcs.Update.QOS,
					svcs.Update.OutputSizeLimit,
					svcs.Update.MaxExecutionTime,
					middleware,
					deviceInfo,
					logger,
				), nil
			},
		},
		{
			name:    "lane_relay",
			enabled: svcs.LaneRelay.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				return services.NewLaneRelayService(svcs.LaneRelay.QOS, svcs.LaneRelay.MinDeviceVersion, middleware, logger)
			},
		},
		{
			name:    "race_clock",
			enabled: svcs.RaceClock.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				return services.NewRaceClockService(svcs.RaceClock.Interval, svcs.RaceClock.Timezone, middleware, logger), nil
			},
		},
		{
			name:    "start_timer",
			enabled: svcs.StartTimer.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				st := svcs.StartTimer
				gate := board.NewPin(svcs.FinishTimer.GPIO.BasePath, st.Pin, st.ActiveLow, sr.fileClient)
				return services.NewStartTimerService(gate, st.PollInterval, st.QOS, middleware, logger), nil
			},
		},
		{
			name:    "coordinator",
			enabled: svcs.Coordinator.Enabled,
			constructor: func(logger zerolog.Logger) (registry.Service, error) {
				co := svcs.Coordinator
				api, err := derbynet.NewClient(config.DerbyNet.URL, config.DerbyNet.Role, config.DerbyNet.Password,
					config.DerbyNet.Timeout, logger)
				if err != nil {
					return nil, err
				}
				race := state_managers.NewRaceStateManager(co.LaneCount, co.HeartbeatWindow, co.StateFile, sr.fileClient, logger)

				opts := services.CoordinatorOptions{
					QOS:               co.QOS,
					PollInterval:      co.PollInterval,
					HeartbeatInterval: co.HeartbeatInterval,
					Workers:           co.Workers,
					ButtonPoll:        co.StartButton.PollInterval,
				}
				if co.StartButton.Enabled {
					opts.StartButton = board.NewPin(svcs.FinishTimer.GPIO.BasePath, co.StartButton.Pin,
						co.StartButton.ActiveLow, sr.fileClient)
				}
				return services.NewCoordinatorService(opts, api, race, middleware, logger), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if !svc.enabled {
			continue
		}
		serviceInstance, err := svc.constructor(sr.componentLogger(svc.name, deviceInfo))
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
			return fmt.Errorf("failed to create %s service: %w", svc.name, err)
		}
		sr.RegisterService(svc.name, serviceInstance)
		registeredServices = append(registeredServices, svc.name)
	}

	if telemetryService != nil && finishTimer != nil {
		telemetryService.AddContributor(finishTimer)
	}
	if notifier, ok := sr.mqttClient.(connectNotifier); ok {
		for _, name := range sr.serviceKeys {
			if handler, ok := sr.services[name].(registry.ReconnectHandler); ok {
				notifier.OnConnect(handler.HandleReconnect)
			}
		}
	}

	sr.Logger.Info().Strs("services", registeredServices).Msg("Registered services in order")
	return nil
}
