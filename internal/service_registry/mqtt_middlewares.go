package service_registry

import (
	"fmt"

	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
)

const offlineQueueMiddleware = "offline_queue"

// InitializeMiddlewares sets up the middleware chain based on configuration.
func (sr *ServiceRegistry) InitializeMiddlewares(config *utils.Config, deviceInfo identity.DeviceInfoInterface) (mqtt_middleware.MQTTMiddleware, error) {
	var middlewares []mqtt_middleware.MQTTMiddleware

	// Ordered middleware definitions
	middlewaresInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (mqtt_middleware.MQTTMiddleware, error)
	}{
		{
			name:    offlineQueueMiddleware,
			enabled: config.Services.OfflineQueue.Enabled,
			constructor: func() (mqtt_middleware.MQTTMiddleware, error) {
				queue := mqtt_middleware.NewOfflineQueueMiddleware(
					config.Services.OfflineQueue.QueueDir,
					config.Services.OfflineQueue.DrainInterval,
					sr.mqttClient,
					sr.fileClient,
					sr.componentLogger(offlineQueueMiddleware, deviceInfo),
				)
				sr.offlineQueue = queue
				return queue, nil
			},
		},
	}

	// Initialize middlewares in order
	for _, mw := range middlewaresInOrder {
		if mw.enabled {
			middlewareInstance, err := mw.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to initialize %s middleware", mw.name)
				return nil, fmt.Errorf("failed to initialize %s middleware: %w", mw.name, err)
			}
			middlewares = append(middlewares, middlewareInstance)
			sr.Logger.Info().Str("middleware", mw.name).Msg("Middleware initialized")
		} else {
			sr.Logger.Debug().Str("middleware", mw.name).Msg("Middleware is disabled, skipping")
		}
	}

	chainedClient := mqtt_middleware.NewChainedMQTTClient(sr.mqttClient, middlewares)
	if err := chainedClient.Init(nil); err != nil {
		return nil, err
	}
	sr.Logger.Info().Int("middleware_count", len(middlewares)).Msg("Middleware chain initialized")
	return chainedClient, nil
}
