package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	"github.com/soapboxderby/derbynet-agent/internal/service_registry"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/soapboxderby/derbynet-agent/pkg/identity"
	"github.com/soapboxderby/derbynet-agent/pkg/mqtt"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "derbynet-agent",
		Short:         "Race timing agent for DerbyNet soap box derby tracks",
		Version:       constants.AgentVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAgent()
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "path to the YAML configuration")
	root.AddCommand(newRaceStatusCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the process logger.
func loadConfig() (*utils.Config, file.FileOperations, zerolog.Logger, func(), error) {
	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(configFile, fileClient)
	if err != nil {
		return nil, nil, zerolog.Nop(), nil, err
	}

	log, closer, err := utils.NewLogger(config.Logging, os.Stdout)
	if err != nil {
		return nil, nil, zerolog.Nop(), nil, err
	}
	cleanup := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
	return config, fileClient, log, cleanup, nil
}

func runAgent() error {
	config, fileClient, log, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceIDFile, config.Identity.Role, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		log.Error().Err(err).Msg("Failed to load device information")
		return err
	}
	hwid := deviceInfo.GetDeviceID()
	log = log.With().Str("hwid", hwid).Logger()
	log.Info().Str("role", config.Identity.Role).Str("source", deviceInfo.GetDeviceIdentity().Source).
		Str("version", constants.AgentVersion).Msg("Starting derbynet agent")

	// The client id defaults to the hwid so the broker sees one session per device
	clientID := config.MQTT.ClientID
	if clientID == "" {
		clientID = hwid
	}
	if config.MQTT.UniqueClientID {
		clientID = clientID + "-" + uuid.New().String()
	}
	log.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient, log.With().Str("component", "mqtt").Logger())
	err = mqttClient.Initialize(mqtt.Options{
		Broker:         config.MQTT.Broker,
		ClientID:       clientID,
		CACertPath:     config.MQTT.CACertificate,
		Username:       config.MQTT.Username,
		Password:       config.MQTT.Password,
		KeepAlive:      config.MQTT.KeepAlive,
		ConnectTimeout: config.MQTT.ConnectTimeout,
		MaxReconnect:   config.MQTT.MaxReconnect,
		WillTopic:      constants.DeviceTopic(hwid, constants.LeafStatus),
		WillPayload:    constants.StatusOffline,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize MQTT connection")
		return err
	}
	defer mqttClient.Disconnect(250)

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, fileClient, log)
	if err := serviceRegistry.RegisterServices(config, deviceInfo); err != nil {
		log.Error().Err(err).Msg("Failed to register services")
		return err
	}
	if err := serviceRegistry.StartServices(); err != nil {
		log.Error().Err(err).Msg("Failed to start services")
		return err
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stopCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Warn().Err(err).Msg("Some services did not stop cleanly")
	}
	return nil
}
