package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/soapboxderby/derbynet-agent/internal/constants"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker         string        `yaml:"broker"`           // MQTT broker address
		ClientID       string        `yaml:"client_id"`        // MQTT client ID, defaults to the hwid
		UniqueClientID bool          `yaml:"unique_client_id"` // Append a UUID to the client ID
		CACertificate  string        `yaml:"ca_certificate"`   // Optional path to the CA certificate
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		KeepAlive      time.Duration `yaml:"keep_alive"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		MaxReconnect   time.Duration `yaml:"max_reconnect_interval"`
	} `yaml:"mqtt"`

	Identity struct {
		DeviceIDFile string `yaml:"device_id_file"` // Path to the hardware id file
		Role         string `yaml:"role"`           // coordinator, finishtimer or starttimer
	} `yaml:"identity"`

	Logging LoggingConfig `yaml:"logging"`

	DerbyNet struct {
		URL      string        `yaml:"url"` // action.php endpoint
		Role     string        `yaml:"role"`
		Password string        `yaml:"password"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"derbynet"`

	Services struct {
		OfflineQueue struct {
			Enabled       bool          `yaml:"enabled"`
			QueueDir      string        `yaml:"queue_dir"`
			DrainInterval time.Duration `yaml:"drain_interval"`
		} `yaml:"offline_queue"`

		Status struct {
			Enabled  bool          `yaml:"enabled"`
			Interval time.Duration `yaml:"interval"`
			QOS      int           `yaml:"qos"`
		} `yaml:"status"`

		Telemetry struct {
			Enabled  bool                   `yaml:"enabled"`
			Interval time.Duration          `yaml:"interval"`
			Timeout  time.Duration          `yaml:"timeout"`
			QOS      int                    `yaml:"qos"`
			Metrics  models.TelemetryConfig `yaml:"metrics"`
		} `yaml:"telemetry"`

		Coordinator struct {
			Enabled           bool          `yaml:"enabled"`
			QOS               int           `yaml:"qos"`
			PollInterval      time.Duration `yaml:"poll_interval"`
			LaneCount         int           `yaml:"lane_count"`
			HeartbeatWindow   time.Duration `yaml:"heartbeat_window"`
			HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
			StateFile         string        `yaml:"state_file"`
			Workers           int           `yaml:"workers"`
			StartButton       struct {
				Enabled      bool          `yaml:"enabled"`
				Pin          int           `yaml:"pin"`
				ActiveLow    bool          `yaml:"active_low"`
				PollInterval time.Duration `yaml:"poll_interval"`
			} `yaml:"start_button"`
		} `yaml:"coordinator"`

		LaneRelay struct {
			Enabled          bool   `yaml:"enabled"`
			QOS              int    `yaml:"qos"`
			MinDeviceVersion string `yaml:"min_device_version"`
		} `yaml:"lane_relay"`

		RaceClock struct {
			Enabled  bool          `yaml:"enabled"`
			Interval time.Duration `yaml:"interval"`
			Timezone string        `yaml:"timezone"`
		} `yaml:"race_clock"`

		StartTimer struct {
			Enabled      bool          `yaml:"enabled"`
			QOS          int           `yaml:"qos"`
			Pin          int           `yaml:"pin"`
			ActiveLow    bool          `yaml:"active_low"`
			PollInterval time.Duration `yaml:"poll_interval"`
		} `yaml:"start_timer"`

		FinishTimer struct {
			Enabled         bool          `yaml:"enabled"`
			QOS             int           `yaml:"qos"`
			WatchInterval   time.Duration `yaml:"watch_interval"`
			RefreshInterval time.Duration `yaml:"refresh_interval"`
			PostStep        time.Duration `yaml:"post_step"`
			GPIO            GPIOConfig    `yaml:"gpio"`
			Battery         BatteryConfig `yaml:"battery"`
			Display         struct {
				Port string `yaml:"port"` // empty disables the serial display
				Baud int    `yaml:"baud"`
			} `yaml:"display"`
		} `yaml:"finish_timer"`

		Update struct {
			Enabled          bool          `yaml:"enabled"`
			QOS              int           `yaml:"qos"`
			Script           string        `yaml:"script"`
			MaxExecutionTime time.Duration `yaml:"max_execution_time"`
			OutputSizeLimit  int           `yaml:"output_size_limit"`
		} `yaml:"update"`
	} `yaml:"services"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`         // json or console
	SyslogAddress string `yaml:"syslog_address"` // host:port, UDP
	SyslogTag     string `yaml:"syslog_tag"`
}

// GPIOConfig maps board functions to sysfs GPIO numbers.
type GPIOConfig struct {
	BasePath  string `yaml:"base_path"`
	TogglePin int    `yaml:"toggle_pin"`
	DIPPins   []int  `yaml:"dip_pins"` // most significant first
	LEDPins   struct {
		Red   int `yaml:"red"`
		Green int `yaml:"green"`
		Blue  int `yaml:"blue"`
	} `yaml:"led_pins"`
}

// BatteryConfig describes the ADC reading used for the battery gauge.
type BatteryConfig struct {
	File    string `yaml:"file"`
	MinRaw  int    `yaml:"min_raw"`
	MaxRaw  int    `yaml:"max_raw"`
	Samples int    `yaml:"samples"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", filename, err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60 * time.Second
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.MaxReconnect == 0 {
		c.MQTT.MaxReconnect = 5 * time.Minute
	}
	if c.Identity.DeviceIDFile == "" {
		c.Identity.DeviceIDFile = "/boot/firmware/derbyid.txt"
	}
	if c.Identity.Role == "" {
		c.Identity.Role = constants.RoleCoordinator
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.SyslogTag == "" {
		c.Logging.SyslogTag = "derbynet"
	}
	if c.DerbyNet.Role == "" {
		c.DerbyNet.Role = "Timer"
	}
	if c.DerbyNet.Timeout == 0 {
		c.DerbyNet.Timeout = 5 * time.Second
	}

	s := &c.Services
	if s.OfflineQueue.QueueDir == "" {
		s.OfflineQueue.QueueDir = "/var/lib/derbynet/queue"
	}
	if s.OfflineQueue.DrainInterval == 0 {
		s.OfflineQueue.DrainInterval = 5 * time.Second
	}
	if s.Status.Interval == 0 {
		s.Status.Interval = 60 * time.Second
	}
	if s.Status.QOS == 0 {
		s.Status.QOS = 1
	}
	if s.Telemetry.Interval == 0 {
		s.Telemetry.Interval = 2 * time.Second
	}
	if s.Telemetry.Timeout == 0 {
		s.Telemetry.Timeout = time.Second
	}
	if s.Telemetry.QOS == 0 {
		s.Telemetry.QOS = 1
	}
	if s.Coordinator.QOS == 0 {
		s.Coordinator.QOS = 1
	}
	if s.Coordinator.PollInterval == 0 {
		s.Coordinator.PollInterval = time.Second
	}
	if s.Coordinator.LaneCount == 0 {
		s.Coordinator.LaneCount = 4
	}
	if s.Coordinator.HeartbeatWindow == 0 {
		s.Coordinator.HeartbeatWindow = 90 * time.Second
	}
	if s.Coordinator.HeartbeatInterval == 0 {
		s.Coordinator.HeartbeatInterval = 5 * time.Second
	}
	if s.Coordinator.Workers == 0 {
		s.Coordinator.Workers = 2
	}
	if s.Coordinator.StartButton.PollInterval == 0 {
		s.Coordinator.StartButton.PollInterval = 20 * time.Millisecond
	}
	if s.LaneRelay.QOS == 0 {
		s.LaneRelay.QOS = 1
	}
	if s.RaceClock.Interval == 0 {
		s.RaceClock.Interval = 950 * time.Millisecond
	}
	if s.RaceClock.Timezone == "" {
		s.RaceClock.Timezone = "America/Edmonton"
	}
	if s.StartTimer.QOS == 0 {
		s.StartTimer.QOS = 1
	}
	if s.StartTimer.PollInterval == 0 {
		s.StartTimer.PollInterval = 100 * time.Millisecond
	}
	if s.FinishTimer.QOS == 0 {
		s.FinishTimer.QOS = 2
	}
	if s.FinishTimer.WatchInterval == 0 {
		s.FinishTimer.WatchInterval = 10 * time.Millisecond
	}
	if s.FinishTimer.RefreshInterval == 0 {
		s.FinishTimer.RefreshInterval = time.Second
	}
	if s.FinishTimer.GPIO.BasePath == "" {
		s.FinishTimer.GPIO.BasePath = "/sys/class/gpio"
	}
	if s.FinishTimer.Battery.MinRaw == 0 && s.FinishTimer.Battery.MaxRaw == 0 {
		s.FinishTimer.Battery.MinRaw = 1400
		s.FinishTimer.Battery.MaxRaw = 1865
	}
	if s.FinishTimer.Battery.Samples == 0 {
		s.FinishTimer.Battery.Samples = 5
	}
	if s.FinishTimer.Display.Baud == 0 {
		s.FinishTimer.Display.Baud = 9600
	}
	if s.Update.QOS == 0 {
		s.Update.QOS = 1
	}
	if s.Update.Script == "" {
		s.Update.Script = "/opt/derbynet/setup.sh"
	}
	if s.Update.MaxExecutionTime == 0 {
		s.Update.MaxExecutionTime = constants.DefaultMaxExecutionTime
	}
	if s.Update.OutputSizeLimit == 0 {
		s.Update.OutputSizeLimit = constants.DefaultOutputSizeLimit
	}
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.Services.Coordinator.Enabled && c.DerbyNet.URL == "" {
		errs = append(errs, errors.New("derbynet.url is required when the coordinator is enabled"))
	}
	if c.Services.FinishTimer.Enabled {
		if len(c.Services.FinishTimer.GPIO.DIPPins) != 4 {
			errs = append(errs, errors.New("services.finish_timer.gpio.dip_pins needs 4 pins"))
		}
		if c.Services.FinishTimer.Battery.MaxRaw <= c.Services.FinishTimer.Battery.MinRaw {
			errs = append(errs, errors.New("services.finish_timer.battery.max_raw must exceed min_raw"))
		}
	}
	for _, qos := range []int{c.Services.Status.QOS, c.Services.Telemetry.QOS, c.Services.Coordinator.QOS,
		c.Services.LaneRelay.QOS, c.Services.StartTimer.QOS, c.Services.FinishTimer.QOS, c.Services.Update.QOS} {
		if qos < 0 || qos > 2 {
			errs = append(errs, fmt.Errorf("qos %d out of range", qos))
		}
	}
	return errors.Join(errs...)
}
