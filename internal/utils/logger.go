package utils

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger from the logging section. The returned
// closer releases the syslog connection when one was opened.
func NewLogger(cfg LoggingConfig, out io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if out == nil {
		out = os.Stdout
	}

	var primary io.Writer = out
	if cfg.Format == "console" {
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var closer io.Closer
	writer := primary
	if cfg.SyslogAddress != "" {
		sw, err := syslog.Dial("udp", cfg.SyslogAddress, syslog.LOG_INFO|syslog.LOG_LOCAL0, cfg.SyslogTag)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to connect to syslog %s: %w", cfg.SyslogAddress, err)
		}
		closer = sw
		writer = zerolog.MultiLevelWriter(primary, zerolog.SyslogLevelWriter(sw))
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}
