package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"
	"github.com/soapboxderby/derbynet-agent/internal/constants"
	mqtt_middleware "github.com/soapboxderby/derbynet-agent/internal/middlewares/mqtt"
	"github.com/soapboxderby/derbynet-agent/internal/models"
)

// RaceClockService broadcasts wall-clock time for the track scoreboards.
type RaceClockService struct {
	interval       time.Duration
	location       *time.Location
	mqttMiddleware mqtt_middleware.MQTTMiddleware
	logger         zerolog.Logger

	// Uptime returns the host uptime in seconds.
	Uptime func() (uint64, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRaceClockService creates the clock in the named timezone. An unknown
// zone falls back to local time.
func NewRaceClockService(interval time.Duration, timezone string,
	mqttMiddleware mqtt_middleware.MQTTMiddleware, logger zerolog.Logger) *RaceClockService {

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", timezone).Msg("Unknown timezone, using local time")
		loc = time.Local
	}

	return &RaceClockService{
		interval:       interval,
		location:       loc,
		mqttMiddleware: mqttMiddleware,
		logger:         logger,
		Uptime:         host.Uptime,
	}
}

// BuildRaceTime formats now in loc for the scoreboard clock.
func BuildRaceTime(now time.Time, loc *time.Location, uptime float64) models.RaceTime {
	local := now.In(loc)
	hour := local.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return models.RaceTime{
		Timestamp:   local.Unix(),
		Datetime:    local.Format("2006-01-02 15:04:05 MST"),
		ClockHour:   hour,
		ClockMinute: local.Minute(),
		ClockSecond: local.Second(),
		Uptime:      uptime,
	}
}

// Start begins broadcasting the clock.
func (r *RaceClockService) Start() error {
	if r.ctx != nil {
		r.logger.Warn().Msg("RaceClockService is already running")
		return errors.New("race clock service is already running")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()

	r.logger.Info().Str("topic", constants.RaceTimeTopic).Str("timezone", r.location.String()).
		Msg("RaceClockService started successfully")
	return nil
}

// Stop stops the broadcast.
func (r *RaceClockService) Stop() error {
	if r.ctx == nil {
		r.logger.Warn().Msg("RaceClockService is not running")
		return errors.New("race clock service is not running")
	}

	r.cancel()
	r.wg.Wait()
	r.ctx = nil
	r.cancel = nil

	r.logger.Info().Msg("RaceClockService stopped successfully")
	return nil
}

func (r *RaceClockService) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.tick(now)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *RaceClockService) tick(now time.Time) {
	var uptime float64
	if secs, err := r.Uptime(); err == nil {
		uptime = float64(secs)
	}

	data, err := json.Marshal(BuildRaceTime(now, r.location, uptime))
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to serialize race time")
		return
	}
	if err := r.mqttMiddleware.Publish(constants.RaceTimeTopic, 0, false, data); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to publish race time")
	}
}
