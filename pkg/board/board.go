package board

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

// Input is a single digital input.
type Input interface {
	Read() (bool, error)
}

// Board is the finish timer PCB: lane toggle, DIP switch, RGB LED and battery ADC.
type Board interface {
	Toggle() (bool, error)
	DIP() (string, error)
	SetLED(colour string) error
	BatteryRaw() (int, error)
}

// Pin is a sysfs GPIO line that has already been exported by the OS.
type Pin struct {
	path      string
	activeLow bool
	files     file.FileOperations
}

// NewPin returns the GPIO numbered n under basePath (usually /sys/class/gpio).
func NewPin(basePath string, n int, activeLow bool, files file.FileOperations) *Pin {
	return &Pin{
		path:      filepath.Join(basePath, fmt.Sprintf("gpio%d", n), "value"),
		activeLow: activeLow,
		files:     files,
	}
}

// Read returns the logical level of the pin.
func (p *Pin) Read() (bool, error) {
	raw, err := p.files.ReadFile(p.path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", p.path, err)
	}
	high := strings.TrimSpace(raw) == "1"
	return high != p.activeLow, nil
}

// Write drives the pin to the logical level on.
func (p *Pin) Write(on bool) error {
	high := on != p.activeLow
	value := "0"
	if high {
		value = "1"
	}
	if err := p.files.WriteFile(p.path, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.path, err)
	}
	return nil
}

// Config maps board functions to GPIO numbers.
type Config struct {
	BasePath    string
	TogglePin   int
	DIPPins     []int // most significant first
	RedPin      int
	GreenPin    int
	BluePin     int
	BatteryFile string // ADC raw value, e.g. an iio in_voltage0_raw file
}

// SysfsBoard drives the PCB through sysfs files.
type SysfsBoard struct {
	toggle           *Pin
	dip              []*Pin
	red, green, blue *Pin
	batteryFile      string
	files            file.FileOperations
}

// NewSysfsBoard creates a board. The toggle and DIP switches pull to ground
// when closed, so they are read active low.
func NewSysfsBoard(cfg Config, files file.FileOperations) *SysfsBoard {
	b := &SysfsBoard{
		toggle:      NewPin(cfg.BasePath, cfg.TogglePin, true, files),
		red:         NewPin(cfg.BasePath, cfg.RedPin, false, files),
		green:       NewPin(cfg.BasePath, cfg.GreenPin, false, files),
		blue:        NewPin(cfg.BasePath, cfg.BluePin, false, files),
		batteryFile: cfg.BatteryFile,
		files:       files,
	}
	for _, n := range cfg.DIPPins {
		b.dip = append(b.dip, NewPin(cfg.BasePath, n, true, files))
	}
	return b
}

// Toggle reports whether the lane toggle is switched on.
func (b *SysfsBoard) Toggle() (bool, error) {
	return b.toggle.Read()
}

// DIP returns the switch positions as a string of 0s and 1s.
func (b *SysfsBoard) DIP() (string, error) {
	var sb strings.Builder
	for _, pin := range b.dip {
		on, err := pin.Read()
		if err != nil {
			return "", err
		}
		if on {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String(), nil
}

// SetLED shows colour on the RGB LED. Unknown colours turn it off.
func (b *SysfsBoard) SetLED(colour string) error {
	r, g, bl := ColourBits(colour)
	if err := b.red.Write(r); err != nil {
		return err
	}
	if err := b.green.Write(g); err != nil {
		return err
	}
	return b.blue.Write(bl)
}

// BatteryRaw reads the battery ADC.
func (b *SysfsBoard) BatteryRaw() (int, error) {
	if b.batteryFile == "" {
		return 0, fmt.Errorf("no battery ADC configured")
	}
	raw, err := b.files.ReadFile(b.batteryFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read battery ADC: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid battery reading %q: %w", raw, err)
	}
	return v, nil
}
