package display

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Frame is one screen of the four digit lane display.
type Frame struct {
	Text       string `json:"text"`
	Brightness int    `json:"brightness"` // 0..7
}

// Display shows frames to the racers.
type Display interface {
	Show(f Frame) error
	Close() error
}

// SerialDisplay drives a display controller over a UART. Each frame is sent
// as "B<brightness> <text>\n".
type SerialDisplay struct {
	mu   sync.Mutex
	port io.WriteCloser
	last Frame
	sent bool
}

// OpenSerial opens the display controller on port.
func OpenSerial(port string, baud int) (*SerialDisplay, error) {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud, ReadTimeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open display port %s: %w", port, err)
	}
	return NewWriterDisplay(p), nil
}

// NewWriterDisplay wraps an already open writer.
func NewWriterDisplay(w io.WriteCloser) *SerialDisplay {
	return &SerialDisplay{port: w}
}

// Show sends f unless it is already on screen.
func (d *SerialDisplay) Show(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sent && f == d.last {
		return nil
	}
	if _, err := fmt.Fprintf(d.port, "B%d %s\n", clamp(f.Brightness), f.Text); err != nil {
		return fmt.Errorf("failed to write display frame: %w", err)
	}
	d.last = f
	d.sent = true
	return nil
}

// Close releases the port.
func (d *SerialDisplay) Close() error {
	return d.port.Close()
}

// Discard is a display for boards without one.
type Discard struct{}

func (Discard) Show(Frame) error { return nil }
func (Discard) Close() error     { return nil }

func clamp(b int) int {
	switch {
	case b < 0:
		return 0
	case b > 7:
		return 7
	default:
		return b
	}
}
