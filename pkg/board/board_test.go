package board_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/soapboxderby/derbynet-agent/pkg/board"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs lays out gpioN/value files under a temp dir.
func fakeSysfs(t *testing.T, values map[int]string) string {
	t.Helper()
	base := t.TempDir()
	for n, v := range values {
		dir := filepath.Join(base, "gpio"+strconv.Itoa(n))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "value"), []byte(v+"\n"), 0o644))
	}
	return base
}

func readValue(t *testing.T, base string, n int) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(base, "gpio"+strconv.Itoa(n), "value"))
	require.NoError(t, err)
	return string(data)
}

func TestSysfsBoard_Inputs(t *testing.T) {
	// toggle 17 is active low: 0 means switched on. DIP 1000 -> pins low,high,high,high.
	base := fakeSysfs(t, map[int]string{17: "0", 21: "0", 22: "1", 23: "1", 24: "1"})
	b := board.NewSysfsBoard(board.Config{BasePath: base, TogglePin: 17, DIPPins: []int{21, 22, 23, 24}}, file.NewFileService())

	on, err := b.Toggle()
	require.NoError(t, err)
	assert.True(t, on)

	dip, err := b.DIP()
	require.NoError(t, err)
	assert.Equal(t, "1000", dip)
	assert.Equal(t, 1, board.DecodeLane(dip))
}

func TestSysfsBoard_SetLED(t *testing.T) {
	base := fakeSysfs(t, map[int]string{10: "0", 11: "0", 12: "0"})
	b := board.NewSysfsBoard(board.Config{BasePath: base, RedPin: 10, GreenPin: 11, BluePin: 12}, file.NewFileService())

	require.NoError(t, b.SetLED("purple"))
	assert.Equal(t, "1", readValue(t, base, 10))
	assert.Equal(t, "0", readValue(t, base, 11))
	assert.Equal(t, "1", readValue(t, base, 12))

	require.NoError(t, b.SetLED("nonsense"))
	assert.Equal(t, "0", readValue(t, base, 10))
	assert.Equal(t, "0", readValue(t, base, 12))
}

func TestSysfsBoard_Battery(t *testing.T) {
	adc := filepath.Join(t.TempDir(), "in_voltage0_raw")
	require.NoError(t, os.WriteFile(adc, []byte("1632\n"), 0o644))
	b := board.NewSysfsBoard(board.Config{BatteryFile: adc}, file.NewFileService())

	raw, err := b.BatteryRaw()
	require.NoError(t, err)
	assert.Equal(t, 1632, raw)
	assert.InDelta(t, 49.89, board.BatteryPercent(raw, 1400, 1865), 0.01)

	_, err = board.NewSysfsBoard(board.Config{}, file.NewFileService()).BatteryRaw()
	assert.Error(t, err)
}

func TestSysfsBoard_MissingPin(t *testing.T) {
	b := board.NewSysfsBoard(board.Config{BasePath: t.TempDir(), TogglePin: 5}, file.NewFileService())
	_, err := b.Toggle()
	assert.Error(t, err)
}

func TestDecodeLane(t *testing.T) {
	assert.Equal(t, 1, board.DecodeLane("1000"))
	assert.Equal(t, 2, board.DecodeLane("1001"))
	assert.Equal(t, 3, board.DecodeLane("1010"))
	assert.Equal(t, 4, board.DecodeLane("1011"))
	assert.Equal(t, 0, board.DecodeLane("0000"))
	assert.Equal(t, 0, board.DecodeLane("1100"))
	assert.Equal(t, 0, board.DecodeLane(""))
}

func TestBatteryPercentClamps(t *testing.T) {
	assert.Equal(t, 0.0, board.BatteryPercent(1000, 1400, 1865))
	assert.Equal(t, 100.0, board.BatteryPercent(2000, 1400, 1865))
	assert.Equal(t, 0.0, board.BatteryPercent(1500, 1865, 1400))
}

func TestColourBits(t *testing.T) {
	r, g, b := board.ColourBits("yellow")
	assert.Equal(t, []bool{true, true, false}, []bool{r, g, b})
	r, g, b = board.ColourBits("white")
	assert.Equal(t, []bool{true, true, true}, []bool{r, g, b})
}
