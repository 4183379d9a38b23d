package utils_test

import (
	"testing"

	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroPad(t *testing.T) {
	cases := map[string]string{
		"7":      "0007",
		"42":     "0042",
		"1234":   "1234",
		"123456": "1234",
		"":       "0000",
		" 9 ":    "0009",
	}
	for in, want := range cases {
		assert.Equal(t, want, utils.ZeroPad(in, 4), "input %q", in)
	}
}

func TestToPayload(t *testing.T) {
	b, err := utils.ToPayload("online")
	require.NoError(t, err)
	assert.Equal(t, []byte("online"), b)

	b, err = utils.ToPayload([]byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)

	b, err = utils.ToPayload(map[string]int{"lane": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"lane":2}`, string(b))
}

func TestSliceToSet(t *testing.T) {
	set := utils.SliceToSet([]int{1, 2, 2, 4})
	assert.Len(t, set, 3)
	assert.Contains(t, set, 4)
}
