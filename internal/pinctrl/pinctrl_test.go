package pinctrl

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGetAllOutput(t *testing.T) {
	sample := `
 0: ip    pu | hi // ID_SDA/GPIO0 = input
 1: ip    pu | hi // ID_SCL/GPIO1 = input
 2: no    pu | -- // GPIO2 = none
 4: ip    pn | lo // GPIO4 = input
17: op dh pn | hi // GPIO17 = output
22: op dh pd | hi // GPIO22 = output
23: op dl pn | lo // GPIO23 = output
27: op dh pu | hi // GPIO27 = output
`

	states, err := parseGetOutput(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, states, 8)

	assert.Equal(t, PinState{Pin: 17, Mode: "op", Pull: "pn", Drive: "dh", Level: "hi", Comment: "GPIO17 = output"}, states[17])
	assert.Equal(t, "--", states[2].Level)
	assert.Equal(t, "no", states[2].Mode)
	assert.Equal(t, "dl", states[23].Drive)
	assert.Equal(t, "lo", states[23].Level)
}

func TestParseLevelOutput(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"0", false},
		{"1", true},
		{"\n1\n", true},
		{"\n0\n", false},
	}
	for _, tc := range tests {
		result, err := parseLevelOutput(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, result, tc.input)
	}

	_, err := parseLevelOutput("x")
	assert.Error(t, err)
}

func TestSetPin_Args(t *testing.T) {
	var got []string
	orig := run
	run = func(combined bool, args ...string) ([]byte, error) {
		assert.True(t, combined)
		got = args
		return nil, nil
	}
	defer func() { run = orig }()

	require.NoError(t, SetPin(27, "op", "pn", DriveOption(false, true)))
	assert.Equal(t, []string{"set", "27", "op", "pn", "dl"}, got)
}

func TestReadLevel_Error(t *testing.T) {
	orig := run
	run = func(bool, ...string) ([]byte, error) { return nil, errors.New("not found") }
	defer func() { run = orig }()

	_, err := ReadLevel(17)
	assert.ErrorContains(t, err, "failed to read level for pin 17")
}

func TestDriveOption(t *testing.T) {
	assert.Equal(t, "dh", DriveOption(true, true))
	assert.Equal(t, "dl", DriveOption(true, false))
	assert.Equal(t, "dl", DriveOption(false, true))
	assert.Equal(t, "dh", DriveOption(false, false))
}

func TestReadPins(t *testing.T) {
	orig := run
	t.Cleanup(func() { run = orig })
	run = func(combined bool, args ...string) ([]byte, error) {
		assert.Equal(t, []string{"get"}, args)
		return []byte("17: op dh pn | hi // GPIO17 = output\n27: ip pu | hi // GPIO27 = input\n"), nil
	}

	states, err := ReadPins([]int{17, 27})
	require.NoError(t, err)
	assert.True(t, states[17].RelayOff(false))
	assert.False(t, states[17].RelayOff(true))
	assert.False(t, states[27].RelayOff(false), "input pin is not driven")

	states, err = ReadPins([]int{17, 5})
	assert.ErrorContains(t, err, "pins 5 not found")
	assert.Len(t, states, 1)
}
