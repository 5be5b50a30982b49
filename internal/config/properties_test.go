package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConf = `
; receiver configuration
GNSS-SDR.internal_fs_sps=31750000
Acquisition.coherent_integration_time_ms=1
Acquisition.max_dwells = 2   ; two tries
Acquisition.pfa=0.001
Acquisition.bit_transition_flag=false
# legacy comment style
Channel0.signal=1G
`

func TestParse(t *testing.T) {
	props, err := Parse(strings.NewReader(sampleConf))
	require.NoError(t, err)

	assert.Equal(t, "31750000", props["GNSS-SDR.internal_fs_sps"])
	assert.Equal(t, "2", props["Acquisition.max_dwells"])
	assert.Equal(t, "1G", props.String("Channel0.signal", ""))
	assert.Len(t, props, 6)
}

func TestParseMissingEquals(t *testing.T) {
	_, err := Parse(strings.NewReader("Acquisition.pfa 0.01\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestTypedGetters(t *testing.T) {
	props := Properties{
		"a.int":     "42",
		"a.intf":    "3.0",
		"a.float":   "1e-3",
		"a.bool":    "true",
		"a.bad":     "abc",
		"a.frac":    "2.5",
		"a.spacing": "  7 ",
	}

	n, err := props.Int("a.int", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = props.Int("a.intf", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = props.Int("a.spacing", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = props.Int("missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	_, err = props.Int("a.frac", 0)
	assert.Error(t, err)

	f, err := props.Float("a.float", 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, f, 1e-12)

	b, err := props.Bool("a.bool", false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = props.Bool("a.bad", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "property a.bad")

	_, err = props.Float("a.bad", 0)
	assert.Error(t, err)
}

func TestSub(t *testing.T) {
	props := Properties{
		"Channel0.prn":    "10",
		"Channel0.signal": "1G",
		"Channel1.prn":    "3",
	}
	sub := props.Sub("Channel0")
	assert.Equal(t, Properties{"prn": "10", "signal": "1G"}, sub)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acq.yaml")
	doc := `
GNSS-SDR:
  internal_fs_sps: 2046000
Acquisition:
  doppler_max: 5000
  doppler_step: 250
  bit_transition_flag: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	props, err := Load(path)
	require.NoError(t, err)

	fs, err := props.Float("GNSS-SDR.internal_fs_sps", 0)
	require.NoError(t, err)
	assert.Equal(t, 2046000.0, fs)

	flag, err := props.Bool("Acquisition.bit_transition_flag", false)
	require.NoError(t, err)
	assert.True(t, flag)
	assert.Equal(t, "250", props["Acquisition.doppler_step"])
}

func TestLoadConfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receiver.conf")
	require.NoError(t, os.WriteFile(path, []byte(sampleConf), 0o644))

	props, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.001", props["Acquisition.pfa"])

	_, err = Load(filepath.Join(dir, "missing.conf"))
	assert.Error(t, err)
}
