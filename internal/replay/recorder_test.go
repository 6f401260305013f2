package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenced/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Sensors: []config.Sensor{
			{Topic: "home/M1", Key: "occupancy", Room: "R1", Delay: 10 * time.Second},
			{Topic: "home/M2", Key: "occupancy", InvertState: true, Room: "R2", Delay: 10 * time.Second},
		},
		Switches: []config.Switch{
			{Topic: "home/L1", Key: "power", Rooms: []string{"R1"}},
		},
		ControlTopic: "home/control",
	}
}

func TestRecorderWritesFrozenConfigAndScript(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "replay.sh")
	configPath := filepath.Join(dir, "config.json")

	r, err := New(scriptPath, configPath, testConfig(), "localhost", "user", "pw")
	require.NoError(t, err)
	defer r.Close()

	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)
	var decoded config.Config
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded.Sensors, 2)

	info, err := os.Stat(scriptPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestRecorderSensorPayloadRespectsInvertState(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "replay.sh"), filepath.Join(dir, "config.json"), testConfig(), "h", "u", "p")
	require.NoError(t, err)
	defer r.Close()

	t0 := time.Unix(0, 0)
	r.RecordSensor(t0, "home/M2", true)
	r.Close()

	body, err := os.ReadFile(filepath.Join(dir, "replay.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(body), `\"occupancy\":false`, "M2 is inverted so a raw true should record as decoded false")
}

func TestRecorderSleepLineReflectsGapBetweenEvents(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "replay.sh"), filepath.Join(dir, "config.json"), testConfig(), "h", "u", "p")
	require.NoError(t, err)

	t0 := time.Unix(0, 0)
	r.RecordSensor(t0, "home/M1", true)
	r.RecordSensor(t0.Add(7*time.Second), "home/M1", false)
	r.Close()

	body, err := os.ReadFile(filepath.Join(dir, "replay.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "sleep 7")
}

func TestRecordSwitchUsesSwitchConfiguredKey(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "replay.sh"), filepath.Join(dir, "config.json"), testConfig(), "h", "u", "p")
	require.NoError(t, err)

	t0 := time.Unix(0, 0)
	r.RecordSwitch(t0, "home/L1", true)
	r.Close()

	body, err := os.ReadFile(filepath.Join(dir, "replay.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(body), `\"power\":true`, "home/L1 is configured with key power, not state")
}

func TestRecordSceneUsesControlTopic(t *testing.T) {
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "replay.sh"), filepath.Join(dir, "config.json"), testConfig(), "h", "u", "p")
	require.NoError(t, err)

	r.RecordScene("night")
	r.Close()

	body, err := os.ReadFile(filepath.Join(dir, "replay.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(body), `publish "home/control" "{\"scene\":\"night\"}"`)
}
