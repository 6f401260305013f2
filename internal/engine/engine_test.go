package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenced/internal/clock"
)

func newTestEngine(mc *clock.MockClock, sensors []SensorSpec, switches []SwitchSpec) *Engine {
	return New(sensors, switches, mc)
}

// TestScenarioFirstPresence covers first-presence switch activation.
func TestScenarioFirstPresence(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{{Topic: "M1", Room: "R1", Delay: 10 * time.Second}},
		[]SwitchSpec{{Topic: "L1", Rooms: []string{"R1"}, Delay: 0}},
	)

	require.True(t, e.HandleSensorEvent(t0, "M1", RawPresent))
	cmds, _ := e.TriggerCommands(false)

	require.Len(t, cmds, 1)
	assert.Equal(t, Command{Topic: "L1", Desired: SwitchOn, Brightness: 255}, cmds[0])
}

// TestScenarioAbsenceWithinDelay covers absence that has not yet cleared delay.
func TestScenarioAbsenceWithinDelay(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{{Topic: "M1", Room: "R1", Delay: 10 * time.Second}},
		[]SwitchSpec{{Topic: "L1", Rooms: []string{"R1"}, Delay: 0}},
	)

	e.HandleSensorEvent(t0, "M1", RawPresent)
	e.TriggerCommands(false)
	e.HandleSwitchEcho("L1", SwitchOn) // feedback confirms L1 turned on

	mc.Advance(5 * time.Second)
	e.HandleSensorEvent(mc.Now(), "M1", RawAbsent)
	cmds, _ := e.TriggerCommands(false)

	assert.Empty(t, cmds, "elapsed=0 < delay=10 keeps the room Present, no command")
}

// TestScenarioAbsenceBeyondDelay covers absence past the configured delay.
func TestScenarioAbsenceBeyondDelay(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{{Topic: "M1", Room: "R1", Delay: 10 * time.Second}},
		[]SwitchSpec{{Topic: "L1", Rooms: []string{"R1"}, Delay: 0}},
	)

	e.HandleSensorEvent(t0, "M1", RawPresent)
	e.TriggerCommands(false)
	e.HandleSwitchEcho("L1", SwitchOn)

	mc.Advance(5 * time.Second)
	e.HandleSensorEvent(mc.Now(), "M1", RawAbsent)
	e.TriggerCommands(false)

	mc.Advance(10 * time.Second) // now t=15, elapsed since absence = 10
	cmds, _ := e.TriggerCommands(false)
	assert.Empty(t, cmds, "d=0 is not > per-switch delay 0, desired stays On")

	mc.Advance(1 * time.Second) // now t=16, elapsed since absence = 11
	cmds, _ = e.TriggerCommands(false)
	require.Len(t, cmds, 1)
	assert.Equal(t, Command{Topic: "L1", Desired: SwitchOff, Brightness: 255}, cmds[0])
}

// TestScenarioCurrentRoomHysteresis covers the current-room hysteresis threshold.
func TestScenarioCurrentRoomHysteresis(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{
			{Topic: "M1", Room: "R1", Delay: 10 * time.Second},
			{Topic: "M2", Room: "R2", Delay: 10 * time.Second},
		},
		nil,
	)

	e.HandleSensorEvent(t0, "M1", RawPresent)
	e.TriggerCommands(false)
	room, ok := e.CurrentRoom()
	require.True(t, ok)
	assert.Equal(t, "R1", room)

	e.HandleSensorEvent(t0, "M2", RawPresent)
	e.TriggerCommands(false)
	room, ok = e.CurrentRoom()
	require.True(t, ok)
	assert.Equal(t, "R1", room, "both rooms present keeps current unchanged")

	mc.Set(time.Unix(20, 0))
	e.HandleSensorEvent(mc.Now(), "M1", RawAbsent)

	mc.Set(time.Unix(25, 0))
	e.HandleSensorEvent(mc.Now(), "M2", RawAbsent)
	e.TriggerCommands(false)
	room, ok = e.CurrentRoom()
	require.True(t, ok)
	assert.Equal(t, "R1", room, "current room's absence (5s) has not yet exceeded the 5s threshold")

	mc.Set(time.Unix(30, 0))
	e.TriggerCommands(false)
	room, ok = e.CurrentRoom()
	require.True(t, ok)
	assert.Equal(t, "R2", room, "current room's absence (10s) now exceeds the threshold")
}

// TestScenarioSceneOverride covers a scene forcing a switch off.
func TestScenarioSceneOverride(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{{Topic: "M1", Room: "R1", Delay: 10 * time.Second}},
		[]SwitchSpec{{Topic: "L1", Rooms: []string{"R1"}, Delay: 0}},
	)

	e.HandleSensorEvent(t0, "M1", RawPresent)

	night := DefaultSceneOverlay()
	night.Name = "night"
	night.DisabledSwitches = map[string]struct{}{"L1": {}}
	require.NoError(t, ValidateSceneSets(night.DisabledSwitches, night.EnabledSwitches, night.IgnoredSwitches))
	e.ApplyScene(night)

	cmds, _ := e.TriggerCommands(true)
	require.Len(t, cmds, 1)
	assert.Equal(t, Command{Topic: "L1", Desired: SwitchOff, Brightness: 255}, cmds[0])
}

// TestScenarioTakeover: Takeover itself only backdates the sensor to
// AbsentSince(takeover-instant); the Off command follows once the
// next periodic Tick re-runs the planner and the projected duration
// clears the switch's own (zero) delay.
func TestScenarioTakeover(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{{Topic: "M1", Room: "R1", Delay: 0}},
		[]SwitchSpec{{Topic: "L1", Rooms: []string{"R1"}, Delay: 0}},
	)

	mc.Set(time.Unix(20, 0)) // max_sensor_delay+grace elapsed, never heard from M1
	e.Takeover(mc.Now())

	mc.Advance(3 * time.Second) // next periodic Tick
	cmds, _ := e.TriggerCommands(false)

	require.Len(t, cmds, 1)
	assert.Equal(t, Command{Topic: "L1", Desired: SwitchOff, Brightness: 255}, cmds[0])
}

// TestTakeoverIdempotent: calling Takeover twice has the same effect
// as calling it once.
func TestTakeoverIdempotent(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{{Topic: "M1", Room: "R1", Delay: 10 * time.Second}},
		nil,
	)

	e.HandleSensorEvent(t0, "M1", RawPresent)
	before := e.sensors["M1"].State

	e.Takeover(t0.Add(time.Hour))
	afterFirst := e.sensors["M1"].State
	assert.Equal(t, before, afterFirst, "takeover must not touch a sensor that already reported")

	e.Takeover(t0.Add(2 * time.Hour))
	afterSecond := e.sensors["M1"].State
	assert.Equal(t, afterFirst, afterSecond)
}

func TestTakeoverConvertsOnlyUninitializedSensors(t *testing.T) {
	t0 := time.Unix(0, 0)
	mc := clock.NewMockClock(t0)
	e := newTestEngine(mc,
		[]SensorSpec{
			{Topic: "M1", Room: "R1", Delay: 10 * time.Second},
			{Topic: "M2", Room: "R2", Delay: 10 * time.Second},
		},
		nil,
	)

	e.HandleSensorEvent(t0, "M1", RawPresent)

	takeoverAt := t0.Add(20 * time.Second)
	e.Takeover(takeoverAt)

	assert.Equal(t, SensorMemoryState{Kind: SensorPresent}, e.sensors["M1"].State)
	assert.Equal(t, SensorMemoryState{Kind: SensorAbsentSince, Since: takeoverAt}, e.sensors["M2"].State)
}

func TestHandleSensorEventUnknownTopicIgnored(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	e := newTestEngine(mc, nil, nil)
	assert.False(t, e.HandleSensorEvent(mc.Now(), "unknown", RawPresent))
}

func TestHandleSwitchEchoUnknownTopicIgnored(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	e := newTestEngine(mc, nil, nil)
	assert.False(t, e.HandleSwitchEcho("unknown", SwitchOn))
}

func TestRoomNamesSorted(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	e := newTestEngine(mc,
		[]SensorSpec{
			{Topic: "M2", Room: "Zebra", Delay: time.Second},
			{Topic: "M1", Room: "Alpha", Delay: time.Second},
		},
		nil,
	)
	assert.Equal(t, []string{"Alpha", "Zebra"}, e.RoomNames())
}
