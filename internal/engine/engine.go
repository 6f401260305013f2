package engine

import (
	"sort"
	"time"

	"presenced/internal/clock"
)

// SensorSpec is the engine-facing view of a configured sensor: the
// single room it's assigned to (already normalized by the caller) and
// its absence delay.
type SensorSpec struct {
	Topic string
	Room  string
	Delay time.Duration
}

// SwitchSpec is the engine-facing view of a configured switch.
type SwitchSpec struct {
	Topic string
	Rooms []string
	Delay time.Duration
}

// Engine is the decision engine: it owns every piece of runtime state
// (sensor memory, switch memory, current room, active scene) and
// exposes one operation per inbound event kind. It never performs I/O;
// internal/loop drives it with timestamps from internal/clock and
// forwards the commands it returns to the bus.
type Engine struct {
	clock clock.Clock

	sensors    map[string]*SensorMemory // topic -> memory
	sensorRoom map[string]string        // topic -> room
	rooms      map[string]struct{}      // rooms that have at least one sensor

	switches      []*SwitchMemory
	switchByTopic map[string]*SwitchMemory

	currentRoom *string
	scene       SceneOverlay

	lookAhead            time.Duration
	currentRoomThreshold time.Duration
	maxSensorDelay       time.Duration
}

// New builds an Engine from its configured sensors and switches, in
// the order given (switch declaration order matters: commands are
// emitted in that order).
func New(sensors []SensorSpec, switches []SwitchSpec, clk clock.Clock) *Engine {
	e := &Engine{
		clock:         clk,
		sensors:       make(map[string]*SensorMemory, len(sensors)),
		sensorRoom:    make(map[string]string, len(sensors)),
		rooms:         make(map[string]struct{}),
		switchByTopic: make(map[string]*SwitchMemory, len(switches)),
		scene:         DefaultSceneOverlay(),
	}

	var minDelay, maxDelay time.Duration
	for i, s := range sensors {
		e.sensors[s.Topic] = &SensorMemory{Delay: s.Delay, State: SensorMemoryState{Kind: SensorUninitialized}}
		e.sensorRoom[s.Topic] = s.Room
		e.rooms[s.Room] = struct{}{}
		if i == 0 || s.Delay < minDelay {
			minDelay = s.Delay
		}
		if s.Delay > maxDelay {
			maxDelay = s.Delay
		}
	}
	e.lookAhead = minDelay
	e.currentRoomThreshold = minDelay / 2
	e.maxSensorDelay = maxDelay

	for _, sw := range switches {
		mem := &SwitchMemory{Topic: sw.Topic, Rooms: sw.Rooms, Delay: sw.Delay, State: SwitchUnknown}
		e.switches = append(e.switches, mem)
		e.switchByTopic[sw.Topic] = mem
	}

	return e
}

// LookAhead returns the derived look-ahead window: the minimum
// configured sensor delay.
func (e *Engine) LookAhead() time.Duration { return e.lookAhead }

// MaxSensorDelay returns the maximum configured sensor delay, used by
// the scheduler to time the one-shot takeover.
func (e *Engine) MaxSensorDelay() time.Duration { return e.maxSensorDelay }

// CurrentRoom returns the currently elected room, or "", false if
// none.
func (e *Engine) CurrentRoom() (string, bool) {
	if e.currentRoom == nil {
		return "", false
	}
	return *e.currentRoom, true
}

// HandleSensorEvent folds one (now, raw) reading into the named
// sensor's memory. Returns false if the topic is not a configured
// sensor; unknown topics are silently ignored, no state change.
func (e *Engine) HandleSensorEvent(now time.Time, topic string, raw RawState) bool {
	mem, ok := e.sensors[topic]
	if !ok {
		return false
	}
	mem.Apply(now, raw)
	return true
}

// HandleSwitchEcho updates a switch's last-known state from a bus
// echo on its report topic. Returns false for an unknown switch topic,
// which the caller should log and otherwise ignore.
func (e *Engine) HandleSwitchEcho(topic string, state SwitchMemoryState) bool {
	mem, ok := e.switchByTopic[topic]
	if !ok {
		return false
	}
	mem.ApplyEcho(state)
	return true
}

// ApplyScene installs a validated scene overlay. Callers must validate
// with ValidateSceneSets before calling this — Engine trusts its input
// and does not re-validate; scene-set validation happens once at
// config load, not on every scene switch.
func (e *Engine) ApplyScene(overlay SceneOverlay) {
	e.scene = overlay
}

// Takeover is the one-shot startup action: every sensor still
// Uninitialized becomes AbsentSince(now). Calling it twice has the
// same effect as calling it once, since a sensor already Present or
// AbsentSince is left untouched.
func (e *Engine) Takeover(now time.Time) {
	for _, mem := range e.sensors {
		if mem.State.Kind == SensorUninitialized {
			mem.State = SensorMemoryState{Kind: SensorAbsentSince, Since: now}
		}
	}
}

// roomNaiveStates computes every configured room's naive state with
// the given look-ahead applied, honoring the active scene's ignored
// sensors.
func (e *Engine) roomNaiveStates(lookAhead time.Duration) map[string]SensorMemoryNaiveState {
	perRoom := make(map[string][]SensorMemoryNaiveState, len(e.rooms))
	for topic, mem := range e.sensors {
		if e.scene.isIgnoredSensor(topic) {
			continue
		}
		room := e.sensorRoom[topic]
		elapsed := e.elapsedSinceAbsent(mem)
		perRoom[room] = append(perRoom[room], mem.NaiveState(elapsed, lookAhead))
	}

	result := make(map[string]SensorMemoryNaiveState, len(e.rooms))
	for room := range e.rooms {
		result[room] = AggregateRoom(perRoom[room])
	}
	return result
}

func (e *Engine) elapsedSinceAbsent(mem *SensorMemory) time.Duration {
	if mem.State.Kind != SensorAbsentSince {
		return 0
	}
	return e.clock.Since(mem.State.Since)
}

// TriggerCommands recomputes room states, re-runs the current-room
// tracker, and runs the planner: every event is processed to
// completion (state already updated by the caller via
// HandleSensorEvent/HandleSwitchEcho/Takeover/ApplyScene) -> current-
// room recomputation -> plan -> emit.
//
// ignoreCurrentState forces every switch with a defined desired state
// to be re-emitted; used on scene changes, where a scene that doesn't
// change a switch's desired state should still reassert it.
func (e *Engine) TriggerCommands(ignoreCurrentState bool) ([]Command, Trace) {
	lookAheadStates := e.roomNaiveStates(e.lookAhead)
	e.currentRoom = ElectCurrentRoom(lookAheadStates, e.currentRoom, e.currentRoomThreshold)

	plannerStates := e.roomNaiveStates(0)
	return Plan(PlanInput{
		Switches:           e.switches,
		RoomNaiveStates:    plannerStates,
		CurrentRoom:        e.currentRoom,
		Scene:              e.scene,
		IgnoreCurrentState: ignoreCurrentState,
	})
}

// RoomNames returns every room with at least one configured sensor, in
// sorted order. Exposed for diagnostics/testing.
func (e *Engine) RoomNames() []string {
	names := make([]string, 0, len(e.rooms))
	for r := range e.rooms {
		names = append(names, r)
	}
	sort.Strings(names)
	return names
}
