package engine

// Command is an outbound switch command: turn topic to the desired
// on/off state at the scene's current brightness.
type Command struct {
	Topic      string
	Desired    SwitchMemoryState
	Brightness uint8
}

// TraceEntry records, for one switch considered by a single planner
// run, which branch decided its outcome. Pure observability — it has
// no effect on the emitted commands.
type TraceEntry struct {
	Topic   string
	Branch  string // "disabled" | "enabled" | "ignored" | "current-room" | "room-state" | "no-desired"
	Room    string // the room that decided it, if any
	Emitted bool
}

// Trace is the full per-switch decision trace of one planner run.
type Trace struct {
	Entries []TraceEntry
}

// PlanInput bundles everything the planner needs for one invocation.
type PlanInput struct {
	Switches           []*SwitchMemory
	RoomNaiveStates    map[string]SensorMemoryNaiveState // look_ahead == 0
	CurrentRoom        *string
	Scene              SceneOverlay
	IgnoreCurrentState bool
}

// Plan runs the command planner once and returns the minimal set of
// switch commands needed to reconcile actual to desired state (or
// every switch's desired command, in declaration order, when
// IgnoreCurrentState is set — used on scene changes, so a scene that
// leaves a switch's desired state unchanged still reasserts it). The
// returned trace always covers every configured switch, emitted or
// not.
func Plan(in PlanInput) ([]Command, Trace) {
	var commands []Command
	trace := Trace{Entries: make([]TraceEntry, 0, len(in.Switches))}
	seen := make(map[string]struct{}, len(in.Switches))

	for _, sw := range in.Switches {
		if _, dup := seen[sw.Topic]; dup {
			continue // never emit twice for the same topic in one invocation
		}
		seen[sw.Topic] = struct{}{}

		entry := TraceEntry{Topic: sw.Topic}
		desired, ok := SwitchUnknown, false

		switch {
		case in.Scene.inSet(in.Scene.DisabledSwitches, sw.Topic):
			desired, ok = SwitchOff, true
			entry.Branch = "disabled"
		case in.Scene.inSet(in.Scene.EnabledSwitches, sw.Topic):
			desired, ok = SwitchOn, true
			entry.Branch = "enabled"
		case in.Scene.inSet(in.Scene.IgnoredSwitches, sw.Topic):
			entry.Branch = "ignored"
			trace.Entries = append(trace.Entries, entry)
			continue
		default:
			desired, ok, entry.Room, entry.Branch = planRooms(sw, in)
		}

		if !ok {
			entry.Branch = orDefault(entry.Branch, "no-desired")
			trace.Entries = append(trace.Entries, entry)
			continue
		}

		if desired != sw.State || in.IgnoreCurrentState {
			commands = append(commands, Command{Topic: sw.Topic, Desired: desired, Brightness: in.Scene.Brightness})
			entry.Emitted = true
		}
		trace.Entries = append(trace.Entries, entry)
	}

	return commands, trace
}

// planRooms iterates the switch's rooms in declaration order, stopping
// at the first one that yields a desired state.
func planRooms(sw *SwitchMemory, in PlanInput) (SwitchMemoryState, bool, string, string) {
	for _, room := range sw.Rooms {
		if in.CurrentRoom != nil && room == *in.CurrentRoom && in.Scene.RoomTrackingEnabled {
			return SwitchOn, true, room, "current-room"
		}

		naive, known := in.RoomNaiveStates[room]
		if !known {
			naive = Uninitialized // missing room: treat as Uninitialized
		}

		switch naive.Kind {
		case NaivePresent:
			return SwitchOn, true, room, "room-state"
		case NaiveAbsentSince:
			if naive.Duration > sw.Delay {
				return SwitchOff, true, room, "room-state"
			}
			return SwitchOn, true, room, "room-state"
		default: // Uninitialized: examine next room
			continue
		}
	}
	return SwitchUnknown, false, "", ""
}

func (s SceneOverlay) inSet(set map[string]struct{}, topic string) bool {
	_, ok := set[topic]
	return ok
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
