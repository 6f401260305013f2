package engine

import "time"

// SwitchMemory is the per-switch runtime record: its configured room
// membership, per-switch absence delay, and last-known on/off state as
// reported by bus echoes.
type SwitchMemory struct {
	Topic string
	Rooms []string
	Delay time.Duration
	State SwitchMemoryState
}

// ApplyEcho updates the switch's last-known state from a bus echo on
// its report topic. Echoes for unknown topics never reach here —
// callers look the switch up by topic first and silently drop the
// echo on a miss.
func (m *SwitchMemory) ApplyEcho(state SwitchMemoryState) {
	m.State = state
}
