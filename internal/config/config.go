// Package config loads and validates the single JSON document that
// describes a presenced deployment: sensors, switches, scenes, and the
// handful of top-level knobs (default scene, control topic, takeover
// grace period).
package config

import (
	"time"
)

// Sensor is a configured presence/contact sensor.
type Sensor struct {
	Topic       string
	Key         string
	InvertState bool
	Room        string
	Delay       time.Duration
}

// CommandDescriptor describes how to publish a switch command: which
// topics to use, the on/off payload literals, an optional one-shot
// init command, and the render template for the outbound payload.
type CommandDescriptor struct {
	SetTopic    string
	ReportTopic string
	OnString    string
	OffString   string
	InitCommand string
	Template    string
}

// Switch is a configured controllable switch.
type Switch struct {
	Topic   string
	Key     string
	Rooms   []string
	Delay   time.Duration
	Command CommandDescriptor
}

// Scene is a named overlay a control message can activate.
type Scene struct {
	Name                string
	Brightness          uint8
	DisabledSwitches    map[string]struct{}
	EnabledSwitches     map[string]struct{}
	IgnoredSwitches     map[string]struct{}
	IgnoredSensors      map[string]struct{}
	RoomTrackingEnabled bool
}

// Config is the fully parsed, validated deployment configuration.
type Config struct {
	Sensors       []Sensor
	Switches      []Switch
	Scenes        map[string]Scene
	DefaultScene  string
	ControlTopic  string
	TakeoverGrace time.Duration
}
