package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"presenced/internal/engine"
)

// Loader reads and validates the deployment configuration file, in
// a read-then-unmarshal-then-log loader style.
type Loader struct {
	path   string
	logger *zap.Logger
}

// NewLoader creates a Loader for the JSON document at path.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{path: path, logger: logger}
}

// Load reads, parses, normalizes, and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	l.logger.Info("loading configuration", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var wire wireConfig
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := l.convert(wire)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	for _, warning := range Warnings(cfg) {
		l.logger.Warn(warning)
	}

	l.logger.Info("configuration loaded",
		zap.Int("sensors", len(cfg.Sensors)),
		zap.Int("switches", len(cfg.Switches)),
		zap.Int("scenes", len(cfg.Scenes)),
	)
	return cfg, nil
}

func (l *Loader) convert(wire wireConfig) *Config {
	controlTopic := wire.ControlTopic
	if controlTopic == "" {
		controlTopic = "control/lights/set"
	}
	cfg := &Config{
		Scenes:        make(map[string]Scene, len(wire.Scenes)),
		DefaultScene:  wire.DefaultScene,
		ControlTopic:  controlTopic,
		TakeoverGrace: time.Duration(wire.TakeoverGraceSeconds) * time.Second,
	}

	for _, ws := range wire.Sensors {
		room := ws.Room
		if room == "" && len(ws.Rooms) > 0 {
			room = ws.Rooms[0]
			l.logger.Warn("sensor has multiple rooms, normalizing to the first",
				zap.String("topic", ws.Topic),
				zap.Strings("rooms", ws.Rooms),
				zap.String("chosen_room", room),
			)
		}
		cfg.Sensors = append(cfg.Sensors, Sensor{
			Topic:       ws.Topic,
			Key:         ws.Key,
			InvertState: ws.InvertState,
			Room:        room,
			Delay:       time.Duration(ws.DelaySeconds) * time.Second,
		})
	}

	for _, wsw := range wire.Switches {
		cfg.Switches = append(cfg.Switches, Switch{
			Topic: wsw.Topic,
			Key:   wsw.Key,
			Rooms: wsw.Rooms,
			Delay: time.Duration(wsw.DelaySeconds) * time.Second,
			Command: CommandDescriptor{
				SetTopic:    wsw.Command.SetTopic,
				ReportTopic: wsw.Command.ReportTopic,
				OnString:    wsw.Command.OnString,
				OffString:   wsw.Command.OffString,
				InitCommand: wsw.Command.InitCommand,
				Template:    wsw.Command.Template,
			},
		})
	}

	for _, wsc := range wire.Scenes {
		brightness := uint8(255)
		if wsc.Brightness != nil {
			brightness = *wsc.Brightness
		}
		roomTracking := true
		if wsc.RoomTrackingEnabled != nil {
			roomTracking = *wsc.RoomTrackingEnabled
		}
		cfg.Scenes[wsc.Name] = Scene{
			Name:                wsc.Name,
			Brightness:          brightness,
			DisabledSwitches:    toSet(wsc.DisabledSwitches),
			EnabledSwitches:     toSet(wsc.EnabledSwitches),
			IgnoredSwitches:     toSet(wsc.IgnoredSwitches),
			IgnoredSensors:      toSet(wsc.IgnoredSensors),
			RoomTrackingEnabled: roomTracking,
		}
	}

	return cfg
}

// Validate enforces every fatal-at-load rule: non-empty sensor topics
// with non-negative delay, unique switch/report topics,
// pairwise-disjoint scene switch sets, and an existing default scene.
// Switch rooms with no matching sensor are a warning, not a failure —
// see Warnings.
func Validate(cfg *Config) error {
	seenSensorTopics := make(map[string]struct{}, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if s.Topic == "" {
			return fmt.Errorf("sensor has empty topic")
		}
		if s.Room == "" {
			return fmt.Errorf("sensor %q has no room", s.Topic)
		}
		if s.Delay < 0 {
			return fmt.Errorf("sensor %q has negative delay", s.Topic)
		}
		if _, dup := seenSensorTopics[s.Topic]; dup {
			return fmt.Errorf("sensor topic %q declared more than once", s.Topic)
		}
		seenSensorTopics[s.Topic] = struct{}{}
	}

	seenSwitchTopics := make(map[string]struct{}, len(cfg.Switches))
	seenReportTopics := make(map[string]struct{}, len(cfg.Switches))
	for _, sw := range cfg.Switches {
		if sw.Topic == "" {
			return fmt.Errorf("switch has empty topic")
		}
		if _, dup := seenSwitchTopics[sw.Topic]; dup {
			return fmt.Errorf("switch topic %q declared more than once", sw.Topic)
		}
		seenSwitchTopics[sw.Topic] = struct{}{}

		if sw.Command.ReportTopic != "" {
			if _, dup := seenReportTopics[sw.Command.ReportTopic]; dup {
				return fmt.Errorf("switch report topic %q declared more than once", sw.Command.ReportTopic)
			}
			seenReportTopics[sw.Command.ReportTopic] = struct{}{}
		}
	}

	for name, scene := range cfg.Scenes {
		if err := engine.ValidateSceneSets(scene.DisabledSwitches, scene.EnabledSwitches, scene.IgnoredSwitches); err != nil {
			return fmt.Errorf("scene %q: %w", name, err)
		}
	}

	if _, ok := cfg.Scenes[cfg.DefaultScene]; !ok {
		return fmt.Errorf("default_scene %q does not name a configured scene", cfg.DefaultScene)
	}

	return nil
}

// Warnings reports non-fatal configuration issues worth surfacing at
// load time: switch rooms with no sensor coverage yet.
func Warnings(cfg *Config) []string {
	knownRooms := make(map[string]struct{}, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		knownRooms[s.Room] = struct{}{}
	}

	var warnings []string
	for _, sw := range cfg.Switches {
		for _, room := range sw.Rooms {
			if _, ok := knownRooms[room]; !ok {
				warnings = append(warnings, fmt.Sprintf("switch %q references room %q with no configured sensor", sw.Topic, room))
			}
		}
	}
	return warnings
}
