package engine

import "fmt"

// SceneOverlay is the active scene's effect on the planner:
// forced-on/forced-off/ignored switch sets, sensors to treat as
// nonexistent, brightness, and whether current-room tracking keeps a
// switch on.
type SceneOverlay struct {
	Name                string
	Brightness          uint8
	DisabledSwitches    map[string]struct{}
	EnabledSwitches     map[string]struct{}
	IgnoredSwitches     map[string]struct{}
	IgnoredSensors      map[string]struct{}
	RoomTrackingEnabled bool
}

// DefaultSceneOverlay is the overlay in effect before any scene change
// has been applied: no overrides, brightness 255, room tracking on.
func DefaultSceneOverlay() SceneOverlay {
	return SceneOverlay{
		Name:                "default",
		Brightness:          255,
		DisabledSwitches:    map[string]struct{}{},
		EnabledSwitches:     map[string]struct{}{},
		IgnoredSwitches:     map[string]struct{}{},
		IgnoredSensors:      map[string]struct{}{},
		RoomTrackingEnabled: true,
	}
}

// ValidateSceneSets enforces the invariant that a scene's three switch
// sets (disabled, enabled, ignored) are pairwise disjoint.
func ValidateSceneSets(disabled, enabled, ignored map[string]struct{}) error {
	check := func(aName string, a map[string]struct{}, bName string, b map[string]struct{}) error {
		for topic := range a {
			if _, ok := b[topic]; ok {
				return fmt.Errorf("switch %q is in both %s and %s", topic, aName, bName)
			}
		}
		return nil
	}
	if err := check("disabled_switches", disabled, "enabled_switches", enabled); err != nil {
		return err
	}
	if err := check("disabled_switches", disabled, "ignored_switches", ignored); err != nil {
		return err
	}
	if err := check("enabled_switches", enabled, "ignored_switches", ignored); err != nil {
		return err
	}
	return nil
}

func (s SceneOverlay) isIgnoredSensor(topic string) bool {
	_, ok := s.IgnoredSensors[topic]
	return ok
}
