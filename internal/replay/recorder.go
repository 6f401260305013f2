// Package replay writes every inbound event presenced sees to a
// standalone bash script, alongside a JSON snapshot of the configuration
// in effect, so a run can be reproduced later against
// mosquitto_pub without presenced itself running. Grounded on
// mrVanDalo/light-control's Replay (original_source/src/replay.rs):
// same two-file shape (frozen config + script of timestamped
// publishes), adapted from Rust's Instant/File plumbing to Go's
// os.File and time.Time.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"presenced/internal/config"
)

// Recorder appends a publish line to the replay script for every
// event it records. Sensor and switch events are prefixed by a sleep
// of the whole seconds since the previous sensor or switch event (none
// before the first); scene changes carry no instant, are written
// without a sleep line, and do not move that reference point. It
// satisfies internal/loop's Recorder interface.
type Recorder struct {
	script       *os.File
	last         time.Time
	sensorKey    map[string]string // sensor topic -> decode key
	sensorInv    map[string]bool   // sensor topic -> invert_state
	switchKey    map[string]string // switch topic -> decode key
	controlTopic string
}

// New creates the replay script at scriptPath and writes cfg to
// configPath as a JSON encoding of the in-memory Config (Go field
// names, durations in nanoseconds, scenes keyed by name); that
// snapshot is not in the on-disk format config.Loader reads and cannot
// be loaded back by it. brokerHost/user/password are baked into the
// script's publish() helper, matching the original tool's mosquitto_pub
// invocation.
func New(scriptPath, configPath string, cfg *config.Config, brokerHost, brokerUser, brokerPassword string) (*Recorder, error) {
	configFile, err := os.Create(configPath)
	if err != nil {
		return nil, fmt.Errorf("replay: create config snapshot: %w", err)
	}
	defer configFile.Close()
	enc := json.NewEncoder(configFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("replay: write config snapshot: %w", err)
	}

	script, err := os.Create(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("replay: create script: %w", err)
	}
	if err := os.Chmod(scriptPath, 0o755); err != nil {
		script.Close()
		return nil, fmt.Errorf("replay: chmod script: %w", err)
	}

	fmt.Fprintf(script, "#!/usr/bin/env bash\n")
	fmt.Fprintf(script, "# replay script for configuration %s\n", configPath)
	fmt.Fprintf(script, "\nfunction publish(){\n  mosquitto_pub -h %s -u %s -P %s -t \"$1\" -m \"$2\"\n}\n\n", brokerHost, brokerUser, brokerPassword)

	sensorKey := make(map[string]string, len(cfg.Sensors))
	sensorInv := make(map[string]bool, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		sensorKey[s.Topic] = s.Key
		sensorInv[s.Topic] = s.InvertState
	}

	switchKey := make(map[string]string, len(cfg.Switches))
	for _, sw := range cfg.Switches {
		switchKey[sw.Topic] = sw.Key
	}

	return &Recorder{
		script:       script,
		last:         time.Time{},
		sensorKey:    sensorKey,
		sensorInv:    sensorInv,
		switchKey:    switchKey,
		controlTopic: cfg.ControlTopic,
	}, nil
}

// Close flushes and closes the underlying script file.
func (r *Recorder) Close() error {
	return r.script.Close()
}

func (r *Recorder) sleepLine(at time.Time) {
	if !r.last.IsZero() {
		gap := at.Sub(r.last)
		if gap < 0 {
			gap = 0
		}
		fmt.Fprintf(r.script, "sleep %d\n", int64(gap.Seconds()))
	}
	r.last = at
}

func (r *Recorder) publishLine(topic, payload string) {
	fmt.Fprintf(r.script, "publish %q %q\n", topic, payload)
}

// RecordSensor appends a publish for a raw sensor reading, encoded the
// way the real payload would have been: a flat JSON object with the
// sensor's configured key, inverted if the sensor is configured that
// way (so replaying it reproduces the same decoded state).
func (r *Recorder) RecordSensor(instant time.Time, topic string, on bool) {
	value := on
	if r.sensorInv[topic] {
		value = !value
	}
	key := r.sensorKey[topic]
	if key == "" {
		key = "state"
	}
	payload, _ := json.Marshal(map[string]bool{key: value})
	r.sleepLine(instant)
	r.publishLine(topic, string(payload))
}

// RecordSwitch appends a publish for a switch echo, encoded the same
// flat-JSON shape sensors use, under the switch's own configured
// decode key (switch echoes are consumed through the same decode
// path).
func (r *Recorder) RecordSwitch(instant time.Time, topic string, on bool) {
	key := r.switchKey[topic]
	if key == "" {
		key = "state"
	}
	payload, _ := json.Marshal(map[string]bool{key: on})
	r.sleepLine(instant)
	r.publishLine(topic, string(payload))
}

// RecordScene appends a publish of a scene-change control message to
// the configured control topic.
func (r *Recorder) RecordScene(scene string) {
	payload, _ := json.Marshal(map[string]string{"scene": scene})
	r.publishLine(r.controlTopic, string(payload))
}
