package bus

import (
	"bytes"
	"fmt"
	"text/template"
)

// renderVars is the data passed into a switch's command template.
type renderVars struct {
	State      string
	Brightness uint8
}

// Render executes a switch's payload template against the desired
// state and brightness.
func Render(tmpl string, onString, offString string, on bool, brightness uint8) (string, error) {
	state := offString
	if on {
		state = onString
	}

	t, err := template.New("command").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, renderVars{State: state, Brightness: brightness}); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}
