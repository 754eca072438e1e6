package agent

import (
	"encoding/json"
	"strings"

	"github.com/drydocklabs/drydock/pkg/models"
)

// ProgressMarkerPrefix starts a machine-readable progress line in agent
// output. The launch prompt instructs the agent to emit these; everything
// else in the output is prose.
const ProgressMarkerPrefix = "DRYDOCK_PROGRESS "

// progressMarker is the JSON payload following the marker prefix.
type progressMarker struct {
	Phase    string `json:"phase"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Subtask  string `json:"subtask,omitempty"`
}

// ParseProgressMarker parses one output line as a progress marker. Returns
// false for lines without the prefix or with a malformed payload; agents
// narrate freely between markers and those lines are not progress signals.
func ParseProgressMarker(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ProgressMarkerPrefix) {
		return Event{}, false
	}

	payload := strings.TrimPrefix(line, ProgressMarkerPrefix)
	var m progressMarker
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Event{}, false
	}

	return Event{
		Phase:          models.Phase(m.Phase),
		SubProgress:    m.Progress,
		Message:        m.Message,
		CurrentSubtask: m.Subtask,
	}, true
}

// FormatProgressMarker renders an event as a marker line. Used by the API
// launcher to document the protocol and by tests.
func FormatProgressMarker(ev Event) string {
	payload, _ := json.Marshal(progressMarker{
		Phase:    string(ev.Phase),
		Progress: ev.SubProgress,
		Message:  ev.Message,
		Subtask:  ev.CurrentSubtask,
	})
	return ProgressMarkerPrefix + string(payload)
}
