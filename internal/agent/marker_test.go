package agent

import (
	"strings"
	"testing"

	"github.com/drydocklabs/drydock/pkg/models"
)

func TestParseProgressMarker(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{
			"full marker",
			`DRYDOCK_PROGRESS {"phase":"coding","progress":40,"message":"implementing","subtask":"Build form"}`,
			Event{Phase: models.PhaseCoding, SubProgress: 40, Message: "implementing", CurrentSubtask: "Build form"},
			true,
		},
		{
			"minimal marker",
			`DRYDOCK_PROGRESS {"phase":"planning","progress":0}`,
			Event{Phase: models.PhasePlanning},
			true,
		},
		{
			"leading whitespace",
			`   DRYDOCK_PROGRESS {"phase":"done","progress":100}`,
			Event{Phase: models.PhaseDone, SubProgress: 100},
			true,
		},
		{"prose line", "I am now implementing the handler", Event{}, false},
		{"malformed payload", `DRYDOCK_PROGRESS {phase:coding}`, Event{}, false},
		{"empty payload", `DRYDOCK_PROGRESS `, Event{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseProgressMarker(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatProgressMarker_RoundTrip(t *testing.T) {
	in := Event{
		Phase:          models.PhaseQAFixing,
		SubProgress:    66,
		Message:        "fixing lint findings",
		CurrentSubtask: "Wire backend",
	}

	line := FormatProgressMarker(in)
	if !strings.HasPrefix(line, ProgressMarkerPrefix) {
		t.Fatalf("marker line %q missing prefix", line)
	}

	out, ok := ParseProgressMarker(line)
	if !ok {
		t.Fatal("formatted marker did not parse")
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}
