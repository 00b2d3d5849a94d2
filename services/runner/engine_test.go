package runner

import (
	"strings"
	"testing"
)

func collectEvents(t *testing.T, input string) []Event {
	t.Helper()
	var events []Event
	scanEvents(strings.NewReader(input), func(ev Event) bool {
		events = append(events, ev)
		return true
	})
	return events
}

func TestScanEventsDecodesStream(t *testing.T) {
	input := `{"event":"playbook_on_play_start","event_data":{"play":"provision"}}
not json at all

{"event":"playbook_on_stats","stdout":"ok=3"}
`
	events := collectEvents(t, input)

	if len(events) != 3 {
		t.Fatalf("events = %+v, want 3", events)
	}
	if events[0].Kind != "playbook_on_play_start" || events[0].Data.Play != "provision" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Kind != "verbose" || events[1].Stdout != "not json at all" {
		t.Fatalf("non-JSON line not surfaced verbatim: %+v", events[1])
	}
	if events[2].Kind != "playbook_on_stats" {
		t.Fatalf("last event = %+v", events[2])
	}
}

func TestScanEventsStopsWhenEmitDeclines(t *testing.T) {
	input := `{"event":"playbook_on_play_start"}
{"event":"playbook_on_stats"}
`
	var count int
	scanEvents(strings.NewReader(input), func(Event) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("emit called %d times after declining, want 1", count)
	}
}

func TestScanEventsSurfacesOversizedLine(t *testing.T) {
	// A line past the scanner's limit breaks the stream; the break must show
	// up as an error event instead of a silent end.
	input := `{"event":"playbook_on_play_start","event_data":{"play":"provision"}}` + "\n" +
		strings.Repeat("x", maxEventLine+1) + "\n"
	events := collectEvents(t, input)

	if len(events) != 2 {
		t.Fatalf("events = %d, want play start plus stream error", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != "error" {
		t.Fatalf("last event kind = %s, want error", last.Kind)
	}
	if !strings.Contains(last.Stdout, "engine output stream broken") {
		t.Fatalf("error event does not describe the broken stream: %q", last.Stdout)
	}
}
