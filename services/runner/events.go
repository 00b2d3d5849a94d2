package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

type eventAction int

const (
	actionIgnore eventAction = iota
	actionData
	actionTask
)

// dataTaskName marks the engine task whose result payload is captured as the
// run's extracted data instead of being persisted. The newer runner titles it.
func isDataTask(name string) bool {
	return name == "data" || name == "Data"
}

var ignoredEvents = map[string]struct{}{
	"verbose":                      {},
	"playbook_on_start":            {},
	"playbook_on_no_hosts_matched": {},
	"runner_on_skipped":            {},
	"runner_item_on_skipped":       {},
	"runner_item_on_ok":            {},
	"runner_on_start":              {},
	"runner_retry":                 {},
	"playbook_on_include":          {},
}

// classify maps an engine event to a persistence action: drop it, capture its
// payload as extracted data, or persist it as a task with a name and
// description.
func classify(ev Event) (action eventAction, name, desc string) {
	if _, ok := ignoredEvents[ev.Kind]; ok {
		return actionIgnore, "", ""
	}

	switch ev.Kind {
	case "runner_on_ok":
		if isDataTask(ev.Data.Task) {
			return actionData, "", ""
		}
		return actionIgnore, "", ""
	case "warning":
		return actionTask, "WARNING", firstNonEmpty(ev.Stdout, resMessage(ev))
	case "error":
		return actionTask, "ERROR", firstNonEmpty(ev.Stdout, resMessage(ev))
	case "playbook_on_play_start":
		return actionTask, "PLAY", ev.Data.Play
	case "playbook_on_task_start":
		return actionTask, "TASK", ev.Data.Task
	case "runner_on_failed":
		return actionTask, "FATAL", fmt.Sprintf("%s: %s", ev.Data.Host, firstNonEmpty(resMessage(ev), ev.Stdout))
	case "runner_item_on_failed":
		return actionTask, "ITEM FAILED", fmt.Sprintf("%s: %s", ev.Data.Host, firstNonEmpty(resMessage(ev), ev.Stdout))
	case "playbook_on_stats":
		return actionTask, "RECAP", ev.Stdout
	default:
		raw, err := json.Marshal(ev)
		if err != nil {
			raw = []byte(ev.Stdout)
		}
		return actionTask, ev.Kind, string(raw)
	}
}

// extractData pulls the structured payload out of a data event.
func extractData(ev Event) any {
	if ev.Data.Res == nil {
		return nil
	}
	return ev.Data.Res["msg"]
}

func resMessage(ev Event) string {
	if ev.Data.Res == nil {
		return ""
	}
	if msg, ok := ev.Data.Res["msg"]; ok {
		switch v := msg.(type) {
		case string:
			return v
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(raw)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
