package worker

import "encoding/json"

// Event is one parsed line of the worker's newline-delimited JSON stdout
// stream (spec.md §4.C). Known "type" values are assistant, tool_use,
// error, and result; the raw fields are kept as a map so unrecognized
// or evolving shapes round-trip untouched into the persisted log.
type Event map[string]any

// Type returns the event's "type" field, or "" if absent/non-string.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// parseEvent decodes one stdout line into an Event. Blank lines are not
// valid JSON and are rejected by the caller before this is invoked.
func parseEvent(line []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// AssistantText extracts the readable text from an "assistant" event.
// The message field is either a plain string or an object with a
// content array of {type, text} blocks (spec.md §4.C).
func AssistantText(e Event) string {
	if e.Type() != "assistant" {
		return ""
	}
	return extractText(e["message"])
}

// ResultText extracts the "result" field of a "result" event, if any.
func ResultText(e Event) string {
	if e.Type() != "result" {
		return ""
	}
	text, _ := e["result"].(string)
	return text
}

// ResultCostUSD extracts the "cost_usd" field of a "result" event, if
// any (spec.md §4.C's known result event shape).
func ResultCostUSD(e Event) (float64, bool) {
	if e.Type() != "result" {
		return 0, false
	}
	cost, ok := e["cost_usd"].(float64)
	return cost, ok
}

func extractText(message any) string {
	switch m := message.(type) {
	case string:
		return m
	case map[string]any:
		content, ok := m["content"].([]any)
		if !ok {
			return ""
		}
		var out string
		for _, block := range content {
			bm, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if bm["type"] != "text" {
				continue
			}
			if text, ok := bm["text"].(string); ok {
				if out != "" {
					out += "\n"
				}
				out += text
			}
		}
		return out
	default:
		return ""
	}
}

// Summary is the run summary persisted alongside the full event list
// (spec.md §6: `data/<id>.log.json` = `{"summary": {...}, "events": [...]}`).
type Summary struct {
	ExitCode int     `json:"exit_code"`
	Error    string  `json:"error,omitempty"`
	CostUSD  float64 `json:"cost_usd,omitempty"`
}

// Log is the full in-memory record of one worker run, persisted to
// <data>/<task_id>.log.json at end of run (spec.md §4.C, §6).
type Log struct {
	TaskID  string  `json:"task_id"`
	Summary Summary `json:"summary"`
	Events  []Event `json:"events"`
}
