package logs

import (
	"encoding/json"
	"strings"
)

// Filter selects log lines. The zero value matches everything.
type Filter struct {
	MinLevel  string
	Component string
	EventType string
}

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

func (f Filter) empty() bool {
	return f.MinLevel == "" && f.Component == "" && f.EventType == ""
}

type lineFields struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	EventType string `json:"event_type"`
}

// Match reports whether a raw log line passes the filter. Lines that are not
// JSON only pass an empty filter.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	var fields lineFields
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return false
	}
	if f.MinLevel != "" {
		want, ok := levelRank[normalizeLevel(f.MinLevel)]
		if ok && levelRank[normalizeLevel(fields.Level)] < want {
			return false
		}
	}
	if f.Component != "" && !strings.EqualFold(fields.Component, f.Component) {
		return false
	}
	if f.EventType != "" && !strings.EqualFold(fields.EventType, f.EventType) {
		return false
	}
	return true
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	return level
}
