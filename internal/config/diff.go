package config

import (
	"encoding/json"
	"reflect"
)

// ChangedSections names the top-level sections that differ between two configs,
// in declaration order. A nil side counts as entirely changed.
func ChangedSections(old, next *Config) []string {
	if old == nil || next == nil {
		if old == next {
			return nil
		}
		return []string{"all"}
	}
	var out []string
	add := func(name string, a, b any) {
		if !sameJSON(a, b) {
			out = append(out, name)
		}
	}
	add("logging", old.Logging, next.Logging)
	add("ticker", old.Ticker, next.Ticker)
	add("console", old.Console, next.Console)
	add("telegram", old.Telegram, next.Telegram)
	add("storage", old.Storage, next.Storage)
	add("schedules", old.Schedules, next.Schedules)
	add("event", old.Event, next.Event)
	return out
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ja) == string(jb)
}
