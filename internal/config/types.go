package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Ticker  TickerConfig  `json:"ticker"`
	Console ConsoleConfig `json:"console"`

	// Telegram is the optional operator channel: owners send /event commands,
	// broadcast chats receive a plain-text copy of every chat broadcast.
	Telegram TelegramConfig `json:"telegram"`

	Storage *StorageConfig `json:"storage,omitempty"`

	// Schedules fire command lines on cron specs (e.g. a nightly restart warning).
	Schedules []ScheduleConfig `json:"schedules,omitempty" validate:"dive"`

	Event EventConfig `json:"event"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"loglevel"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// TickerConfig controls the host tick loop. TPS defaults to 20 (one tick per 50ms).
type TickerConfig struct {
	TPS int `json:"tps" validate:"gte=0,lte=1000"`
}

// ConsoleConfig controls the console bridge.
//
// Output is "stdout", "stderr", or a path (typically a FIFO feeding the game
// server's stdin). Input enables reading operator commands from stdin.
type ConsoleConfig struct {
	Output string `json:"output"`
	Input  bool   `json:"input"`

	// Prefix is the command word accepted on the console, e.g. "nerdalert event restart".
	// Bare "event ..." and "reload" lines are accepted too.
	Prefix string `json:"prefix"`
}

type TelegramConfig struct {
	Enabled          bool    `json:"enabled"`
	Token            string  `json:"token"`
	OwnerUserIDs     []int64 `json:"owner_user_ids"`
	BroadcastChatIDs []int64 `json:"broadcast_chat_ids"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`

	// Mirror delivery. Pointers so an explicit retry_max: 0 (no retries) survives defaults.
	RatePerSec *int `json:"rate_per_sec,omitempty" validate:"required,gte=1"`
	RetryMax   *int `json:"retry_max,omitempty" validate:"required,gte=0"`
}

// StorageConfig controls the audit store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/nerdalert" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ScheduleConfig struct {
	Name     string `json:"name" validate:"required"`
	Cron     string `json:"cron" validate:"required"`
	Command  string `json:"command" validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

// EventConfig mirrors the event.* keys of the alert settings.
//
// Scalars are pointers so "omitted" can be told apart from an explicit zero;
// ApplyDefaults fills every nil before validation.
type EventConfig struct {
	Broadcast EventBroadcast           `json:"broadcast"`
	Title     EventTitle               `json:"title"`
	Subtitle  SubtitleTemplates        `json:"subtitle"`
	Messages  map[string]EventMessages `json:"messages,omitempty"`
}

type EventBroadcast struct {
	Show *bool `json:"show,omitempty" validate:"required"`
}

type EventTitle struct {
	Show         *bool `json:"show,omitempty" validate:"required"`
	Seconds      *int  `json:"seconds,omitempty" validate:"required,gte=0"`
	FadeInTicks  *int  `json:"fade_in_ticks,omitempty" validate:"required,gte=0"`
	DisplayTicks *int  `json:"display_ticks,omitempty" validate:"required,gte=0"`
	FadeOutTicks *int  `json:"fade_out_ticks,omitempty" validate:"required,gte=0"`

	// EarlyMS shifts the countdown clock forward so titles land slightly ahead of real time.
	EarlyMS *int `json:"early_ms,omitempty" validate:"required,gte=0,lte=5000"`
}

// SubtitleTemplates are printf-style templates with one numeric placeholder.
type SubtitleTemplates struct {
	Now     string `json:"now,omitempty"`
	Minute  string `json:"minute,omitempty"`
	Minutes string `json:"minutes,omitempty"`
	Second  string `json:"second,omitempty"`
	Seconds string `json:"seconds,omitempty"`
}

type EventMessages struct {
	Broadcast string `json:"broadcast,omitempty"`
	Title     string `json:"title,omitempty"`
}

// UnmarshalJSON rejects unknown fields so typos under event.messages.<key> surface on reload.
func (m *EventMessages) UnmarshalJSON(b []byte) error {
	type plain EventMessages
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*m = EventMessages(p)
	return nil
}
