package alert

import (
	"strconv"
	"strings"
	"sync/atomic"

	"nerdalert/internal/config"
	"nerdalert/pkg/chatfmt"
)

// Settings are the display-timing knobs and show toggles read on every tick.
type Settings struct {
	BroadcastShow         bool
	TitleShow             bool
	TitleThresholdSeconds int
	FadeInTicks           int
	DisplayTicks          int
	FadeOutTicks          int

	// EarlyMillis is added to the clock when computing elapsed time.
	EarlyMillis int
}

func DefaultSettings() Settings {
	return Settings{
		BroadcastShow:         true,
		TitleShow:             true,
		TitleThresholdSeconds: config.DefaultTitleSeconds,
		FadeInTicks:           config.DefaultFadeInTicks,
		DisplayTicks:          config.DefaultDisplayTicks,
		FadeOutTicks:          config.DefaultFadeOutTicks,
		EarlyMillis:           config.DefaultEarlyMS,
	}
}

// SettingsFrom reads the event section. Nil fields keep their defaults.
func SettingsFrom(ev config.EventConfig) Settings {
	s := DefaultSettings()
	if ev.Broadcast.Show != nil {
		s.BroadcastShow = *ev.Broadcast.Show
	}
	t := ev.Title
	if t.Show != nil {
		s.TitleShow = *t.Show
	}
	readInt(&s.TitleThresholdSeconds, t.Seconds)
	readInt(&s.FadeInTicks, t.FadeInTicks)
	readInt(&s.DisplayTicks, t.DisplayTicks)
	readInt(&s.FadeOutTicks, t.FadeOutTicks)
	readInt(&s.EarlyMillis, t.EarlyMS)
	return s
}

func readInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// Subtitle template keys.
const (
	SubtitleNow     = "now"
	SubtitleMinute  = "minute"
	SubtitleMinutes = "minutes"
	SubtitleSecond  = "second"
	SubtitleSeconds = "seconds"
)

var defaultSubtitles = map[string]string{
	SubtitleNow:     "now",
	SubtitleMinute:  "in %d minute",
	SubtitleMinutes: "in %d minutes",
	SubtitleSecond:  "in %d second",
	SubtitleSeconds: "in %d seconds",
}

// EventText holds the templates for one event key.
type EventText struct {
	Broadcast string
	Title     string
}

// Messages are the text templates. Lookups never fail: an unknown event key
// falls back to the key itself and a missing subtitle template to English.
type Messages struct {
	Subtitles map[string]string
	Events    map[string]EventText
}

func MessagesFrom(ev config.EventConfig) Messages {
	m := Messages{
		Subtitles: map[string]string{
			SubtitleNow:     ev.Subtitle.Now,
			SubtitleMinute:  ev.Subtitle.Minute,
			SubtitleMinutes: ev.Subtitle.Minutes,
			SubtitleSecond:  ev.Subtitle.Second,
			SubtitleSeconds: ev.Subtitle.Seconds,
		},
		Events: make(map[string]EventText, len(ev.Messages)),
	}
	for k, v := range ev.Messages {
		m.Events[k] = EventText{Broadcast: v.Broadcast, Title: v.Title}
	}
	return m
}

func (m Messages) event(key string) (EventText, bool) {
	if e, ok := m.Events[key]; ok {
		return e, true
	}
	for k, e := range m.Events {
		if strings.EqualFold(k, key) {
			return e, true
		}
	}
	return EventText{}, false
}

// Title returns the title text for key, or key when none is configured.
func (m Messages) Title(key string) string {
	if e, ok := m.event(key); ok && e.Title != "" {
		return e.Title
	}
	return key
}

// Broadcast expands the broadcast template for key with args. Without a template the key is used.
func (m Messages) Broadcast(key string, args []string) string {
	format := key
	if e, ok := m.event(key); ok && e.Broadcast != "" {
		format = e.Broadcast
	}
	return chatfmt.Sprintf(format, args...)
}

// SubtitleKey picks the template key and the number substituted into it.
// Non-positive values read as "now".
func SubtitleKey(remaining int) (key string, count int) {
	switch {
	case remaining <= 0:
		return SubtitleNow, 0
	case remaining%60 == 0:
		n := remaining / 60
		if n == 1 {
			return SubtitleMinute, n
		}
		return SubtitleMinutes, n
	case remaining == 1:
		return SubtitleSecond, 1
	default:
		return SubtitleSeconds, remaining
	}
}

// Subtitle formats the subtitle for remaining seconds.
func (m Messages) Subtitle(remaining int) string {
	key, count := SubtitleKey(remaining)
	format := m.Subtitles[key]
	if format == "" {
		format = defaultSubtitles[key]
	}
	return chatfmt.Sprintf(format, strconv.Itoa(count))
}

// Snapshot is one complete settings+messages generation.
type Snapshot struct {
	Settings Settings
	Messages Messages
}

// Configuration holds the current snapshot. Reload swaps it whole, so a reader
// never sees half of one generation and half of the next.
type Configuration struct {
	cur atomic.Pointer[Snapshot]
}

func NewConfiguration(ev config.EventConfig) *Configuration {
	c := &Configuration{}
	c.Reload(ev)
	return c
}

func (c *Configuration) Reload(ev config.EventConfig) {
	c.cur.Store(&Snapshot{Settings: SettingsFrom(ev), Messages: MessagesFrom(ev)})
}

func (c *Configuration) Current() *Snapshot {
	if s := c.cur.Load(); s != nil {
		return s
	}
	return &Snapshot{Settings: DefaultSettings(), Messages: Messages{}}
}

func (c *Configuration) Settings() Settings { return c.Current().Settings }
func (c *Configuration) Messages() Messages { return c.Current().Messages }
