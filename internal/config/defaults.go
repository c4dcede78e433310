package config

import "strings"

const (
	DefaultTPS           = 20
	DefaultTitleSeconds  = 10
	DefaultFadeInTicks   = 10
	DefaultDisplayTicks  = 70
	DefaultFadeOutTicks  = 20
	DefaultEarlyMS       = 0
	DefaultConsolePrefix = "nerdalert"
	DefaultPollTimeout   = "10s"

	DefaultMirrorRatePerSec = 1
	DefaultMirrorRetryMax   = 3
)

// ApplyDefaults fills omitted settings in place. It never overrides an explicit value.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Ticker.TPS == 0 {
		c.Ticker.TPS = DefaultTPS
	}
	if strings.TrimSpace(c.Console.Output) == "" {
		c.Console.Output = "stdout"
	}
	if strings.TrimSpace(c.Console.Prefix) == "" {
		c.Console.Prefix = DefaultConsolePrefix
	}
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	setInt(&c.Telegram.RatePerSec, DefaultMirrorRatePerSec)
	setInt(&c.Telegram.RetryMax, DefaultMirrorRetryMax)

	ev := &c.Event
	if ev.Broadcast.Show == nil {
		ev.Broadcast.Show = boolPtr(true)
	}
	if ev.Title.Show == nil {
		ev.Title.Show = boolPtr(true)
	}
	setInt(&ev.Title.Seconds, DefaultTitleSeconds)
	setInt(&ev.Title.FadeInTicks, DefaultFadeInTicks)
	setInt(&ev.Title.DisplayTicks, DefaultDisplayTicks)
	setInt(&ev.Title.FadeOutTicks, DefaultFadeOutTicks)
	setInt(&ev.Title.EarlyMS, DefaultEarlyMS)
}

func setInt(p **int, def int) {
	if *p == nil {
		*p = intPtr(def)
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }
