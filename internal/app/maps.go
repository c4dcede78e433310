package app

import (
	"fmt"
	"strings"
	"time"

	"nerdalert/internal/broadcast"
	"nerdalert/internal/config"
	"nerdalert/internal/storage"
	logx "nerdalert/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			// the sink needs the bot, so it follows telegram.enabled too
			Enabled:    l.Telegram.Enabled && cfg.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./data/nerdalert"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMirrorConfig(cfg *config.Config) broadcast.MirrorConfig {
	return broadcast.MirrorConfig{
		ChatIDs:    cfg.Telegram.BroadcastChatIDs,
		RatePerSec: intOr(cfg.Telegram.RatePerSec, config.DefaultMirrorRatePerSec),
		RetryMax:   intOr(cfg.Telegram.RetryMax, config.DefaultMirrorRetryMax),
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
