package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	logx "nerdalert/pkg/logx"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func structValidator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
			return logx.ValidLevel(fl.Field().String())
		})
		validatorInst = v
	})
	return validatorInst
}

// Validate checks a config that has already been through ApplyDefaults.
// The returned error lists every problem found, one per line.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var problems []string

	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if c.Logging.Telegram.Enabled && c.Logging.Telegram.MinLevel != "" && !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
		problems = append(problems, fmt.Sprintf("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		problems = append(problems, "telegram.token: required when telegram.enabled is true")
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			problems = append(problems, err.Error())
		}
	}
	seen := map[string]bool{}
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		if name != "" && seen[name] {
			problems = append(problems, fmt.Sprintf("schedules[%d].name: duplicate %q", i, name))
		}
		seen[name] = true
		if tz := strings.TrimSpace(s.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				problems = append(problems, fmt.Sprintf("schedules[%d].timezone: %v", i, err))
			}
		}
	}
	for key := range c.Event.Messages {
		if strings.TrimSpace(key) == "" {
			problems = append(problems, "event.messages: empty key")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config:\n  %s", strings.Join(problems, "\n  "))
}
