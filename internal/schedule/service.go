// Package schedule fires operator command lines on cron schedules, such as a
// nightly "event restart 5 minutes" ahead of an automated restart.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nerdalert/internal/config"
	logx "nerdalert/pkg/logx"
)

// Runner executes one command line on behalf of a named schedule.
type Runner func(ctx context.Context, name, line string) error

type Info struct {
	Name    string
	Spec    string
	Command string
	Next    time.Time
	Prev    time.Time
}

type def struct {
	cfg     config.ScheduleConfig
	sched   cron.Schedule
	entryID cron.EntryID
}

// Service owns one cron instance. Apply swaps the whole schedule set.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	run     Runner
	timeout time.Duration

	c    *cron.Cron
	defs []def
	ctx  context.Context
}

func New(run Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, run: run, timeout: 30 * time.Second}
}

// Validate checks every schedule spec and timezone without registering anything.
func Validate(schedules []config.ScheduleConfig) error {
	_, err := build(schedules)
	return err
}

func build(schedules []config.ScheduleConfig) ([]def, error) {
	out := make([]def, 0, len(schedules))
	for i, sc := range schedules {
		loc := time.Local
		if tz := strings.TrimSpace(sc.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("schedules[%d] %q: timezone: %w", i, sc.Name, err)
			}
			loc = l
		}
		sched, err := Parse(sc.Cron, loc)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d] %q: %w", i, sc.Name, err)
		}
		out = append(out, def{cfg: sc, sched: sched})
	}
	return out, nil
}

// Apply replaces the schedule set. On error the current set stays registered.
func (s *Service) Apply(schedules []config.ScheduleConfig) error {
	defs, err := build(schedules)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		for _, d := range s.defs {
			s.c.Remove(d.entryID)
		}
		for i := range defs {
			s.addLocked(&defs[i])
		}
	}
	s.defs = defs
	s.log.Info("schedules applied", logx.Int("count", len(defs)))
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{s.log}),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for i := range s.defs {
		s.addLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

func (s *Service) addLocked(d *def) {
	sc := d.cfg
	ctx := s.ctx
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() {
		s.fire(ctx, sc)
	}))
}

func (s *Service) fire(ctx context.Context, sc config.ScheduleConfig) {
	if s.run == nil || ctx.Err() != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.log.Info("schedule fired", logx.String("name", sc.Name), logx.String("command", sc.Command))
	if err := s.run(cctx, sc.Name, sc.Command); err != nil {
		s.log.Warn("schedule command failed", logx.String("name", sc.Name), logx.Err(err))
	}
}

// Snapshot lists the schedules with their next and previous fire times.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, d := range s.defs {
		info := Info{Name: d.cfg.Name, Spec: d.cfg.Cron, Command: d.cfg.Command}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		} else {
			info.Next = d.sched.Next(time.Now())
		}
		out = append(out, info)
	}
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
