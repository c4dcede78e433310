package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"nerdalert/internal/app"
	"nerdalert/internal/config"
	"nerdalert/internal/schedule"
)

var (
	cfgPath string
	envFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nerdalert",
		Short:         "Countdown titles and announcements for a game server console",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; a broken one is not.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error { return runDaemon(cmd.Context()) },
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon (default)",
		RunE:  func(cmd *cobra.Command, args []string) error { return runDaemon(cmd.Context()) },
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config and print upcoming schedule times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(cmd.OutOrStdout(), cfgPath, time.Now())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "render <key> [amount unit]",
		Short: "Print the console lines an event would produce, without waiting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), cfg, args)
		},
	})
	return root
}

func runDaemon(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}

func checkConfig(w io.Writer, path string, now time.Time) error {
	m := config.NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		return err
	}
	if err := schedule.Validate(cfg.Schedules); err != nil {
		return err
	}
	fmt.Fprintf(w, "config ok: %s\n", path)
	for _, sc := range cfg.Schedules {
		loc := time.Local
		if sc.Timezone != "" {
			if loc, err = time.LoadLocation(sc.Timezone); err != nil {
				return err
			}
		}
		s, err := schedule.Parse(sc.Cron, loc)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "schedule %s: next %s -> %s\n", sc.Name, s.Next(now.In(loc)).Format(time.RFC3339), sc.Command)
	}
	return nil
}
