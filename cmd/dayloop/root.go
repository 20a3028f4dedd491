package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	config   string
	schedule string
}

// newRootCmd creates the root dayloop command with all subcommands attached.
func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "dayloop",
		Short:         "Daily recurring task scheduler",
		Long:          "dayloop launches programs, plays sounds and shows reminders at fixed\ntimes of day, every day, from a YAML or JSON schedule file.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("dayloop {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&f.config, "config", "c", os.Getenv("DAYLOOP_CONFIG"),
		"settings file (YAML, JSON or TOML); defaults apply when empty [$DAYLOOP_CONFIG]")
	cmd.PersistentFlags().StringVarP(&f.schedule, "schedule", "s", os.Getenv("DAYLOOP_SCHEDULE"),
		"schedule file, overrides scheduler.schedule_file [$DAYLOOP_SCHEDULE]")

	cmd.AddCommand(
		newRunCmd(f),
		newCheckCmd(f),
		newPrintCmd(f),
		newNextCmd(f),
		newUnitCmd(),
	)
	return cmd
}
