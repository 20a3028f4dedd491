package main

import (
	"fmt"

	"dayloop/internal/app"
	"dayloop/internal/schedule"

	"github.com/spf13/cobra"
)

func newCheckCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the settings and schedule files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Load(f.config, f.schedule, nil)
			if err != nil {
				return err
			}
			expanded, rep := schedule.Expand(l.Schedule)
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s: %d slots, %d commands; expanded %d slots, %d commands (%d reminders)\n",
				l.SchedulePath, l.Schedule.Len(), l.Schedule.Commands(),
				expanded.Len(), expanded.Commands(), rep.Reminders)
			return nil
		},
	}
}
