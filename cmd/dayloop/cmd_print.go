package main

import (
	"dayloop/internal/app"
	"dayloop/internal/schedule"

	"github.com/spf13/cobra"
)

func newPrintCmd(f *rootFlags) *cobra.Command {
	var expanded bool
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the schedule in time order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Load(f.config, f.schedule, nil)
			if err != nil {
				return err
			}
			s := l.Schedule
			if expanded {
				s, _ = schedule.Expand(s)
			}
			return schedule.Describe(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().BoolVarP(&expanded, "expanded", "e", false, "include the synthesized reminder commands")
	return cmd
}
