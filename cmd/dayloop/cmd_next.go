package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"dayloop/internal/app"
	"dayloop/internal/clock"
	"dayloop/internal/schedule"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newNextCmd(f *rootFlags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the upcoming firings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Load(f.config, f.schedule, nil)
			if err != nil {
				return err
			}
			loc := time.Local
			if tz := strings.TrimSpace(l.Config.Scheduler.Timezone); tz != "" {
				if loc, err = time.LoadLocation(tz); err != nil {
					return err
				}
			}
			s, _ := schedule.Expand(l.Schedule)
			return printNext(cmd.OutOrStdout(), s, time.Now().In(loc), count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of slots to show")
	return cmd
}

// printNext lists the next count slot firings after now.
func printNext(w io.Writer, s *schedule.Schedule, now time.Time, count int) error {
	cur := schedule.NewCursor(s, clock.FromTime(now))
	ref := now
	for i := 0; i < count; i++ {
		d := cur.Until(ref)
		if i > 0 && d == 0 {
			d = 24 * time.Hour
		}
		when := ref.Add(d)
		if _, err := fmt.Fprintf(w, "%s  %s\n", when.Format("Mon 15:04:05"), humanize.RelTime(when, now, "ago", "from now")); err != nil {
			return err
		}
		for _, c := range cur.Current().Commands {
			label := c.Label()
			switch {
			case c.Lead.IsReminder():
				label = "reminder: " + label
			case c.Audio:
				label = "audio: " + label
			}
			if _, err := fmt.Fprintf(w, "    %s\n", label); err != nil {
				return err
			}
		}
		ref = when
		cur.Advance()
	}
	return nil
}
