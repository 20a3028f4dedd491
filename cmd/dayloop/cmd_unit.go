package main

import (
	"context"
	"fmt"
	"time"

	"dayloop/pkg/systemdmanager"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newUnitCmd() *cobra.Command {
	var (
		name string
		user bool
	)
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Inspect or restart the dayloop systemd unit",
	}
	cmd.PersistentFlags().StringVarP(&name, "unit", "u", "dayloop", "systemd unit name")
	cmd.PersistentFlags().BoolVar(&user, "user", false, "use the per-user systemd instance")

	withManager := func(cmd *cobra.Command, fn func(context.Context, *systemdmanager.Manager) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		m, err := systemdmanager.New(ctx, user)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()
		return fn(ctx, m)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show unit state, uptime and memory",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(ctx context.Context, m *systemdmanager.Manager) error {
					st, err := m.Status(ctx, name)
					if err != nil {
						return err
					}
					printUnitStatus(cmd, st, time.Now())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the unit and wait for the job",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(ctx context.Context, m *systemdmanager.Manager) error {
					if err := m.Restart(ctx, name); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "restarted %s\n", systemdmanager.UnitName(name))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the unit and wait for the job",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(ctx context.Context, m *systemdmanager.Manager) error {
					if err := m.Stop(ctx, name); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", systemdmanager.UnitName(name))
					return nil
				})
			},
		},
	)
	return cmd
}

func printUnitStatus(cmd *cobra.Command, st *systemdmanager.UnitStatus, now time.Time) {
	w := cmd.OutOrStdout()
	if !st.Found() {
		fmt.Fprintf(w, "%s: not found\n", st.Name)
		return
	}
	fmt.Fprintf(w, "%s: %s (%s)\n", st.Name, st.Active, st.SubState)
	if st.Description != "" {
		fmt.Fprintf(w, "  description: %s\n", st.Description)
	}
	fmt.Fprintf(w, "  enabled:     %v\n", st.Enabled)
	if up := st.Uptime(now); up > 0 {
		fmt.Fprintf(w, "  since:       %s (%s)\n", st.ActiveSince.Format(time.RFC3339), humanize.RelTime(st.ActiveSince, now, "ago", "from now"))
	}
	if st.MainPID > 0 {
		fmt.Fprintf(w, "  main pid:    %d\n", st.MainPID)
	}
	if st.Memory > 0 {
		fmt.Fprintf(w, "  memory:      %s\n", humanize.IBytes(st.Memory))
	}
}
