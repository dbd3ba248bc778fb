package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/solace/internal/app"
	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/escalation"
	"github.com/ent0n29/solace/internal/memory"
)

func newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and resolve crisis alerts in the configured store",
	}
	cmd.AddCommand(newAlertsListCmd(), newAlertsResolveCmd())
	return cmd
}

func newAlertsListCmd() *cobra.Command {
	var (
		userID string
		all    bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(); err != nil {
				return err
			}
			repo, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			alerts, err := repo.ListAlerts(cmd.Context(), memory.AlertFilter{UserID: userID, OpenOnly: !all, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if formatFlag == "json" {
				return writeJSON(out, alerts)
			}
			if len(alerts) == 0 {
				fmt.Fprintln(out, "no alerts")
				return nil
			}
			for _, a := range alerts {
				state := "open"
				if a.Resolved() {
					state = "resolved"
				}
				fmt.Fprintf(out, "%s  %-8s %-6s %-20s %-8s user=%s  %s\n",
					a.ID, state, a.Severity, a.Status, a.AlertType, a.UserID, a.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Only alerts for this user")
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved alerts")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum alerts to show")
	return cmd
}

func newAlertsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(); err != nil {
				return err
			}
			repo, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			// Offline resolution has no live channels or subscribers.
			d := escalation.NewDispatcher(repo, nil, escalation.Config{}, nil, nil)
			alert, err := d.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve alert %s: %w", args[0], err)
			}
			if formatFlag == "json" {
				return writeJSON(cmd.OutOrStdout(), alert)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s at %s\n", alert.ID, alert.ResolvedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func openRepo(cmd *cobra.Command) (memory.Repository, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return app.OpenStore(cmd.Context(), cfg)
}
