package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"rentwatch/models"
)

var alertsAll bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect price alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		alerts, err := st.ListAlerts(cmd.Context(), alertsAll)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts.")
			return nil
		}

		formatAlerts(os.Stdout, alerts)
		return nil
	},
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss <alert-id>",
	Short: "Dismiss one alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("alerts: invalid alert id %q", args[0])
		}

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DismissAlert(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Dismissed alert %d\n", id)
		return nil
	},
}

func init() {
	alertsListCmd.Flags().BoolVar(&alertsAll, "all", false, "include dismissed alerts")
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsDismissCmd)
	rootCmd.AddCommand(alertsCmd)
}

func formatAlerts(out io.Writer, alerts []*models.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUNIT\tKIND\tOLD\tNEW\tCHANGE\tCREATED\tDISMISSED")

	for _, a := range alerts {
		dismissed := ""
		if a.Dismissed {
			dismissed = "yes"
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t$%d\t$%d\t-%.1f%%\t%s\t%s\n",
			a.ID, a.UnitID, a.Kind, a.OldPrice, a.NewPrice, a.PercentChange,
			a.CreatedAt.Format("2006-01-02 15:04"), dismissed)
	}
	_ = w.Flush()
}
