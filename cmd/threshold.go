package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"rentwatch/models"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Show the alert threshold",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.Threshold(cmd.Context())
		if err != nil {
			return err
		}
		printThreshold(t)
		return nil
	},
}

var thresholdSetCmd = &cobra.Command{
	Use:   "set <dollar|percentage> <magnitude>",
	Short: "Set the alert threshold",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		magnitude, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Errorf("threshold: magnitude %q is not a number", args[1])
		}

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t := models.AlertThreshold{Kind: args[0], Magnitude: magnitude}
		if err := st.SetThreshold(cmd.Context(), t); err != nil {
			return err
		}
		printThreshold(t)
		return nil
	},
}

func init() {
	thresholdCmd.AddCommand(thresholdSetCmd)
	rootCmd.AddCommand(thresholdCmd)
}

func printThreshold(t models.AlertThreshold) {
	switch t.Kind {
	case models.ThresholdDollar:
		fmt.Printf("Alert threshold: $%.0f drop\n", t.Magnitude)
	default:
		fmt.Printf("Alert threshold: %.1f%% drop\n", t.Magnitude)
	}
}
