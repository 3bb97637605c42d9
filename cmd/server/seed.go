package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/api"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed [scenario]",
	Short: "Reset the database and load a demo scenario (default agency)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		scenario := "agency"
		if len(args) == 1 {
			scenario = args[0]
		}
		now := time.Now().In(a.location())
		if err := api.Seed(cmd.Context(), a.store, nil, scenario, now, a.cfg.Engine.BonusWalletCategory); err != nil {
			return err
		}
		a.log.Info("scenario loaded", zap.String("scenario", scenario), zap.String("db", a.cfg.DB.Path))
		return nil
	},
}
