package main

import (
	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/incentive"
)

const (
	sortByFlagName   = "sort-by"
	pageFlagName     = "page"
	perPageFlagName  = "per-page"
	userIDFlagName   = "user-id"
	modeFlagName     = "mode"
	categoryFlagName = "category"
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String(asOfFlagName, "", "Evaluation instant, RFC3339 (default now)")
	reportCmd.Flags().String(sortByFlagName, string(incentive.SortIncentiveAmount), "incentive_amount or achieved_percentage")
	reportCmd.Flags().Int(pageFlagName, 1, "Page number, 1-based")
	reportCmd.Flags().Int(perPageFlagName, incentive.DefaultPerPage, "Rows per page")
	reportCmd.Flags().String(userIDFlagName, "", "Only profiles of this user")
	reportCmd.Flags().String(modeFlagName, "", "Only personal or group profiles")
	reportCmd.Flags().String(categoryFlagName, "", "Only profiles of this sales category")
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the live ranked incentive report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		asOf, err := parseAsOf(cmd, a.location())
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		sortBy, _ := flags.GetString(sortByFlagName)
		page, _ := flags.GetInt(pageFlagName)
		perPage, _ := flags.GetInt(perPageFlagName)
		userID, _ := flags.GetString(userIDFlagName)
		mode, _ := flags.GetString(modeFlagName)
		category, _ := flags.GetString(categoryFlagName)

		report, err := incentive.BuildReport(cmd.Context(), a.store, asOf, incentive.ReportQuery{
			Filter: incentive.ProfileFilter{
				UserID:   incentive.UserID(userID),
				Mode:     incentive.CalculationMode(mode),
				Category: incentive.SalesCategory(category),
			},
			SortBy:  incentive.SortField(sortBy),
			Page:    page,
			PerPage: perPage,
		})
		if err != nil {
			return err
		}
		return printJSON(api.ReportPageDTO(report, a.location()))
	},
}
