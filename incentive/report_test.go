package incentive_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/incentive/store"
)

func newReportBackend(t *testing.T) *store.Memory {
	t.Helper()
	b := newBackend(t)
	addTx(t, b, "tx-1", "member-1", incentive.TxDeposit, "1200", day(3, 3, 9))
	addTx(t, b, "tx-2", "member-2", incentive.TxDeposit, "2000", day(3, 3, 10))
	addTx(t, b, "tx-3", "agent-1", incentive.TxDeposit, "500", day(3, 4, 9))

	saveProfile(t, b, "r-a", "member-1", incentive.ModePersonal, incentive.CategoryGrossDeposit, "1000", "5", "80", incentive.PeriodWeeklySunday)
	saveProfile(t, b, "r-b", "member-2", incentive.ModePersonal, incentive.CategoryGrossDeposit, "1000", "3", "80", incentive.PeriodWeeklySunday)
	saveProfile(t, b, "r-c", "agent-1", incentive.ModePersonal, incentive.CategoryGrossDeposit, "1000", "5", "80", incentive.PeriodWeeklySunday)
	saveProfile(t, b, "r-d", "agent-1", incentive.ModePersonal, incentive.CategoryGrossDeposit, "400", "10", "0", incentive.PeriodWeeklySunday)
	saveProfile(t, b, "r-bad", "member-1", incentive.ModePersonal, incentive.CategoryGrossDeposit, "1000", "5", "80", "daily")
	return b
}

func rowIDs(p *incentive.ReportPage) []incentive.ProfileID {
	ids := make([]incentive.ProfileID, 0, len(p.Rows))
	for _, r := range p.Rows {
		ids = append(ids, r.Result.ProfileID)
	}
	return ids
}

func TestBuildReport_RanksByIncentive(t *testing.T) {
	// GIVEN: Four valid profiles, two tied on incentive, and one broken profile
	b := newReportBackend(t)

	// WHEN: Building the default report mid-week
	page, err := incentive.BuildReport(context.Background(), b, day(3, 6, 12), incentive.ReportQuery{})
	require.NoError(t, err)

	// THEN: Descending by incentive, ties broken by profile id
	assert.Equal(t, []incentive.ProfileID{"r-a", "r-b", "r-d", "r-c"}, rowIDs(page))
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, incentive.SortIncentiveAmount, page.SortBy)
	assert.Equal(t, incentive.DefaultPerPage, page.PerPage)
	for i, r := range page.Rows {
		assert.Equal(t, i+1, r.Rank)
	}
	assert.Equal(t, "60", page.Rows[0].Result.IncentiveAmount.String())
	assert.Equal(t, day(3, 8, 0), page.Rows[0].NextPayoutDate)

	// AND: The broken profile is reported, not ranked
	require.Len(t, page.Errors, 1)
	assert.Equal(t, incentive.ProfileID("r-bad"), page.Errors[0].ProfileID)
	assert.Contains(t, page.Errors[0].Error, "calculation_period")
}

func TestBuildReport_SortByPercentage(t *testing.T) {
	b := newReportBackend(t)

	page, err := incentive.BuildReport(context.Background(), b, day(3, 6, 12),
		incentive.ReportQuery{SortBy: incentive.SortAchievedPercentage})
	require.NoError(t, err)

	assert.Equal(t, []incentive.ProfileID{"r-b", "r-d", "r-a", "r-c"}, rowIDs(page))
	assert.Equal(t, "200", page.Rows[0].Result.AchievedPercentage.String())
	assert.Equal(t, "125", page.Rows[1].Result.AchievedPercentage.String())
}

func TestBuildReport_Pagination(t *testing.T) {
	b := newReportBackend(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		query   incentive.ReportQuery
		ids     []incentive.ProfileID
		perPage int
		firstRk int
	}{
		{"second page keeps global rank", incentive.ReportQuery{Page: 2, PerPage: 3}, []incentive.ProfileID{"r-c"}, 3, 4},
		{"page beyond the end is empty", incentive.ReportQuery{Page: 5, PerPage: 3}, []incentive.ProfileID{}, 3, 0},
		{"per page is clamped", incentive.ReportQuery{PerPage: 1000}, []incentive.ProfileID{"r-a", "r-b", "r-d", "r-c"}, incentive.MaxPerPage, 1},
		{"zero page defaults to first", incentive.ReportQuery{Page: 0, PerPage: 2}, []incentive.ProfileID{"r-a", "r-b"}, 2, 1},
		{"huge page is empty", incentive.ReportQuery{Page: math.MaxInt, PerPage: 3}, []incentive.ProfileID{}, 3, 0},
		{"huge page at max per page", incentive.ReportQuery{Page: math.MaxInt / 2, PerPage: incentive.MaxPerPage}, []incentive.ProfileID{}, incentive.MaxPerPage, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := incentive.BuildReport(ctx, b, day(3, 6, 12), tt.query)
			require.NoError(t, err)

			assert.Equal(t, tt.ids, rowIDs(page))
			assert.Equal(t, tt.perPage, page.PerPage)
			assert.Equal(t, 4, page.Total)
			if tt.firstRk > 0 {
				assert.Equal(t, tt.firstRk, page.Rows[0].Rank)
			}
		})
	}
}

func TestBuildReport_FilterAndInvalidSort(t *testing.T) {
	b := newReportBackend(t)
	ctx := context.Background()

	page, err := incentive.BuildReport(ctx, b, day(3, 6, 12),
		incentive.ReportQuery{Filter: incentive.ProfileFilter{UserID: "agent-1"}})
	require.NoError(t, err)
	assert.Equal(t, []incentive.ProfileID{"r-d", "r-c"}, rowIDs(page))
	assert.Empty(t, page.Errors)

	_, err = incentive.BuildReport(ctx, b, day(3, 6, 12), incentive.ReportQuery{SortBy: "name"})
	assert.True(t, errors.Is(err, incentive.ErrInvalidReportQuery))
}

func TestBuildReport_DoesNotWrite(t *testing.T) {
	b := newReportBackend(t)
	ctx := context.Background()

	_, err := incentive.BuildReport(ctx, b, day(3, 9, 12), incentive.ReportQuery{})
	require.NoError(t, err)

	records, err := b.ListBonusRecords(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, records)
	p, err := b.GetProfile(ctx, "r-a")
	require.NoError(t, err)
	assert.Equal(t, day(3, 8, 0), p.NextPayoutDate)
}
