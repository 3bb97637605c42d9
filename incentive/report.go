package incentive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT - Read-only projection of live achievement
// =============================================================================

type SortField string

const (
	SortIncentiveAmount    SortField = "incentive_amount"
	SortAchievedPercentage SortField = "achieved_percentage"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

// ReportSource is what BuildReport reads. It never writes.
type ReportSource interface {
	SalesQuery
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]Profile, error)
}

type ReportQuery struct {
	Filter  ProfileFilter
	SortBy  SortField
	Page    int // 1-based
	PerPage int
}

type ReportRow struct {
	Rank           int
	Result         Result
	NextPayoutDate time.Time
}

// ReportError is a profile the report could not evaluate.
type ReportError struct {
	ProfileID ProfileID
	Error     string
}

type ReportPage struct {
	AsOf    time.Time
	SortBy  SortField
	Page    int
	PerPage int
	Total   int
	Rows    []ReportRow
	Errors  []ReportError
}

func (q ReportQuery) normalize() (ReportQuery, error) {
	switch q.SortBy {
	case "":
		q.SortBy = SortIncentiveAmount
	case SortIncentiveAmount, SortAchievedPercentage:
	default:
		return q, fmt.Errorf("%w: unsupported sort field %q", ErrInvalidReportQuery, q.SortBy)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	return q, nil
}

// BuildReport evaluates every matching profile at asOf, ranks them by the
// sort field descending (ties by profile id) and returns one page.
// Profiles that fail to evaluate are listed in Errors and not ranked.
func BuildReport(ctx context.Context, src ReportSource, asOf time.Time, q ReportQuery) (*ReportPage, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	asOf = asOf.Truncate(time.Second)

	profiles, err := src.ListProfiles(ctx, q.Filter)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	page := &ReportPage{AsOf: asOf, SortBy: q.SortBy, Page: q.Page, PerPage: q.PerPage}
	rows := make([]ReportRow, 0, len(profiles))
	for _, p := range profiles {
		p = p.In(asOf.Location())
		res, err := Evaluate(ctx, src, p, asOf)
		if err != nil {
			if IsConfigError(err) {
				page.Errors = append(page.Errors, ReportError{ProfileID: p.ID, Error: err.Error()})
				continue
			}
			return nil, err
		}
		rows = append(rows, ReportRow{Result: *res, NextPayoutDate: p.NextPayoutDate})
	}
	sort.Slice(page.Errors, func(i, j int) bool { return page.Errors[i].ProfileID < page.Errors[j].ProfileID })

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := sortKey(rows[i].Result, q.SortBy), sortKey(rows[j].Result, q.SortBy)
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return rows[i].Result.ProfileID < rows[j].Result.ProfileID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	page.Total = len(rows)
	from, to := pageBounds(q.Page, q.PerPage, len(rows))
	page.Rows = rows[from:to]
	return page, nil
}

// pageBounds returns the slice bounds of a 1-based page. Pages past the end
// are empty. (page-1)*perPage is only computed when it cannot exceed total.
func pageBounds(page, perPage, total int) (int, int) {
	if page-1 > total/perPage {
		return total, total
	}
	from := (page - 1) * perPage
	if from > total {
		from = total
	}
	to := total
	if total-from > perPage {
		to = from + perPage
	}
	return from, to
}

func sortKey(r Result, field SortField) decimal.Decimal {
	if field == SortAchievedPercentage {
		return r.AchievedPercentage
	}
	return r.IncentiveAmount
}
