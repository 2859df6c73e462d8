package analytics

import (
	"errors"
	"sort"

	"consular/internal/core"
)

// ErrInsufficientYears means fewer than two years carry data for the
// requested period, so there is nothing to put side by side.
var ErrInsufficientYears = errors.New("comparison needs at least two years with data")

// Period restricts a comparison to a set of calendar months. An empty
// month set means the full year.
type Period struct {
	Name   string
	Months []int
}

// FullYear spans all twelve months.
func FullYear() Period {
	return Period{Name: "full year"}
}

// SingleMonth restricts the period to one month (1..12).
func SingleMonth(month int) Period {
	return Period{Name: monthName(month), Months: []int{month}}
}

// QuarterPeriod restricts the period to one calendar quarter (1..4).
func QuarterPeriod(q int) Period {
	first := (q-1)*3 + 1
	return Period{
		Name:   [...]string{"Q1", "Q2", "Q3", "Q4"}[q-1],
		Months: []int{first, first + 1, first + 2},
	}
}

func monthName(m int) string {
	names := [...]string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}
	if m < 1 || m > 12 {
		return ""
	}
	return names[m-1]
}

func (p Period) contains(month int) bool {
	if len(p.Months) == 0 {
		return true
	}
	for _, m := range p.Months {
		if m == month {
			return true
		}
	}
	return false
}

// ExtractYearPeriod returns the records of one year restricted to the
// period, or nil when the year has no data in it.
func ExtractYearPeriod(records []core.Record, year int, p Period) []core.Record {
	var out []core.Record
	for _, r := range records {
		if r.IssuanceDate.Year() != year {
			continue
		}
		if !p.contains(r.IssuanceDate.Month()) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// YearSummary are the per-year figures of a comparison. Daily means
// divide by distinct active days, not calendar days, so sparse years
// are not diluted by days with no activity.
type YearSummary struct {
	Year              int
	TotalRevenue      float64
	TotalTransactions int64
	MeanRevenuePerDay float64
	MeanTxPerDay      float64
	ActiveDays        int
	Services          int
	Records           int
}

// Comparison is the result of putting two or more years side by side
// over the same period.
type Comparison struct {
	Period Period
	Years  []YearSummary
}

// Compare summarizes each requested year over the period. Years with
// no data in the period are dropped from the result; if fewer than two
// remain the comparison is refused with ErrInsufficientYears.
func Compare(records []core.Record, years []int, p Period) (*Comparison, error) {
	if len(years) < 2 {
		return nil, ErrInsufficientYears
	}
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)

	cmp := &Comparison{Period: p}
	for _, year := range sorted {
		subset := ExtractYearPeriod(records, year, p)
		if len(subset) == 0 {
			continue
		}
		days := make(map[string]struct{})
		services := make(map[string]struct{})
		ys := YearSummary{Year: year, Records: len(subset)}
		for _, r := range subset {
			ys.TotalRevenue += r.Revenue
			ys.TotalTransactions += r.Transactions
			days[r.IssuanceDate.ISO()] = struct{}{}
			services[r.Service] = struct{}{}
		}
		ys.ActiveDays = len(days)
		ys.Services = len(services)
		ys.MeanRevenuePerDay = ys.TotalRevenue / float64(ys.ActiveDays)
		ys.MeanTxPerDay = float64(ys.TotalTransactions) / float64(ys.ActiveDays)
		cmp.Years = append(cmp.Years, ys)
	}
	if len(cmp.Years) < 2 {
		return nil, ErrInsufficientYears
	}
	return cmp, nil
}

// OverlayAxis positions overlay points inside the period so different
// years line up on the same x coordinate.
type OverlayAxis string

const (
	AxisDayOfMonth OverlayAxis = "day"
	AxisISOWeek    OverlayAxis = "week"
	AxisMonth      OverlayAxis = "month"
)

// OverlayPoint is one (position, value) pair of a year's series.
type OverlayPoint struct {
	Position int
	Value    float64
}

// OverlaySeries is one year's line in an overlay chart.
type OverlaySeries struct {
	Year   int
	Points []OverlayPoint
}

// Overlay builds per-year series over a shared axis for the period, so
// several years can be drawn on top of each other. Service narrows the
// overlay to a single service when non-empty; Position is the
// day-of-month, ISO week number, or month depending on the axis.
func Overlay(records []core.Record, years []int, p Period, axis OverlayAxis, metric Metric, service string) []OverlaySeries {
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)

	var out []OverlaySeries
	for _, year := range sorted {
		totals := make(map[int]float64)
		for _, r := range ExtractYearPeriod(records, year, p) {
			if service != "" && r.Service != service {
				continue
			}
			var pos int
			switch axis {
			case AxisDayOfMonth:
				pos = r.IssuanceDate.Day()
			case AxisISOWeek:
				pos = r.IssuanceDate.ISOWeek()
			default:
				pos = r.IssuanceDate.Month()
			}
			v := r.Revenue
			if metric == MetricTransactions {
				v = float64(r.Transactions)
			}
			totals[pos] += v
		}
		if len(totals) == 0 {
			continue
		}
		series := OverlaySeries{Year: year}
		positions := make([]int, 0, len(totals))
		for pos := range totals {
			positions = append(positions, pos)
		}
		sort.Ints(positions)
		for _, pos := range positions {
			series.Points = append(series.Points, OverlayPoint{Position: pos, Value: totals[pos]})
		}
		out = append(out, series)
	}
	return out
}
