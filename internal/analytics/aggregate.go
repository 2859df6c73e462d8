package analytics

import (
	"fmt"
	"math"
	"sort"

	"consular/internal/core"
)

// Granularity selects the calendar bucket for time aggregation.
type Granularity string

const (
	ByDay     Granularity = "day"
	ByMonth   Granularity = "month"
	ByQuarter Granularity = "quarter"
	ByYear    Granularity = "year"
)

// Metric selects which volume a ranking or overlay is computed on.
type Metric string

const (
	MetricRevenue      Metric = "revenue"
	MetricTransactions Metric = "transactions"
)

// TimeBucket is one aggregated calendar bucket. Key is the bucket
// label ("2024-05-17", "2024-05", "2024-Q2" or "2024"); buckets with
// no records do not appear.
type TimeBucket struct {
	Key          string
	Revenue      float64
	Transactions int64
	Records      int64
}

func bucketKey(d core.Date, g Granularity) string {
	switch g {
	case ByDay:
		return d.ISO()
	case ByMonth:
		return d.YearMonth()
	case ByQuarter:
		return fmt.Sprintf("%04d-Q%d", d.Year(), d.Quarter())
	default:
		return fmt.Sprintf("%04d", d.Year())
	}
}

// AggregateByTime sums revenue and transaction counts per calendar
// bucket, ascending. Bucket keys sort lexicographically in calendar
// order, so a plain string sort yields the timeline.
func AggregateByTime(records []core.Record, g Granularity) []TimeBucket {
	byKey := make(map[string]*TimeBucket)
	for _, r := range records {
		key := bucketKey(r.IssuanceDate, g)
		b, ok := byKey[key]
		if !ok {
			b = &TimeBucket{Key: key}
			byKey[key] = b
		}
		b.Revenue += r.Revenue
		b.Transactions += r.Transactions
		b.Records++
	}
	out := make([]TimeBucket, 0, len(byKey))
	for _, b := range byKey {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ServiceTotal is one (service, category) pair's volume across the
// selected records.
type ServiceTotal struct {
	Service      string
	Category     string
	Revenue      float64
	Transactions int64
	Records      int64
}

// AggregateByService groups by (service, category) and ranks the
// groups by the chosen metric, descending, truncated to topN
// (topN <= 0 keeps all). The sort is stable, so tied groups keep the
// order in which they first appeared in the input.
func AggregateByService(records []core.Record, metric Metric, topN int) []ServiceTotal {
	index := make(map[string]int)
	var out []ServiceTotal
	for _, r := range records {
		key := r.Service + "\x00" + r.Category
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, ServiceTotal{Service: r.Service, Category: r.Category})
		}
		out[i].Revenue += r.Revenue
		out[i].Transactions += r.Transactions
		out[i].Records++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if metric == MetricTransactions {
			return out[i].Transactions > out[j].Transactions
		}
		return out[i].Revenue > out[j].Revenue
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Dispersion holds per-day mean and spread of a metric. Days is the
// number of distinct calendar days contributing.
type Dispersion struct {
	Days   int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// DailyDispersion collapses records to one total per calendar day
// first, then computes mean and sample standard deviation over those
// daily totals. Multiple service rows on the same day therefore count
// as one observation. With fewer than two days the deviation is zero.
func DailyDispersion(records []core.Record, metric Metric) Dispersion {
	daily := make(map[string]float64)
	for _, r := range records {
		v := r.Revenue
		if metric == MetricTransactions {
			v = float64(r.Transactions)
		}
		daily[r.IssuanceDate.ISO()] += v
	}
	d := Dispersion{Days: len(daily)}
	if d.Days == 0 {
		return d
	}
	var sum float64
	first := true
	for _, v := range daily {
		sum += v
		if first || v < d.Min {
			d.Min = v
		}
		if first || v > d.Max {
			d.Max = v
		}
		first = false
	}
	d.Mean = sum / float64(d.Days)
	if d.Days < 2 {
		return d
	}
	var ss float64
	for _, v := range daily {
		diff := v - d.Mean
		ss += diff * diff
	}
	d.StdDev = math.Sqrt(ss / float64(d.Days-1))
	return d
}

// WeekdayAverage is the mean daily volume for one weekday.
type WeekdayAverage struct {
	Weekday      string
	Days         int
	Revenue      float64
	Transactions float64
}

// WeekdayProfile reports mean daily revenue and transactions per
// weekday, Monday through Sunday. Records are collapsed to daily
// totals before averaging, so each calendar day contributes once no
// matter how many service rows it spans. Weekdays with no data carry
// zero averages, and the best and worst weekdays are picked per metric
// among the observed ones.
type WeekdayProfile struct {
	Averages        []WeekdayAverage
	MaxRevenue      string
	MinRevenue      string
	MaxTransactions string
	MinTransactions string
}

var weekdayOrder = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

func ComputeWeekdayProfile(records []core.Record) WeekdayProfile {
	type dayTotal struct {
		weekday      string
		revenue      float64
		transactions float64
	}
	daily := make(map[string]*dayTotal)
	for _, r := range records {
		key := r.IssuanceDate.ISO()
		dt, ok := daily[key]
		if !ok {
			dt = &dayTotal{weekday: r.IssuanceDate.WeekdayName()}
			daily[key] = dt
		}
		dt.revenue += r.Revenue
		dt.transactions += float64(r.Transactions)
	}

	sums := make(map[string]*WeekdayAverage)
	for _, dt := range daily {
		wa, ok := sums[dt.weekday]
		if !ok {
			wa = &WeekdayAverage{Weekday: dt.weekday}
			sums[dt.weekday] = wa
		}
		wa.Days++
		wa.Revenue += dt.revenue
		wa.Transactions += dt.transactions
	}

	var p WeekdayProfile
	for _, name := range weekdayOrder {
		wa := WeekdayAverage{Weekday: name}
		if s, ok := sums[name]; ok {
			wa.Days = s.Days
			wa.Revenue = s.Revenue / float64(s.Days)
			wa.Transactions = s.Transactions / float64(s.Days)
		}
		p.Averages = append(p.Averages, wa)
		if wa.Days == 0 {
			continue
		}
		if p.MaxRevenue == "" || wa.Revenue > avgOf(p.Averages, p.MaxRevenue).Revenue {
			p.MaxRevenue = name
		}
		if p.MinRevenue == "" || wa.Revenue < avgOf(p.Averages, p.MinRevenue).Revenue {
			p.MinRevenue = name
		}
		if p.MaxTransactions == "" || wa.Transactions > avgOf(p.Averages, p.MaxTransactions).Transactions {
			p.MaxTransactions = name
		}
		if p.MinTransactions == "" || wa.Transactions < avgOf(p.Averages, p.MinTransactions).Transactions {
			p.MinTransactions = name
		}
	}
	return p
}

func avgOf(averages []WeekdayAverage, weekday string) WeekdayAverage {
	for _, wa := range averages {
		if wa.Weekday == weekday {
			return wa
		}
	}
	return WeekdayAverage{}
}

// ServiceSeries buckets one service's records over time; records for
// other services are ignored.
func ServiceSeries(records []core.Record, service string, g Granularity) []TimeBucket {
	filtered := make([]core.Record, 0, len(records))
	for _, r := range records {
		if r.Service == service {
			filtered = append(filtered, r)
		}
	}
	return AggregateByTime(filtered, g)
}
