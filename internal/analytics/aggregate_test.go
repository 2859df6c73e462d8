package analytics

import (
	"math"
	"math/rand"
	"testing"

	"consular/internal/core"
)

func rec(service string, d core.Date, tx int64, revenue float64) core.Record {
	return core.Record{Service: service, IssuanceDate: d, Transactions: tx, Revenue: revenue}
}

func TestAggregateByTime(t *testing.T) {
	records := []core.Record{
		rec("A", core.NewDate(2024, 3, 4), 2, 100),
		rec("B", core.NewDate(2024, 3, 4), 1, 50),
		rec("A", core.NewDate(2024, 4, 1), 3, 300),
		rec("A", core.NewDate(2023, 12, 31), 1, 10),
	}

	months := AggregateByTime(records, ByMonth)
	if len(months) != 3 {
		t.Fatalf("got %d month buckets, want 3", len(months))
	}
	wantKeys := []string{"2023-12", "2024-03", "2024-04"}
	for i, want := range wantKeys {
		if months[i].Key != want {
			t.Errorf("bucket %d key = %q, want %q", i, months[i].Key, want)
		}
	}
	if months[1].Revenue != 150 || months[1].Transactions != 3 || months[1].Records != 2 {
		t.Errorf("march bucket = %+v", months[1])
	}

	quarters := AggregateByTime(records, ByQuarter)
	if quarters[0].Key != "2023-Q4" || quarters[1].Key != "2024-Q1" || quarters[2].Key != "2024-Q2" {
		t.Errorf("quarter keys = %v", quarters)
	}

	years := AggregateByTime(records, ByYear)
	if len(years) != 2 || years[1].Revenue != 450 {
		t.Errorf("year buckets = %+v", years)
	}
}

func TestAggregateByService(t *testing.T) {
	d := core.NewDate(2024, 3, 4)
	records := []core.Record{
		rec("Visas", d, 10, 300),
		rec("Passports", d, 2, 500),
		rec("Visas", core.NewDate(2024, 3, 5), 5, 100),
		rec("Notary", d, 20, 200),
	}

	byRevenue := AggregateByService(records, MetricRevenue, 2)
	if len(byRevenue) != 2 {
		t.Fatalf("got %d services, want 2", len(byRevenue))
	}
	if byRevenue[0].Service != "Passports" || byRevenue[1].Service != "Visas" {
		t.Errorf("revenue ranking = %+v", byRevenue)
	}
	if byRevenue[1].Revenue != 400 || byRevenue[1].Transactions != 15 {
		t.Errorf("visas totals = %+v", byRevenue[1])
	}

	byTx := AggregateByService(records, MetricTransactions, 0)
	if byTx[0].Service != "Notary" || byTx[2].Service != "Passports" {
		t.Errorf("transaction ranking = %+v", byTx)
	}
}

func TestAggregateByServiceStableTies(t *testing.T) {
	d := core.NewDate(2024, 3, 4)
	records := []core.Record{
		rec("B", d, 1, 100),
		rec("A", d, 1, 100),
		rec("C", d, 1, 100),
	}
	out := AggregateByService(records, MetricRevenue, 0)
	if out[0].Service != "B" || out[1].Service != "A" || out[2].Service != "C" {
		t.Errorf("tied services not in input order: %+v", out)
	}
}

func TestAggregateByServiceSplitsCategories(t *testing.T) {
	d := core.NewDate(2024, 3, 4)
	records := []core.Record{
		{Service: "Passports", Category: "Art 20", IssuanceDate: d, Transactions: 1, Revenue: 140},
		{Service: "Passports", Category: "Art 20-B", IssuanceDate: d, Transactions: 1, Revenue: 70},
		{Service: "Passports", Category: "Art 20", IssuanceDate: d, Transactions: 2, Revenue: 280},
	}
	out := AggregateByService(records, MetricRevenue, 0)
	if len(out) != 2 {
		t.Fatalf("got %d groups, want 2", len(out))
	}
	if out[0].Category != "Art 20" || out[0].Revenue != 420 || out[0].Records != 2 {
		t.Errorf("first group = %+v", out[0])
	}
	if out[1].Category != "Art 20-B" || out[1].Revenue != 70 {
		t.Errorf("second group = %+v", out[1])
	}
}

func TestDailyDispersionCollapsesDays(t *testing.T) {
	// Two rows on the same day count as one observation of 300,
	// plus a second day of 100: mean 200, sample std 141.42.
	records := []core.Record{
		rec("A", core.NewDate(2024, 3, 4), 1, 100),
		rec("B", core.NewDate(2024, 3, 4), 1, 200),
		rec("A", core.NewDate(2024, 3, 5), 1, 100),
	}

	d := DailyDispersion(records, MetricRevenue)
	if d.Days != 2 {
		t.Fatalf("Days = %d, want 2", d.Days)
	}
	if d.Mean != 200 {
		t.Errorf("Mean = %v, want 200", d.Mean)
	}
	want := math.Sqrt2 * 100
	if math.Abs(d.StdDev-want) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", d.StdDev, want)
	}
	if d.Min != 100 || d.Max != 300 {
		t.Errorf("Min/Max = %v/%v, want 100/300", d.Min, d.Max)
	}
}

func TestDailyDispersionDegenerate(t *testing.T) {
	if d := DailyDispersion(nil, MetricRevenue); d.Days != 0 || d.Mean != 0 || d.StdDev != 0 {
		t.Errorf("empty dispersion = %+v", d)
	}

	one := []core.Record{rec("A", core.NewDate(2024, 3, 4), 1, 100)}
	d := DailyDispersion(one, MetricRevenue)
	if d.Days != 1 || d.Mean != 100 || d.StdDev != 0 {
		t.Errorf("single-day dispersion = %+v", d)
	}
}

func TestComputeWeekdayProfile(t *testing.T) {
	// 2024-03-04 is a Monday. Two Mondays with daily totals 300 and
	// 100 average to 200; one Tuesday of 50.
	records := []core.Record{
		rec("A", core.NewDate(2024, 3, 4), 2, 100),
		rec("B", core.NewDate(2024, 3, 4), 1, 200),
		rec("A", core.NewDate(2024, 3, 11), 1, 100),
		rec("A", core.NewDate(2024, 3, 5), 8, 50),
	}

	p := ComputeWeekdayProfile(records)
	if len(p.Averages) != 7 {
		t.Fatalf("got %d weekdays, want 7", len(p.Averages))
	}
	if p.Averages[0].Weekday != "Monday" || p.Averages[6].Weekday != "Sunday" {
		t.Errorf("weekday order = %v .. %v", p.Averages[0].Weekday, p.Averages[6].Weekday)
	}
	mon := p.Averages[0]
	if mon.Days != 2 || mon.Revenue != 200 || mon.Transactions != 2 {
		t.Errorf("monday average = %+v", mon)
	}
	if p.Averages[2].Days != 0 || p.Averages[2].Revenue != 0 {
		t.Errorf("empty wednesday = %+v", p.Averages[2])
	}

	if p.MaxRevenue != "Monday" || p.MinRevenue != "Tuesday" {
		t.Errorf("revenue extremes = %s/%s", p.MaxRevenue, p.MinRevenue)
	}
	if p.MaxTransactions != "Tuesday" || p.MinTransactions != "Monday" {
		t.Errorf("transaction extremes = %s/%s", p.MaxTransactions, p.MinTransactions)
	}
}

func TestAggregationOrderIndependent(t *testing.T) {
	var records []core.Record
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 40; i++ {
		d := core.NewDate(2024, 1+i%2, 1+i%28)
		records = append(records, rec([]string{"A", "B", "C"}[i%3], d, int64(rng.Intn(10)), float64(rng.Intn(500))))
	}
	shuffled := append([]core.Record(nil), records...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	a := AggregateByTime(records, ByMonth)
	b := AggregateByTime(shuffled, ByMonth)
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("two months of data produced %d/%d buckets", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("bucket %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}

	var total int64
	for _, r := range records {
		total += r.Transactions
	}
	if a[0].Transactions+a[1].Transactions != total {
		t.Errorf("bucket transactions sum to %d, want %d", a[0].Transactions+a[1].Transactions, total)
	}

	wa := ComputeWeekdayProfile(records)
	wb := ComputeWeekdayProfile(shuffled)
	for i := range wa.Averages {
		if wa.Averages[i] != wb.Averages[i] {
			t.Errorf("weekday %d differs: %+v vs %+v", i, wa.Averages[i], wb.Averages[i])
		}
	}
}

func TestServiceSeries(t *testing.T) {
	records := []core.Record{
		rec("A", core.NewDate(2024, 3, 4), 1, 100),
		rec("B", core.NewDate(2024, 3, 4), 1, 999),
		rec("A", core.NewDate(2024, 3, 5), 2, 50),
	}
	series := ServiceSeries(records, "A", ByDay)
	if len(series) != 2 {
		t.Fatalf("got %d points, want 2", len(series))
	}
	if series[0].Key != "2024-03-04" || series[0].Revenue != 100 {
		t.Errorf("first point = %+v", series[0])
	}
}
