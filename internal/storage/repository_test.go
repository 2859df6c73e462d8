package storage

import (
	"context"
	"path/filepath"
	"testing"

	"consular/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "consular.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func rec(service string, date core.Date, category string, revenue float64) core.Record {
	return core.Record{
		Service:      service,
		Category:     category,
		Revenue:      revenue,
		Transactions: 1,
		IssuanceDate: date,
	}
}

func TestInsertBatchCountsDuplicatesAndKeepsFirstRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	records := []core.Record{
		rec("ServiceA", core.NewDate(2024, 5, 1), "CatX", 100),
		rec("ServiceA", core.NewDate(2024, 5, 1), "CatX", 999), // duplicate key
		rec("ServiceB", core.NewDate(2024, 5, 2), "CatY", 50),
	}

	result, err := repo.InsertBatch(ctx, records, "mayo.xls")
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if result.Inserted != 2 || result.Duplicates != 1 || result.Errors != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	stats, err := repo.SummaryStats(ctx)
	if err != nil {
		t.Fatalf("summary stats: %v", err)
	}
	if stats.TotalRecords != 2 {
		t.Fatalf("expected 2 stored records, got %d", stats.TotalRecords)
	}
	if stats.TotalRevenue != 150 {
		t.Fatalf("expected total revenue 150, got %v", stats.TotalRevenue)
	}

	// The duplicate must not have overwritten the first row.
	got, err := repo.Query(ctx, Filter{Service: "ServiceA"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Revenue != 100 {
		t.Fatalf("duplicate overwrote original: %+v", got)
	}
}

func TestIdempotentReload(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	records := []core.Record{
		rec("A", core.NewDate(2024, 5, 1), "X", 10),
		rec("B", core.NewDate(2024, 5, 2), "X", 20),
		rec("C", core.NewDate(2024, 5, 3), "Y", 30),
	}

	first, err := repo.InsertBatch(ctx, records, "f.xls")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.Inserted != 3 || first.Duplicates != 0 {
		t.Fatalf("first load: %+v", first)
	}

	second, err := repo.InsertBatch(ctx, records, "f.xls")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.Inserted != 0 || second.Duplicates != 3 {
		t.Fatalf("second load: %+v", second)
	}

	// Both attempts leave provenance, even the all-duplicate one.
	history, err := repo.BatchHistory(ctx)
	if err != nil {
		t.Fatalf("batch history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(history))
	}
}

func TestInsertBatchIsolatesRowFailures(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	records := []core.Record{
		rec("A", core.NewDate(2024, 5, 1), "X", 10),
		{Service: "", IssuanceDate: core.NewDate(2024, 5, 2)}, // invalid: empty service
		rec("B", core.NewDate(2024, 5, 3), "X", 20),
	}

	result, err := repo.InsertBatch(ctx, records, "f.xls")
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if result.Inserted != 2 || result.Errors != 1 {
		t.Fatalf("row failure must not abort batch: %+v", result)
	}
}

func TestQueryFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	records := []core.Record{
		rec("A", core.NewDate(2024, 4, 30), "X", 1),
		rec("A", core.NewDate(2024, 5, 10), "X", 2),
		rec("B", core.NewDate(2024, 5, 20), "Y", 3),
		rec("B", core.NewDate(2024, 6, 1), "Y", 4),
	}
	if _, err := repo.InsertBatch(ctx, records, "f.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.Query(ctx, Filter{
		Start: core.NewDate(2024, 5, 1),
		End:   core.NewDate(2024, 5, 31),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records in May, got %d", len(got))
	}
	// Default order is date descending.
	if !got[0].IssuanceDate.After(got[1].IssuanceDate.Time) {
		t.Fatalf("expected descending date order: %v, %v", got[0].IssuanceDate, got[1].IssuanceDate)
	}

	got, err = repo.Query(ctx, Filter{Category: "Y", Service: "B"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for B/Y, got %d", len(got))
	}
}

func TestDeleteBySourceRemovesRecordsAndProvenance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.InsertBatch(ctx, []core.Record{
		rec("A", core.NewDate(2024, 5, 1), "X", 1),
		rec("B", core.NewDate(2024, 5, 2), "X", 2),
	}, "mayo.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.InsertBatch(ctx, []core.Record{
		rec("C", core.NewDate(2024, 6, 1), "X", 3),
	}, "junio.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	deleted, err := repo.DeleteBySource(ctx, "mayo.xls")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}

	stats, _ := repo.SummaryStats(ctx)
	if stats.TotalRecords != 1 {
		t.Fatalf("expected 1 remaining record, got %d", stats.TotalRecords)
	}
	history, _ := repo.BatchHistory(ctx)
	if len(history) != 1 || history[0].Filename != "junio.xls" {
		t.Fatalf("provenance for deleted file must go too: %+v", history)
	}
}

func TestDateRangeEmptyAndPopulated(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	dr, err := repo.DateRange(ctx)
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	if dr.TotalRecords != 0 || !dr.Min.IsZero() {
		t.Fatalf("expected empty range, got %+v", dr)
	}

	if _, err := repo.InsertBatch(ctx, []core.Record{
		rec("A", core.NewDate(2024, 5, 3), "X", 1),
		rec("A", core.NewDate(2024, 7, 9), "Y", 1),
	}, "f.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dr, err = repo.DateRange(ctx)
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	if dr.TotalRecords != 2 || dr.Min.ISO() != "2024-05-03" || dr.Max.ISO() != "2024-07-09" {
		t.Fatalf("unexpected range: %+v", dr)
	}
}

func TestCategoriesAndServicesDistinct(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.InsertBatch(ctx, []core.Record{
		rec("B", core.NewDate(2024, 5, 1), "Y", 1),
		rec("A", core.NewDate(2024, 5, 1), "X", 1),
		rec("A", core.NewDate(2024, 5, 2), "", 1),
	}, "f.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cats, err := repo.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 2 || cats[0] != "X" || cats[1] != "Y" {
		t.Fatalf("unexpected categories: %v", cats)
	}

	svcs, err := repo.Services(ctx)
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	if len(svcs) != 2 || svcs[0] != "A" || svcs[1] != "B" {
		t.Fatalf("unexpected services: %v", svcs)
	}
}

func TestRenameServices(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.InsertBatch(ctx, []core.Record{
		rec("RCM - DIVORCIO", core.NewDate(2024, 5, 1), "X", 1),
		rec("RCM - NACIMIENTO", core.NewDate(2024, 5, 2), "X", 1),
		rec("VISA", core.NewDate(2024, 5, 3), "X", 1),
	}, "f.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := repo.RenameServices(ctx, []string{"RCM - DIVORCIO", "RCM - NACIMIENTO"}, "RCM - Expedición Diaria")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 renamed rows, got %d", updated)
	}

	svcs, _ := repo.Services(ctx)
	if len(svcs) != 2 {
		t.Fatalf("expected 2 distinct services after rename, got %v", svcs)
	}

	mark := repo.Watermark()
	if _, err := repo.RenameServices(ctx, nil, "anything"); err != nil {
		t.Fatalf("empty rename: %v", err)
	}
	if repo.Watermark() != mark {
		t.Fatalf("empty rename must not bump the watermark")
	}
}

func TestWatermarkBumpsOnWrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	before := repo.Watermark()
	if _, err := repo.InsertBatch(ctx, []core.Record{rec("A", core.NewDate(2024, 5, 1), "X", 1)}, "f.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	afterInsert := repo.Watermark()
	if afterInsert == before {
		t.Fatalf("insert must bump the watermark")
	}

	if _, err := repo.DeleteBySource(ctx, "f.xls"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if repo.Watermark() == afterInsert {
		t.Fatalf("delete must bump the watermark")
	}
}

func TestHasBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	loaded, err := repo.HasBatch(ctx, "mayo.xls")
	if err != nil || loaded {
		t.Fatalf("unexpected: loaded=%v err=%v", loaded, err)
	}

	if _, err := repo.InsertBatch(ctx, []core.Record{rec("A", core.NewDate(2024, 5, 1), "X", 1)}, "mayo.xls"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, err = repo.HasBatch(ctx, "mayo.xls")
	if err != nil || !loaded {
		t.Fatalf("expected batch to be recorded: loaded=%v err=%v", loaded, err)
	}
}
