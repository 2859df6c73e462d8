package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"consular/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the deduplicating store: one table of revenue
// records with a UNIQUE(service, issuance_date, category) constraint
// and one table of ingestion-batch provenance rows.
type SQLiteRepository struct {
	db        *sql.DB
	watermark atomic.Int64
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Watermark identifies the current store version. It changes on every
// mutating call, so cached query results keyed by it can never serve
// stale data.
func (r *SQLiteRepository) Watermark() int64 {
	return r.watermark.Load()
}

func (r *SQLiteRepository) bump() {
	r.watermark.Add(1)
}

// InsertBatch attempts to insert every candidate record. A candidate
// colliding with an existing (service, issuance_date, category) tuple
// counts as a duplicate and is left untouched; a candidate failing for
// any other reason counts as an error and never aborts the rest of the
// batch. One provenance row is always recorded for the attempt, even
// when every candidate was a duplicate.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, records []core.Record, sourceFile string) (core.BatchResult, error) {
	result := core.BatchResult{Total: len(records)}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin insert batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO revenue_records
		(service, category, unit_cost, transaction_count, total_revenue,
		 issuance_date, canceled_count, source_file, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return result, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(timestampFormat)
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			result.Errors++
			continue
		}
		res, err := stmt.ExecContext(ctx,
			rec.Service, rec.Category, rec.UnitCost, rec.Transactions,
			rec.Revenue, rec.IssuanceDate.ISO(), rec.Canceled, sourceFile, now)
		if err != nil {
			result.Errors++
			slog.WarnContext(ctx, "Record insert failed",
				"service", rec.Service,
				"date", rec.IssuanceDate.ISO(),
				"error", err)
			continue
		}
		affected, err := res.RowsAffected()
		if err != nil {
			result.Errors++
			continue
		}
		if affected > 0 {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	if err := recordBatch(ctx, tx, sourceFile, sourceFile, result.Inserted, result.Duplicates, core.BatchStatusSuccess); err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit insert batch: %w", err)
	}
	r.bump()

	slog.InfoContext(ctx, "Batch inserted",
		"source_file", sourceFile,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"errors", result.Errors)

	return result, nil
}

// RecordFailedBatch writes a provenance row with error status for a
// load attempt that never reached insertion (decode or structural
// validation failure). Provenance is recorded for every attempt.
func (r *SQLiteRepository) RecordFailedBatch(ctx context.Context, filename, path string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record batch: %w", err)
	}
	defer tx.Rollback()

	if err := recordBatch(ctx, tx, filename, path, 0, 0, core.BatchStatusError); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record batch: %w", err)
	}
	r.bump()
	return nil
}

func recordBatch(ctx context.Context, tx *sql.Tx, filename, path string, inserted, duplicates int, status string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ingestion_batches (filename, path, loaded_at, inserted_count, duplicate_count, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		filename, path, time.Now().UTC().Format(timestampFormat), inserted, duplicates, status)
	if err != nil {
		return fmt.Errorf("record ingestion batch: %w", err)
	}
	return nil
}

// Filter narrows a Query call. Zero values mean "no restriction".
type Filter struct {
	Start    core.Date
	End      core.Date
	Category string
	Service  string
}

// Query returns records matching the filter, ordered by issuance date
// descending.
func (r *SQLiteRepository) Query(ctx context.Context, f Filter) ([]core.Record, error) {
	query := `
		SELECT id, service, category, unit_cost, transaction_count,
		       total_revenue, issuance_date, canceled_count, source_file, ingested_at
		FROM revenue_records WHERE 1=1`
	var args []any

	if !f.Start.IsZero() {
		query += " AND issuance_date >= ?"
		args = append(args, f.Start.ISO())
	}
	if !f.End.IsZero() {
		query += " AND issuance_date <= ?"
		args = append(args, f.End.ISO())
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Service != "" {
		query += " AND service = ?"
		args = append(args, f.Service)
	}
	query += " ORDER BY issuance_date DESC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []core.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AllRecords is the raw full-table read used by snapshot/export hooks.
func (r *SQLiteRepository) AllRecords(ctx context.Context) ([]core.Record, error) {
	return r.Query(ctx, Filter{})
}

func scanRecord(rows *sql.Rows) (core.Record, error) {
	var (
		rec        core.Record
		dateStr    string
		ingestedAt sql.NullString
	)
	if err := rows.Scan(&rec.ID, &rec.Service, &rec.Category, &rec.UnitCost,
		&rec.Transactions, &rec.Revenue, &dateStr, &rec.Canceled,
		&rec.SourceFile, &ingestedAt); err != nil {
		return rec, fmt.Errorf("scan record: %w", err)
	}

	date, err := core.ParseISO(dateStr)
	if err != nil {
		return rec, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	rec.IssuanceDate = date
	if ingestedAt.Valid {
		rec.IngestedAt = parseTimestamp(ingestedAt.String)
	}
	return rec, nil
}

// DeleteBySource removes every record loaded from the given filename
// together with its batch provenance rows. This is the only deletion
// path for records.
func (r *SQLiteRepository) DeleteBySource(ctx context.Context, filename string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM revenue_records WHERE source_file = ?", filename)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted records: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM ingestion_batches WHERE filename = ?", filename); err != nil {
		return 0, fmt.Errorf("delete batches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	r.bump()

	slog.InfoContext(ctx, "Deleted records by source file", "filename", filename, "deleted", deleted)
	return deleted, nil
}

// SummaryStats aggregates over the full store; nothing is cached
// beyond the call.
func (r *SQLiteRepository) SummaryStats(ctx context.Context) (core.SummaryStats, error) {
	var stats core.SummaryStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total_revenue), 0),
		       COALESCE(SUM(transaction_count), 0),
		       COALESCE(SUM(canceled_count), 0),
		       COUNT(DISTINCT NULLIF(category, '')),
		       COUNT(DISTINCT service)
		FROM revenue_records`).Scan(
		&stats.TotalRecords, &stats.TotalRevenue, &stats.TotalTransactions,
		&stats.TotalCanceled, &stats.DistinctCategories, &stats.DistinctServices)
	if err != nil {
		return stats, fmt.Errorf("summary stats: %w", err)
	}
	return stats, nil
}

// DateRange returns the span of stored issuance dates plus the total
// record count; a zero count means the store is empty.
func (r *SQLiteRepository) DateRange(ctx context.Context) (core.DateRange, error) {
	var (
		dr       core.DateRange
		min, max sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(issuance_date), MAX(issuance_date), COUNT(*)
		FROM revenue_records`).Scan(&min, &max, &dr.TotalRecords)
	if err != nil {
		return dr, fmt.Errorf("date range: %w", err)
	}

	if min.Valid {
		if dr.Min, err = core.ParseISO(min.String); err != nil {
			return dr, fmt.Errorf("parse min date %q: %w", min.String, err)
		}
	}
	if max.Valid {
		if dr.Max, err = core.ParseISO(max.String); err != nil {
			return dr, fmt.Errorf("parse max date %q: %w", max.String, err)
		}
	}
	return dr, nil
}

// Categories returns the distinct non-empty category labels, sorted.
func (r *SQLiteRepository) Categories(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "SELECT DISTINCT category FROM revenue_records WHERE category <> '' ORDER BY category")
}

// Services returns the distinct service labels, sorted.
func (r *SQLiteRepository) Services(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "SELECT DISTINCT service FROM revenue_records ORDER BY service")
}

func (r *SQLiteRepository) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query distinct values: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// BatchHistory lists load attempts, most recent first.
func (r *SQLiteRepository) BatchHistory(ctx context.Context) ([]core.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, path, loaded_at, inserted_count, duplicate_count, status
		FROM ingestion_batches ORDER BY loaded_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query batch history: %w", err)
	}
	defer rows.Close()

	var batches []core.Batch
	for rows.Next() {
		var (
			b        core.Batch
			loadedAt string
		)
		if err := rows.Scan(&b.ID, &b.Filename, &b.Path, &loadedAt, &b.Inserted, &b.Duplicates, &b.Status); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.LoadedAt = parseTimestamp(loadedAt)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// HasBatch reports whether a load attempt for the filename was already
// recorded.
func (r *SQLiteRepository) HasBatch(ctx context.Context, filename string) (bool, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ingestion_batches WHERE filename = ?", filename).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check batch: %w", err)
	}
	return count > 0, nil
}

// RenameServices rewrites every record whose service label is in from
// to the canonical name, as one transaction. The caller (the grouping
// manager) runs one call per rule so each rule's rewrite is its own
// committed unit.
func (r *SQLiteRepository) RenameServices(ctx context.Context, from []string, to string) (int64, error) {
	if len(from) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rename: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(from))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(from)+1)
	args = append(args, to)
	for _, s := range from {
		args = append(args, s)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE revenue_records SET service = ? WHERE service IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("rename services to %q: %w", to, err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count renamed rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rename: %w", err)
	}
	r.bump()

	slog.InfoContext(ctx, "Services renamed", "canonical", to, "labels", len(from), "rows", updated)
	return updated, nil
}

const timestampFormat = "2006-01-02 15:04:05"

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{timestampFormat, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
