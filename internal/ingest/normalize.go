package ingest

import (
	"strconv"
	"strings"
	"time"

	"consular/internal/core"
)

// DateFormat is the single display format the exports use for the
// issuance date (day/month/year).
const DateFormat = "02/01/2006"

// Table is one decoded tabular input: a header row plus data rows, each
// row a mapping from header text to raw cell value.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// Normalize coerces bound-but-untyped rows into Record candidates.
// Rows whose issuance date does not parse are dropped and counted;
// numeric fields parse permissively and normalize to zero on failure.
// Only the aggregate drop count is reported, never per-row errors.
func Normalize(t *Table, b Binding, sourceFile string) ([]core.Record, int) {
	records := make([]core.Record, 0, len(t.Rows))
	dropped := 0

	for _, row := range t.Rows {
		raw := strings.TrimSpace(row[b[FieldDate]])
		parsed, err := time.Parse(DateFormat, raw)
		if err != nil {
			dropped++
			continue
		}

		rec := core.Record{
			Service:      strings.TrimSpace(row[b[FieldService]]),
			Category:     strings.TrimSpace(row[b[FieldCategory]]),
			UnitCost:     parseAmount(row[b[FieldUnitCost]]),
			Transactions: parseCount(row[b[FieldTransactions]]),
			Revenue:      parseAmount(row[b[FieldRevenue]]),
			IssuanceDate: core.Date{Time: parsed},
			SourceFile:   sourceFile,
		}
		if header, ok := b[FieldCanceled]; ok {
			rec.Canceled = parseCount(row[header])
		}
		records = append(records, rec)
	}

	return records, dropped
}

// parseAmount parses a currency amount, tolerating thousands separators
// and a leading currency sign. Unparsable values normalize to zero.
func parseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseCount parses an integer count; values that arrive formatted as
// decimals ("3.0") are truncated. Unparsable values normalize to zero.
func parseCount(s string) int64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
