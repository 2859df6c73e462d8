package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// Date is a calendar day; the time-of-day part is always midnight UTC.
	Date struct {
		time.Time
	}

	// Record is one consular transaction-aggregate row: a (service,
	// date, category) tuple with its unit cost, transaction count and
	// collected revenue. Records are created only by the ingestion
	// pipeline and are unique per tuple in the store.
	Record struct {
		ID           int64
		Service      string
		Category     string
		UnitCost     float64
		Transactions int64
		Revenue      float64
		Canceled     int64
		IssuanceDate Date
		SourceFile   string
		IngestedAt   time.Time
	}

	// Batch is the provenance row for one load attempt, written whether
	// or not any record was actually inserted.
	Batch struct {
		ID         int64
		Filename   string
		Path       string
		LoadedAt   time.Time
		Inserted   int
		Duplicates int
		Status     string
	}

	// BatchResult summarizes one InsertBatch call.
	BatchResult struct {
		Inserted   int
		Duplicates int
		Errors     int
		Total      int
	}

	// SummaryStats are computed over the full store on every call.
	SummaryStats struct {
		TotalRecords       int64
		TotalRevenue       float64
		TotalTransactions  int64
		TotalCanceled      int64
		DistinctCategories int64
		DistinctServices   int64
	}

	// DateRange reports the span of stored issuance dates. A zero
	// TotalRecords means the store is empty and Min/Max are zero dates.
	DateRange struct {
		Min          Date
		Max          Date
		TotalRecords int64
	}
)

const (
	BatchStatusSuccess = "success"
	BatchStatusError   = "error"
)

var (
	ErrEmptyService  = errors.New("empty service label")
	ErrNoDate        = errors.New("missing issuance date")
	ErrNegativeCount = errors.New("negative count")
)

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrNoDate
	}
	return nil
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as 1..12.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the calendar year.
func (d Date) Year() int {
	return d.Time.Year()
}

// Quarter returns the calendar quarter as 1..4.
func (d Date) Quarter() int {
	return (d.Month()-1)/3 + 1
}

// ISOWeek returns the ISO 8601 week number.
func (d Date) ISOWeek() int {
	_, week := d.Time.ISOWeek()
	return week
}

// WeekdayName returns the English weekday name (Monday..Sunday).
func (d Date) WeekdayName() string {
	return d.Time.Weekday().String()
}

// YearMonth returns the year-month bucket key, e.g. "2024-05".
func (d Date) YearMonth() string {
	return fmt.Sprintf("%04d-%02d", d.Year(), d.Month())
}

// ISO returns the date formatted as YYYY-MM-DD, the storage format.
func (d Date) ISO() string {
	return d.Time.Format("2006-01-02")
}

// ParseISO parses a YYYY-MM-DD string as produced by ISO.
func ParseISO(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.Service) == "" {
		return ErrEmptyService
	}
	if err := r.IssuanceDate.Validate(); err != nil {
		return err
	}
	if r.Transactions < 0 || r.Canceled < 0 {
		return ErrNegativeCount
	}
	return nil
}

// Key returns the uniqueness tuple of the record.
func (r Record) Key() string {
	return r.Service + "|" + r.IssuanceDate.ISO() + "|" + r.Category
}
