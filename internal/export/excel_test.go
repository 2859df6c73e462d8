package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"consular/internal/core"
)

func TestWriteWorkbook(t *testing.T) {
	records := []core.Record{
		{Service: "PASAPORTE ORDINARIO", UnitCost: 140, Transactions: 3, Revenue: 420,
			IssuanceDate: core.NewDate(2024, 3, 4), SourceFile: "marzo.xls"},
		{Service: "VISA DE TURISTA", Category: "Visas", UnitCost: 30, Transactions: 1, Revenue: 30,
			IssuanceDate: core.NewDate(2024, 3, 5), SourceFile: "marzo.xls"},
	}

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, records); err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Records")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2", len(rows))
	}
	if rows[0][0] != "Service" || rows[0][6] != "Issuance date" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "PASAPORTE ORDINARIO" || rows[1][6] != "2024-03-04" {
		t.Errorf("first data row = %v", rows[1])
	}
	if rows[2][1] != "Visas" {
		t.Errorf("second data row = %v", rows[2])
	}
}

func TestWriteWorkbookEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, nil); err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Records")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("empty export has %d rows, want header only", len(rows))
	}
}
