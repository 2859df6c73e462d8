package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"consular/internal/core"
)

var recordHeader = []any{
	"Service", "Category", "Unit cost", "Transactions", "Revenue", "Canceled", "Issuance date", "Source file",
}

// WriteWorkbook writes the records as an Excel workbook with one data
// sheet, in storage order. Dates are written in ISO form so the sheet
// sorts correctly as text.
func WriteWorkbook(w io.Writer, records []core.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Records"
	f.SetSheetName("Sheet1", sheet)

	if err := f.SetSheetRow(sheet, "A1", &recordHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		row := []any{
			r.Service, r.Category, r.UnitCost, r.Transactions, r.Revenue, r.Canceled,
			r.IssuanceDate.ISO(), r.SourceFile,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
